package validation

import (
	"errors"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/ttacon/libphonenumber"
)

var (
	validate  = validator.New()
	rutFormat = regexp.MustCompile(`^[0-9A-Za-z.\-]{1,20}$`)
)

const DefaultPhoneRegion = "CL"

type ClientOptions struct {
	// PhoneRegion is the ISO region used to parse numbers without a country
	// prefix.
	PhoneRegion string
}

func ValidateClient(raw bsale.Client, opts ClientOptions) Result[models.Cliente] {
	c := newCollector(models.TableCliente)
	c.id = raw.ID.String()

	var rec models.Cliente
	if id := bsale.Int64Ptr(raw.ID); id != nil && *id > 0 {
		rec.IdBsale = *id
	} else {
		c.reject("id_bsale is required")
	}

	rec.Nombre = requiredString(raw.FirstName)
	if rec.Nombre == "" {
		c.reject("nombre is required")
	}

	rec.Apellido = optionalString(raw.LastName)
	rec.Rut = optionalString(raw.Code)
	rec.Email = optionalString(raw.Email)
	rec.Telefono = optionalString(raw.Phone)
	rec.Direccion = optionalString(raw.Address)
	rec.FechaCreacion = bsale.UnixTime(raw.CreationDate)

	if rec.Rut != nil && !rutFormat.MatchString(*rec.Rut) {
		c.warn("rut %q has an unexpected format", *rec.Rut)
	}
	if rec.Email != nil {
		if err := validate.Var(*rec.Email, "email"); err != nil {
			c.warn("email %q is not a valid address", *rec.Email)
		}
	}
	if rec.Telefono != nil {
		region := opts.PhoneRegion
		if region == "" {
			region = DefaultPhoneRegion
		}
		if err := validatePhoneNumber(*rec.Telefono, region); err != nil {
			c.warn("telefono %q: %v", *rec.Telefono, err)
		}
	}

	return result(c, rec)
}

func validatePhoneNumber(phoneNumber, region string) error {
	p, err := libphonenumber.Parse(phoneNumber, region)
	if err != nil {
		return err
	}
	if !libphonenumber.IsValidNumber(p) {
		return errInvalidPhone
	}
	return nil
}

var errInvalidPhone = errors.New("phone number is not valid")
