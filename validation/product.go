package validation

import (
	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/shopspring/decimal"
)

// VariantActive is Bsale's state value for an enabled variant.
const VariantActive = 0

// IsActiveVariant reports whether the variant's state flag marks it active.
func IsActiveVariant(v bsale.Variant) bool {
	state := bsale.Int64Ptr(v.State)
	return state != nil && *state == VariantActive
}

// ValidateProductVariant maps one variant of a parent product to a producto
// row. price and cost come from the separate price list and cost lookups;
// nil means the lookup found nothing.
func ValidateProductVariant(product bsale.Product, variant bsale.Variant, price, cost *decimal.Decimal) Result[models.Producto] {
	c := newCollector(models.TableProducto)
	c.id = variant.ID.String()

	var rec models.Producto
	if id := bsale.Int64Ptr(variant.ID); id != nil && *id > 0 {
		rec.IdBsale = *id
	} else {
		c.reject("id_bsale is required")
	}
	if !IsActiveVariant(variant) {
		c.reject("variant state %q is not active", variant.State.String())
	}

	rec.Nombre = requiredString(product.Name)
	if rec.Nombre == "" {
		c.reject("nombre is required")
	}
	rec.Descripcion = optionalString(product.Description)

	rec.CodigoSku = requiredString(variant.Code)
	if rec.CodigoSku == "" {
		c.reject("codigo_sku is required")
	}
	rec.CodigoBarras = optionalString(variant.BarCode)
	rec.ControlaStock = bool(variant.Track)

	switch {
	case price == nil:
		c.reject("precio_neto is required")
	case !price.IsPositive():
		c.reject("precio_neto must be greater than 0, got %s", price.String())
	default:
		rec.PrecioNeto = *price
	}

	switch {
	case cost == nil:
		c.reject("costo_neto is required")
	case cost.IsNegative():
		c.reject("costo_neto must not be negative, got %s", cost.String())
	default:
		rec.CostoNeto = *cost
	}

	rec.Estado = true
	return result(c, rec)
}
