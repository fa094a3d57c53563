package validation

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func decodeClient(t *testing.T, raw string) bsale.Client {
	t.Helper()
	var c bsale.Client
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func TestValidateClientRejectsSentinelNames(t *testing.T) {
	for _, name := range []string{"", "   ", "none", "None", "NULL", " null "} {
		raw := bsale.Client{ID: "10", FirstName: strPtr(name)}
		res := ValidateClient(raw, ClientOptions{})
		require.False(t, res.OK(), "name %q", name)
		assert.Contains(t, res.Rejection.Error(), "nombre", "name %q", name)
	}

	res := ValidateClient(bsale.Client{ID: "10"}, ClientOptions{})
	require.False(t, res.OK())
	assert.Contains(t, res.Rejection.Reasons, "nombre is required")
}

func TestValidateClientCollectsEveryReason(t *testing.T) {
	res := ValidateClient(bsale.Client{FirstName: strPtr("null")}, ClientOptions{})
	require.False(t, res.OK())
	assert.Equal(t, []string{"id_bsale is required", "nombre is required"}, res.Rejection.Reasons)
}

func TestValidateClientMapsFields(t *testing.T) {
	raw := decodeClient(t, `{
		"id": 42, "firstName": " Ana ", "lastName": "Ruiz", "code": "12.345.678-9",
		"email": "ana@example.cl", "address": "None",
		"creationDate": 1704067200
	}`)
	res := ValidateClient(raw, ClientOptions{PhoneRegion: "CL"})
	require.True(t, res.OK())
	assert.Nil(t, res.Record.Telefono)
	assert.Empty(t, res.Warnings)

	rec := res.Record
	assert.Equal(t, int64(42), rec.IdBsale)
	assert.Equal(t, "Ana", rec.Nombre)
	assert.Equal(t, "Ruiz", *rec.Apellido)
	assert.Equal(t, "12.345.678-9", *rec.Rut)
	assert.Nil(t, rec.Direccion)
	require.NotNil(t, rec.FechaCreacion)
	assert.Equal(t, 2024, rec.FechaCreacion.Year())

	row := rec.Row()
	v, present := row["direccion"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestValidateClientFormatProblemsAreWarnings(t *testing.T) {
	raw := bsale.Client{
		ID:        "5",
		FirstName: strPtr("Luis"),
		Email:     strPtr("not-an-email"),
		Phone:     strPtr("12"),
		Code:      strPtr("rut with spaces"),
	}
	res := ValidateClient(raw, ClientOptions{})
	require.True(t, res.OK())
	assert.Len(t, res.Warnings, 3)
	assert.Equal(t, "not-an-email", *res.Record.Email)
	assert.Equal(t, "rut with spaces", *res.Record.Rut)
}

func activeVariant(id string) bsale.Variant {
	return bsale.Variant{ID: json.Number(id), Code: strPtr("SKU-" + id), State: "0"}
}

func TestValidateProductVariantPriceAndCostBounds(t *testing.T) {
	product := bsale.Product{ID: "1", Name: strPtr("Collar")}
	cases := []struct {
		price, cost string
		ok          bool
	}{
		{"0", "10", false},
		{"-1", "10", false},
		{"100", "-0.01", false},
		{"0.01", "0", true},
		{"1990", "850.5", true},
	}
	for _, tc := range cases {
		res := ValidateProductVariant(product, activeVariant("11"), dec(tc.price), dec(tc.cost))
		require.Equal(t, tc.ok, res.OK(), "price=%s cost=%s", tc.price, tc.cost)
		if tc.ok {
			assert.True(t, res.Record.PrecioNeto.Equal(decimal.RequireFromString(tc.price)))
			assert.True(t, res.Record.CostoNeto.Equal(decimal.RequireFromString(tc.cost)))
			assert.True(t, res.Record.Estado)
		}
	}
}

func TestValidateProductVariantMissingLookups(t *testing.T) {
	product := bsale.Product{ID: "1", Name: strPtr("Collar")}
	res := ValidateProductVariant(product, activeVariant("11"), nil, nil)
	require.False(t, res.OK())
	assert.Equal(t, []string{"precio_neto is required", "costo_neto is required"}, res.Rejection.Reasons)
}

func TestValidateProductVariantRequiresActiveStateSkuAndName(t *testing.T) {
	variant := bsale.Variant{ID: "11", State: "1"}
	res := ValidateProductVariant(bsale.Product{}, variant, dec("10"), dec("1"))
	require.False(t, res.OK())
	msg := res.Rejection.Error()
	assert.Contains(t, msg, "not active")
	assert.Contains(t, msg, "nombre is required")
	assert.Contains(t, msg, "codigo_sku is required")
}

func TestValidateDocument(t *testing.T) {
	refs := References{Clients: models.NewKeySet(7), Products: models.NewKeySet(), Enforce: true}

	raw := bsale.Document{
		ID: "100", Number: "55", EmissionDate: "1704067200",
		NetAmount: "840.34", TaxAmount: "159.66", TotalAmount: "1000",
		Client: &bsale.Ref{ID: "7"}, DocumentTypeAlt: &bsale.Ref{ID: "1"},
	}
	res := ValidateDocument(raw, refs)
	require.True(t, res.OK())
	assert.Empty(t, res.Warnings)
	assert.Equal(t, int64(7), *res.Record.IdCliente)
	assert.Equal(t, int64(1), *res.Record.IdTipoDocumento)
	assert.Equal(t, int64(55), *res.Record.Folio)

	raw.Client = &bsale.Ref{ID: "8"}
	raw.TotalAmount = "1200"
	res = ValidateDocument(raw, refs)
	require.True(t, res.OK())
	assert.Nil(t, res.Record.IdCliente)
	assert.Len(t, res.Warnings, 2)

	refs.Enforce = false
	res = ValidateDocument(raw, refs)
	assert.Equal(t, int64(8), *res.Record.IdCliente)
}

func TestValidateDocumentRejections(t *testing.T) {
	res := ValidateDocument(bsale.Document{ID: "1", TotalAmount: "0", NetAmount: "-1"}, References{})
	require.False(t, res.OK())
	assert.ElementsMatch(t, []string{
		"fecha_emision is required",
		"monto_neto must not be negative, got -1",
		"monto_total must be greater than 0, got 0",
	}, res.Rejection.Reasons)
}

func TestValidateDetailOrphaning(t *testing.T) {
	refs := References{Products: models.NewKeySet(11), Enforce: true}

	unknown := bsale.Detail{ID: "900", Quantity: "2", NetUnitValue: "500", NetTotal: "1000", Variant: &bsale.Ref{ID: "99"}}
	res := ValidateDetail(100, unknown, refs)
	require.True(t, res.OK())
	assert.Nil(t, res.Record.IdProducto)
	assert.Equal(t, int64(100), res.Record.IdDocumento)
	assert.True(t, res.Record.DescuentoPorcentual.IsZero())

	zeroQty := bsale.Detail{ID: "901", Quantity: "0", NetUnitValue: "500", NetTotal: "0", Variant: &bsale.Ref{ID: "11"}}
	res = ValidateDetail(100, zeroQty, refs)
	require.False(t, res.OK())
	assert.True(t, strings.Contains(res.Rejection.Error(), "cantidad"))
}

func TestValidateDetailLineTotalCoherence(t *testing.T) {
	refs := References{}
	d := bsale.Detail{ID: "1", Quantity: "3", NetUnitValue: "100", Discount: "10", NetTotal: "270", Variant: &bsale.Ref{ID: "5"}}
	res := ValidateDetail(1, d, refs)
	require.True(t, res.OK())
	assert.Empty(t, res.Warnings)

	d.NetTotal = "280"
	res = ValidateDetail(1, d, refs)
	require.True(t, res.OK())
	assert.Len(t, res.Warnings, 1)
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel(" NONE "))
	assert.True(t, IsSentinel(""))
	assert.False(t, IsSentinel("Nona"))
}
