package validation

import (
	"github.com/imperiopatitas/bsale_etl/bsale"
	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/shopspring/decimal"
)

// References holds the keys already present in the destination. With Enforce
// off every reference is kept as sent.
type References struct {
	Clients  models.KeySet
	Products models.KeySet
	Enforce  bool
}

func (r References) knownClient(id int64) bool {
	return !r.Enforce || r.Clients.Has(id)
}

func (r References) knownProduct(id int64) bool {
	return !r.Enforce || r.Products.Has(id)
}

func ValidateDocument(raw bsale.Document, refs References) Result[models.DocumentoVenta] {
	c := newCollector(models.TableDocumentoVenta)
	c.id = raw.ID.String()

	var rec models.DocumentoVenta
	if id := bsale.Int64Ptr(raw.ID); id != nil && *id > 0 {
		rec.IdBsale = *id
	} else {
		c.reject("id_bsale is required")
	}

	if clientID := bsale.RefID(raw.Client); clientID != nil {
		if refs.knownClient(*clientID) {
			rec.IdCliente = clientID
		} else {
			c.warn("id_cliente %d is not synced; stored as null", *clientID)
		}
	}
	rec.IdTipoDocumento = bsale.RefID(raw.TypeRef())
	rec.Folio = bsale.Int64Ptr(raw.Number)

	if emitted := bsale.UnixTime(raw.EmissionDate); emitted != nil {
		rec.FechaEmision = *emitted
	} else {
		c.reject("fecha_emision is required")
	}

	rec.MontoNeto = bsale.DecimalPtr(raw.Net())
	if rec.MontoNeto != nil && rec.MontoNeto.IsNegative() {
		c.reject("monto_neto must not be negative, got %s", rec.MontoNeto.String())
	}
	rec.MontoIva = bsale.DecimalPtr(raw.TaxAmount)
	if rec.MontoIva != nil && rec.MontoIva.IsNegative() {
		c.reject("monto_iva must not be negative, got %s", rec.MontoIva.String())
	}

	total := bsale.DecimalPtr(raw.TotalAmount)
	switch {
	case total == nil:
		c.reject("monto_total is required")
	case !total.IsPositive():
		c.reject("monto_total must be greater than 0, got %s", total.String())
	default:
		rec.MontoTotal = *total
	}

	if total != nil && rec.MontoNeto != nil && rec.MontoIva != nil {
		expected := rec.MontoNeto.Add(*rec.MontoIva)
		if !withinTolerance(*total, expected) {
			c.warn("monto_total %s differs from monto_neto + monto_iva = %s", total.String(), expected.String())
		}
	}

	return result(c, rec)
}

var hundred = decimal.NewFromInt(100)

// ValidateDetail validates one line item of documentID.
func ValidateDetail(documentID int64, raw bsale.Detail, refs References) Result[models.DetalleDocumento] {
	c := newCollector(models.TableDetalleDocumento)
	c.id = raw.ID.String()

	var rec models.DetalleDocumento
	if id := bsale.Int64Ptr(raw.ID); id != nil && *id > 0 {
		rec.IdDetalle = *id
	} else {
		c.reject("id_detalle is required")
	}
	if documentID > 0 {
		rec.IdDocumento = documentID
	} else {
		c.reject("id_documento is required")
	}

	if variantID := bsale.RefID(raw.Variant); variantID != nil {
		if refs.knownProduct(*variantID) {
			rec.IdProducto = variantID
		} else {
			c.warn("id_producto %d is not synced; stored as null", *variantID)
		}
	} else {
		c.reject("id_producto is required")
	}

	qty := bsale.DecimalPtr(raw.Quantity)
	switch {
	case qty == nil:
		c.reject("cantidad is required")
	case !qty.IsPositive():
		c.reject("cantidad must be greater than 0, got %s", qty.String())
	default:
		rec.Cantidad = *qty
	}

	unit := bsale.DecimalPtr(raw.NetUnitValue)
	switch {
	case unit == nil:
		c.reject("precio_neto_unitario is required")
	case !unit.IsPositive():
		c.reject("precio_neto_unitario must be greater than 0, got %s", unit.String())
	default:
		rec.PrecioNetoUnitario = *unit
	}

	rec.DescuentoPorcentual = decimal.Zero
	if discount := bsale.DecimalPtr(raw.Discount); discount != nil {
		if discount.IsNegative() {
			c.reject("descuento_porcentual must not be negative, got %s", discount.String())
		} else {
			rec.DescuentoPorcentual = *discount
		}
	}

	lineTotal := bsale.DecimalPtr(raw.LineTotal())
	if lineTotal == nil {
		c.reject("monto_total_linea is required")
	} else {
		rec.MontoTotalLinea = *lineTotal
	}

	if !c.failed() {
		factor := decimal.NewFromInt(1).Sub(rec.DescuentoPorcentual.Div(hundred))
		expected := rec.Cantidad.Mul(rec.PrecioNetoUnitario).Mul(factor)
		if !withinTolerance(rec.MontoTotalLinea, expected) {
			c.warn("monto_total_linea %s differs from cantidad x precio_neto_unitario x (1 - descuento/100) = %s",
				rec.MontoTotalLinea.String(), expected.Round(4).String())
		}
	}

	return result(c, rec)
}
