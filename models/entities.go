package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Cliente struct {
	IdBsale       int64      `gorm:"primary_key;autoIncrement:false" json:"id_bsale"`
	Nombre        string     `gorm:"size:255" json:"nombre"`
	Apellido      *string    `gorm:"size:255" json:"apellido"`
	Rut           *string    `gorm:"size:20" json:"rut"`
	Email         *string    `gorm:"size:255" json:"email"`
	Telefono      *string    `gorm:"size:50" json:"telefono"`
	Direccion     *string    `gorm:"size:255" json:"direccion"`
	FechaCreacion *time.Time `json:"fecha_creacion"`
}

func (Cliente) TableName() string { return TableCliente }

func (c Cliente) Row() Row {
	return Row{
		"id_bsale":       c.IdBsale,
		"nombre":         c.Nombre,
		"apellido":       derefOrNil(c.Apellido),
		"rut":            derefOrNil(c.Rut),
		"email":          derefOrNil(c.Email),
		"telefono":       derefOrNil(c.Telefono),
		"direccion":      derefOrNil(c.Direccion),
		"fecha_creacion": derefOrNil(c.FechaCreacion),
	}
}

type Producto struct {
	IdBsale       int64           `gorm:"primary_key;autoIncrement:false" json:"id_bsale"`
	Nombre        string          `gorm:"size:255;not null" json:"nombre"`
	Descripcion   *string         `gorm:"type:text" json:"descripcion"`
	CodigoSku     string          `gorm:"size:100" json:"codigo_sku"`
	CodigoBarras  *string         `gorm:"size:100" json:"codigo_barras"`
	ControlaStock bool            `json:"controla_stock"`
	PrecioNeto    decimal.Decimal `gorm:"type:decimal(20,4)" json:"precio_neto"`
	CostoNeto     decimal.Decimal `gorm:"type:decimal(20,4)" json:"costo_neto"`
	Estado        bool            `json:"estado"`
}

func (Producto) TableName() string { return TableProducto }

func (p Producto) Row() Row {
	return Row{
		"id_bsale":       p.IdBsale,
		"nombre":         p.Nombre,
		"descripcion":    derefOrNil(p.Descripcion),
		"codigo_sku":     p.CodigoSku,
		"codigo_barras":  derefOrNil(p.CodigoBarras),
		"controla_stock": p.ControlaStock,
		"precio_neto":    p.PrecioNeto,
		"costo_neto":     p.CostoNeto,
		"estado":         p.Estado,
	}
}

type DocumentoVenta struct {
	IdBsale         int64            `gorm:"primary_key;autoIncrement:false" json:"id_bsale"`
	IdCliente       *int64           `gorm:"index" json:"id_cliente"`
	IdTipoDocumento *int64           `json:"id_tipo_documento"`
	Folio           *int64           `json:"folio"`
	FechaEmision    time.Time        `json:"fecha_emision"`
	MontoNeto       *decimal.Decimal `gorm:"type:decimal(20,4)" json:"monto_neto"`
	MontoIva        *decimal.Decimal `gorm:"type:decimal(20,4)" json:"monto_iva"`
	MontoTotal      decimal.Decimal  `gorm:"type:decimal(20,4)" json:"monto_total"`

	Detalles []DetalleDocumento `gorm:"-" json:"-"`
}

func (DocumentoVenta) TableName() string { return TableDocumentoVenta }

func (d DocumentoVenta) Row() Row {
	return Row{
		"id_bsale":          d.IdBsale,
		"id_cliente":        derefOrNil(d.IdCliente),
		"id_tipo_documento": derefOrNil(d.IdTipoDocumento),
		"folio":             derefOrNil(d.Folio),
		"fecha_emision":     d.FechaEmision,
		"monto_neto":        derefOrNil(d.MontoNeto),
		"monto_iva":         derefOrNil(d.MontoIva),
		"monto_total":       d.MontoTotal,
	}
}

type DetalleDocumento struct {
	IdDetalle           int64           `gorm:"primary_key;autoIncrement:false" json:"id_detalle"`
	IdDocumento         int64           `gorm:"index;not null" json:"id_documento"`
	IdProducto          *int64          `gorm:"index" json:"id_producto"`
	Cantidad            decimal.Decimal `gorm:"type:decimal(20,4)" json:"cantidad"`
	PrecioNetoUnitario  decimal.Decimal `gorm:"type:decimal(20,4)" json:"precio_neto_unitario"`
	DescuentoPorcentual decimal.Decimal `gorm:"type:decimal(9,4)" json:"descuento_porcentual"`
	MontoTotalLinea     decimal.Decimal `gorm:"type:decimal(20,4)" json:"monto_total_linea"`
}

func (DetalleDocumento) TableName() string { return TableDetalleDocumento }

func (d DetalleDocumento) Row() Row {
	return Row{
		"id_detalle":           d.IdDetalle,
		"id_documento":         d.IdDocumento,
		"id_producto":          derefOrNil(d.IdProducto),
		"cantidad":             d.Cantidad,
		"precio_neto_unitario": d.PrecioNetoUnitario,
		"descuento_porcentual": d.DescuentoPorcentual,
		"monto_total_linea":    d.MontoTotalLinea,
	}
}

// Rower is implemented by every synced entity.
type Rower interface {
	Row() Row
}

func ToRows[T Rower](records []T) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = r.Row()
	}
	return rows
}

// derefOrNil keeps the interface value untyped-nil for absent pointers so
// drivers see a real NULL.
func derefOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
