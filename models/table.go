package models

import "slices"

const (
	TableCliente          = "cliente"
	TableProducto         = "producto"
	TableDocumentoVenta   = "documento_venta"
	TableDetalleDocumento = "detalle_documento"
)

type ColumnType string

const (
	ColumnInteger  ColumnType = "INTEGER"
	ColumnString   ColumnType = "STRING"
	ColumnNumeric  ColumnType = "NUMERIC"
	ColumnDatetime ColumnType = "DATETIME"
	ColumnBoolean  ColumnType = "BOOLEAN"
)

type Column struct {
	Name     string
	Type     ColumnType
	Required bool
}

// Table describes a destination table. Column order is the order used for
// every rendered statement and for row exports.
type Table struct {
	Name       string
	PrimaryKey string
	Columns    []Column
}

// Row is one record keyed by column name. Absent optional values are stored
// as explicit nil entries.
type Row map[string]any

func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t Table) HasColumn(name string) bool {
	return slices.ContainsFunc(t.Columns, func(c Column) bool { return c.Name == name })
}

func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Values returns the row values in column order.
func (t Table) Values(r Row) []any {
	values := make([]any, len(t.Columns))
	for i, c := range t.Columns {
		values[i] = r[c.Name]
	}
	return values
}

var ClienteTable = Table{
	Name:       TableCliente,
	PrimaryKey: "id_bsale",
	Columns: []Column{
		{Name: "id_bsale", Type: ColumnInteger, Required: true},
		{Name: "nombre", Type: ColumnString},
		{Name: "apellido", Type: ColumnString},
		{Name: "rut", Type: ColumnString},
		{Name: "email", Type: ColumnString},
		{Name: "telefono", Type: ColumnString},
		{Name: "direccion", Type: ColumnString},
		{Name: "fecha_creacion", Type: ColumnDatetime},
	},
}

var ProductoTable = Table{
	Name:       TableProducto,
	PrimaryKey: "id_bsale",
	Columns: []Column{
		{Name: "id_bsale", Type: ColumnInteger, Required: true},
		{Name: "nombre", Type: ColumnString, Required: true},
		{Name: "descripcion", Type: ColumnString},
		{Name: "codigo_sku", Type: ColumnString},
		{Name: "codigo_barras", Type: ColumnString},
		{Name: "controla_stock", Type: ColumnBoolean},
		{Name: "precio_neto", Type: ColumnNumeric},
		{Name: "costo_neto", Type: ColumnNumeric},
		{Name: "estado", Type: ColumnBoolean},
	},
}

var DocumentoVentaTable = Table{
	Name:       TableDocumentoVenta,
	PrimaryKey: "id_bsale",
	Columns: []Column{
		{Name: "id_bsale", Type: ColumnInteger, Required: true},
		{Name: "id_cliente", Type: ColumnInteger},
		{Name: "id_tipo_documento", Type: ColumnInteger},
		{Name: "folio", Type: ColumnInteger},
		{Name: "fecha_emision", Type: ColumnDatetime},
		{Name: "monto_neto", Type: ColumnNumeric},
		{Name: "monto_iva", Type: ColumnNumeric},
		{Name: "monto_total", Type: ColumnNumeric},
	},
}

var DetalleDocumentoTable = Table{
	Name:       TableDetalleDocumento,
	PrimaryKey: "id_detalle",
	Columns: []Column{
		{Name: "id_detalle", Type: ColumnInteger},
		{Name: "id_documento", Type: ColumnInteger, Required: true},
		{Name: "id_producto", Type: ColumnInteger},
		{Name: "cantidad", Type: ColumnNumeric},
		{Name: "precio_neto_unitario", Type: ColumnNumeric},
		{Name: "descuento_porcentual", Type: ColumnNumeric},
		{Name: "monto_total_linea", Type: ColumnNumeric},
	},
}

// AllTables lists every synced table, parents before children.
func AllTables() []Table {
	return []Table{ClienteTable, ProductoTable, DocumentoVentaTable, DetalleDocumentoTable}
}

func TableByName(name string) (Table, bool) {
	for _, t := range AllTables() {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
