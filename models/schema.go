package models

import (
	"cloud.google.com/go/bigquery"
	"gorm.io/gorm"
)

// BigQuerySchema maps a table definition onto a BigQuery schema.
func BigQuerySchema(t Table) bigquery.Schema {
	schema := make(bigquery.Schema, 0, len(t.Columns))
	for _, c := range t.Columns {
		schema = append(schema, &bigquery.FieldSchema{
			Name:     c.Name,
			Type:     bigQueryFieldType(c.Type),
			Required: c.Required,
		})
	}
	return schema
}

func bigQueryFieldType(t ColumnType) bigquery.FieldType {
	switch t {
	case ColumnInteger:
		return bigquery.IntegerFieldType
	case ColumnNumeric:
		return bigquery.NumericFieldType
	case ColumnDatetime:
		return bigquery.DateTimeFieldType
	case ColumnBoolean:
		return bigquery.BooleanFieldType
	default:
		return bigquery.StringFieldType
	}
}

// MigrateTables creates the synced tables on a gorm-backed SQL destination.
func MigrateTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&Cliente{},
		&Producto{},
		&DocumentoVenta{},
		&DetalleDocumento{},
	)
}
