package mirror

import (
	"fmt"
	"time"

	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04:05"

// cellValue renders a row value for spreadsheets. Null becomes an empty
// cell; decimals keep their exact text.
func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case decimal.Decimal:
		return x.String()
	case *decimal.Decimal:
		if x == nil {
			return ""
		}
		return x.String()
	case time.Time:
		return x.UTC().Format(timeLayout)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(timeLayout)
	case string, bool, int, int64, float64:
		return x
	default:
		return fmt.Sprint(x)
	}
}

// tableValues returns the header row followed by one row per record, in
// column order.
func tableValues(table models.Table, rows []models.Row) [][]any {
	out := make([][]any, 0, len(rows)+1)
	header := make([]any, 0, len(table.Columns))
	for _, name := range table.ColumnNames() {
		header = append(header, name)
	}
	out = append(out, header)
	for _, r := range rows {
		values := table.Values(r)
		line := make([]any, len(values))
		for i, v := range values {
			line[i] = cellValue(v)
		}
		out = append(out, line)
	}
	return out
}
