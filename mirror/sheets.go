package mirror

import (
	"context"
	"fmt"

	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/sheets/v4"
)

const sheetColumns = 50

// SheetsMirror recreates one worksheet per table on every sync and writes
// the header row plus every record.
type SheetsMirror struct {
	svc    *sheets.Service
	docID  string
	logger logrus.FieldLogger
}

func NewSheetsMirror(svc *sheets.Service, docID string, logger logrus.FieldLogger) *SheetsMirror {
	return &SheetsMirror{svc: svc, docID: docID, logger: logger.WithField("module", "sheets")}
}

func (m *SheetsMirror) Name() string { return "sheets" }

func (m *SheetsMirror) Mirror(ctx context.Context, table models.Table, rows []models.Row) error {
	if len(rows) == 0 {
		m.logger.WithField("table", table.Name).Info("no rows to mirror")
		return nil
	}

	doc, err := m.svc.Spreadsheets.Get(m.docID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}

	var requests []*sheets.Request
	for _, sh := range doc.Sheets {
		if sh.Properties != nil && sh.Properties.Title == table.Name {
			requests = append(requests, &sheets.Request{
				DeleteSheet: &sheets.DeleteSheetRequest{SheetId: sh.Properties.SheetId},
			})
		}
	}
	requests = append(requests, &sheets.Request{
		AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{
			Title: table.Name,
			GridProperties: &sheets.GridProperties{
				RowCount:    int64(len(rows) + 10),
				ColumnCount: sheetColumns,
			},
		}},
	})
	if _, err := m.svc.Spreadsheets.BatchUpdate(m.docID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("recreate sheet %s: %w", table.Name, err)
	}

	values := &sheets.ValueRange{Values: tableValues(table, rows)}
	if _, err := m.svc.Spreadsheets.Values.Update(m.docID, fmt.Sprintf("'%s'!A1", table.Name), values).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write sheet %s: %w", table.Name, err)
	}
	m.logger.WithFields(logrus.Fields{"table": table.Name, "rows": len(rows)}).Info("sheet updated")
	return nil
}
