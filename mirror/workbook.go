package mirror

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/imperiopatitas/bsale_etl/models"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// WorkbookExporter writes each synced table as an .xlsx workbook named
// exports/<table>/<timestamp>.xlsx.
type WorkbookExporter struct {
	store  Store
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewWorkbookExporter(store Store, logger logrus.FieldLogger) *WorkbookExporter {
	return &WorkbookExporter{store: store, logger: logger.WithField("module", "workbook"), now: time.Now}
}

func (w *WorkbookExporter) Name() string { return "workbook" }

func (w *WorkbookExporter) Mirror(ctx context.Context, table models.Table, rows []models.Row) error {
	data, err := buildWorkbook(table, rows)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("exports/%s/%s.xlsx", table.Name, w.now().UTC().Format("20060102T150405Z"))
	if err := w.store.Put(ctx, name, xlsxContentType, data); err != nil {
		return err
	}
	w.logger.WithFields(logrus.Fields{"table": table.Name, "rows": len(rows), "object": name}).Info("workbook exported")
	return nil
}

func buildWorkbook(table models.Table, rows []models.Row) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := table.Name
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, line := range tableValues(table, rows) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &line); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
