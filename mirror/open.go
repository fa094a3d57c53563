package mirror

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/imperiopatitas/bsale_etl/config"
	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/sirupsen/logrus"
)

// Sinks is the set of secondary outputs enabled by configuration.
type Sinks struct {
	Mirrors  []workflow.Mirror
	Archiver workflow.Archiver
	gcs      *storage.Client
}

func (s *Sinks) Close() error {
	if s.gcs != nil {
		return s.gcs.Close()
	}
	return nil
}

// Open builds every sink whose settings are present. Nothing configured
// yields an empty set.
func Open(ctx context.Context, s config.MirrorSettings, logg *logrus.Logger) (*Sinks, error) {
	sinks := &Sinks{}

	if s.SheetsDocID != "" && s.SheetsCredentials != "" {
		svc, err := config.NewSheetsService(ctx, s.SheetsCredentials)
		if err != nil {
			return nil, fmt.Errorf("sheets service: %w", err)
		}
		sinks.Mirrors = append(sinks.Mirrors, NewSheetsMirror(svc, s.SheetsDocID, logg))
	}

	if s.RawArchiveBucket != "" || s.WorkbookBucket != "" {
		client, err := config.NewGCSClient(ctx, s.GCSCredentials)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		sinks.gcs = client
	}

	switch {
	case s.WorkbookBucket != "":
		sinks.Mirrors = append(sinks.Mirrors, NewWorkbookExporter(NewGCSStore(sinks.gcs, s.WorkbookBucket), logg))
	case s.WorkbookDir != "":
		sinks.Mirrors = append(sinks.Mirrors, NewWorkbookExporter(NewDirStore(s.WorkbookDir), logg))
	}

	if s.RawArchiveBucket != "" {
		sinks.Archiver = NewRawArchive(NewGCSStore(sinks.gcs, s.RawArchiveBucket), logg)
	}

	names := make([]string, 0, len(sinks.Mirrors))
	for _, m := range sinks.Mirrors {
		names = append(names, m.Name())
	}
	logg.WithFields(logrus.Fields{"mirrors": names, "archive": sinks.Archiver != nil}).Info("secondary sinks configured")
	return sinks, nil
}
