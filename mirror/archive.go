package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/imperiopatitas/bsale_etl/appctx"
	"github.com/sirupsen/logrus"
)

// RawArchive keeps the untouched extract of every run as newline-delimited
// JSON under raw/<entity>/<yyyy-mm-dd>/<run>.ndjson.
type RawArchive struct {
	store  Store
	logger logrus.FieldLogger
	now    func() time.Time
}

func NewRawArchive(store Store, logger logrus.FieldLogger) *RawArchive {
	return &RawArchive{store: store, logger: logger.WithField("module", "archive"), now: time.Now}
}

func (a *RawArchive) Archive(ctx context.Context, entity string, payloads []json.RawMessage) error {
	var buf bytes.Buffer
	for _, p := range payloads {
		compact := bytes.Buffer{}
		if err := json.Compact(&compact, p); err != nil {
			// keep what Bsale sent even when it is not valid JSON
			buf.Write(bytes.ReplaceAll(p, []byte("\n"), []byte(" ")))
		} else {
			buf.Write(compact.Bytes())
		}
		buf.WriteByte('\n')
	}

	run, ok := appctx.GetString(ctx, appctx.ContextKeyRunId)
	if !ok || run == "" {
		run = uuid.NewString()
	}
	name := fmt.Sprintf("raw/%s/%s/%s.ndjson", entity, a.now().UTC().Format("2006-01-02"), run)
	if err := a.store.Put(ctx, name, "application/x-ndjson", buf.Bytes()); err != nil {
		return err
	}
	a.logger.WithFields(logrus.Fields{"entity": entity, "records": len(payloads), "object": name}).Debug("raw extract archived")
	return nil
}
