package destination

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"google.golang.org/api/googleapi"
)

func TestMySQLClassify(t *testing.T) {
	m := &MySQL{}
	assert.Equal(t, Transient, m.Classify(&mysql.MySQLError{Number: 1213}))
	assert.Equal(t, Transient, m.Classify(fmt.Errorf("wrapped: %w", &mysql.MySQLError{Number: 1205})))
	assert.Equal(t, Unsupported, m.Classify(&mysql.MySQLError{Number: 1064}))
	assert.Equal(t, Permanent, m.Classify(&mysql.MySQLError{Number: 1062}))
	assert.Equal(t, Transient, m.Classify(mysql.ErrInvalidConn))
	assert.Equal(t, Transient, m.Classify(context.DeadlineExceeded))
}

func TestBigQueryClassify(t *testing.T) {
	b := &BigQuery{}
	assert.Equal(t, Transient, b.Classify(&bigquery.Error{Reason: "backendError"}))
	assert.Equal(t, Unsupported, b.Classify(&bigquery.Error{Reason: "invalidQuery"}))
	assert.Equal(t, Permanent, b.Classify(&bigquery.Error{Reason: "invalid"}))
	assert.Equal(t, Transient, b.Classify(&googleapi.Error{Code: http.StatusServiceUnavailable}))
	assert.Equal(t, Transient, b.Classify(&googleapi.Error{Code: http.StatusBadRequest, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}}))
	assert.Equal(t, Unsupported, b.Classify(&googleapi.Error{Code: http.StatusBadRequest, Errors: []googleapi.ErrorItem{{Reason: "invalidQuery"}}}))
	assert.Equal(t, Permanent, b.Classify(&googleapi.Error{Code: http.StatusForbidden}))
}

func TestClassifiedErrorOverridesDriver(t *testing.T) {
	err := WithClass(Transient, errors.New("flaky"))
	assert.Equal(t, Transient, (&MySQL{}).Classify(err))
	assert.Equal(t, Transient, NewMemory().Classify(err))
	assert.Equal(t, Permanent, NewMemory().Classify(errors.New("other")))
	assert.Equal(t, "transient", Transient.String())
}
