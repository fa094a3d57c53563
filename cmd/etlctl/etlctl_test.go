package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/imperiopatitas/bsale_etl/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	entity   workflow.Entity
	since    *time.Time
	reloaded bool
	limit    int
	err      error
}

func (f *fakeRunner) Sync(_ context.Context, entity workflow.Entity, since *time.Time) ([]workflow.Summary, error) {
	f.entity, f.since = entity, since
	details := &workflow.Summary{Entity: workflow.EntityDetails, Fetched: 4, Valid: 3, Skipped: 1, Upserted: 3}
	return []workflow.Summary{{Entity: entity, Fetched: 2, Valid: 2, Upserted: 2, Details: details}}, f.err
}

func (f *fakeRunner) CleanAndReload(context.Context) ([]workflow.Summary, error) {
	f.reloaded = true
	return []workflow.Summary{{Entity: workflow.EntityClients}}, f.err
}

func (f *fakeRunner) Sample(_ context.Context, _ workflow.Entity, limit int) ([]json.RawMessage, error) {
	f.limit = limit
	return []json.RawMessage{json.RawMessage(`{"id":1}`)}, f.err
}

func execute(t *testing.T, fake *fakeRunner, args ...string) (string, error) {
	t.Helper()
	old := runner
	runner = fake
	syncSince, syncDays, syncJSON, reloadConfirmed, sampleLimit = "", 0, false, false, 5
	t.Cleanup(func() {
		runner = old
		rootCmd.SetArgs(nil)
	})

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestSyncCmd_DefaultsToAll(t *testing.T) {
	fake := &fakeRunner{}
	out, err := execute(t, fake, "sync")
	require.NoError(t, err)
	assert.Equal(t, workflow.EntityAll, fake.entity)
	assert.Nil(t, fake.since)
	assert.Contains(t, out, "fetched=2 valid=2")
	assert.Contains(t, out, "details")
}

func TestSyncCmd_Since(t *testing.T) {
	fake := &fakeRunner{}
	_, err := execute(t, fake, "sync", "documents", "--since", "2026-10-01")
	require.NoError(t, err)
	assert.Equal(t, workflow.EntityDocuments, fake.entity)
	require.NotNil(t, fake.since)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), *fake.since)
}

func TestSyncCmd_RejectsUnknownEntity(t *testing.T) {
	_, err := execute(t, &fakeRunner{}, "sync", "invoices")
	require.ErrorIs(t, err, workflow.ErrUnknownEntity)
}

func TestSyncCmd_RejectsBadDate(t *testing.T) {
	_, err := execute(t, &fakeRunner{}, "sync", "documents", "--since", "01/10/2026")
	require.Error(t, err)
}

func TestSyncCmd_JSONOutput(t *testing.T) {
	out, err := execute(t, &fakeRunner{}, "sync", "clients", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"entity": "clients"`)
}

func TestSyncCmd_ReportsFailureAfterPrinting(t *testing.T) {
	out, err := execute(t, &fakeRunner{err: errors.New("bsale down")}, "sync", "products")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bsale down")
	assert.Contains(t, out, "products")
}

func TestCleanAndReloadCmd_RequiresConfirmation(t *testing.T) {
	fake := &fakeRunner{}
	_, err := execute(t, fake, "clean-and-reload")
	require.Error(t, err)
	assert.False(t, fake.reloaded)

	_, err = execute(t, fake, "clean-and-reload", "--yes")
	require.NoError(t, err)
	assert.True(t, fake.reloaded)
}

func TestSampleCmd(t *testing.T) {
	fake := &fakeRunner{}
	out, err := execute(t, fake, "sample", "clients", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.limit)
	assert.Contains(t, out, `"id": 1`)
}

func TestSinceFromFlags(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	got, err := sinceFromFlags("", 7, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 10, 9, 0, 0, 0, 0, time.UTC), *got)

	got, err = sinceFromFlags("", 0, now)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = sinceFromFlags("2026-10-01", 3, now)
	require.Error(t, err)
}
