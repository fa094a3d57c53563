package config

import (
	"context"
	"strings"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// credentialOptions prefers ADC (Cloud Run service account or
// GOOGLE_APPLICATION_CREDENTIALS); explicit JSON is for local runs.
func credentialOptions(credJSON string) []option.ClientOption {
	if strings.TrimSpace(credJSON) == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
}

func NewBigQueryClient(ctx context.Context, s BigQuerySettings) (*bigquery.Client, error) {
	return bigquery.NewClient(ctx, s.Project, credentialOptions(s.CredentialsJSON)...)
}

func NewGCSClient(ctx context.Context, credJSON string) (*storage.Client, error) {
	return storage.NewClient(ctx, credentialOptions(credJSON)...)
}

// NewSheetsService accepts either a credentials JSON document or a path to one.
func NewSheetsService(ctx context.Context, credentials string) (*sheets.Service, error) {
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if strings.HasPrefix(strings.TrimSpace(credentials), "{") {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentials)))
	} else if credentials != "" {
		opts = append(opts, option.WithCredentialsFile(credentials))
	}
	return sheets.NewService(ctx, opts...)
}
