package warehouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cloud.google.com/go/bigquery"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
)

// BigQueryFactory builds handles backed by the BigQuery client library.
type BigQueryFactory struct {
	log  *slog.Logger
	opts []option.ClientOption
}

// NewBigQueryFactory returns a factory. opts are appended to every client,
// after the credentials option.
func NewBigQueryFactory(log *slog.Logger, opts ...option.ClientOption) *BigQueryFactory {
	return &BigQueryFactory{log: log, opts: opts}
}

func (f *BigQueryFactory) FromRecord(ctx context.Context, rec *credentials.Record) (Client, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, rec.Raw, bigquery.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}
	return f.newClient(ctx, rec.ProjectID, creds)
}

func (f *BigQueryFactory) Ambient(ctx context.Context) (Client, error) {
	creds, err := google.FindDefaultCredentials(ctx, bigquery.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to find default credentials: %w", err)
	}
	if creds.ProjectID == "" {
		return nil, ErrNoProject
	}
	return f.newClient(ctx, creds.ProjectID, creds)
}

func (f *BigQueryFactory) newClient(ctx context.Context, projectID string, creds *google.Credentials) (Client, error) {
	opts := append([]option.ClientOption{option.WithCredentials(creds)}, f.opts...)
	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	f.log.Debug("warehouse: created bigquery client", "project", client.Project())
	return &bigQueryClient{client: client}, nil
}

type bigQueryClient struct {
	client *bigquery.Client
}

func (c *bigQueryClient) ProjectID() string {
	return c.client.Project()
}

func (c *bigQueryClient) Query(ctx context.Context, req QueryRequest) ([]Row, error) {
	params, err := queryParameters(req.Params)
	if err != nil {
		return nil, fmt.Errorf("invalid query parameters: %w", err)
	}

	q := c.client.Query(req.SQL)
	q.Parameters = params
	if req.Location != "" {
		q.Location = req.Location
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}

	rows := []Row{}
	for {
		var values []bigquery.Value
		err := it.Next(&values)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, rowFromValues(it.Schema, values))
	}
	return rows, nil
}

func (c *bigQueryClient) ListDatasets(ctx context.Context, limit int) ([]string, error) {
	it := c.client.Datasets(ctx)
	if limit > 0 {
		it.PageInfo().MaxSize = limit
	}

	ids := []string{}
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, ds.DatasetID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, nil
}

func (c *bigQueryClient) ListTables(ctx context.Context, datasetID string) ([]string, error) {
	it := c.client.Dataset(datasetID).Tables(ctx)

	ids := []string{}
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, t.TableID)
	}
	return ids, nil
}

func (c *bigQueryClient) Close() error {
	return c.client.Close()
}
