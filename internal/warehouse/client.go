package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
)

var (
	ErrNoProject = errors.New("no project id could be determined")
)

// Client is a handle bound to a single BigQuery project.
type Client interface {
	ProjectID() string
	Query(ctx context.Context, req QueryRequest) ([]Row, error)
	// ListDatasets returns dataset IDs in the project. A positive limit bounds
	// the number of IDs fetched.
	ListDatasets(ctx context.Context, limit int) ([]string, error)
	ListTables(ctx context.Context, datasetID string) ([]string, error)
	Close() error
}

// Factory builds client handles from key material or from the platform's
// default credential chain.
type Factory interface {
	FromRecord(ctx context.Context, rec *credentials.Record) (Client, error)
	Ambient(ctx context.Context) (Client, error)
}

type QueryRequest struct {
	SQL      string
	Params   map[string]any
	Location string
}

// Probe lists at most one dataset to confirm the handle is live. It returns
// the number of datasets seen.
func Probe(ctx context.Context, c Client) (int, error) {
	ids, err := c.ListDatasets(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("failed to probe project %s: %w", c.ProjectID(), err)
	}
	return len(ids), nil
}
