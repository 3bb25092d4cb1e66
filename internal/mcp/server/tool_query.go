package server

import (
	"context"

	"github.com/malbeclabs/bigquery-mcp/internal/warehouse"
)

const runQueryDescription = `Execute a GoogleSQL statement against BigQuery and return the rows as a JSON array of objects, with columns in result order.
Uses the current project when project_id is omitted. Named query parameters can be passed in params and referenced as @name in the SQL.
Aggregate and use LIMIT to keep result sets small; results are not streamed.`

type RunQueryInput struct {
	SQL       string         `json:"sql" jsonschema:"The GoogleSQL statement to execute"`
	ProjectID string         `json:"project_id,omitempty" jsonschema:"Project to run the query in. Defaults to the current project"`
	Params    map[string]any `json:"params,omitempty" jsonschema:"Named query parameters referenced as @name in the SQL"`
	Location  string         `json:"location,omitempty" jsonschema:"Location to run the query job in, such as US or EU"`
}

func (t *Tools) runQuery(ctx context.Context, in RunQueryInput) (any, error) {
	h, err := t.selectHandle(in.ProjectID)
	if err != nil {
		return nil, err
	}

	t.log.Debug("mcp/tool: running query", "project", h.ProjectID, "location", in.Location, "params", len(in.Params))

	rows, err := h.Client.Query(ctx, warehouse.QueryRequest{
		SQL:      in.SQL,
		Params:   in.Params,
		Location: in.Location,
	})
	if err != nil {
		return nil, remoteError(err)
	}
	return nonNil(rows), nil
}
