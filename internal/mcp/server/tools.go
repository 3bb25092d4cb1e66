package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/metrics"
	"github.com/malbeclabs/bigquery-mcp/internal/registry"
)

// Tools dispatches tool calls to the registered BigQuery clients.
type Tools struct {
	log      *slog.Logger
	clock    clockwork.Clock
	registry *registry.Registry
	creds    *credentials.Discovery
}

func NewTools(log *slog.Logger, clock clockwork.Clock, reg *registry.Registry, creds *credentials.Discovery) *Tools {
	return &Tools{
		log:      log,
		clock:    clock,
		registry: reg,
		creds:    creds,
	}
}

func (t *Tools) Register(server *mcp.Server) error {
	if err := addTool(t, server, "run_query", runQueryDescription, t.runQuery); err != nil {
		return err
	}
	if err := addTool(t, server, "list_datasets", "List all dataset IDs in a BigQuery project. Uses the current project when project_id is omitted.", t.listDatasets); err != nil {
		return err
	}
	if err := addTool(t, server, "list_tables", "List all table IDs in a dataset. Uses the current project when project_id is omitted.", t.listTables); err != nil {
		return err
	}
	if err := addTool(t, server, "list_projects", "List the BigQuery projects this server holds credentials for, and the current project.", t.listProjects); err != nil {
		return err
	}
	if err := addTool(t, server, "switch_project", "Make a registered project the current project for calls that omit project_id.", t.switchProject); err != nil {
		return err
	}
	if err := addTool(t, server, "add_project_credentials", "Register service account credentials for another BigQuery project. The credentials are verified by listing a dataset before they are added.", t.addProjectCredentials); err != nil {
		return err
	}
	if err := addTool(t, server, "test_connection", "Check connectivity to BigQuery using the current project.", t.testConnection); err != nil {
		return err
	}
	if err := addTool(t, server, "test_json_parsing", "Parse the credentials in GOOGLE_APPLICATION_CREDENTIALS_JSON without creating a client and report which fields are present.", t.testJSONParsing); err != nil {
		return err
	}
	if err := addTool(t, server, "debug_credentials", "Report which credential sources are configured, what discovery made of each, and whether the current client can reach BigQuery.", t.debugCredentials); err != nil {
		return err
	}
	return nil
}

// addTool registers fn under name. A non-nil error from fn is turned into an
// error result; it never reaches the protocol layer.
func addTool[In any](t *Tools, server *mcp.Server, name, description string, fn func(ctx context.Context, in In) (any, error)) error {
	schema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", name, err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: schema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (res *mcp.CallToolResult, _ any, _ error) {
		startTime := t.clock.Now()
		status := "success"
		defer func() {
			if r := recover(); r != nil {
				t.log.Error("mcp/tool: handler panicked", "tool", name, "panic", r)
				res = t.result(name, errorResponse{Error: fmt.Sprintf("internal error: %v", r)}, true)
				status = "error"
			}
			metrics.ToolCallsTotal.WithLabelValues(name, status).Inc()
			metrics.ToolCallDuration.WithLabelValues(name).Observe(t.clock.Since(startTime).Seconds())
		}()

		t.log.Debug("mcp/tool: handling call", "tool", name)

		out, err := fn(ctx, in)
		if err != nil {
			status = "error"
			t.log.Warn("mcp/tool: call failed", "tool", name, "error", err)
			return t.result(name, errorPayload(err), true), nil, nil
		}
		return t.result(name, out, false), nil, nil
	})
	return nil
}

func (t *Tools) result(name string, payload any, isError bool) *mcp.CallToolResult {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		t.log.Error("mcp/tool: failed to encode result", "tool", name, "error", err)
		data, _ = json.Marshal(errorResponse{Error: fmt.Sprintf("failed to encode result: %v", err)})
		isError = true
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: isError,
	}
}

// selectHandle picks the client a call runs against. An omitted project ID
// means the current project.
func (t *Tools) selectHandle(projectID string) (registry.Handle, error) {
	var (
		h  registry.Handle
		ok bool
	)
	if projectID == "" {
		h, ok = t.registry.Default()
	} else {
		h, ok = t.registry.Resolve(projectID)
	}
	if !ok {
		return registry.Handle{}, registry.ErrNotInitialized
	}
	return h, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type projectErrorResponse struct {
	Error             string   `json:"error"`
	AvailableProjects []string `json:"available_projects"`
}

// payloadError carries a complete error payload to the caller.
type payloadError struct {
	payload any
	msg     string
}

func (e *payloadError) Error() string {
	return e.msg
}

func failWith(msg string) error {
	return &payloadError{payload: errorResponse{Error: msg}, msg: msg}
}

func remoteError(err error) error {
	return fmt.Errorf("BigQuery error: %w", err)
}

func errorPayload(err error) any {
	var pe *payloadError
	if errors.As(err, &pe) {
		return pe.payload
	}

	var projErr *registry.ProjectError
	switch {
	case errors.Is(err, registry.ErrNotInitialized):
		return errorResponse{Error: registry.ErrNotInitialized.Error()}
	case errors.Is(err, registry.ErrProjectNotFound) && errors.As(err, &projErr):
		return projectErrorResponse{
			Error:             fmt.Sprintf("Project '%s' not available", projErr.ProjectID),
			AvailableProjects: nonNil(projErr.Available),
		}
	case errors.Is(err, registry.ErrProjectExists) && errors.As(err, &projErr):
		return errorResponse{Error: fmt.Sprintf("Project '%s' already exists", projErr.ProjectID)}
	}
	return errorResponse{Error: err.Error()}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
