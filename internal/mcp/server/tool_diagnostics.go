package server

import (
	"context"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/registry"
	"github.com/malbeclabs/bigquery-mcp/internal/warehouse"
)

type TestConnectionInput struct{}

type TestConnectionOutput struct {
	Success             bool   `json:"success"`
	Project             string `json:"project,omitempty"`
	DatasetsFound       int    `json:"datasets_found"`
	TestQuerySuccessful bool   `json:"test_query_successful"`
}

type connectionFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type TestJSONParsingInput struct{}

type TestJSONParsingOutput struct {
	Success          bool   `json:"success"`
	ProjectID        string `json:"project_id"`
	Type             string `json:"type"`
	ClientEmail      string `json:"client_email"`
	HasPrivateKey    bool   `json:"has_private_key"`
	PrivateKeyLength int    `json:"private_key_length"`
}

type jsonParsingFailure struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	ErrorPosition any    `json:"error_position"`
}

type DebugCredentialsInput struct{}

type DebugCredentialsOutput struct {
	ClientInitialized    bool                    `json:"bq_client_initialized"`
	EnvVarsPresent       map[string]bool         `json:"env_vars_present"`
	LocalCredsFile       string                  `json:"local_creds_file"`
	LocalCredsFileExists bool                    `json:"local_creds_file_exists"`
	AvailableProjects    []string                `json:"available_projects"`
	CurrentProject       string                  `json:"current_project,omitempty"`
	TestQuerySuccessful  *bool                   `json:"test_query_successful,omitempty"`
	Project              string                  `json:"project,omitempty"`
	DatasetsCount        *int                    `json:"datasets_count,omitempty"`
	TestQueryError       string                  `json:"test_query_error,omitempty"`
	ClientStatus         string                  `json:"client_status,omitempty"`
	CredentialSources    []registry.SourceStatus `json:"credential_sources"`
}

func (t *Tools) testConnection(ctx context.Context, _ TestConnectionInput) (any, error) {
	h, ok := t.registry.Default()
	if !ok {
		return nil, connectionFailed(registry.ErrNotInitialized.Error())
	}

	found, err := warehouse.Probe(ctx, h.Client)
	if err != nil {
		return nil, connectionFailed("BigQuery connection test failed: " + err.Error())
	}
	return TestConnectionOutput{
		Success:             true,
		Project:             h.ProjectID,
		DatasetsFound:       found,
		TestQuerySuccessful: true,
	}, nil
}

func connectionFailed(msg string) error {
	return &payloadError{payload: connectionFailure{Error: msg}, msg: msg}
}

func (t *Tools) testJSONParsing(_ context.Context, _ TestJSONParsingInput) (any, error) {
	raw, ok := t.creds.Lookup(credentials.EnvCredentialsJSON)
	if !ok {
		return nil, failWith(credentials.EnvCredentialsJSON + " not set")
	}
	t.log.Debug("mcp/tool: parsing credentials JSON", "length", len(raw))

	rec, err := credentials.Parse([]byte(raw))
	if err != nil {
		var pos any = "unknown"
		if off := credentials.ErrorOffset(err); off >= 0 {
			pos = off
		}
		msg := "JSON parsing failed: " + err.Error()
		return nil, &payloadError{
			payload: jsonParsingFailure{Error: msg, ErrorPosition: pos},
			msg:     msg,
		}
	}

	return TestJSONParsingOutput{
		Success:          true,
		ProjectID:        rec.ProjectID,
		Type:             rec.Type,
		ClientEmail:      rec.ClientEmail,
		HasPrivateKey:    rec.PrivateKey != "",
		PrivateKeyLength: len(rec.PrivateKey),
	}, nil
}

func (t *Tools) debugCredentials(ctx context.Context, _ DebugCredentialsInput) (any, error) {
	out := DebugCredentialsOutput{
		EnvVarsPresent: map[string]bool{
			credentials.EnvCredentialsJSON: t.creds.Present(credentials.EnvCredentialsJSON),
			credentials.EnvCredentialsFile: t.creds.Present(credentials.EnvCredentialsFile),
		},
		LocalCredsFile:       t.creds.LocalFile(),
		LocalCredsFileExists: t.creds.LocalFileExists(),
		AvailableProjects:    t.registry.Projects(),
		CurrentProject:       t.registry.Current(),
		CredentialSources:    nonNil(t.registry.Sources()),
	}
	for i := 2; ; i++ {
		src, ok := t.creds.IndexedSlot(i)
		if !ok {
			break
		}
		out.EnvVarsPresent[src.Name] = true
	}

	h, ok := t.registry.Default()
	out.ClientInitialized = ok
	if !ok {
		out.ClientStatus = "no BigQuery client registered; check the server startup logs"
		return out, nil
	}

	found, err := warehouse.Probe(ctx, h.Client)
	succeeded := err == nil
	out.TestQuerySuccessful = &succeeded
	if err != nil {
		out.TestQueryError = err.Error()
		return out, nil
	}
	out.Project = h.ProjectID
	out.DatasetsCount = &found
	return out, nil
}
