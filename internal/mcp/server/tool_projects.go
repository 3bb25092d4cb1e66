package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/registry"
)

type ListProjectsInput struct{}

type ListProjectsOutput struct {
	AvailableProjects []string `json:"available_projects"`
	DefaultProject    string   `json:"default_project"`
}

type SwitchProjectInput struct {
	ProjectID string `json:"project_id" jsonschema:"The registered project to make current"`
}

type SwitchProjectOutput struct {
	Success           bool     `json:"success"`
	CurrentProject    string   `json:"current_project"`
	AvailableProjects []string `json:"available_projects"`
}

type AddProjectCredentialsInput struct {
	CredentialsJSON string `json:"credentials_json" jsonschema:"The full service account key JSON for the new project"`
}

type AddProjectCredentialsOutput struct {
	Success           bool     `json:"success"`
	ProjectAdded      string   `json:"project_added"`
	AvailableProjects []string `json:"available_projects"`
	DatasetsFound     int      `json:"datasets_found"`
}

// listProjects reports the current project as the default, since that is
// the project calls without a project_id run against.
func (t *Tools) listProjects(_ context.Context, _ ListProjectsInput) (any, error) {
	projects := t.registry.Projects()
	if len(projects) == 0 {
		return nil, failWith("No BigQuery clients initialized")
	}
	return ListProjectsOutput{
		AvailableProjects: projects,
		DefaultProject:    t.registry.Current(),
	}, nil
}

func (t *Tools) switchProject(_ context.Context, in SwitchProjectInput) (any, error) {
	if err := t.registry.SetCurrent(in.ProjectID); err != nil {
		return nil, err
	}
	return SwitchProjectOutput{
		Success:           true,
		CurrentProject:    in.ProjectID,
		AvailableProjects: t.registry.Projects(),
	}, nil
}

func (t *Tools) addProjectCredentials(ctx context.Context, in AddProjectCredentialsInput) (any, error) {
	res, err := t.registry.Add(ctx, in.CredentialsJSON)
	if err != nil {
		switch {
		case errors.Is(err, credentials.ErrInvalidJSON):
			detail := strings.TrimPrefix(err.Error(), credentials.ErrInvalidJSON.Error()+": ")
			return nil, failWith("Invalid JSON: " + detail)
		case errors.Is(err, credentials.ErrMissingProjectID):
			return nil, failWith("Invalid credentials: missing project_id")
		case errors.Is(err, registry.ErrProjectExists):
			return nil, err
		default:
			return nil, failWith(fmt.Sprintf("Failed to add project: %v", err))
		}
	}
	return AddProjectCredentialsOutput{
		Success:           true,
		ProjectAdded:      res.ProjectID,
		AvailableProjects: t.registry.Projects(),
		DatasetsFound:     res.DatasetsFound,
	}, nil
}
