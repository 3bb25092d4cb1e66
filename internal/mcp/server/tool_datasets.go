package server

import (
	"context"
)

type ListDatasetsInput struct {
	ProjectID string `json:"project_id,omitempty" jsonschema:"Project to list datasets in. Defaults to the current project"`
}

type ListDatasetsOutput struct {
	Project  string   `json:"project"`
	Datasets []string `json:"datasets"`
}

type ListTablesInput struct {
	DatasetID string `json:"dataset_id" jsonschema:"The dataset to list tables from"`
	ProjectID string `json:"project_id,omitempty" jsonschema:"Project the dataset belongs to. Defaults to the current project"`
}

type ListTablesOutput struct {
	Project string   `json:"project"`
	Dataset string   `json:"dataset"`
	Tables  []string `json:"tables"`
}

func (t *Tools) listDatasets(ctx context.Context, in ListDatasetsInput) (any, error) {
	h, err := t.selectHandle(in.ProjectID)
	if err != nil {
		return nil, err
	}

	ids, err := h.Client.ListDatasets(ctx, 0)
	if err != nil {
		return nil, remoteError(err)
	}
	return ListDatasetsOutput{
		Project:  h.ProjectID,
		Datasets: nonNil(ids),
	}, nil
}

func (t *Tools) listTables(ctx context.Context, in ListTablesInput) (any, error) {
	h, err := t.selectHandle(in.ProjectID)
	if err != nil {
		return nil, err
	}

	ids, err := h.Client.ListTables(ctx, in.DatasetID)
	if err != nil {
		return nil, remoteError(err)
	}
	return ListTablesOutput{
		Project: h.ProjectID,
		Dataset: in.DatasetID,
		Tables:  nonNil(ids),
	}, nil
}
