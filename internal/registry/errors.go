package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotInitialized  = errors.New("BigQuery client not initialized")
	ErrProjectExists   = errors.New("project already exists")
	ErrProjectNotFound = errors.New("project not available")
)

// ProjectError reports a failed operation on a named project. Available
// lists the registered projects at the time of the failure.
type ProjectError struct {
	ProjectID string
	Available []string
	Err       error
}

func (e *ProjectError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("project '%s': %v", e.ProjectID, e.Err)
	}
	return fmt.Sprintf("project '%s': %v (available: %s)", e.ProjectID, e.Err, strings.Join(e.Available, ", "))
}

func (e *ProjectError) Unwrap() error {
	return e.Err
}
