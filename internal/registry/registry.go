// Package registry keeps the validated BigQuery client handles of a running
// server, keyed by project ID in admission order.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/metrics"
	"github.com/malbeclabs/bigquery-mcp/internal/warehouse"
)

// Handle is a registered client together with the project ID it is keyed by.
type Handle struct {
	ProjectID string
	Client    warehouse.Client
}

// SourceStatus records what discovery made of one credential source.
type SourceStatus struct {
	Source    string    `json:"source"`
	Kind      string    `json:"kind"`
	ProjectID string    `json:"project_id,omitempty"`
	Admitted  bool      `json:"admitted"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type AddResult struct {
	ProjectID     string
	DatasetsFound int
}

type Registry struct {
	log   *slog.Logger
	clock clockwork.Clock
	cfg   Config

	mu      sync.RWMutex
	clients map[string]warehouse.Client
	order   []string
	current string
	sources []SourceStatus
}

func New(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate registry config: %w", err)
	}
	return &Registry{
		log:     cfg.Logger,
		clock:   cfg.Clock,
		cfg:     cfg,
		clients: make(map[string]warehouse.Client),
	}, nil
}

// Discover scans the configured credential sources and admits every usable
// one. It returns the number of projects admitted. Failures are logged and
// recorded per source; an empty registry afterwards is a valid state.
func (r *Registry) Discover(ctx context.Context) int {
	admitted := r.scanIndexed(ctx)
	if admitted == 0 {
		r.log.Info("registry: no indexed credentials admitted, trying fallback sources")
		if r.resolveFallback(ctx) {
			admitted = 1
		}
	}

	if admitted == 0 {
		r.log.Warn("registry: no BigQuery clients initialized")
	} else {
		r.log.Info("registry: discovery complete", "projects", r.Projects(), "current", r.Current())
	}
	return admitted
}

// scanIndexed walks the numbered JSON variables. Slot 1 may be empty; the
// first empty slot after it ends the scan.
func (r *Registry) scanIndexed(ctx context.Context) int {
	admitted := 0
	for i := 1; ; i++ {
		if err := ctx.Err(); err != nil {
			r.log.Warn("registry: indexed scan interrupted", "error", err)
			return admitted
		}
		src, ok := r.cfg.Credentials.IndexedSlot(i)
		if !ok {
			if i == 1 {
				continue
			}
			return admitted
		}
		if r.admitIndexed(ctx, src) {
			admitted++
		}
	}
}

func (r *Registry) admitIndexed(ctx context.Context, src credentials.Source) bool {
	rec, err := r.readRecord(src)
	if err != nil {
		r.recordSource(src, "", err)
		return false
	}

	if r.Has(rec.ProjectID) {
		r.recordSource(src, rec.ProjectID, &ProjectError{ProjectID: rec.ProjectID, Err: ErrProjectExists})
		return false
	}

	client, err := r.cfg.Factory.FromRecord(ctx, rec)
	if err != nil {
		r.recordSource(src, rec.ProjectID, fmt.Errorf("failed to create client: %w", err))
		return false
	}
	if _, err := warehouse.Probe(ctx, client); err != nil {
		r.closeClient(rec.ProjectID, client)
		r.recordSource(src, rec.ProjectID, err)
		return false
	}

	if err := r.insert(rec.ProjectID, client); err != nil {
		r.closeClient(rec.ProjectID, client)
		r.recordSource(src, rec.ProjectID, err)
		return false
	}
	r.recordSource(src, rec.ProjectID, nil)
	return true
}

// resolveFallback tries the single-source candidates in priority order. The
// first one that yields a client is admitted without a probe.
func (r *Registry) resolveFallback(ctx context.Context) bool {
	for _, src := range r.cfg.Credentials.FallbackSources() {
		if err := ctx.Err(); err != nil {
			r.log.Warn("registry: fallback resolution interrupted", "error", err)
			return false
		}

		var (
			client    warehouse.Client
			projectID string
			err       error
		)
		if src.Kind == credentials.KindAmbient {
			client, err = r.cfg.Factory.Ambient(ctx)
			if err == nil {
				projectID = client.ProjectID()
			}
		} else {
			var rec *credentials.Record
			rec, err = r.readRecord(src)
			if err == nil {
				projectID = rec.ProjectID
				client, err = r.cfg.Factory.FromRecord(ctx, rec)
			}
		}
		if err == nil && projectID == "" {
			r.closeClient(projectID, client)
			err = warehouse.ErrNoProject
		}
		if err != nil {
			r.recordSource(src, projectID, err)
			continue
		}

		if err := r.insert(projectID, client); err != nil {
			r.closeClient(projectID, client)
			r.recordSource(src, projectID, err)
			continue
		}
		r.recordSource(src, projectID, nil)
		return true
	}
	return false
}

func (r *Registry) readRecord(src credentials.Source) (*credentials.Record, error) {
	data, err := r.cfg.Credentials.Read(src)
	if err != nil {
		return nil, err
	}
	rec, err := credentials.Parse(data)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Add admits key material supplied at runtime. The new handle is built and
// probed before it is inserted.
func (r *Registry) Add(ctx context.Context, material string) (AddResult, error) {
	rec, err := credentials.Parse([]byte(material))
	if err != nil {
		return AddResult{}, err
	}
	if err := rec.Validate(); err != nil {
		return AddResult{}, err
	}
	if r.Has(rec.ProjectID) {
		return AddResult{}, &ProjectError{ProjectID: rec.ProjectID, Available: r.Projects(), Err: ErrProjectExists}
	}

	client, err := r.cfg.Factory.FromRecord(ctx, rec)
	if err != nil {
		return AddResult{}, fmt.Errorf("failed to create client: %w", err)
	}
	found, err := warehouse.Probe(ctx, client)
	if err != nil {
		r.closeClient(rec.ProjectID, client)
		return AddResult{}, err
	}

	if err := r.insert(rec.ProjectID, client); err != nil {
		r.closeClient(rec.ProjectID, client)
		return AddResult{}, err
	}
	r.log.Info("registry: project added", "project", rec.ProjectID, "datasets_found", found)
	return AddResult{ProjectID: rec.ProjectID, DatasetsFound: found}, nil
}

func (r *Registry) insert(projectID string, client warehouse.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[projectID]; ok {
		return &ProjectError{ProjectID: projectID, Available: r.projectsLocked(), Err: ErrProjectExists}
	}
	r.clients[projectID] = client
	r.order = append(r.order, projectID)
	if r.current == "" {
		r.current = projectID
	}
	metrics.RegisteredProjects.Set(float64(len(r.order)))
	return nil
}

// Resolve returns the handle registered under projectID. When there is no
// such project it falls back to the first registered handle. It reports
// false only when the registry is empty.
func (r *Registry) Resolve(projectID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[projectID]; ok {
		return Handle{ProjectID: projectID, Client: c}, true
	}
	if len(r.order) == 0 {
		return Handle{}, false
	}
	first := r.order[0]
	if projectID != "" {
		r.log.Warn("registry: project not registered, using first registered project", "requested", projectID, "project", first)
	}
	return Handle{ProjectID: first, Client: r.clients[first]}, true
}

// Default returns the handle of the current project.
func (r *Registry) Default() (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[r.current]
	if !ok {
		return Handle{}, false
	}
	return Handle{ProjectID: r.current, Client: c}, true
}

// SetCurrent makes projectID the current project. The current project is left
// unchanged when projectID is not registered.
func (r *Registry) SetCurrent(projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[projectID]; !ok {
		return &ProjectError{ProjectID: projectID, Available: r.projectsLocked(), Err: ErrProjectNotFound}
	}
	r.current = projectID
	r.log.Info("registry: current project changed", "project", projectID)
	return nil
}

func (r *Registry) Current() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

func (r *Registry) Has(projectID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[projectID]
	return ok
}

// Projects returns the registered project IDs in admission order.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.projectsLocked()
}

func (r *Registry) projectsLocked() []string {
	return append([]string{}, r.order...)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) Ready() bool {
	return r.Len() > 0
}

// Sources returns the discovery outcome of every credential source examined.
func (r *Registry) Sources() []SourceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]SourceStatus{}, r.sources...)
}

// Close releases every registered handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, id := range r.order {
		if err := r.clients[id].Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close client for %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) recordSource(src credentials.Source, projectID string, err error) {
	status := SourceStatus{
		Source:    src.String(),
		Kind:      string(src.Kind),
		ProjectID: projectID,
		Admitted:  err == nil,
		At:        r.clock.Now().UTC(),
	}
	result := "admitted"
	if err != nil {
		status.Error = err.Error()
		result = sourceResult(err)
		r.log.Warn("registry: credential source skipped", "source", src.String(), "project", projectID, "error", err)
	} else {
		r.log.Info("registry: credential source admitted", "source", src.String(), "project", projectID)
	}
	metrics.CredentialSourcesTotal.WithLabelValues(string(src.Kind), result).Inc()

	r.mu.Lock()
	r.sources = append(r.sources, status)
	r.mu.Unlock()
}

func sourceResult(err error) string {
	switch {
	case errors.Is(err, credentials.ErrInvalidJSON):
		return "invalid_json"
	case errors.Is(err, credentials.ErrMissingProjectID):
		return "missing_project_id"
	case errors.Is(err, ErrProjectExists):
		return "duplicate"
	default:
		return "client_error"
	}
}

func (r *Registry) closeClient(projectID string, client warehouse.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		r.log.Warn("registry: failed to close client", "project", projectID, "error", err)
	}
}
