package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/warehouse"
	"github.com/malbeclabs/bigquery-mcp/internal/warehouse/warehousetest"
)

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func testDiscovery(t *testing.T, vars map[string]string, localFile string) *credentials.Discovery {
	t.Helper()
	if localFile == "" {
		localFile = filepath.Join(t.TempDir(), credentials.DefaultLocalCredentialsFile)
	}
	d, err := credentials.NewDiscovery(credentials.Config{
		Env: func(key string) (string, bool) {
			v, ok := vars[key]
			return v, ok
		},
		LocalFile: localFile,
	})
	require.NoError(t, err)
	return d
}

func testRegistry(t *testing.T, factory *warehousetest.Factory, vars map[string]string) *Registry {
	t.Helper()
	r, err := New(Config{
		Logger:      testLogger(t),
		Clock:       clockwork.NewFakeClockAt(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)),
		Factory:     factory,
		Credentials: testDiscovery(t, vars, ""),
	})
	require.NoError(t, err)
	return r
}

func TestBigQueryMCP_Registry_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing logger",
			cfg:     Config{},
			wantErr: "logger is required",
		},
		{
			name:    "missing factory",
			cfg:     Config{Logger: testLogger(t)},
			wantErr: "factory is required",
		},
		{
			name:    "missing credentials",
			cfg:     Config{Logger: testLogger(t), Factory: warehousetest.NewFactory()},
			wantErr: "credentials discovery is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.EqualError(t, tt.cfg.Validate(), tt.wantErr)
		})
	}

	t.Run("defaults clock", func(t *testing.T) {
		t.Parallel()
		cfg := Config{
			Logger:      testLogger(t),
			Factory:     warehousetest.NewFactory(),
			Credentials: testDiscovery(t, nil, ""),
		}
		require.NoError(t, cfg.Validate())
		require.NotNil(t, cfg.Clock)
	})
}

func TestBigQueryMCP_Registry_Discover(t *testing.T) {
	t.Parallel()

	t.Run("no credentials leaves registry empty", func(t *testing.T) {
		t.Parallel()

		r := testRegistry(t, warehousetest.NewFactory(), nil)
		require.Equal(t, 0, r.Discover(t.Context()))
		require.False(t, r.Ready())
		require.Empty(t, r.Projects())
		require.Equal(t, "", r.Current())

		_, ok := r.Resolve("")
		require.False(t, ok)
		_, ok = r.Default()
		require.False(t, ok)

		sources := r.Sources()
		require.Len(t, sources, 1)
		require.Equal(t, string(credentials.KindAmbient), sources[0].Kind)
		require.False(t, sources[0].Admitted)
	})

	t.Run("admits every indexed slot in order", func(t *testing.T) {
		t.Parallel()

		factory := warehousetest.NewFactory(
			warehousetest.NewClient("proj-a", "ds1"),
			warehousetest.NewClient("proj-b"),
			warehousetest.NewClient("proj-c", "ds1", "ds2"),
		)
		r := testRegistry(t, factory, map[string]string{
			credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
			credentials.IndexedVarName(2): warehousetest.KeyJSON("proj-b"),
			credentials.IndexedVarName(3): warehousetest.KeyJSON("proj-c"),
		})

		require.Equal(t, 3, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-a", "proj-b", "proj-c"}, r.Projects())
		require.Equal(t, "proj-a", r.Current())
		for _, id := range []string{"proj-a", "proj-b", "proj-c"} {
			h, ok := r.Resolve(id)
			require.True(t, ok)
			require.Equal(t, id, h.ProjectID)
			require.Equal(t, id, h.Client.ProjectID())
		}

		for _, s := range r.Sources() {
			require.True(t, s.Admitted)
			require.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), s.At)
		}
	})

	t.Run("empty first slot does not end the scan", func(t *testing.T) {
		t.Parallel()

		r := testRegistry(t, warehousetest.NewFactory(), map[string]string{
			credentials.IndexedVarName(2): warehousetest.KeyJSON("proj-b"),
			credentials.IndexedVarName(3): warehousetest.KeyJSON("proj-c"),
		})
		require.Equal(t, 2, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-b", "proj-c"}, r.Projects())
		require.Equal(t, "proj-b", r.Current())
	})

	t.Run("gap after slot one ends the scan", func(t *testing.T) {
		t.Parallel()

		r := testRegistry(t, warehousetest.NewFactory(), map[string]string{
			credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
			credentials.IndexedVarName(3): warehousetest.KeyJSON("proj-c"),
		})
		require.Equal(t, 1, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-a"}, r.Projects())
	})

	t.Run("skips bad sources and keeps scanning", func(t *testing.T) {
		t.Parallel()

		broken := warehousetest.NewClient("proj-d")
		broken.ListErr = errors.New("permission denied")
		factory := warehousetest.NewFactory(broken)
		factory.Errs["proj-e"] = errors.New("bad key")

		r := testRegistry(t, factory, map[string]string{
			credentials.IndexedVarName(1): "{not json",
			credentials.IndexedVarName(2): `{"type": "service_account"}`,
			credentials.IndexedVarName(3): warehousetest.KeyJSON("proj-d"),
			credentials.IndexedVarName(4): warehousetest.KeyJSON("proj-e"),
			credentials.IndexedVarName(5): warehousetest.KeyJSON("proj-f"),
		})

		require.Equal(t, 1, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-f"}, r.Projects())
		require.True(t, broken.Closed())

		sources := r.Sources()
		require.Len(t, sources, 5)
		require.Contains(t, sources[0].Error, "invalid credentials JSON")
		require.Equal(t, credentials.ErrMissingProjectID.Error(), sources[1].Error)
		require.Contains(t, sources[2].Error, "permission denied")
		require.Contains(t, sources[3].Error, "bad key")
		require.True(t, sources[4].Admitted)
	})

	t.Run("duplicate project keeps the first", func(t *testing.T) {
		t.Parallel()

		first := warehousetest.NewClient("proj-a")
		factory := warehousetest.NewFactory(first)
		r := testRegistry(t, factory, map[string]string{
			credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
			credentials.IndexedVarName(2): warehousetest.KeyJSON("proj-a"),
		})

		require.Equal(t, 1, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-a"}, r.Projects())
		require.False(t, first.Closed())
		require.Equal(t, []string{"proj-a"}, factory.Built())

		sources := r.Sources()
		require.Len(t, sources, 2)
		require.False(t, sources[1].Admitted)
		require.Contains(t, sources[1].Error, ErrProjectExists.Error())
	})

	t.Run("falls back to local file without probing", func(t *testing.T) {
		t.Parallel()

		unprobed := warehousetest.NewClient("proj-local")
		unprobed.ListErr = errors.New("should not be called")
		factory := warehousetest.NewFactory(unprobed)

		path := filepath.Join(t.TempDir(), "service-account.json")
		require.NoError(t, os.WriteFile(path, []byte(warehousetest.KeyJSON("proj-local")), 0o600))

		r, err := New(Config{
			Logger:      testLogger(t),
			Factory:     factory,
			Credentials: testDiscovery(t, nil, path),
		})
		require.NoError(t, err)

		require.Equal(t, 1, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-local"}, r.Projects())
		require.Equal(t, "proj-local", r.Current())
		require.Equal(t, string(credentials.KindLocalFile), r.Sources()[0].Kind)
	})

	t.Run("json variable is retried by the fallback without a probe", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		filePath := filepath.Join(dir, "key.json")
		require.NoError(t, os.WriteFile(filePath, []byte(`{"type": "service_account"}`), 0o600))

		factory := warehousetest.NewFactory()

		// The JSON variable is probed and rejected by the indexed scan, then
		// retried without a probe by the fallback.
		failing := warehousetest.NewClient("proj-json")
		failing.ListErr = errors.New("probe failed")
		factory.Clients["proj-json"] = failing

		r, err := New(Config{
			Logger:  testLogger(t),
			Factory: factory,
			Credentials: testDiscovery(t, map[string]string{
				credentials.EnvCredentialsJSON: warehousetest.KeyJSON("proj-json"),
				credentials.EnvCredentialsFile: filePath,
			}, filepath.Join(dir, "missing.json")),
		})
		require.NoError(t, err)

		require.Equal(t, 1, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-json"}, r.Projects())

		kinds := []string{}
		for _, s := range r.Sources() {
			kinds = append(kinds, s.Kind)
		}
		require.Equal(t, []string{string(credentials.KindIndexedEnv), string(credentials.KindJSONEnv)}, kinds)
	})

	t.Run("falls back to ambient discovery", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		filePath := filepath.Join(dir, "key.json")
		require.NoError(t, os.WriteFile(filePath, []byte(`{"type": "service_account"}`), 0o600))

		factory := warehousetest.NewFactory()
		factory.AmbientClient = warehousetest.NewClient("proj-ambient")

		r, err := New(Config{
			Logger:  testLogger(t),
			Factory: factory,
			Credentials: testDiscovery(t, map[string]string{
				credentials.EnvCredentialsFile: filePath,
			}, filepath.Join(dir, "missing.json")),
		})
		require.NoError(t, err)

		require.Equal(t, 1, r.Discover(t.Context()))
		require.Equal(t, []string{"proj-ambient"}, r.Projects())

		sources := r.Sources()
		require.Len(t, sources, 2)
		require.Equal(t, string(credentials.KindFileEnv), sources[0].Kind)
		require.False(t, sources[0].Admitted)
		require.Equal(t, string(credentials.KindAmbient), sources[1].Kind)
		require.True(t, sources[1].Admitted)
	})

	t.Run("ambient without project is not admitted", func(t *testing.T) {
		t.Parallel()

		factory := warehousetest.NewFactory()
		factory.AmbientClient = warehousetest.NewClient("")

		r := testRegistry(t, factory, nil)
		require.Equal(t, 0, r.Discover(t.Context()))
		require.True(t, factory.AmbientClient.Closed())
		require.Equal(t, warehouse.ErrNoProject.Error(), r.Sources()[0].Error)
	})
}

func TestBigQueryMCP_Registry_Resolve(t *testing.T) {
	t.Parallel()

	r := testRegistry(t, warehousetest.NewFactory(), map[string]string{
		credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
		credentials.IndexedVarName(2): warehousetest.KeyJSON("proj-b"),
	})
	require.Equal(t, 2, r.Discover(t.Context()))
	require.NoError(t, r.SetCurrent("proj-b"))

	tests := []struct {
		name string
		id   string
		want string
	}{
		{name: "explicit match", id: "proj-b", want: "proj-b"},
		{name: "empty id returns first registered", id: "", want: "proj-a"},
		{name: "unknown id returns first registered", id: "proj-z", want: "proj-a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h, ok := r.Resolve(tt.id)
			require.True(t, ok)
			require.Equal(t, tt.want, h.ProjectID)
		})
	}

	t.Run("default follows current", func(t *testing.T) {
		t.Parallel()
		h, ok := r.Default()
		require.True(t, ok)
		require.Equal(t, "proj-b", h.ProjectID)
	})
}

func TestBigQueryMCP_Registry_SetCurrent(t *testing.T) {
	t.Parallel()

	r := testRegistry(t, warehousetest.NewFactory(), map[string]string{
		credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
		credentials.IndexedVarName(2): warehousetest.KeyJSON("proj-b"),
	})
	r.Discover(t.Context())

	err := r.SetCurrent("proj-z")
	require.ErrorIs(t, err, ErrProjectNotFound)
	var projErr *ProjectError
	require.ErrorAs(t, err, &projErr)
	require.Equal(t, "proj-z", projErr.ProjectID)
	require.Equal(t, []string{"proj-a", "proj-b"}, projErr.Available)
	require.Equal(t, "proj-a", r.Current())

	require.NoError(t, r.SetCurrent("proj-b"))
	require.Equal(t, "proj-b", r.Current())
}

func TestBigQueryMCP_Registry_Add(t *testing.T) {
	t.Parallel()

	t.Run("first add defines current", func(t *testing.T) {
		t.Parallel()

		factory := warehousetest.NewFactory(warehousetest.NewClient("proj-a", "ds1", "ds2"))
		r := testRegistry(t, factory, nil)
		r.Discover(t.Context())

		res, err := r.Add(t.Context(), warehousetest.KeyJSON("proj-a"))
		require.NoError(t, err)
		require.Equal(t, AddResult{ProjectID: "proj-a", DatasetsFound: 1}, res)
		require.Equal(t, "proj-a", r.Current())
		require.True(t, r.Ready())
	})

	t.Run("later add leaves current alone", func(t *testing.T) {
		t.Parallel()

		r := testRegistry(t, warehousetest.NewFactory(), map[string]string{
			credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
		})
		r.Discover(t.Context())

		res, err := r.Add(t.Context(), warehousetest.KeyJSON("proj-b"))
		require.NoError(t, err)
		require.Equal(t, 0, res.DatasetsFound)
		require.Equal(t, []string{"proj-a", "proj-b"}, r.Projects())
		require.Equal(t, "proj-a", r.Current())

		h, ok := r.Resolve("proj-b")
		require.True(t, ok)
		require.Equal(t, "proj-b", h.Client.ProjectID())
	})

	t.Run("rejects duplicate and leaves registry unchanged", func(t *testing.T) {
		t.Parallel()

		factory := warehousetest.NewFactory()
		r := testRegistry(t, factory, map[string]string{
			credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
		})
		r.Discover(t.Context())
		before, _ := r.Resolve("proj-a")

		_, err := r.Add(t.Context(), warehousetest.KeyJSON("proj-a"))
		require.ErrorIs(t, err, ErrProjectExists)
		require.Equal(t, []string{"proj-a"}, r.Projects())
		after, _ := r.Resolve("proj-a")
		require.Same(t, before.Client, after.Client)
		require.Equal(t, []string{"proj-a"}, factory.Built())
	})

	tests := []struct {
		name     string
		material string
		setup    func(f *warehousetest.Factory)
		wantIs   error
		wantErr  string
	}{
		{
			name:     "invalid json",
			material: "{oops",
			wantIs:   credentials.ErrInvalidJSON,
		},
		{
			name:     "missing project id",
			material: `{"type": "service_account", "client_email": "a@b"}`,
			wantIs:   credentials.ErrMissingProjectID,
		},
		{
			name:     "client construction fails",
			material: warehousetest.KeyJSON("proj-x"),
			setup: func(f *warehousetest.Factory) {
				f.Errs["proj-x"] = errors.New("bad private key")
			},
			wantErr: "failed to create client: bad private key",
		},
		{
			name:     "probe fails",
			material: warehousetest.KeyJSON("proj-y"),
			setup: func(f *warehousetest.Factory) {
				c := warehousetest.NewClient("proj-y")
				c.ListErr = errors.New("access denied")
				f.Clients["proj-y"] = c
			},
			wantErr: "failed to probe project proj-y: access denied",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			factory := warehousetest.NewFactory()
			if tt.setup != nil {
				tt.setup(factory)
			}
			r := testRegistry(t, factory, nil)

			_, err := r.Add(t.Context(), tt.material)
			require.Error(t, err)
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			}
			require.Equal(t, 0, r.Len())
		})
	}
}

func TestBigQueryMCP_Registry_AddConcurrent(t *testing.T) {
	t.Parallel()

	r := testRegistry(t, warehousetest.NewFactory(), nil)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Add(context.Background(), warehousetest.KeyJSON(fmt.Sprintf("proj-%02d", i)))
			require.NoError(t, err)
			_, ok := r.Resolve("")
			require.True(t, ok)
		}()
	}
	wg.Wait()

	require.Equal(t, n, r.Len())
	for i := range n {
		_, ok := r.Resolve(fmt.Sprintf("proj-%02d", i))
		require.True(t, ok)
	}
	require.Equal(t, r.Projects()[0], r.Current())
}

func TestBigQueryMCP_Registry_Close(t *testing.T) {
	t.Parallel()

	a := warehousetest.NewClient("proj-a")
	b := warehousetest.NewClient("proj-b")
	r := testRegistry(t, warehousetest.NewFactory(a, b), map[string]string{
		credentials.IndexedVarName(1): warehousetest.KeyJSON("proj-a"),
		credentials.IndexedVarName(2): warehousetest.KeyJSON("proj-b"),
	})
	r.Discover(t.Context())

	require.NoError(t, r.Close())
	require.True(t, a.Closed())
	require.True(t, b.Closed())
}
