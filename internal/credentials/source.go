package credentials

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	EnvCredentialsJSON          = "GOOGLE_APPLICATION_CREDENTIALS_JSON"
	EnvCredentialsJSONProjectN  = "GOOGLE_APPLICATION_CREDENTIALS_JSON_PROJECT"
	EnvCredentialsFile          = "GOOGLE_APPLICATION_CREDENTIALS"
	DefaultLocalCredentialsFile = "service-account.json"
)

type Kind string

const (
	KindIndexedEnv Kind = "indexed-env"
	KindJSONEnv    Kind = "json-env"
	KindFileEnv    Kind = "file-env"
	KindLocalFile  Kind = "local-file"
	KindAmbient    Kind = "ambient"
)

// Source is one origin of key material. Name is the environment variable or
// file path the material comes from; it is empty for ambient discovery.
type Source struct {
	Kind  Kind
	Name  string
	Index int
}

func (s Source) String() string {
	switch s.Kind {
	case KindIndexedEnv:
		return fmt.Sprintf("%s[%d] %s", s.Kind, s.Index, s.Name)
	case KindAmbient:
		return string(s.Kind)
	default:
		return fmt.Sprintf("%s %s", s.Kind, s.Name)
	}
}

// Env looks up an environment variable. os.LookupEnv satisfies it.
type Env func(key string) (string, bool)

type Config struct {
	Env       Env
	LocalFile string
}

func (c *Config) Validate() error {
	if c.Env == nil {
		c.Env = os.LookupEnv
	}
	if c.LocalFile == "" {
		c.LocalFile = DefaultLocalCredentialsFile
	}
	return nil
}

// Discovery enumerates credential sources from the environment and the
// filesystem. It never builds clients.
type Discovery struct {
	cfg Config
}

func NewDiscovery(cfg Config) (*Discovery, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate credentials config: %w", err)
	}
	return &Discovery{cfg: cfg}, nil
}

// IndexedVarName returns the environment variable for slot i. Slot 1 uses
// the base name.
func IndexedVarName(i int) string {
	if i <= 1 {
		return EnvCredentialsJSON
	}
	return EnvCredentialsJSONProjectN + strconv.Itoa(i)
}

// IndexedSlot returns the source for slot i when its variable is set and
// non-blank.
func (d *Discovery) IndexedSlot(i int) (Source, bool) {
	name := IndexedVarName(i)
	if !d.Present(name) {
		return Source{}, false
	}
	return Source{Kind: KindIndexedEnv, Name: name, Index: i}, true
}

// FallbackSources lists the single-source candidates in priority order. A
// file candidate is only listed when its target exists. Ambient discovery is
// always last.
func (d *Discovery) FallbackSources() []Source {
	var sources []Source
	if d.Present(EnvCredentialsJSON) {
		sources = append(sources, Source{Kind: KindJSONEnv, Name: EnvCredentialsJSON})
	}
	if path, ok := d.lookup(EnvCredentialsFile); ok && fileExists(path) {
		sources = append(sources, Source{Kind: KindFileEnv, Name: path})
	}
	if d.LocalFileExists() {
		sources = append(sources, Source{Kind: KindLocalFile, Name: d.cfg.LocalFile})
	}
	return append(sources, Source{Kind: KindAmbient})
}

// Read returns the key material behind src. Ambient sources carry none.
func (d *Discovery) Read(src Source) ([]byte, error) {
	switch src.Kind {
	case KindIndexedEnv, KindJSONEnv:
		v, ok := d.lookup(src.Name)
		if !ok {
			return nil, fmt.Errorf("environment variable %s is not set", src.Name)
		}
		return []byte(v), nil
	case KindFileEnv, KindLocalFile:
		data, err := os.ReadFile(src.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return data, nil
	case KindAmbient:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown credential source kind %q", src.Kind)
	}
}

// Lookup returns the value of an environment variable through the configured
// Env. Blank values count as unset.
func (d *Discovery) Lookup(name string) (string, bool) {
	return d.lookup(name)
}

// Present reports whether name is set to a non-blank value.
func (d *Discovery) Present(name string) bool {
	_, ok := d.lookup(name)
	return ok
}

func (d *Discovery) LocalFile() string {
	return d.cfg.LocalFile
}

func (d *Discovery) LocalFileExists() bool {
	return fileExists(d.cfg.LocalFile)
}

func (d *Discovery) lookup(name string) (string, bool) {
	v, ok := d.cfg.Env(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
