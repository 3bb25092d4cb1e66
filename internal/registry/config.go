package registry

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/warehouse"
)

type Config struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Factory     warehouse.Factory
	Credentials *credentials.Discovery
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Factory == nil {
		return fmt.Errorf("factory is required")
	}
	if c.Credentials == nil {
		return fmt.Errorf("credentials discovery is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}
