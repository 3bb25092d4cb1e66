package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/bigquery-mcp/internal/credentials"
	"github.com/malbeclabs/bigquery-mcp/internal/logger"
	"github.com/malbeclabs/bigquery-mcp/internal/mcp/server"
	"github.com/malbeclabs/bigquery-mcp/internal/metrics"
	"github.com/malbeclabs/bigquery-mcp/internal/registry"
	"github.com/malbeclabs/bigquery-mcp/internal/warehouse"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenHost = "0.0.0.0"
	defaultPort       = "8010"
	defaultEnvFile    = ".env"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	transportFlag := flag.String("transport", server.TransportStdio, "MCP transport (stdio, http)")
	listenAddrFlag := flag.String("listen-addr", "", "HTTP server listen address (defaults to 0.0.0.0:$PORT, or 0.0.0.0:8010)")
	metricsAddrFlag := flag.String("metrics-addr", "", "Address to listen on for prometheus metrics (disabled when empty)")
	enablePprofFlag := flag.Bool("enable-pprof", false, "enable pprof server")
	localCredsFlag := flag.String("local-credentials-file", "", "Service account key file used when no credentials are set in the environment (defaults to service-account.json next to the binary)")
	envFileFlag := flag.String("env-file", defaultEnvFile, "dotenv file to load before reading the environment (ignored when missing)")
	flag.Parse()

	// Variables already set in the environment take precedence.
	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logger.New(*verboseFlag)

	if *enablePprofFlag {
		go func() {
			log.Info("starting pprof server", "address", "localhost:6060")
			err := http.ListenAndServe("localhost:6060", nil)
			if err != nil {
				log.Error("failed to start pprof server", "error", err)
			}
		}()
	}

	var metricsServerErrCh = make(chan error, 1)
	if *metricsAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		go func() {
			listener, err := net.Listen("tcp", *metricsAddrFlag)
			if err != nil {
				log.Error("failed to start prometheus metrics server listener", "error", err)
				metricsServerErrCh <- err
				return
			}
			log.Info("prometheus metrics server listening", "address", listener.Addr().String())
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.Serve(listener, mux); err != nil {
				log.Error("failed to start prometheus metrics server", "error", err)
				metricsServerErrCh <- err
				return
			}
		}()
	}

	localCredsFile := *localCredsFlag
	if localCredsFile == "" {
		localCredsFile = defaultLocalCredentialsFile()
	}
	creds, err := credentials.NewDiscovery(credentials.Config{
		Env:       os.LookupEnv,
		LocalFile: localCredsFile,
	})
	if err != nil {
		return fmt.Errorf("failed to create credentials discovery: %w", err)
	}

	clock := clockwork.NewRealClock()
	reg, err := registry.New(registry.Config{
		Logger:      log,
		Clock:       clock,
		Factory:     warehouse.NewBigQueryFactory(log),
		Credentials: creds,
	})
	if err != nil {
		return fmt.Errorf("failed to create registry: %w", err)
	}
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("failed to close BigQuery clients", "error", err)
		}
	}()
	reg.Discover(ctx)

	listenAddr := *listenAddrFlag
	if listenAddr == "" {
		port := os.Getenv("PORT")
		if port == "" {
			port = defaultPort
		}
		listenAddr = net.JoinHostPort(defaultListenHost, port)
	}

	// Auth can be explicitly disabled with MCP_AUTH_DISABLED=true
	var allowedTokens []string
	authDisabled := os.Getenv("MCP_AUTH_DISABLED") == "true"

	if *transportFlag == server.TransportHTTP {
		if authDisabled {
			log.Info("mcp server: authentication explicitly disabled")
		} else if tokensEnv := os.Getenv("MCP_ALLOWED_TOKENS"); tokensEnv != "" {
			for token := range strings.SplitSeq(tokensEnv, ",") {
				token = strings.TrimSpace(token)
				if token != "" {
					allowedTokens = append(allowedTokens, token)
				}
			}
			if len(allowedTokens) > 0 {
				log.Info("mcp server: token authentication enabled", "token_count", len(allowedTokens))
			}
		} else {
			log.Info("mcp server: authentication disabled (no tokens configured)")
		}
	}

	server, err := server.New(server.Config{
		Logger:        log,
		Clock:         clock,
		Registry:      reg,
		Credentials:   creds,
		Version:       version,
		Transport:     *transportFlag,
		ListenAddr:    listenAddr,
		AllowedTokens: allowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- server.Run(ctx)
	}()

	select {
	case err := <-serverErrCh:
		return err
	case err := <-metricsServerErrCh:
		return err
	}
}

// defaultLocalCredentialsFile places the fallback key file next to the binary.
func defaultLocalCredentialsFile() string {
	exe, err := os.Executable()
	if err != nil {
		return credentials.DefaultLocalCredentialsFile
	}
	return filepath.Join(filepath.Dir(exe), credentials.DefaultLocalCredentialsFile)
}
