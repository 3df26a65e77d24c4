// SCIM 2.0 resource server
// Serves identity provisioning for Users, Groups and custom resource types
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gravitational/trace"
	"github.com/spf13/cobra"

	"github.com/nainya/scimstore/internal/config"
	"github.com/nainya/scimstore/internal/logger"
	"github.com/nainya/scimstore/internal/metrics"
	"github.com/nainya/scimstore/internal/server"
	"github.com/nainya/scimstore/pkg/schema"
	"github.com/nainya/scimstore/pkg/store"
)

var rootCmd = &cobra.Command{
	Use:   "scimstore",
	Short: "In-memory SCIM 2.0 provisioning server",
	Long: `scimstore serves the SCIM 2.0 protocol over HTTP: Users, Groups and any
additional resource types described by RFC 7643 schema documents. Records
live in memory and can be carried across restarts through a JSON state
file written on shutdown.`,
	Version:      "1.0.0",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringP("config", "c", "", "Path to a YAML config file")
	f.String("listen", ":8080", "SCIM listen address")
	f.String("obs-listen", ":9090", "Observability listen address (metrics, health, pprof)")
	f.String("base-path", "/v2", "URL prefix SCIM routes are served under")
	f.Int("page-size", 50, "Maximum page size for list and search responses")
	f.StringArray("bearer-token", nil, "Accepted bearer token, repeatable; none disables authentication")
	f.StringArray("schemas", nil, "Glob of schema JSON documents to register, repeatable")
	f.StringArray("resource-types", nil, "Glob of resource type JSON documents to register, repeatable")
	f.String("state-file", "", "Snapshot file restored on startup and written on shutdown")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.Bool("log-pretty", false, "Human-readable log output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}

	logger.InitGlobalLogger(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	log := logger.GetGlobalLogger()

	reg, err := schema.DefaultRegistry()
	if err != nil {
		return trace.Wrap(err)
	}
	if err := loadRegistryFiles(reg, cfg.Schemas, cfg.ResourceTypes); err != nil {
		return err
	}

	st := store.New(reg, store.WithLocationBase(cfg.BasePath))
	if cfg.StateFile != "" {
		if err := restoreState(st, cfg.StateFile, log); err != nil {
			return err
		}
	}

	m := metrics.NewMetrics()
	m.UpdateResourceCounts(st.Counts())

	srv := server.NewServer(st, server.Config{
		BasePath:     cfg.BasePath,
		BearerTokens: cfg.BearerTokens,
		PageSize:     cfg.PageSize,
	}, log, m)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var obs *server.ObservabilityServer
	if cfg.ObsListen != "" {
		obs = server.NewObservabilityServer(cfg.ObsListen, log)
		go func() {
			if err := obs.Start(); err != nil {
				log.Error("Observability server failed").Err(err).Send()
			}
		}()
	}

	log.LogServerStart(cfg.Listen, len(reg.ResourceTypes()))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.ListenAndServe()
	}()
	log.LogServerReady(cfg.Listen)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal").Str("signal", sig.String()).Send()
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return trace.Wrap(err)
		}
	}

	log.LogServerShutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("HTTP server shutdown failed").Err(err).Send()
	}
	if obs != nil {
		if err := obs.Shutdown(ctx); err != nil {
			log.Error("Observability server shutdown failed").Err(err).Send()
		}
	}

	if cfg.StateFile != "" {
		if err := snapshotState(st, cfg.StateFile); err != nil {
			return err
		}
		log.Info("State snapshot written").Str("path", cfg.StateFile).Send()
	}
	return nil
}

// loadRegistryFiles registers schema and resource type documents matched
// by the configured glob patterns. A pattern that matches nothing is a
// configuration mistake and fails startup.
func loadRegistryFiles(reg *schema.Registry, schemaGlobs, typeGlobs []string) error {
	load := func(globs []string, register func([]byte) error, kind string) error {
		for _, pattern := range globs {
			matches, err := doublestar.FilepathGlob(pattern)
			if err != nil {
				return trace.BadParameter("invalid %s pattern %q: %v", kind, pattern, err)
			}
			if len(matches) == 0 {
				return trace.NotFound("no files match %s pattern %q", kind, pattern)
			}
			for _, path := range matches {
				data, err := os.ReadFile(path)
				if err != nil {
					return trace.ConvertSystemError(err)
				}
				if err := register(data); err != nil {
					return trace.Wrap(err, "loading %s file %s", kind, path)
				}
			}
		}
		return nil
	}
	if err := load(schemaGlobs, reg.LoadSchemas, "schema"); err != nil {
		return err
	}
	return load(typeGlobs, reg.LoadResourceTypes, "resource type")
}

// restoreState reloads a snapshot written by a previous run. A missing
// file is not an error so a fresh deployment can start empty.
func restoreState(st *store.Store, path string, log *logger.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("No state file to restore").Str("path", path).Send()
			return nil
		}
		return trace.ConvertSystemError(err)
	}
	defer f.Close()
	if err := st.Restore(f); err != nil {
		return trace.Wrap(err, "restoring state from %s", path)
	}
	log.Info("State restored").Str("path", path).Send()
	return nil
}

func snapshotState(st *store.Store, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := st.Snapshot(f); err != nil {
		f.Close()
		return trace.Wrap(err, "writing state to %s", path)
	}
	return trace.ConvertSystemError(f.Close())
}
