//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of GoXform.
//
// GoXform is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// GoXform is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with GoXform. If not, see https://www.gnu.org/licenses/.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/aaronlmathis/goxform"
	"github.com/aaronlmathis/goxform/config"
	"github.com/aaronlmathis/goxform/logging"
	"github.com/aaronlmathis/goxform/metrics"
)

const envPrefix = "GOXFORM"

// app holds state shared by subcommands for a single invocation.
type app struct {
	v        *viper.Viper
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collector
	tracer   *sdktrace.TracerProvider
	server   *http.Server
}

func newApp() *app {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	return a
}

// newRootCommand builds the command tree. Callers run a.shutdown after Execute.
func newRootCommand(a *app) *cobra.Command {

	root := &cobra.Command{
		Use:           "goxform",
		Short:         "Declarative record transformation pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			return a.setup(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.String("log-level", "warn", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log encoding (json, console)")
	flags.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	flags.Bool("trace", false, "Print OpenTelemetry spans to stderr")
	flags.String("definition", "", "Path to a pipeline definition (.yaml, .yml or .json)")
	flags.String("store-dsn", "", "Load the definition from a PostgreSQL definition store")
	flags.String("name", "", "Definition name in the store")

	root.AddCommand(
		newRunCommand(a),
		newValidateCommand(a),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "goxform v%s\n", version)
				fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
				fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	logger, err := logging.New(logging.Config{
		Level:    a.v.GetString("log-level"),
		Encoding: a.v.GetString("log-format"),
	})
	if err != nil {
		return err
	}
	a.logger = logger

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.NewCollector(a.registry)

	if addr := a.v.GetString("metrics-addr"); addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
		a.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		a.logger.Info("serving metrics", zap.String("addr", addr))
	}

	if a.v.GetBool("trace") {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint(), stdouttrace.WithWriter(cmd.ErrOrStderr()))
		if err != nil {
			return fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		a.tracer = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	}
	return nil
}

func (a *app) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.server != nil {
		errs = append(errs, a.server.Shutdown(ctx))
	}
	if a.tracer != nil {
		errs = append(errs, a.tracer.Shutdown(ctx))
	}
	if a.logger != nil {
		// stderr sync fails on some platforms
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}

// options returns the pipeline options derived from global flags.
func (a *app) options() []goxform.Option {
	opts := []goxform.Option{
		goxform.WithLogger(a.logger),
		goxform.WithMetrics(a.metrics),
	}
	if a.tracer != nil {
		opts = append(opts, goxform.WithTracerProvider(a.tracer))
	}
	return opts
}

// loadDefinition reads the definition from --definition, or from the store when
// --store-dsn is set.
func (a *app) loadDefinition(ctx context.Context) (*config.Definition, error) {
	if path := a.v.GetString("definition"); path != "" {
		return config.Load(path)
	}

	dsn := a.v.GetString("store-dsn")
	if dsn == "" {
		return nil, errors.New("--definition or --store-dsn is required")
	}
	name := a.v.GetString("name")
	if name == "" {
		return nil, errors.New("--name is required with --store-dsn")
	}
	store, err := config.OpenPostgresStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Get(ctx, name)
}

// buildPipeline compiles the definition. A logging section in the definition
// replaces the flag-configured logger unless --log-level was given explicitly.
func (a *app) buildPipeline(cmd *cobra.Command) (*goxform.Pipeline, error) {
	def, err := a.loadDefinition(cmd.Context())
	if err != nil {
		return nil, err
	}
	if def.Logging.Level != "" && !cmd.Flags().Changed("log-level") {
		logger, err := logging.New(def.Logging)
		if err != nil {
			return nil, err
		}
		a.logger = logger
	}
	return goxform.FromDefinition(def, a.options()...)
}
