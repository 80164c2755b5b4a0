package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanpama/gqlforge/internal/blueprint"
	"github.com/hanpama/gqlforge/internal/config"
	"github.com/hanpama/gqlforge/internal/eventbus"
	"github.com/hanpama/gqlforge/internal/events"
	"github.com/hanpama/gqlforge/internal/gateway"
	"github.com/hanpama/gqlforge/internal/otel"
	"github.com/hanpama/gqlforge/internal/server"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gqlforge",
		Short:         "gqlforge: a configuration-driven GraphQL gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newStartCmd(), newCheckCmd())
	return root
}

// newConf binds the flags of cmd to a viper instance reading GQLFORGE_*
// environment variables, e.g. GQLFORGE_OTEL_ENDPOINT for --otel-endpoint.
func newConf(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())
	v.SetEnvPrefix("GQLFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the GraphQL server for a configuration",
		Args:  cobra.NoArgs,
	}
	f := cmd.Flags()
	f.String("config", "", "Configuration file (YAML or JSON)")
	f.String("addr", ":8000", "HTTP listen address")
	f.Bool("pretty", false, "Pretty-print JSON responses")
	f.Duration("timeout", 10*time.Second, "Per-request timeout")
	f.Int64("max-body-bytes", 1<<20, "Maximum request body size")
	f.StringSlice("cors", nil, "Allowed CORS origins")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	f.String("otel-endpoint", "", "OTLP collector endpoint; empty disables tracing")
	f.String("otel-service", "gqlforge", "OpenTelemetry service name")
	conf := newConf(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return start(ctx, conf)
	}
	return cmd
}

func start(ctx context.Context, conf *viper.Viper) error {
	path := conf.GetString("config")
	if path == "" {
		return errors.New("--config is required")
	}
	logger, err := newLogger(conf.GetString("log-level"))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}

	eventbus.Use(eventbus.New())
	defer logUpstreamFailures(logger)()
	shutdownTracing, err := otel.Setup(ctx, conf.GetString("otel-endpoint"), conf.GetString("otel-service"))
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	gw, err := gateway.FromConfig(cfg, gateway.WithLogger(logger), gateway.WithEnv(environ()))
	if err != nil {
		return err
	}
	defer gw.Close()

	sopts := []server.Option{
		server.WithLogger(logger),
		server.WithTimeout(conf.GetDuration("timeout")),
		server.WithMaxBodyBytes(conf.GetInt64("max-body-bytes")),
	}
	if conf.GetBool("pretty") {
		sopts = append(sopts, server.WithPretty())
	}
	if origins := conf.GetStringSlice("cors"); len(origins) > 0 {
		sopts = append(sopts, server.WithCORS(origins...))
	}
	h := server.New(gw, sopts...)

	srv := &http.Server{Addr: conf.GetString("addr"), Handler: h.Routes()}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("GraphQL server listening", zap.String("addr", srv.Addr), zap.String("config", path))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a configuration and optionally print its schema",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("config", "", "Configuration file (YAML or JSON)")
	cmd.Flags().Bool("schema", false, "Print the compiled schema")
	conf := newConf(cmd)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return check(cmd.OutOrStdout(), conf)
	}
	return cmd
}

func check(out io.Writer, conf *viper.Viper) error {
	path := conf.GetString("config")
	if path == "" {
		return errors.New("--config is required")
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}
	bp, err := blueprint.Compile(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "No errors found")
	if conf.GetBool("schema") {
		fmt.Fprint(out, blueprint.Print(bp))
	}
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// logUpstreamFailures logs failed upstream calls from the event bus.
func logUpstreamFailures(logger *zap.Logger) (unsubscribe func()) {
	return eventbus.Subscribe(func(_ context.Context, e events.UpstreamFinish) {
		if e.Err == nil {
			return
		}
		logger.Warn("upstream call failed",
			zap.String("kind", e.Kind),
			zap.String("method", e.Method),
			zap.String("target", e.Target),
			zap.Duration("duration", e.Duration),
			zap.Error(e.Err),
		)
	})
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
