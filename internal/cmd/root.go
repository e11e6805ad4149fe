// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cmd wires the sirimitm binary's cobra entrypoint: flag parsing,
// configuration loading, the ambient stack (logging, metrics, pprof,
// tracing, admin surface, scheduled housekeeping), and the proxy listener
// itself.
package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/USA-RedDragon/configulator"
	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/sirimitm/sirimitm/internal/admin"
	"github.com/sirimitm/sirimitm/internal/config"
	"github.com/sirimitm/sirimitm/internal/logging"
	"github.com/sirimitm/sirimitm/internal/metrics"
	"github.com/sirimitm/sirimitm/internal/plugin"
	"github.com/sirimitm/sirimitm/internal/pprof"
	"github.com/sirimitm/sirimitm/internal/proxy"
	"github.com/sirimitm/sirimitm/internal/tracing"
)

// NewCommand builds the sirimitm root command: cobra flags for the
// device listener, upstream dial target, and TLS material, layered over
// configulator's defaults -> YAML file -> environment chain.
func NewCommand(version, commit string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sirimitm",
		Short:   "A man-in-the-middle intercepting proxy for Apple's Siri protocol",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Annotations: map[string]string{
			"version": version,
			"commit":  commit,
		},
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		RunE:              runRoot,
	}

	cmd.Flags().StringP("config-file", "c", "", "path to a YAML configuration file")
	cmd.Flags().String("listen", "", "device-facing listen address (host:port)")
	cmd.Flags().String("upstream-host", "", "upstream Siri service host")
	cmd.Flags().Int("upstream-port", 0, "upstream Siri service port")
	cmd.Flags().String("tls-cert", "", "path to the proxy's TLS certificate")
	cmd.Flags().String("tls-key", "", "path to the proxy's TLS key")
	cmd.Flags().BoolP("verbose", "v", false, "enable debug logging")

	return cmd
}

// configFileEnvVar is the environment variable configulator consults to
// locate the YAML configuration file; --config-file sets it before Load
// runs so a single code path handles defaults, file, and env overrides.
const configFileEnvVar = "SIRIMITM_CONFIG_FILE"

func runRoot(cmd *cobra.Command, _ []string) error {
	if path, _ := cmd.Flags().GetString("config-file"); path != "" {
		if err := os.Setenv(configFileEnvVar, path); err != nil {
			return fmt.Errorf("failed to set %s: %w", configFileEnvVar, err)
		}
	}

	cfg, err := configulator.New[config.Config]().Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlagOverrides(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logging.Setup(cfg.LogLevel)
	slog.Info("sirimitm starting", "version", cmd.Annotations["version"], "commit", cmd.Annotations["commit"])

	var cleanup func(context.Context) error
	if cfg.Metrics.OTLPEndpoint != "" {
		cleanup, err = tracing.Init(cmd.Context(), cfg.Metrics.OTLPEndpoint)
		if err != nil {
			return fmt.Errorf("failed to start tracing: %w", err)
		}
	}

	m := metrics.NewMetrics()
	go metrics.CreateMetricsServer(cfg)
	go pprof.CreatePProfServer(cfg)

	deviceTLS, err := loadTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return fmt.Errorf("failed to load proxy TLS material: %w", err)
	}
	upstreamTLS := &tls.Config{
		Certificates:       deviceTLS.Certificates,
		ServerName:         cfg.Upstream.Host,
		InsecureSkipVerify: cfg.Upstream.InsecureSkipVerify, //nolint:gosec
	}

	factories, err := pluginFactories(cfg.Plugins)
	if err != nil {
		return fmt.Errorf("failed to resolve configured plugins: %w", err)
	}

	listener := proxy.NewListener(deviceTLS, cfg.UpstreamAddr(), upstreamTLS, factories, m)

	scheduler, err := startHousekeeping(listener, m)
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(cfg, listener)
		go func() {
			if err := adminServer.Run(); err != nil {
				slog.Error("admin server exited", "error", err)
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- listener.Serve(cfg.ListenAddress())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("device listener exited", "error", err)
		}
	case sig := <-sigCh:
		slog.Warn("shutting down due to signal", "signal", sig)
	}

	shutdown(scheduler, cleanup)
	return nil
}

// applyFlagOverrides lets explicitly-set command-line flags take
// precedence over the defaults/file/environment values configulator
// already resolved.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		addr, _ := flags.GetString("listen")
		host, port, ok := splitHostPort(addr)
		if ok {
			cfg.ListenAddr, cfg.ListenPort = host, port
		}
	}
	if flags.Changed("upstream-host") {
		cfg.Upstream.Host, _ = flags.GetString("upstream-host")
	}
	if flags.Changed("upstream-port") {
		cfg.Upstream.Port, _ = flags.GetInt("upstream-port")
	}
	if flags.Changed("tls-cert") {
		cfg.TLS.CertFile, _ = flags.GetString("tls-cert")
	}
	if flags.Changed("tls-key") {
		cfg.TLS.KeyFile, _ = flags.GetString("tls-key")
	}
	if flags.Changed("verbose") {
		if verbose, _ := flags.GetBool("verbose"); verbose {
			cfg.LogLevel = config.LogLevelDebug
		}
	}
}

func splitHostPort(addr string) (string, int, bool) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, false
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}

func loadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load keypair %s/%s: %w", certFile, keyFile, err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

func pluginFactories(specs []config.PluginSpec) ([]proxy.PluginFactory, error) {
	factories := make([]proxy.PluginFactory, 0, len(specs))
	for _, spec := range specs {
		f, err := plugin.Factory(spec.Name, spec.Options)
		if err != nil {
			return nil, err
		}
		factories = append(factories, f)
	}
	return factories, nil
}

// startHousekeeping schedules the minute-tick observability job that
// snapshots the active-session gauge. It never touches blocking or
// pending-answer state.
func startHousekeeping(listener *proxy.Listener, m *metrics.Metrics) (gocron.Scheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Minute),
		gocron.NewTask(func() {
			count := listener.ActiveSessionCount()
			m.SetActiveSessions(float64(count))
			slog.Debug("housekeeping snapshot", "active_sessions", count)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule housekeeping job: %w", err)
	}
	scheduler.Start()
	return scheduler, nil
}

func shutdown(scheduler gocron.Scheduler, cleanup func(context.Context) error) {
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("failed to stop scheduler", "error", err)
		}
	}()

	if cleanup != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			const timeout = 5 * time.Second
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if err := cleanup(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()
	select {
	case <-done:
		slog.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		slog.Error("shutdown timed out")
	}
}
