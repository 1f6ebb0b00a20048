// Gray Logic Bus - message bus client daemon
//
// This is the main entry point for the Gray Logic bus daemon. It keeps a
// connection to the site broker (MQTT or NATS), replays subscriptions after
// every reconnect, records bus traffic to the local event log and InfluxDB,
// and republishes messages that could not be sent while the broker was away.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-bus/internal/bus"
	"github.com/nerrad567/gray-logic-bus/internal/eventlog"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/natsconn"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// shutdownTimeout bounds the wait for in-flight handlers on exit.
	shutdownTimeout = 10 * time.Second
)

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // sequential wiring of optional components
	log := logging.Default()
	log.Info("starting Gray Logic bus",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID, logging.DSN(cfg.Bus.DSN))

	dialer, err := newDialer(cfg.Bus)
	if err != nil {
		return fmt.Errorf("creating dialer: %w", err)
	}

	b, err := bus.New(bus.Config{
		Name:                 cfg.Bus.ClientName(),
		ReconnectDelay:       cfg.Bus.GetReconnectDelay(),
		OperationTimeout:     cfg.Bus.GetConnectTimeout(),
		HandlerWarnThreshold: cfg.Bus.HandlerWarnThreshold,
	}, dialer)
	if err != nil {
		return fmt.Errorf("creating bus: %w", err)
	}
	b.SetLogger(log.Component("bus"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := bus.NewMetrics(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	b.SetMetrics(metrics)

	// Event log (optional)
	var (
		db       *database.DB
		recorder *eventlog.Recorder
	)
	if cfg.EventLog.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		eventLog := log.Component("eventlog")
		backend := eventlog.NewSQLiteBackend(db.DB)
		backend.SetLogger(eventLog)

		recorder = eventlog.NewRecorder(backend, eventlog.RecorderConfig{
			QueueSize:     cfg.EventLog.QueueSize,
			TTL:           cfg.EventLog.GetTTL(),
			PruneInterval: cfg.EventLog.GetPruneInterval(),
			ReplayWindow:  cfg.EventLog.GetReplayWindow(),
		})
		recorder.SetLogger(eventLog)
		recorder.SetPublisher(b)
		b.AddObserver(recorder)
	} else {
		log.Info("event log disabled")
	}

	// Connect to InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		b.AddObserver(influxClient)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	statusTopic := formatStatusTopic(cfg.Bus.StatusTopic, b.Name())
	b.SetOnConnect(func() {
		log.Info("bus connected", "broker", dialer.Address())
		if statusTopic != "" {
			b.PublishAtLeastOnce(ctx, map[string]any{
				"state":   "online",
				"client":  b.Name(),
				"version": version,
				"time":    time.Now(),
			}, statusTopic)
		}
		if recorder != nil && cfg.EventLog.ReplayOnConnect {
			recorder.TriggerReplay()
		}
	})
	b.SetOnDisconnect(func() {
		log.Warn("bus disconnected", "broker", dialer.Address())
	})

	monitor := newMonitorHandler(log.Component("monitor"))
	for _, pattern := range cfg.Bus.Monitor {
		if err := b.Subscribe(ctx, pattern, monitor); err != nil {
			return fmt.Errorf("subscribing to %q: %w", pattern, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	// The recorder outlives the bus so traffic during shutdown is still written.
	recCtx, stopRecorder := context.WithCancel(context.WithoutCancel(runCtx))
	defer stopRecorder()
	if recorder != nil {
		g.Go(func() error {
			return recorder.Run(recCtx)
		})
	}

	if cfg.Metrics.Enabled {
		srv := newStatusServer(cfg.Metrics, reg, b, db)
		g.Go(func() error {
			return srv.run(gctx, log)
		})
	}

	if err := b.Start(gctx); err != nil {
		cancel()
		stopRecorder()
		_ = g.Wait() //nolint:errcheck // Reporting the start failure instead
		return fmt.Errorf("starting bus: %w", err)
	}
	log.Info("bus started",
		"broker", dialer.Address(),
		"client", b.Name(),
		"monitor", len(cfg.Bus.Monitor),
	)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")

		stopCtx, stopCancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer stopCancel()
		defer stopRecorder()

		if err := b.Stop(stopCtx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Warn("handlers still running at shutdown", "inflight", b.InflightHandlers())
				return nil
			}
			return fmt.Errorf("stopping bus: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Gray Logic bus stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_BUS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_BUS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newDialer picks the transport for the DSN scheme.
func newDialer(cfg config.BusConfig) (transport.Dialer, error) {
	u, err := cfg.ParseDSN()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", transport.ErrConfiguration, err)
	}

	switch {
	case config.IsNATSScheme(u.Scheme):
		return natsconn.NewDialer(cfg)
	case config.IsMQTTScheme(u.Scheme):
		return mqtt.NewDialer(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", transport.ErrConfiguration, u.Scheme)
	}
}

// formatStatusTopic fills in the client name, if the template asks for it.
func formatStatusTopic(template, name string) string {
	if template == "" {
		return ""
	}
	if name == "" {
		name = "anonymous"
	}
	return strings.ReplaceAll(template, "%s", name)
}

// newMonitorHandler logs monitored traffic. Recording is done by observers.
func newMonitorHandler(log *logging.Logger) bus.Handler {
	return bus.NewHandler(func(_ context.Context, topic string, payload any) error {
		log.Debug("bus message", "topic", topic, "payload_type", fmt.Sprintf("%T", payload))
		return nil
	})
}
