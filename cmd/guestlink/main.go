// Guestlink Core - guest link gateway
//
// This is the main entry point for the Guestlink Core application.
// Guestlink talks to battery-powered guest devices over a connectionless
// radio link, keeps a registry of the guests it has heard from, and serves
// that registry to browsers over Server-Sent Events and WebSocket.
//
// Commands:
//   - serve: run the gateway until SIGINT/SIGTERM
//   - check-config: load and validate the configuration, then exit
//   - migrate up|down|status: manage the report history schema
//   - version: print build information
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/guestlink-core/migrations"

	"github.com/nerrad567/guestlink-core/internal/api"
	"github.com/nerrad567/guestlink-core/internal/bridge"
	"github.com/nerrad567/guestlink-core/internal/dispatch"
	"github.com/nerrad567/guestlink-core/internal/fanout"
	"github.com/nerrad567/guestlink-core/internal/guest"
	"github.com/nerrad567/guestlink-core/internal/history"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/config"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/database"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/logging"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/guestlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/guestlink-core/internal/link"
	"github.com/nerrad567/guestlink-core/internal/panel"
	"github.com/nerrad567/guestlink-core/internal/radio/serial"
	"github.com/nerrad567/guestlink-core/internal/radio/sim"
	"github.com/nerrad567/guestlink-core/internal/radio/udp"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// defaultSimAddress is the gateway's address on the in-memory medium when
// radio.address is unset.
const defaultSimAddress = "02:00:00:00:00:01"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The --config flag is shared by all
// subcommands.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "guestlink",
		Short: "Guestlink Core - guest link gateway",
		Long: `Guestlink Core bridges a connectionless radio link to the web.

It answers guest discovery, records button reports in a bounded
registry, pushes registry snapshots to browsers over Server-Sent Events
and WebSocket, and forwards scores back to guests.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to configuration file (default $GUESTLINK_CONFIG or "+config.DefaultPath+")")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(checkConfigCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(versionCmd())

	return root
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long:  "Start the radio link, registry, event streams and HTTP API, and run until interrupted.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on Ctrl+C or SIGTERM for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return run(ctx, config.ResolvePath(*configPath))
		},
	}
}

func checkConfigCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.ResolvePath(*configPath)
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %s (radio backend %s, api %s:%d)\n",
				path, cfg.Radio.Backend, cfg.API.Host, cfg.API.Port)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "guestlink %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Path to the YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) (err error) {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Guestlink Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)

	stack := &shutdownStack{log: log}
	defer func() {
		if closeErr := stack.run(); closeErr != nil {
			err = multierror.Append(err, closeErr).ErrorOrNil()
		}
		log.Info("Guestlink Core stopped")
	}()

	// Radio and link transport
	radio, err := openRadio(cfg, log)
	if err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}
	stack.push("radio", radio.Close)

	transport := link.NewTransport(radio, link.Options{
		QueueSize:    cfg.Radio.QueueSize,
		DrainTimeout: cfg.GetDrainTimeout(),
		Logger:       log.With("component", "link"),
	})
	if err := transport.Initialize(); err != nil {
		return fmt.Errorf("initialising link transport: %w", err)
	}
	stack.push("link transport", transport.Close)
	log.Info("radio link up", "backend", cfg.Radio.Backend, "address", transport.LocalAddress().String())

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)
	m.RegisterTransport(transport.Stats)

	// Guest registry
	registry := guest.NewRegistry(cfg.Guests.Capacity, guest.WithLogger(log.With("component", "guest")))
	m.RegisterRegistry(registry.Len, registry.Dropped)

	// Report history (optional)
	var (
		db       *database.DB
		repo     *history.SQLiteRepository
		recorder *history.Recorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		stack.push("database", db.Close)

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		repo = history.NewSQLiteRepository(db.DB)
		recorder = history.NewRecorder(repo, history.RecorderOptions{
			BufferSize: cfg.History.BufferSize,
			Retention:  cfg.GetHistoryRetention(),
			Metrics:    m,
			Logger:     log.With("component", "history"),
		})
		// Closes before the database so queued reports are written.
		stack.push("history", recorder.Close)
	} else {
		log.Info("report history disabled")
	}

	// Command router
	routerOpts := dispatch.Options{
		SendTimeout: cfg.GetSendTimeout(),
		Metrics:     m,
		Logger:      log.With("component", "dispatch"),
	}
	if recorder != nil {
		routerOpts.Recorder = recorder
	}
	router := dispatch.New(transport, registry, routerOpts)

	// Subscriber fan-out
	mux := fanout.New(registry, registry.Watch(), fanout.Options{
		MaxClients:        cfg.Fanout.MaxClients,
		KeepaliveInterval: cfg.GetKeepaliveInterval(),
		SnapshotOnConnect: cfg.Fanout.SnapshotOnConnect,
		WriteTimeout:      time.Duration(cfg.WebSocket.PongTimeout) * time.Second,
		Metrics:           m,
		Logger:            log.With("component", "fanout"),
	})
	m.RegisterSubscribers(mux.Active)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		stack.push("mqtt", mqttClient.Close)
		mqttClient.SetLogger(log.With("component", "mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		stack.push("influxdb", influxClient.Close)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		m.RegisterTelemetry(influxClient.Stats)
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Bridge, only when it has somewhere to forward to
	var br *bridge.Bridge
	if mqttClient != nil || influxClient != nil {
		bopts := bridge.Options{
			Scorer: router,
			QoS:    byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
			Logger: log.With("component", "bridge"),
		}
		if mqttClient != nil {
			bopts.Publisher = mqttClient
		}
		if influxClient != nil {
			bopts.Writer = influxClient
		}
		br = bridge.New(registry, bopts)
		if err := br.Start(); err != nil {
			return fmt.Errorf("starting bridge: %w", err)
		}
		stack.push("bridge", br.Stop)
	}

	// HTTP API
	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Logger:    log.With("component", "api"),
		Registry:  registry,
		Fanout:    mux,
		Scorer:    router,
		LinkStats: transport.Stats,
		Gatherer:  promReg,
		Version:   version,
	}
	if repo != nil {
		deps.History = repo
	}
	if influxClient != nil {
		deps.Scores = influxClient
	}
	if cfg.Panel.Enabled {
		deps.Panel = panel.Handler(cfg.Panel.Dir)
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	stack.push("api", server.Close)

	// Event streams hold requests open; evict them before the API drains.
	stack.push("fanout", mux.Close)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(router.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(mux.Run(gctx)) })
	if recorder != nil {
		g.Go(func() error { return ignoreCanceled(recorder.Run(gctx)) })
	}
	if br != nil {
		g.Go(func() error { return ignoreCanceled(br.Run(gctx)) })
	}

	log.Info("initialisation complete, waiting for shutdown signal", "api", server.Addr())

	if err := g.Wait(); err != nil {
		return fmt.Errorf("running: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// openRadio opens the backend selected by radio.backend.
func openRadio(cfg *config.Config, log *logging.Logger) (link.Radio, error) {
	radioLog := log.With("component", "radio", "backend", cfg.Radio.Backend)

	switch cfg.Radio.Backend {
	case config.BackendSerial:
		r, err := serial.Open(serial.Config{
			Port:         cfg.Radio.Serial.Port,
			Baud:         cfg.Radio.Serial.Baud,
			ReadyTimeout: time.Duration(cfg.Radio.Serial.ReadyTimeout) * time.Second,
			Logger:       radioLog,
		})
		if err != nil {
			return nil, err
		}
		return r, nil

	case config.BackendUDP:
		var addr link.Address
		if cfg.Radio.Address != "" {
			parsed, err := link.ParseAddress(cfg.Radio.Address)
			if err != nil {
				return nil, fmt.Errorf("radio.address: %w", err)
			}
			addr = parsed
		}
		r, err := udp.Open(udp.Config{
			Listen:    cfg.Radio.UDP.Listen,
			Broadcast: cfg.Radio.UDP.Broadcast,
			Address:   addr,
			Logger:    radioLog,
		})
		if err != nil {
			return nil, err
		}
		return r, nil

	case config.BackendSim:
		raw := cfg.Radio.Address
		if raw == "" {
			raw = defaultSimAddress
		}
		addr, err := link.ParseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("radio.address: %w", err)
		}
		r, err := sim.NewRadio(sim.NewMedium(), addr)
		if err != nil {
			return nil, err
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unknown radio backend %q", cfg.Radio.Backend)
	}
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check (nil if disabled)
//   - mqttClient: MQTT client to check (nil if disabled)
//   - influxClient: InfluxDB client to check (nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// ignoreCanceled maps the context.Canceled a loop returns on shutdown to nil.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdownStep is one component's close function.
type shutdownStep struct {
	name string
	fn   func() error
}

// shutdownStack closes components in reverse start order and collects
// every failure.
type shutdownStack struct {
	log   *logging.Logger
	steps []shutdownStep
}

func (s *shutdownStack) push(name string, fn func() error) {
	s.steps = append(s.steps, shutdownStep{name: name, fn: fn})
}

func (s *shutdownStack) run() error {
	var result *multierror.Error
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		s.log.Info("closing", "component", step.name)
		if err := step.fn(); err != nil {
			s.log.Error("error closing component", "component", step.name, "error", err)
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", step.name, err))
		}
	}
	s.steps = nil
	return result.ErrorOrNil()
}
