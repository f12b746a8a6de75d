package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satstat/satstat/pkg/api"
	"github.com/satstat/satstat/pkg/celldb"
	"github.com/satstat/satstat/pkg/geo"
	"github.com/satstat/satstat/pkg/logx"
	"github.com/satstat/satstat/pkg/metrics"
	"github.com/satstat/satstat/pkg/mqtt"
	"github.com/satstat/satstat/pkg/radio"
	"github.com/satstat/satstat/pkg/source/modem"
	"github.com/satstat/satstat/pkg/source/replay"
	"github.com/satstat/satstat/pkg/telem"
	"github.com/satstat/satstat/pkg/uci"
)

const (
	version = "1.0.0-dev"
	appName = "satstatd"

	maintenanceInterval = time.Hour
)

// source is a telephony backend that produces the events of one poll
type source struct {
	tel   radio.Telephony
	conn  radio.Connectivity
	poll  func(ctx context.Context) []radio.Event
	close func() error
}

func main() {
	var (
		configFile  = flag.String("config", "/etc/config/satstat", "UCI config file path")
		logLevel    = flag.String("log-level", "", "Log level (debug|info|warn|error), overrides the config")
		replayFile  = flag.String("replay", "", "Replay a recorded scenario instead of reading the modem")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", appName, version)
		os.Exit(0)
	}

	config, err := uci.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}
	if *replayFile != "" {
		config.Source = uci.SourceReplay
		config.ReplayFile = *replayFile
	}

	logger := logx.New(config.LogLevel)
	logger.Info("starting satstat daemon",
		"version", version,
		"config", *configFile,
		"log_level", logger.Level().String(),
		"source", config.Source,
	)

	if !config.Enable {
		logger.Info("Daemon disabled in configuration")
		return
	}

	if err := run(config, logger); err != nil {
		logger.Error("Daemon failed", "error", err)
		os.Exit(1)
	}
}

func run(config *uci.Config, logger *logx.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, err := openSource(config, logger)
	if err != nil {
		return err
	}
	defer src.close()

	engine := radio.NewEngine(radio.Config{
		NetworkRefresh:      config.NetworkRefresh(),
		NetworkPollAttempts: config.NetworkPollAttempts,
	}, src.tel, src.conn, logger)
	defer engine.Close()

	store := telem.NewStore(telem.Config{
		MaxSamples:     config.HistorySize,
		RetentionHours: config.RetentionHours,
	})
	engine.AddObserver(store)

	var opts []api.Option
	opts = append(opts, api.WithHistory(store), api.WithVersion(version))

	if config.MetricsEnabled {
		m := metrics.NewServer()
		engine.AddObserver(m)
		opts = append(opts, api.WithMetrics(m.Handler()))
	}

	var db *celldb.DB
	if config.CellDBPath != "" {
		if db, err = celldb.Open(config.CellDBPath, logger); err != nil {
			return fmt.Errorf("failed to open cell database: %w", err)
		}
		defer db.Close()
		engine.AddObserver(db)
		opts = append(opts, api.WithCellLog(db))
	}

	if config.MQTTEnabled {
		mc := mqtt.DefaultConfig()
		mc.Enabled = true
		mc.Broker = config.MQTTBroker
		mc.Port = config.MQTTPort
		mc.TopicPrefix = config.MQTTTopic
		client := mqtt.NewClient(mc, logger)
		if err := client.Connect(); err != nil {
			logger.Warn("MQTT broker unavailable, publishing disabled", "error", err)
		} else {
			defer client.Disconnect()
			engine.AddObserver(client)
		}
	}

	if config.GeoAPIKey != "" {
		client, err := geo.NewClient(config.GeoAPIKey)
		if err != nil {
			return err
		}
		locator := geo.New(geo.Config{CacheTTL: config.GeoCacheTTL()}, client, logger)
		engine.AddObserver(locator)
		opts = append(opts, api.WithLocator(locator))
	}

	if config.APIListener {
		server := api.NewServer(engine, logger, opts...)
		if err := server.Start(config.APIPort); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
		defer server.Stop()
	}

	events := make(chan radio.Event, 16)
	go pollLoop(ctx, config.PollInterval(), src.poll, events)
	go maintenance(ctx, store, db, config.Retention(), logger)

	logger.Info("Satstat daemon started successfully")
	if err := engine.Run(ctx, events); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Received shutdown signal, stopping")
	return nil
}

func openSource(config *uci.Config, logger *logx.Logger) (*source, error) {
	if config.Source == uci.SourceReplay {
		r, err := replay.Load(config.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load replay: %w", err)
		}
		logger.Info("Replaying scenario", "file", config.ReplayFile, "frames", r.Len())
		return &source{
			tel:   r,
			conn:  r,
			poll:  func(context.Context) []radio.Event { return r.Advance() },
			close: func() error { return nil },
		}, nil
	}

	var exec modem.Executor = modem.LocalExecutor{}
	closeExec := func() error { return nil }
	if config.ModemSSHHost != "" {
		ssh := modem.NewSSHExecutor(modem.SSHConfig{
			Host:       config.ModemSSHHost,
			Port:       config.ModemSSHPort,
			User:       config.ModemSSHUser,
			KeyFile:    config.ModemSSHKey,
			KnownHosts: config.ModemSSHKnownHosts,
		}, logger)
		exec, closeExec = ssh, ssh.Close
	}

	mc := modem.DefaultConfig()
	mc.Command = config.ModemCommand
	m := modem.New(mc, exec, logger)
	return &source{tel: m, conn: m, poll: m.Poll, close: closeExec}, nil
}

// pollLoop feeds the events of every poll to the engine until ctx is done
func pollLoop(ctx context.Context, interval time.Duration, poll func(context.Context) []radio.Event, events chan<- radio.Event) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ev := range poll(ctx) {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// maintenance applies the retention policy to the history and cell log
func maintenance(ctx context.Context, store *telem.Store, db *celldb.DB, retention time.Duration, logger *logx.Logger) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			store.Cleanup()
			if db == nil {
				continue
			}
			removed, err := db.Prune(ctx, time.Now().Add(-retention))
			if err != nil {
				logger.Warn("Failed to prune cell log", "error", err)
				continue
			}
			logger.Debug("Pruned cell log", "removed", removed)
		}
	}
}
