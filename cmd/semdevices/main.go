// Package main runs the device server: it loads a device file, starts a
// driver per device and exposes the readings over HTTP, NATS and Redis.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/c360/semdevices/bridge"
	"github.com/c360/semdevices/bus"
	"github.com/c360/semdevices/config"
	"github.com/c360/semdevices/driver"
	"github.com/c360/semdevices/driverregistry"
	"github.com/c360/semdevices/gateway"
	"github.com/c360/semdevices/health"
	"github.com/c360/semdevices/metric"
	"github.com/c360/semdevices/natsclient"
	"github.com/c360/semdevices/pkg/tlsutil"
	"github.com/c360/semdevices/registry"
	"github.com/c360/semdevices/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semdevices"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, err := parseFlags(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		return nil
	}

	cfg, err := config.NewLoader().LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	logger := setupLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.WriteConfig != "" {
		if err := cfg.SaveToFile(cliCfg.WriteConfig); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		logger.Info("Effective configuration written", "path", cliCfg.WriteConfig)
		return nil
	}
	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath, "devices", len(cfg.Devices))
		return nil
	}

	logger.Info("Starting semdevices",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"devices", len(cfg.Devices))

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	app, err := start(signalCtx, cfg, logger)
	if app != nil {
		defer app.shutdown(cliCfg.ShutdownTimeout)
	}
	if err != nil {
		return err
	}

	logger.Info("semdevices started", "bound", app.manager.Table().Len())
	<-signalCtx.Done()
	logger.Info("Received shutdown signal")
	return nil
}

// app holds everything started by start, in start order.
type app struct {
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	bus      *bus.Bus
	manager  *registry.Manager
	metrics  *metric.Server
	nats     *natsclient.Client
	redis    *redis.Client
	bridge   *bridge.Bridge
	gateway  *gateway.Gateway
}

// start brings the process up. On error the returned app holds whatever
// was started so the caller can shut it down.
func start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		logger:   logger,
		registry: metric.NewMetricsRegistry(),
	}
	monitor := health.NewMonitor()
	a.bus = bus.New(bus.Options{
		QueueLen: cfg.Bus.QueueLen,
		Metrics:  a.registry.CoreMetrics(),
		Logger:   logger,
	})

	factories := driver.NewFactories()
	if err := driverregistry.Register(factories); err != nil {
		return a, fmt.Errorf("register drivers: %w", err)
	}
	logger.Debug("Drivers registered", "drivers", factories.Names())

	manager, err := registry.NewManager(registry.Deps{
		Factories: factories,
		Bus:       a.bus,
		Logger:    logger,
		Metrics:   a.registry,
		Health:    monitor,
	})
	if err != nil {
		return a, fmt.Errorf("create device manager: %w", err)
	}
	a.manager = manager

	if cfg.Metrics.Enabled {
		a.metrics = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, a.registry)
		if err := a.metrics.Start(); err != nil {
			return a, fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("Metrics server listening", "address", a.metrics.Address())
	}

	if cfg.NATS.Enabled {
		if err := a.connectNATS(ctx, cfg.NATS); err != nil {
			return a, err
		}
	}
	if cfg.Redis.Enabled {
		client, err := bridge.NewRedisClient(ctx, bridge.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return a, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
	}

	// Devices that fail to start stay bound with failed status; the
	// process keeps serving the rest.
	if err := manager.StartAll(context.Background(), cfg.Devices); err != nil {
		logger.Warn("Some devices failed to start", "error", err)
	}

	if err := a.startBridge(ctx, cfg); err != nil {
		return a, err
	}

	if cfg.HTTP.Enabled {
		serverTLS, err := tlsutil.LoadServerTLSConfig(cfg.HTTP.TLS)
		if err != nil {
			return a, fmt.Errorf("gateway tls: %w", err)
		}
		gw, err := gateway.New(gateway.Config{
			Port:           cfg.HTTP.Port,
			CORSOrigins:    cfg.HTTP.CORSOrigins,
			MaxRequestSize: cfg.HTTP.MaxRequestSize,
			TLS:            serverTLS,
		}, gateway.Deps{
			Devices: manager,
			Bus:     a.bus,
			Health:  monitor,
			Logger:  logger,
			Metrics: a.registry,
		})
		if err != nil {
			return a, fmt.Errorf("create gateway: %w", err)
		}
		if err := gw.Start(ctx); err != nil {
			return a, fmt.Errorf("start gateway: %w", err)
		}
		a.gateway = gw
	}
	return a, nil
}

func (a *app) connectNATS(ctx context.Context, cfg config.NATSConfig) error {
	clientTLS, err := tlsutil.LoadClientTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("nats tls: %w", err)
	}
	opts := []natsclient.ClientOption{
		natsclient.WithTLSConfig(clientTLS),
		natsclient.WithName(appName),
		natsclient.WithLogger(a.logger),
		natsclient.WithMetrics(a.registry),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait),
		natsclient.WithPingInterval(cfg.PingInterval),
		natsclient.WithDrainTimeout(cfg.DrainTimeout),
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	a.nats = client

	a.logger.Info("Connecting to NATS", "urls", cfg.URLs)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// bridgeAddresses resolves bridge.devices, or every device when empty.
func bridgeAddresses(cfg *config.Config) []types.Address {
	var out []types.Address
	add := func(dev config.DeviceConfig) {
		if addr, err := dev.ParsedAddress(); err == nil {
			out = append(out, addr)
		}
	}
	if len(cfg.Bridge.Devices) == 0 {
		for _, dev := range cfg.Devices {
			add(dev)
		}
		return out
	}
	for _, name := range cfg.Bridge.Devices {
		if dev, ok := cfg.Device(name); ok {
			add(dev)
		}
	}
	return out
}

func (a *app) startBridge(ctx context.Context, cfg *config.Config) error {
	var sinks []bridge.Sink
	deps := bridge.Deps{Bus: a.bus, Logger: a.logger, Metrics: a.registry}

	if a.nats != nil {
		var kv bridge.KeyValue
		if cfg.NATS.KVBucket != "" {
			store, err := a.nats.OpenKVStore(ctx, cfg.NATS.KVBucket, 0)
			if err != nil {
				return fmt.Errorf("open kv bucket %s: %w", cfg.NATS.KVBucket, err)
			}
			kv = store
		}
		sinks = append(sinks, bridge.NewNATSSink(a.nats, kv, cfg.NATS.SubjectPrefix))
		if cfg.NATS.Commands {
			deps.Ingress = a.nats
			deps.Commands = a.manager
		}
	}
	if a.redis != nil {
		sinks = append(sinks, bridge.NewRedisSink(a.redis, cfg.Redis.ChannelPrefix, 0))
	}
	if len(sinks) == 0 && deps.Ingress == nil {
		return nil
	}

	b, err := bridge.New(bridge.Config{
		Addresses: bridgeAddresses(cfg),
		Prefix:    cfg.NATS.SubjectPrefix,
		Workers:   cfg.Bridge.Workers,
		QueueLen:  cfg.Bridge.QueueLen,
	}, deps, sinks...)
	if err != nil {
		return fmt.Errorf("create bridge: %w", err)
	}
	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	a.bridge = b
	return nil
}

// shutdown stops everything in reverse start order within timeout.
func (a *app) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if a.gateway != nil {
		errs = append(errs, a.gateway.Stop(timeout))
	}
	if a.bridge != nil {
		errs = append(errs, a.bridge.Stop(timeout))
	}
	if a.manager != nil {
		errs = append(errs, a.manager.StopAll(timeout))
	}
	a.bus.Close()
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.nats != nil {
		errs = append(errs, a.nats.Close(ctx))
	}
	if a.metrics != nil {
		errs = append(errs, a.metrics.Stop(ctx))
	}

	if err := stderrors.Join(errs...); err != nil {
		a.logger.Error("Shutdown incomplete", "error", err)
		return
	}
	a.logger.Info("semdevices shutdown complete")
}
