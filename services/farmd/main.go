package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"stakefarm/config"
	"stakefarm/core/events"
	"stakefarm/core/state"
	nativecommon "stakefarm/native/common"
	"stakefarm/native/farm"
	"stakefarm/native/farm/rates"
	"stakefarm/observability"
	"stakefarm/observability/logging"
	"stakefarm/observability/metrics"
	telemetry "stakefarm/observability/otel"
	"stakefarm/services/farmd/audit"
	farmdconfig "stakefarm/services/farmd/config"
	"stakefarm/services/farmd/custody"
	"stakefarm/services/farmd/journal"
	"stakefarm/services/farmd/server"
	"stakefarm/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/farmd/config.yaml", "path to farmd config")
	flag.Parse()

	cfg, err := farmdconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("FARM_ENV"))
	logger, logCloser := logging.SetupWithOptions(logging.Options{
		Service:    "farmd",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	defer logCloser.Close()

	headers := cfg.Telemetry.Headers
	if len(headers) == 0 {
		headers = telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS"))
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "farmd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     headers,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Attributes:  map[string]string{"farm.genesis": cfg.GenesisPath},
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	genesis, err := config.LoadGenesis(cfg.GenesisPath)
	if err != nil {
		log.Fatalf("load genesis: %v", err)
	}

	db, err := openDatabase(cfg.Data)
	if err != nil {
		log.Fatalf("open %s state: %v", cfg.Data.Backend, err)
	}
	defer db.Close()

	journalDB, err := journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		log.Fatalf("open journal: %v", err)
	}
	eventLog, err := journal.New(journalDB, logger)
	if err != nil {
		log.Fatalf("init journal: %v", err)
	}
	hub := server.NewHub(logger)
	pauses := nativecommon.NewPauseSet()
	farmMetrics := metrics.Farm()

	engine := farm.NewEngine(farm.AssetID(genesis.RewardAsset), state.NewFarmState(db))
	ledger := custody.NewLedger(db)
	ledger.SetMetrics(observability.Custody())
	engine.SetSupplySource(ledger)
	engine.SetBalanceSource(ledger)
	engine.SetPauses(pauses)
	engine.SetEmitter(events.Fanout{eventLog, hub})
	engine.SetLogger(logger)
	engine.SetMetrics(farmMetrics)

	registry, err := hookRegistry(genesis)
	if err != nil {
		log.Fatalf("configure hooks: %v", err)
	}
	engine.SetHookResolver(registry)

	svc := server.NewService(engine, ledger, clockSource(cfg.Clock), logger)
	svc.SetMigrator(custody.NewMigrator(ledger, "V2"))
	rateSrc, err := rateSource(genesis, rates.NewPersistent(db), svc.Now)
	if err != nil {
		log.Fatalf("configure rates: %v", err)
	}
	engine.SetRateSource(rateSrc)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bootstrap(ctx, svc, genesis, logger); err != nil {
		log.Fatalf("apply genesis: %v", err)
	}

	auditor := audit.New(svc, eventLog, farmMetrics, logger)
	if !cfg.Audit.Disabled {
		if err := auditor.Start(ctx, cfg.Audit.Schedule); err != nil {
			log.Fatalf("schedule audit: %v", err)
		}
		defer auditor.Stop()
	}

	authCfg := server.AuthConfig{
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		ClockSkew: cfg.Auth.ClockSkew,
	}
	if secret, err := cfg.Auth.HMACSecret(); err == nil {
		authCfg.HMACSecret = secret
	} else {
		logger.Warn("farmd: authenticated routes disabled", slog.Any("error", err))
	}
	apiMetrics := observability.API()
	handler := server.New(server.Config{
		Service:       svc,
		Journal:       eventLog,
		Hub:           hub,
		Auditor:       auditor,
		Pauses:        pauses,
		Authenticator: server.NewAuthenticator(authCfg, logger),
		RateLimiter:   server.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, apiMetrics),
		Metrics:       apiMetrics,
		ExportDir:     cfg.Journal.ExportDir,
		Logger:        logger,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Fatalf("listen on %s: %v", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			log.Fatalf("plaintext farmd mode is restricted to loopback listeners or dev environment")
		}
	}
	if cfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, cfg.MaxConnections)
	}

	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("farmd listening", slog.String("address", cfg.ListenAddress))
		if cfg.TLS.CertPath != "" {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", slog.Any("error", err))
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve http: %v", err)
		}
	}
}

func openDatabase(cfg farmdconfig.DataConfig) (storage.Database, error) {
	switch cfg.Backend {
	case farmdconfig.BackendLevelDB:
		db, err := storage.NewLevelDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case farmdconfig.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		db, err := storage.NewBoltDB(cfg.Path, nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return storage.NewMemDB(), nil
	}
}

func clockSource(mode string) func() uint64 {
	if mode == farmdconfig.ClockUnixMs {
		return func() uint64 { return uint64(time.Now().UnixMilli()) }
	}
	return func() uint64 { return uint64(time.Now().Unix()) }
}
