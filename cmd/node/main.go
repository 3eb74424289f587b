package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/goodnatureofminers/powledger/internal/archive"
	"github.com/goodnatureofminers/powledger/internal/ledger"
	"github.com/goodnatureofminers/powledger/internal/ledger/consensus"
	"github.com/goodnatureofminers/powledger/internal/metrics"
	"github.com/goodnatureofminers/powledger/internal/node"
	"github.com/goodnatureofminers/powledger/internal/storage/bolt"
	"github.com/goodnatureofminers/powledger/internal/storage/clickhouse"
	"github.com/goodnatureofminers/powledger/internal/transport/httppeer"
	"github.com/goodnatureofminers/powledger/internal/transport/kafka"
	"github.com/goodnatureofminers/powledger/internal/wallet"
)

type config struct {
	Addr           string        `long:"addr" env:"POWLEDGER_NODE_ADDR" description:"address of the node HTTP API" default:":5000"`
	MetricsAddr    string        `long:"metrics-addr" env:"POWLEDGER_NODE_METRICS_ADDR" description:"address for metrics server" default:":2112"`
	DataFile       string        `long:"data-file" env:"POWLEDGER_NODE_DATA_FILE" description:"bbolt file holding the chain, pending pool and peers" default:"powledger.db"`
	WalletFile     string        `long:"wallet" env:"POWLEDGER_NODE_WALLET" description:"wallet file of the miner; mining is disabled without one"`
	Peers          []string      `long:"peer" env:"POWLEDGER_NODE_PEERS" env-delim:"," description:"peer node address, repeatable"`
	AllowedOrigins []string      `long:"allowed-origin" env:"POWLEDGER_NODE_ALLOWED_ORIGINS" env-delim:"," description:"CORS origin, repeatable; all origins when empty"`
	Difficulty     int           `long:"difficulty" env:"POWLEDGER_NODE_DIFFICULTY" description:"leading zero hex characters of a valid proof" default:"2"`
	Reward         string        `long:"reward" env:"POWLEDGER_NODE_REWARD" description:"mining reward per block" default:"10"`
	AutoMine       bool          `long:"auto-mine" env:"POWLEDGER_NODE_AUTO_MINE" description:"mine whenever transactions are pending"`
	RunInterval    time.Duration `long:"run-interval" env:"POWLEDGER_NODE_RUN_INTERVAL" description:"pause between conflict checks and mining rounds" default:"5s"`
	PeerTimeout    time.Duration `long:"peer-timeout" env:"POWLEDGER_NODE_PEER_TIMEOUT" description:"timeout of a single peer request" default:"10s"`
	PeerRetries    uint64        `long:"peer-retries" env:"POWLEDGER_NODE_PEER_RETRIES" description:"retries of a failed peer request" default:"3"`
	ClickhouseDSN  string        `long:"clickhouse-dsn" env:"POWLEDGER_NODE_CLICKHOUSE_DSN" description:"ClickHouse DSN of the block archive; disabled when empty"`
	KafkaBrokers   []string      `long:"kafka-broker" env:"POWLEDGER_NODE_KAFKA_BROKERS" env-delim:"," description:"Kafka broker, repeatable; events are not published when empty"`
	KafkaTopic     string        `long:"kafka-topic" env:"POWLEDGER_NODE_KAFKA_TOPIC" description:"Kafka topic of ledger events" default:"powledger.events"`
	LogJSON        bool          `long:"log-json" env:"POWLEDGER_NODE_LOG_JSON" description:"production JSON logging"`
}

func main() {
	cfg := config{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			return
		}
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogJSON)
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("ledger node failed", zap.Error(err))
	}
}

func newLogger(json bool) (*zap.Logger, error) {
	if json {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(ctx context.Context, cfg config, logger *zap.Logger) error {
	startMetricsServer(ctx, cfg.MetricsAddr, logger)

	reward, err := decimal.NewFromString(cfg.Reward)
	if err != nil {
		return fmt.Errorf("parse reward: %w", err)
	}
	engine, err := consensus.New(consensus.Config{
		Difficulty: cfg.Difficulty,
		Reward:     reward,
	})
	if err != nil {
		return fmt.Errorf("init consensus: %w", err)
	}
	l, err := ledger.New(engine)
	if err != nil {
		return fmt.Errorf("init ledger: %w", err)
	}

	minerID := ""
	if cfg.WalletFile != "" {
		w, err := wallet.Load(cfg.WalletFile)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		minerID = w.Identity()
		logger.Info("mining enabled", zap.String("miner", minerID))
	}

	store, err := bolt.Open(cfg.DataFile, 5*time.Second)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", zap.Error(err))
		}
	}()

	client, err := httppeer.NewClient(httppeer.ClientConfig{
		Timeout:    cfg.PeerTimeout,
		MaxRetries: cfg.PeerRetries,
	}, metrics.NewPeerClient(), logger.Named("peer_client"))
	if err != nil {
		return fmt.Errorf("init peer client: %w", err)
	}

	deps := node.Deps{
		Ledger:     l,
		Engine:     engine,
		Store:      store,
		PeerStore:  store,
		PeerClient: client,
		Metrics:    metrics.NewNode(),
	}

	var writer *archive.Writer
	if cfg.ClickhouseDSN != "" {
		repo, err := clickhouse.NewRepository(cfg.ClickhouseDSN, metrics.NewClickhouseRepository())
		if err != nil {
			return fmt.Errorf("init archive repository: %w", err)
		}
		defer func() {
			if err := repo.Close(); err != nil {
				logger.Error("failed to close archive repository", zap.Error(err))
			}
		}()
		writer = archive.NewWriter(repo, archive.Config{}, logger.Named("archive"))
		writer.Start(ctx)
		defer writer.Stop()
		deps.Sink = writer
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(kafka.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, metrics.NewPublisher(), logger.Named("kafka"))
		if err != nil {
			return fmt.Errorf("init kafka publisher: %w", err)
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("failed to close kafka publisher", zap.Error(err))
			}
		}()
		deps.Publisher = publisher
	}

	svc, err := node.NewService(node.Config{
		MinerID:     minerID,
		RunInterval: cfg.RunInterval,
		AutoMine:    cfg.AutoMine,
	}, deps, logger.Named("node"))
	if err != nil {
		return err
	}
	if err := svc.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap node: %w", err)
	}
	for _, peer := range cfg.Peers {
		if _, err := svc.AddPeer(ctx, peer); err != nil {
			return fmt.Errorf("add peer %s: %w", peer, err)
		}
	}
	if writer != nil {
		if err := writer.Sync(ctx, svc.Chain()); err != nil {
			logger.Error("archive sync failed", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httppeer.NewHandler(svc, logger.Named("http"), cfg.AllowedOrigins),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
	return serve(ctx, srv, svc.Run, logger)
}

// serve runs the HTTP server alongside run until run returns. A server that
// fails to listen or serve stops run and its error is returned.
func serve(ctx context.Context, srv *http.Server, run func(context.Context) error, logger *zap.Logger) error {
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		logger.Info("starting node http server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stopRun()
		}
	}()

	runErr := run(runCtx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown http server", zap.Error(err))
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve http: %w", err)
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Info("ledger node stopped")
		return nil
	}
	return runErr
}

func startMetricsServer(ctx context.Context, addr string, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", zap.Error(err))
		}
	}()
}
