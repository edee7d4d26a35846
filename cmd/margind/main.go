// margind is the margin engine daemon. It wires the engine to BadgerDB
// persistence, price feeds, the JSON-RPC API, the WebSocket event
// server, NATS fan-out, and Prometheus metrics.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/luxfi/database/manager"
	"github.com/luxfi/log"
	"github.com/luxfi/margin/pkg/api"
	"github.com/luxfi/margin/pkg/feed"
	"github.com/luxfi/margin/pkg/margin"
	"github.com/luxfi/margin/pkg/metrics"
	"github.com/luxfi/margin/pkg/stream"
	"github.com/luxfi/margin/pkg/websocket"
)

// Config holds daemon configuration
type Config struct {
	DataDir     string
	RPCPort     int
	WSPort      int
	MetricsPort string
	NATSURL     string
	LogLevel    string

	Admin       string
	Liquidators string

	CustodyDecimals uint
	Feeds           string
}

func main() {
	config := parseFlags()

	level, _ := log.ToLevel(config.LogLevel)
	logger := log.NewTestLogger(level)
	rootLogger := logger.New("module", "margind")
	rootLogger.Info("Starting margin daemon")

	dataPath := filepath.Join(os.Getenv("HOME"), config.DataDir)
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		rootLogger.Crit("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	// BadgerDB with in-memory fallback
	dbManager := manager.NewManager(dataPath, nil)
	dbConfig := manager.DefaultBadgerDBConfig("badgerdb")
	dbConfig.Namespace = "margin"

	db, err := dbManager.New(dbConfig)
	if err != nil {
		rootLogger.Warn("Failed to open BadgerDB", "error", err)
		memConfig := manager.DefaultMemoryConfig()
		db, err = dbManager.New(memConfig)
		if err != nil {
			rootLogger.Crit("Failed to create database", "error", err)
			os.Exit(1)
		}
		rootLogger.Info("Using in-memory database")
	} else {
		rootLogger.Info("BadgerDB initialized", "path", filepath.Join(dataPath, "badgerdb"))
	}

	auth := margin.NewStaticAuthorizer(config.Admin)
	for _, liq := range splitList(config.Liquidators) {
		if err := auth.GrantLiquidator(config.Admin, liq); err != nil {
			rootLogger.Crit("Failed to grant liquidator role", "identity", liq, "error", err)
			os.Exit(1)
		}
	}

	engine, err := margin.NewEngine(margin.Config{
		Custody: newDevCustody(uint8(config.CustodyDecimals)),
		Auth:    auth,
		Store:   margin.NewStore(db),
		Logger:  logger.New("module", "engine"),
	})
	if err != nil {
		rootLogger.Crit("Failed to create engine", "error", err)
		os.Exit(1)
	}

	// Register HTTP price feeds: -feeds asset=url,asset=url
	for _, spec := range splitList(config.Feeds) {
		asset, url, ok := strings.Cut(spec, "=")
		if !ok {
			rootLogger.Crit("Invalid feed spec", "spec", spec)
			os.Exit(1)
		}
		f := feed.NewHTTP(feed.HTTPConfig{URL: url, Decimals: margin.Decimals})
		if err := f.Start(); err != nil {
			rootLogger.Crit("Failed to start feed", "asset", asset, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		if err := engine.RegisterPriceFeed(config.Admin, asset, f); err != nil {
			rootLogger.Crit("Failed to register feed", "asset", asset, "error", err)
			os.Exit(1)
		}
		rootLogger.Info("Price feed registered", "asset", asset, "url", url)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New("margin", logger.New("module", "metrics"))
	if err := m.StartServer(config.MetricsPort); err != nil {
		rootLogger.Crit("Failed to start metrics server", "error", err)
		os.Exit(1)
	}
	go m.CollectSystemMetrics(ctx)

	// Fan engine events out to metrics, websocket, and NATS.
	wsEvents := make(chan margin.Event, 256)
	natsEvents := make(chan margin.Event, 256)
	go func() {
		defer close(wsEvents)
		defer close(natsEvents)
		for ev := range engine.Events() {
			m.Observe(ev)
			select {
			case wsEvents <- ev:
			default:
			}
			select {
			case natsEvents <- ev:
			default:
			}
		}
	}()

	wsServer := websocket.NewServer(wsEvents, logger.New("module", "websocket"))
	go func() {
		if err := wsServer.Start(config.WSPort); err != nil {
			rootLogger.Error("WebSocket server stopped", "error", err)
		}
	}()
	defer wsServer.Stop()

	var wg sync.WaitGroup
	if config.NATSURL != "" {
		publisher, err := stream.NewPublisher(config.NATSURL, logger.New("module", "stream"))
		if err != nil {
			rootLogger.Warn("NATS unavailable, event fan-out disabled", "error", err)
		} else {
			defer publisher.Close()
			wg.Add(1)
			go func() {
				defer wg.Done()
				publisher.Run(ctx, natsEvents)
			}()
		}
	}

	go func() {
		err := api.StartJSONRPCServer(ctx, config.RPCPort, engine, logger.New("module", "api"))
		if err != nil {
			rootLogger.Error("JSON-RPC server stopped", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	rootLogger.Info("Received shutdown signal", "signal", sig)

	cancel()
	wg.Wait()
	db.Close()
	rootLogger.Info("Shutdown complete")
}

func parseFlags() *Config {
	config := &Config{}
	flag.StringVar(&config.DataDir, "datadir", ".margind", "Data directory (relative to $HOME)")
	flag.IntVar(&config.RPCPort, "rpc-port", 8080, "JSON-RPC server port")
	flag.IntVar(&config.WSPort, "ws-port", 8081, "WebSocket server port")
	flag.StringVar(&config.MetricsPort, "metrics-port", "9090", "Prometheus metrics port")
	flag.StringVar(&config.NATSURL, "nats", "", "NATS URL for event fan-out (empty disables)")
	flag.StringVar(&config.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&config.Admin, "admin", "admin", "Root admin identity")
	flag.StringVar(&config.Liquidators, "liquidators", "", "Comma-separated liquidator identities")
	flag.UintVar(&config.CustodyDecimals, "custody-decimals", 6, "Native decimals of the collateral asset")
	flag.StringVar(&config.Feeds, "feeds", "", "Comma-separated asset=url HTTP price feeds")
	flag.Parse()
	return config
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// devCustody acknowledges every transfer. It stands in for an external
// custody bridge in development deployments; production wires a real
// margin.Custody implementation instead.
type devCustody struct {
	decimals uint8
}

func newDevCustody(decimals uint8) *devCustody {
	return &devCustody{decimals: decimals}
}

func (c *devCustody) Decimals() uint8 { return c.decimals }

func (c *devCustody) TransferIn(from string, nativeAmount *big.Int) error {
	if nativeAmount.Sign() <= 0 {
		return fmt.Errorf("non-positive transfer from %s", from)
	}
	return nil
}

func (c *devCustody) TransferOut(to string, nativeAmount *big.Int) error {
	if nativeAmount.Sign() <= 0 {
		return fmt.Errorf("non-positive transfer to %s", to)
	}
	return nil
}
