// Command checkoutd wires every component into a running process and
// starts its two background workers. It exposes no HTTP routes — the
// checkout, vault, and settlement operations are consumed as typed Go
// methods by an embedding application or test harness. It loads
// config, builds a logger, constructs the subsystem graph, and runs
// until signaled.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stateset/agentic-checkout/internal/cache"
	"github.com/stateset/agentic-checkout/internal/catalog"
	"github.com/stateset/agentic-checkout/internal/chain"
	"github.com/stateset/agentic-checkout/internal/checkout"
	"github.com/stateset/agentic-checkout/internal/config"
	"github.com/stateset/agentic-checkout/internal/idempotency"
	"github.com/stateset/agentic-checkout/internal/inventory"
	"github.com/stateset/agentic-checkout/internal/logging"
	"github.com/stateset/agentic-checkout/internal/metrics"
	"github.com/stateset/agentic-checkout/internal/psp"
	"github.com/stateset/agentic-checkout/internal/risk"
	"github.com/stateset/agentic-checkout/internal/settlement"
	"github.com/stateset/agentic-checkout/internal/taxship"
	"github.com/stateset/agentic-checkout/internal/vault"
	"github.com/stateset/agentic-checkout/internal/webhook"
)

// Version, Commit, and BuildTime are set by ldflags at release build time.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// App is the constructed subsystem graph. cmd/checkoutd builds one at
// startup; an embedding process or test harness can build its own the
// same way.
type App struct {
	Checkout   *checkout.Engine
	Vault      *vault.Vault
	Settlement *settlement.Pipeline

	chainAdapter     *chain.Adapter
	inventorySweeper *inventory.Sweeper
	chainSweeper     *chain.Sweeper
}

// Run starts the background workers and blocks until ctx is canceled,
// then releases the chain RPC client.
func (a *App) Run(ctx context.Context) {
	go a.inventorySweeper.Start(ctx)
	if a.chainSweeper != nil {
		go a.chainSweeper.Start(ctx)
	}
	<-ctx.Done()
	a.chainAdapter.Close()
}

// Build constructs the full subsystem graph from cfg. Seeding a
// product catalog is the caller's responsibility (an out-of-scope
// admin path); products is accepted here only so a caller can start
// from a non-empty catalog without a separate admin call.
func Build(cfg *config.Config, products []catalog.Product, rateTable taxship.RateTable, shipping taxship.ShippingProvider, broadcaster chain.Broadcaster, logger *slog.Logger) (*App, error) {
	catalogStore := catalog.NewMemoryStore(products, nil)
	inventoryEngine := inventory.New(catalogStore, logger)
	catalogStore.SetAvailability(inventoryEngine)

	idemStore := idempotency.New(0)
	checkoutEngine := checkout.New(checkout.Config{
		Catalog:        catalogStore,
		Inventory:      inventoryEngine,
		RateTable:      rateTable,
		Shipping:       shipping,
		ReservationTTL: cfg.ReservationTTL,
		Idempotency:    idemStore,
		Logger:         logger,
	})

	vaultStore := cache.New()
	vaultEngine := vault.New(vaultStore)

	riskStore := risk.NopStore{}
	riskEngine := risk.NewEngine(riskStore, logger)

	pspAdapter := psp.New(psp.Config{
		SecretKey:         cfg.PSP.SecretKey,
		APIVersion:        cfg.PSP.APIVersion,
		MaxRetries:        cfg.PSP.MaxRetries,
		InitialRetryDelay: time.Duration(cfg.PSP.InitialRetryDelayMS) * time.Millisecond,
		WebhookSecret:     cfg.PSP.WebhookSecret,
	})

	chainAdapter, err := chain.New(chain.Config{
		GRPCEndpoint:    cfg.Chain.GRPCEndpoint,
		RESTEndpoint:    cfg.Chain.RESTEndpoint,
		ChainID:         cfg.Chain.ChainID,
		AddressPrefix:   cfg.Chain.AddressPrefix,
		DefaultGasPrice: cfg.Chain.DefaultGasPrice,
		DefaultGasLimit: cfg.Chain.DefaultGasLimit,
		FeeDenom:        cfg.Chain.FeeDenom,
		StablecoinDenom: cfg.Chain.StablecoinDenom,
		MaxRetries:      cfg.Chain.MaxRetries,
	}, broadcaster, cfg.Chain.RPCURL, logger)
	if err != nil {
		return nil, err
	}

	webhookStore := webhook.NewMemoryStore()
	dispatcher := webhook.NewDispatcher(webhookStore, logger)
	emitter := webhook.NewEmitter(dispatcher)

	pipeline := settlement.New(settlement.Config{
		Checkout:  checkoutEngine,
		Inventory: inventoryEngine,
		Vault:     vaultEngine,
		Risk:      riskEngine,
		PSP:       pspAdapter,
		Chain:     chainAdapter,
		Webhook:   emitter,
		Logger:    logger,
	})

	metrics.Register(prometheus.DefaultRegisterer)

	return &App{
		Checkout:         checkoutEngine,
		Vault:            vaultEngine,
		Settlement:       pipeline,
		chainAdapter:     chainAdapter,
		inventorySweeper: inventory.NewSweeper(inventoryEngine, cfg.ReservationTTL/2, logger),
		chainSweeper:     chain.NewSweeper(chainAdapter, cfg.ReservationTTL/2, logger),
	}, nil
}

func main() {
	logger := logging.New("info", "text")
	logger.Info("starting checkoutd", "version", Version, "commit", Commit, "build_time", BuildTime)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "env", cfg.Env, "chain_id", cfg.Chain.ChainID)

	app, err := Build(cfg, nil, taxship.RateTable{}, taxship.ZeroShipping{}, nil, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("checkoutd running; no HTTP surface is mounted by this process")
	app.Run(ctx)
	logger.Info("checkoutd shut down")
}
