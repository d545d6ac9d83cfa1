package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"depegshield/internal/alerting"
	"depegshield/internal/audit"
	"depegshield/internal/claims"
	"depegshield/internal/config"
	"depegshield/internal/ledger"
	"depegshield/internal/oracle"
	"depegshield/internal/premium"
	"depegshield/internal/scheduler"
	"depegshield/internal/service"
	"depegshield/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newNotifier() alerting.Notifier {
	notifiers := make([]alerting.Notifier, 0, 2)
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		notifiers = append(notifiers, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
	}
	if len(a.Config.Alerting.EmergencyContacts) > 0 {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(10*time.Second, a.Logger))
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.MultiNotifier(notifiers)
}

func (a *App) newEndpoints() []oracle.Endpoint {
	endpoints := make([]oracle.Endpoint, 0, len(a.Config.Oracle.ChainEndpoints)+len(a.Config.Oracle.HTTPEndpoints))
	for _, ep := range a.Config.Oracle.ChainEndpoints {
		endpoints = append(endpoints, oracle.NewChainEndpoint(oracle.ChainEndpointOptions{
			RPCURL:          ep.RPCURL,
			RegistryAddress: ep.ContractAddress,
			Timeout:         ep.RequestTimeout,
		}, a.Logger))
	}
	for _, ep := range a.Config.Oracle.HTTPEndpoints {
		endpoints = append(endpoints, oracle.NewHTTPEndpoint(oracle.HTTPEndpointOptions{
			BaseURL:   ep.BaseURL,
			Timeout:   ep.RequestTimeout,
			UserAgent: ep.UserAgent,
		}, a.Logger))
	}
	return endpoints
}

// stack bundles the assembled core components.
type stack struct {
	ledger *ledger.Service
	engine *claims.Engine
	rates  *premium.Calculator
	svc    *service.Service
}

// buildStack assembles the ledger, claims engine, premium table, and
// orchestration service on top of the given store. A nil store runs
// everything on in-memory state.
func (a *App) buildStack(ctx context.Context, store *storage.Store, sched *scheduler.Scheduler) (*stack, error) {
	var (
		ledgerStore ledger.Store
		claimsStore claims.Store
		sink        audit.Sink
		history     service.HistoryStore
		locker      service.AdvisoryLocker
	)
	if store != nil {
		ledgerStore = store
		claimsStore = store
		sink = store
		history = store
		locker = store
	} else {
		ledgerStore = ledger.NewMemoryStore()
		claimsStore = claims.NewMemoryStore()
		sink = audit.NewMemorySink()
	}

	lgr := ledger.New(ledgerStore, sink, ledger.Options{
		RewardShareBps: a.Config.Ledger.RewardShareBps,
	}, a.Logger)

	for _, ac := range a.Config.Ledger.Assets {
		asset := ledger.Asset{
			ID:          ac.ID,
			Decimals:    ac.Decimals,
			MinStake:    ac.MinStake,
			MinCoverage: ac.MinCoverage,
			MaxCoverage: ac.MaxCoverage,
			YieldVenue:  ac.YieldVenue,
			Enabled:     true,
		}
		if err := lgr.AddAsset(ctx, asset); err != nil && !errors.Is(err, ledger.ErrAssetExists) {
			return nil, fmt.Errorf("seed asset %s: %w", ac.ID, err)
		}
	}

	engine := claims.NewEngine(claimsStore, lgr, sink, claims.Options{
		ExpectedSigner:  a.Config.Claims.ExpectedSigner,
		MaxStaleness:    a.Config.Claims.MaxStaleness,
		MaxDeviationBps: a.Config.Claims.MaxDeviationBps,
	}, a.Logger)

	for _, sc := range a.Config.Claims.Stablecoins {
		if _, err := claimsStore.GetStablecoinConfig(ctx, sc.Asset); err == nil {
			continue
		}
		if err := engine.ConfigureStablecoin(ctx, sc.Asset, sc.FeedID, sc.DepegThreshold, sc.MinFee, sc.FeeRateBps); err != nil {
			return nil, fmt.Errorf("seed stablecoin %s: %w", sc.Asset, err)
		}
	}

	rates := premium.NewCalculator()
	if len(a.Config.Premium.Tiers) > 0 {
		rates = &premium.Calculator{}
		for _, tc := range a.Config.Premium.Tiers {
			if err := rates.AddTier(premium.Tier{Min: tc.Min, Max: tc.Max, RateBps: tc.RateBps}); err != nil {
				return nil, fmt.Errorf("premium tier [%s, %s): %w", tc.Min, tc.Max, err)
			}
		}
	}

	svc := service.New(sched, lgr, engine, rates, history, locker, service.Options{
		LockKey:    a.Config.Scheduler.AdvisoryLockKey,
		SweepBatch: a.Config.Scheduler.SweepBatch,
	}, a.Logger)

	return &stack{ledger: lgr, engine: engine, rates: rates, svc: svc}, nil
}

func (a *App) newAggregator(publisher oracle.Publisher, notifier alerting.Notifier) (*oracle.Aggregator, error) {
	if a.Config.Oracle.SignerKey == "" {
		return nil, errors.New("oracle.signer_key is required to run the aggregator")
	}
	signer, err := oracle.NewSigner(a.Config.Oracle.SignerKey)
	if err != nil {
		return nil, fmt.Errorf("oracle signer: %w", err)
	}

	endpoints := a.newEndpoints()
	if len(endpoints) == 0 {
		return nil, errors.New("no oracle endpoints configured")
	}

	failover := oracle.NewFailover(endpoints, oracle.FailoverOptions{
		PerEndpointTimeout: a.Config.Oracle.PerEndpointTimeout,
		BreakerCooldown:    a.Config.Oracle.BreakerCooldown,
		BreakerThreshold:   a.Config.Oracle.BreakerThreshold,
	}, a.Logger)

	monitor := oracle.NewHealthMonitor(failover, oracle.HealthMonitorOptions{
		Interval:        a.Config.Oracle.HealthInterval,
		DegradedLatency: a.Config.Oracle.DegradedLatency,
	}, nil, a.Logger)

	feeds := make([]oracle.FeedConfig, 0, len(a.Config.Oracle.Feeds))
	for _, f := range a.Config.Oracle.Feeds {
		feeds = append(feeds, oracle.FeedConfig{
			AssetID:   f.Asset,
			FeedID:    f.FeedID,
			Heartbeat: f.Heartbeat,
		})
	}

	return oracle.NewAggregator(feeds, failover, signer, publisher, monitor, notifier, oracle.AggregatorOptions{
		MinUpdateInterval:  a.Config.Oracle.MinUpdateInterval,
		MaxDeviationBps:    a.Config.Oracle.MaxDeviationBps,
		MaxFailuresPerHour: a.Config.Oracle.MaxFailuresPerHour,
		StaleAfterFailures: a.Config.Oracle.StaleAfterFailures,
		EmergencyContacts:  a.Config.Alerting.EmergencyContacts,
	}, a.Logger), nil
}

// Run executes the long-running aggregation and maintenance service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; running on in-memory state")
	}
	if closeStore != nil {
		defer closeStore()
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	st, err := a.buildStack(ctx, store, sched)
	if err != nil {
		return err
	}

	aggregator, err := a.newAggregator(st.svc, a.newNotifier())
	if err != nil {
		return err
	}

	if err := aggregator.Start(ctx); err != nil {
		return err
	}
	defer aggregator.Stop()

	a.Logger.Info().Msg("starting depeg insurance service")
	err = st.svc.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("depeg insurance service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Asset  string
	Limit  int
	Claims bool
}

// SweepOptions configure the one-shot maintenance sweep.
type SweepOptions struct {
	Batch int
}

// SimulateOptions configure the depeg scenario replay.
type SimulateOptions struct {
	Asset    string
	Price    string
	Coverage string
	Stake    string
	Duration time.Duration
}
