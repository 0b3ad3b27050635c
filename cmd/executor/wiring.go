package executor

import (
	"fmt"

	"orderengine/src/accounts"
	"orderengine/src/connectors"
	"orderengine/src/engine"
	"orderengine/src/exposure"
	"orderengine/src/monitor"
	"orderengine/src/notify"
	"orderengine/src/prices"
	"orderengine/src/repository"
	"orderengine/src/resilience"
	"orderengine/src/risk"
	"orderengine/src/security"
	"orderengine/src/selector"
	"orderengine/src/signals"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// App is the fully wired engine with its background tasks registered.
type App struct {
	Store        *repository.Store
	Engine       *engine.Engine
	Feed         *exposure.Feed
	Monitor      *monitor.Monitor
	Balances     *accounts.BalanceSynchronizer
	Connectivity *accounts.ConnectivityValidator
}

// Build wires the engine over the main database. signalDB may be nil, in which
// case direction reversal never fires.
func Build(db, signalDB *gorm.DB) (*App, error) {
	cipher, err := security.NewCipherFromEnv()
	if err != nil {
		return nil, fmt.Errorf("credential cipher: %w", err)
	}

	store := repository.NewStore(db)
	adapters := connectors.NewPool(connectors.NewRegistry(connectors.GetConfig()), cipher)
	notifier := notify.FromConfig(notify.GetConfig())
	priceSource := prices.New(prices.GetConfig(), adapters)
	feed := exposure.NewFeed()

	riskCfg := risk.GetConfig()
	resilienceCfg := resilience.GetConfig()
	eng := engine.New(engine.GetConfig(), engine.Deps{
		Store:           store,
		Adapters:        adapters,
		Prices:          priceSource,
		Validator:       risk.NewValidator(riskCfg.Limits()),
		Selector:        selector.New(selector.GetConfig()),
		Breakers:        resilience.NewBreakerSet(resilienceCfg.BreakerSettings()),
		Retry:           resilienceCfg.RetryPolicy(),
		Notifier:        notifier,
		DefaultLeverage: riskCfg.DefaultLeverage,
	})

	var reversals signals.ReversalSource = signals.Disabled{}
	if signalCfg := signals.GetConfig(); signalCfg.Enabled && signalDB != nil {
		reversals = signals.NewTableReversalSource(repository.NewTradingSignalRepository(signalDB), signalCfg.Lookback)
	} else {
		logger.Info("direction reversal disabled")
	}

	mon := monitor.New(monitor.GetConfig(), monitor.Deps{
		Store:     store,
		Prices:    priceSource,
		Closer:    eng.Coordinator(),
		Manual:    eng.Arena(),
		Reversals: reversals,
	})

	accountsCfg := accounts.GetConfig()
	balances := accounts.NewBalanceSynchronizer(accountsCfg, accounts.BalanceDeps{
		Store:    store,
		Adapters: adapters,
		Users:    eng.Arena(),
		Feed:     feed,
		Notifier: notifier,
	})
	connectivity := accounts.NewConnectivityValidator(accountsCfg, store, adapters, eng.Arena(), notifier)

	eng.AddTask(mon)
	eng.AddTask(balances)
	eng.AddTask(connectivity)
	eng.SetCredentialValidator(connectivity)

	return &App{
		Store:        store,
		Engine:       eng,
		Feed:         feed,
		Monitor:      mon,
		Balances:     balances,
		Connectivity: connectivity,
	}, nil
}
