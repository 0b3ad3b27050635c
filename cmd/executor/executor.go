package executor

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"orderengine/src/auth"
	"orderengine/src/database"
	"orderengine/src/server"

	"github.com/sirupsen/logrus"
)

type Executor struct{}

func (t *Executor) Start() error {
	config := GetConfig()
	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)

	defer stop()

	// Initialize main (read/write) database
	db, err := database.InitMainDB()
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}

	// Read-only signal database, optional
	signalDB, err := database.InitReadOnlyDB()
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to read-only database")
		return err
	}

	app, err := Build(db, signalDB)
	if err != nil {
		logrus.WithError(err).Error("Failed to wire engine")
		return err
	}

	if err := app.Engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := app.Engine.Stop(); err != nil {
			logrus.WithError(err).Error("engine stop")
		}
	}()

	if !config.ServeHTTP {
		logrus.Info("inbound API disabled, running engine loops only")
		<-ctx.Done()
		return nil
	}

	router := server.NewRouter(server.Deps{
		Engine:    app.Engine,
		Exposure:  app.Feed,
		Users:     app.Store,
		JWTSecret: auth.GetConfig().JWTSecret,
	})
	return server.StartServer(ctx, server.GetConfig().Port, router)
}

// Probe validates every stored credential once and reports the outcome.
func (t *Executor) Probe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.InitMainDB()
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to main database")
		return err
	}
	app, err := Build(db, nil)
	if err != nil {
		return err
	}
	return app.Connectivity.RunOnce(ctx)
}
