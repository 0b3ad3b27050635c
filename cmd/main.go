package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"orderengine/cmd/executor"
	"orderengine/cmd/keys"
	"orderengine/src/auth"
	"orderengine/src/database"
	"orderengine/src/model"
	"orderengine/src/repository"
	"orderengine/src/security"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"
)

var Version string

func SetupLogger() {
	config := database.GetConfig()

	level, err := logrus.ParseLevel(strings.ToLower(config.LogLevel))
	if err != nil {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if strings.EqualFold(config.LogFormat, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func main() {
	// a missing .env is fine; the environment wins anyway
	_ = godotenv.Load()
	SetupLogger()

	app := cli.NewApp()
	app.Name = "orderengine"
	app.Usage = "Multi-user order execution and position lifecycle engine"
	app.Version = Version

	app.Commands = []cli.Command{
		engineCMD,
		probeCMD,
		userCMD,
		credentialCMD,
		tokenCMD,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	engineCMD = cli.Command{
		Name:        "engine",
		Usage:       "run the engine and its API",
		Action:      engineAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the order engine, its background loops and the inbound API`,
	}
	probeCMD = cli.Command{
		Name:        "probe",
		Usage:       "validate every stored credential once",
		Action:      probeAction,
		ArgsUsage:   "",
		Flags:       []cli.Flag{},
		Description: `Run the connectivity validator once and exit`,
	}
	userCMD = cli.Command{
		Name:      "user",
		Usage:     "create a user (or print the existing one)",
		Action:    userAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "email", Usage: "user email"},
		},
	}
	credentialCMD = cli.Command{
		Name:      "credential",
		Usage:     "store an exchange credential for a user",
		Action:    credentialAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "user id"},
			cli.StringFlag{Name: "venue", Usage: "binance or bybit"},
			cli.StringFlag{Name: "environment", Usage: "production or sandbox (default KEYS_ENVIRONMENT)"},
			cli.StringFlag{Name: "label", Usage: "free text label"},
			cli.StringFlag{Name: "key", Usage: "API key"},
			cli.StringFlag{Name: "secret", Usage: "API secret"},
			cli.Float64Flag{Name: "weight", Usage: "selection preference weight"},
		},
	}
	tokenCMD = cli.Command{
		Name:      "token",
		Usage:     "issue an API bearer token for a user",
		Action:    tokenAction,
		ArgsUsage: "",
		Flags: []cli.Flag{
			cli.UintFlag{Name: "user", Usage: "user id"},
		},
	}
)

func engineAction(_ *cli.Context) error {
	logrus.WithField("cmd", "engine").Info("Starting engine CMD")

	e := &executor.Executor{}
	if err := e.Start(); err != nil {
		logrus.WithError(err).Error("Starting cmd")
		return err
	}
	return nil
}

func probeAction(_ *cli.Context) error {
	logrus.WithField("cmd", "probe").Info("Starting probe CMD")

	e := &executor.Executor{}
	return e.Probe()
}

// onboarding builds the keys command helper over the main database.
func onboarding(withValidator bool) (*keys.Keys, error) {
	db, err := database.InitMainDB()
	if err != nil {
		return nil, err
	}
	cipher, err := security.NewCipherFromEnv()
	if err != nil {
		return nil, err
	}
	store := repository.NewStore(db)
	k := &keys.Keys{Users: store.Users, Credentials: store.Credentials, Cipher: cipher}
	if withValidator {
		app, err := executor.Build(db, nil)
		if err != nil {
			return nil, err
		}
		k.Validator = app.Connectivity
	}
	return k, nil
}

func userAction(c *cli.Context) error {
	k, err := onboarding(false)
	if err != nil {
		return err
	}
	u, err := k.EnsureUser(context.Background(), c.String("email"))
	if err != nil {
		return err
	}
	fmt.Printf("user %d (%s) %s\n", u.ID, u.Email, u.Status)
	return nil
}

func credentialAction(c *cli.Context) error {
	config := keys.GetConfig()
	k, err := onboarding(config.ValidateOnSave)
	if err != nil {
		return err
	}

	environment := c.String("environment")
	if environment == "" {
		environment = config.Environment
	}
	cred, err := k.SetCredential(context.Background(), keys.CredentialInput{
		UserID:      c.Uint("user"),
		Venue:       model.Venue(strings.ToLower(c.String("venue"))),
		Environment: environment,
		Label:       c.String("label"),
		APIKey:      c.String("key"),
		APISecret:   c.String("secret"),
		Weight:      decimal.NewFromFloat(c.Float64("weight")),
	})
	if err != nil {
		return err
	}
	fmt.Printf("credential %d %s/%s %s %s\n", cred.ID, cred.Venue, cred.Environment, cred.Status, cred.Diagnosis)
	return nil
}

func tokenAction(c *cli.Context) error {
	userID := c.Uint("user")
	if userID == 0 {
		return errors.New("--user is required")
	}
	config := auth.GetConfig()
	token, err := auth.IssueToken(config.JWTSecret, userID, config.TokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	logrus.WithFields(map[string]interface{}{
		"cmd":     "token",
		"user_id": userID,
		"expires": time.Now().Add(config.TokenTTL).Format(time.RFC3339),
	}).Info("token issued")
	return nil
}
