package keys

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

type userStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
}

type credentialStore interface {
	Upsert(ctx context.Context, c *model.ExchangeCredential) error
}

type encrypter interface {
	Encrypt(plain string) (string, error)
}

type validator interface {
	ValidateNow(ctx context.Context, credentialID uint) (*model.ExchangeCredential, error)
}

// Keys onboards users and their exchange credentials. Key material is sealed
// before it reaches the store.
type Keys struct {
	Users       userStore
	Credentials credentialStore
	Cipher      encrypter

	// Validator is optional; when set a saved credential is probed right away
	Validator validator
}

type CredentialInput struct {
	UserID      uint
	Venue       model.Venue
	Environment string
	Label       string
	APIKey      string
	APISecret   string
	Weight      decimal.Decimal
}

// EnsureUser returns the user with email, creating it when missing.
func (k *Keys) EnsureUser(ctx context.Context, email string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return nil, errors.New("email is required")
	}
	existing, err := k.Users.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	u := &model.User{Email: email, Status: model.UserStatusActive}
	if err := k.Users.Create(ctx, u); err != nil {
		return nil, err
	}
	logger.WithFields(map[string]interface{}{
		"cmd":     "keys",
		"user_id": u.ID,
	}).Info("user created")
	return u, nil
}

func (k *Keys) SetCredential(ctx context.Context, in CredentialInput) (*model.ExchangeCredential, error) {
	if in.UserID == 0 {
		return nil, errors.New("user id is required")
	}
	switch in.Venue {
	case model.VenueBinance, model.VenueBybit:
	default:
		return nil, fmt.Errorf("unsupported venue %q", in.Venue)
	}
	switch in.Environment {
	case "":
		in.Environment = model.EnvironmentProduction
	case model.EnvironmentProduction, model.EnvironmentSandbox:
	default:
		return nil, fmt.Errorf("unknown environment %q", in.Environment)
	}
	if in.APIKey == "" || in.APISecret == "" {
		return nil, errors.New("api key and secret are required")
	}

	key, err := k.Cipher.Encrypt(in.APIKey)
	if err != nil {
		return nil, fmt.Errorf("encrypt key: %w", err)
	}
	secret, err := k.Cipher.Encrypt(in.APISecret)
	if err != nil {
		return nil, fmt.Errorf("encrypt secret: %w", err)
	}

	cred := &model.ExchangeCredential{
		UserID:           in.UserID,
		Venue:            in.Venue,
		Environment:      in.Environment,
		Label:            in.Label,
		APIKeyEnc:        key,
		APISecretEnc:     secret,
		PreferenceWeight: in.Weight,
	}
	if err := k.Credentials.Upsert(ctx, cred); err != nil {
		return nil, err
	}
	if k.Validator == nil || cred.ID == 0 {
		return cred, nil
	}

	validated, err := k.Validator.ValidateNow(ctx, cred.ID)
	if err != nil {
		// stored anyway; the periodic probe retries it
		logger.WithError(err).WithField("credential_id", cred.ID).Warn("credential saved but not validated")
		return cred, nil
	}
	return validated, nil
}
