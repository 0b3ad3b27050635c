package accounts

import (
	"context"
	"fmt"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/notify"
	"orderengine/src/repository"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ConnectivityValidator probes credentials with an authenticated call and keeps
// their status in line with what the venue answers.
type ConnectivityValidator struct {
	store    Store
	adapters AdapterProvider
	users    Locker
	notifier notify.Notifier

	interval    time.Duration
	concurrency int
	now         func() time.Time
}

func NewConnectivityValidator(cfg Config, store Store, adapters AdapterProvider, users Locker, n notify.Notifier) *ConnectivityValidator {
	concurrency := cfg.ConnectivityConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &ConnectivityValidator{
		store:       store,
		adapters:    adapters,
		users:       users,
		notifier:    n,
		interval:    cfg.ConnectivityInterval,
		concurrency: concurrency,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (v *ConnectivityValidator) Name() string            { return "connectivity" }
func (v *ConnectivityValidator) Interval() time.Duration { return v.interval }

// RunOnce probes every credential, failed ones included so they can recover.
func (v *ConnectivityValidator) RunOnce(ctx context.Context) error {
	creds, err := v.store.CredentialsByStatus(ctx)
	if err != nil {
		return fmt.Errorf("list credentials: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(v.concurrency)
	for i := range creds {
		cred := &creds[i]
		g.Go(func() error {
			if _, err := v.validate(ctx, cred); err != nil {
				logger.WithFields(map[string]interface{}{
					"component":     "connectivity",
					"credential_id": cred.ID,
				}).WithError(err).Error("validation not recorded")
			}
			return nil
		})
	}
	return g.Wait()
}

// ValidateNow probes one credential and returns it with its new status.
func (v *ConnectivityValidator) ValidateNow(ctx context.Context, credentialID uint) (*model.ExchangeCredential, error) {
	cred, err := v.store.GetCredential(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("credential %d not found", credentialID)
	}
	return v.validate(ctx, cred)
}

// validate probes outside the user lock, then records the outcome against a
// fresh read of the credential under it.
func (v *ConnectivityValidator) validate(ctx context.Context, probed *model.ExchangeCredential) (*model.ExchangeCredential, error) {
	probeErr := v.probe(ctx, probed)

	unlock := v.users.Lock(probed.UserID)
	defer unlock()

	cred, err := v.store.GetCredential(ctx, probed.ID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("credential %d not found", probed.ID)
	}
	if cred.APIKeyEnc != probed.APIKeyEnc || cred.APISecretEnc != probed.APISecretEnc {
		// keys were rotated while the probe ran; the next pass judges the new ones
		return cred, nil
	}

	now := v.now()
	update := repository.CredentialStatusUpdate{ValidatedAt: &now}
	switch {
	case probeErr == nil:
		update.Status = model.CredentialStatusConnected
	case connectors.IsFatal(probeErr):
		kind, diagnosis := connectors.Diagnose(probeErr)
		update.Status = model.CredentialStatusFailed
		update.FailureReason = string(kind)
		update.Diagnosis = diagnosis
	default:
		// transient: the venue may be down, the key is not judged
		kind, diagnosis := connectors.Diagnose(probeErr)
		update.Status = cred.Status
		update.FailureReason = string(kind)
		update.Diagnosis = diagnosis
	}

	if err := v.store.SetCredentialStatus(ctx, cred.ID, update); err != nil {
		return nil, err
	}

	log := logger.WithFields(map[string]interface{}{
		"component":     "connectivity",
		"user_id":       cred.UserID,
		"credential_id": cred.ID,
		"venue":         cred.Venue,
		"status":        update.Status,
	})
	if probeErr != nil {
		log = log.WithError(probeErr)
	}
	switch {
	case update.Status == model.CredentialStatusFailed && cred.Status != model.CredentialStatusFailed:
		log.Warn("credential failed validation")
		notify.Send(ctx, v.notifier, notify.Event{
			Type:         notify.EventCredentialFailed,
			UserID:       cred.UserID,
			CredentialID: cred.ID,
			Venue:        cred.Venue,
			Kind:         update.FailureReason,
			Message:      update.Diagnosis,
		})
	case update.Status == model.CredentialStatusConnected && cred.Status != model.CredentialStatusConnected:
		log.Info("credential connected")
	case probeErr != nil:
		log.Warn("credential probe failed, status kept")
	default:
		log.Debug("credential validated")
	}

	cred.Status = update.Status
	cred.FailureReason = update.FailureReason
	cred.Diagnosis = update.Diagnosis
	cred.LastValidatedAt = &now
	return cred, nil
}

func (v *ConnectivityValidator) probe(ctx context.Context, cred *model.ExchangeCredential) error {
	adapter, err := v.adapters.For(cred)
	if err != nil {
		return err
	}
	return adapter.Probe(ctx)
}
