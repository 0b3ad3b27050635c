package accounts

import (
	"context"
	"fmt"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/exposure"
	"orderengine/src/model"
	"orderengine/src/notify"
	"orderengine/src/repository"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const KindBalanceSyncFailure = "BalanceSyncFailure"

type BalanceDeps struct {
	Store    Store
	Adapters AdapterProvider
	Users    UserState
	Feed     *exposure.Feed
	Notifier notify.Notifier
}

// BalanceSynchronizer refreshes the balance snapshot of every connected
// credential and republishes each user's exposure.
type BalanceSynchronizer struct {
	store    Store
	adapters AdapterProvider
	users    UserState
	feed     *exposure.Feed
	notifier notify.Notifier

	interval     time.Duration
	failureLimit int
	concurrency  int
	now          func() time.Time
}

func NewBalanceSynchronizer(cfg Config, deps BalanceDeps) *BalanceSynchronizer {
	limit := cfg.BalanceFailureLimit
	if limit <= 0 {
		limit = 3
	}
	concurrency := cfg.BalanceSyncConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	n := deps.Notifier
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &BalanceSynchronizer{
		store:        deps.Store,
		adapters:     deps.Adapters,
		users:        deps.Users,
		feed:         deps.Feed,
		notifier:     n,
		interval:     cfg.BalanceSyncInterval,
		failureLimit: limit,
		concurrency:  concurrency,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *BalanceSynchronizer) Name() string            { return "balance_sync" }
func (s *BalanceSynchronizer) Interval() time.Duration { return s.interval }

// RunOnce syncs all connected credentials, users in parallel and one user's
// credentials in sequence under that user's lock.
func (s *BalanceSynchronizer) RunOnce(ctx context.Context) error {
	creds, err := s.store.CredentialsByStatus(ctx, model.CredentialStatusConnected)
	if err != nil {
		return fmt.Errorf("list connected credentials: %w", err)
	}

	byUser := make(map[uint][]model.ExchangeCredential)
	var order []uint
	for _, c := range creds {
		if _, seen := byUser[c.UserID]; !seen {
			order = append(order, c.UserID)
		}
		byUser[c.UserID] = append(byUser[c.UserID], c)
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, userID := range order {
		userCreds := byUser[userID]
		g.Go(func() error {
			s.syncUser(ctx, userID, userCreds)
			return nil
		})
	}
	return g.Wait()
}

func (s *BalanceSynchronizer) syncUser(ctx context.Context, userID uint, creds []model.ExchangeCredential) {
	unlock := s.users.Lock(userID)
	defer unlock()

	for i := range creds {
		if ctx.Err() != nil {
			return
		}
		s.syncCredential(ctx, &creds[i])
	}
	s.publish(ctx, userID)
}

func (s *BalanceSynchronizer) syncCredential(ctx context.Context, cred *model.ExchangeCredential) {
	log := logger.WithFields(map[string]interface{}{
		"component":     "balance_sync",
		"user_id":       cred.UserID,
		"credential_id": cred.ID,
		"venue":         cred.Venue,
	})

	err := s.fetch(ctx, cred)
	if err == nil {
		s.users.ResetBalanceFailures(cred.UserID, cred.ID)
		return
	}

	failures := s.users.RecordBalanceFailure(cred.UserID, cred.ID)
	log.WithError(err).WithField("failures", failures).Warn("balance refresh failed")
	if failures >= s.failureLimit {
		s.markFailed(ctx, cred, failures, err)
		s.users.ResetBalanceFailures(cred.UserID, cred.ID)
	}
}

func (s *BalanceSynchronizer) fetch(ctx context.Context, cred *model.ExchangeCredential) error {
	adapter, err := s.adapters.For(cred)
	if err != nil {
		return err
	}
	bal, err := adapter.FetchBalance(ctx)
	if err != nil {
		return err
	}
	return s.store.UpdateBalance(ctx, cred.ID, bal.Available, bal.Total, s.now())
}

func (s *BalanceSynchronizer) markFailed(ctx context.Context, cred *model.ExchangeCredential, failures int, cause error) {
	kind, diagnosis := connectors.Diagnose(cause)
	now := s.now()
	log := logger.WithFields(map[string]interface{}{
		"component":     "balance_sync",
		"user_id":       cred.UserID,
		"credential_id": cred.ID,
	})

	err := s.store.SetCredentialStatus(ctx, cred.ID, repository.CredentialStatusUpdate{
		Status:        model.CredentialStatusFailed,
		FailureReason: string(kind),
		Diagnosis:     diagnosis,
		ValidatedAt:   &now,
	})
	if err != nil {
		log.WithError(err).Error("mark credential failed")
	}

	description := fmt.Sprintf("%s balance refresh failed %d times in a row: %s", cred.Venue, failures, diagnosis)
	if err := s.store.RecordViolation(ctx, &model.RiskViolation{
		UserID:      cred.UserID,
		Kind:        KindBalanceSyncFailure,
		Description: description,
		Severity:    model.SeverityHigh,
	}); err != nil {
		log.WithError(err).Error("record balance sync violation")
	}

	log.WithField("reason", kind).Error("credential marked failed after repeated balance errors")
	notify.Send(ctx, s.notifier, notify.Event{
		Type:         notify.EventCredentialFailed,
		UserID:       cred.UserID,
		CredentialID: cred.ID,
		Venue:        cred.Venue,
		Kind:         KindBalanceSyncFailure,
		Message:      description,
	})
}

func (s *BalanceSynchronizer) publish(ctx context.Context, userID uint) {
	if s.feed == nil {
		return
	}
	creds, err := s.store.UserCredentials(ctx, userID)
	if err != nil {
		logger.WithField("user_id", userID).WithError(err).Warn("exposure: load credentials")
		return
	}
	positions, err := s.store.ActivePositions(ctx, userID)
	if err != nil {
		logger.WithField("user_id", userID).WithError(err).Warn("exposure: load positions")
		return
	}
	s.feed.Publish(exposure.Aggregate(userID, creds, positions, s.now()))
}
