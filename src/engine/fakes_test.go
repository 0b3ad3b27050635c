package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"orderengine/src/connectors"
	"orderengine/src/model"
	"orderengine/src/notify"
	"orderengine/src/repository"
	"orderengine/src/resilience"
	"orderengine/src/risk"
	"orderengine/src/selector"

	"github.com/shopspring/decimal"
)

// memStore keeps the engine's tables in memory with the same guards as the
// gorm store: terminal executions and closed positions are never rewritten,
// except for a commission backfilled after the fill.
type memStore struct {
	mu sync.Mutex

	users       map[uint]*model.User
	creds       map[uint]*model.ExchangeCredential
	executions  map[uint]*model.OrderExecution
	positions   map[uint]*model.Position
	violations  []model.RiskViolation
	credUpdates []repository.CredentialStatusUpdate
	captured    []error

	nextID         uint
	failCompletion error
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[uint]*model.User),
		creds:      make(map[uint]*model.ExchangeCredential),
		executions: make(map[uint]*model.OrderExecution),
		positions:  make(map[uint]*model.Position),
		nextID:     100,
	}
}

func (s *memStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *memStore) addUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.Status == "" {
		u.Status = model.UserStatusActive
	}
	s.users[u.ID] = u
}

func (s *memStore) addCredential(c *model.ExchangeCredential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.ID] = c
}

func (s *memStore) addPosition(p *model.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	s.positions[p.ID] = p
}

func (s *memStore) GetUser(_ context.Context, userID uint) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) GetCredential(_ context.Context, id uint) (*model.ExchangeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) UserCredentials(_ context.Context, userID uint) ([]model.ExchangeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ExchangeCredential
	for _, c := range s.creds {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) SetCredentialStatus(_ context.Context, id uint, u repository.CredentialStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return errors.New("no credential")
	}
	c.Status = u.Status
	c.FailureReason = u.FailureReason
	c.Diagnosis = u.Diagnosis
	s.credUpdates = append(s.credUpdates, u)
	return nil
}

func (s *memStore) CountActivePositions(_ context.Context, userID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.positions {
		if p.UserID == userID && p.Active {
			n++
		}
	}
	return n, nil
}

func (s *memStore) CountPendingOpens(_ context.Context, userID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.executions {
		if e.UserID == userID && e.Status == model.ExecutionStatusPending && e.Purpose == model.ExecutionPurposeOpen {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ExecutedNotionalSince(_ context.Context, userID uint, since time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, e := range s.executions {
		if e.UserID == userID && e.Status == model.ExecutionStatusExecuted &&
			e.Purpose == model.ExecutionPurposeOpen && e.ExecutedAt != nil && !e.ExecutedAt.Before(since) {
			total = total.Add(e.Notional)
		}
	}
	return total, nil
}

func (s *memStore) RecordViolation(_ context.Context, v *model.RiskViolation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.id()
	s.violations = append(s.violations, *v)
	return nil
}

func (s *memStore) CreateExecution(_ context.Context, e *model.OrderExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.executions {
		if other.ClientOrderID == e.ClientOrderID {
			return errors.New("duplicate client order id")
		}
	}
	e.ID = s.id()
	e.Status = model.ExecutionStatusPending
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	cp := *e
	s.executions[e.ID] = &cp
	return nil
}

func (s *memStore) FailExecution(_ context.Context, id uint, kind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.executions[id]
	if !ok || e.Status != model.ExecutionStatusPending {
		return repository.ErrStaleWrite
	}
	e.Status = model.ExecutionStatusFailed
	e.ErrorKind = kind
	e.ErrorDetail = &detail
	return nil
}

func (s *memStore) PendingExecutions(_ context.Context, olderThan time.Time, limit int) ([]model.OrderExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderExecution
	for _, e := range s.executions {
		if e.Status == model.ExecutionStatusPending && e.CreatedAt.Before(olderThan) {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) PendingClose(_ context.Context, positionID uint) (*model.OrderExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.executions {
		if e.PositionID != nil && *e.PositionID == positionID &&
			e.Purpose == model.ExecutionPurposeClose && e.Status == model.ExecutionStatusPending {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *memStore) ExecutionHistory(_ context.Context, userID uint, from, to time.Time) ([]model.OrderExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderExecution
	for _, e := range s.executions {
		if e.UserID != userID {
			continue
		}
		if !from.IsZero() && e.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && e.CreatedAt.After(to) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}

func (s *memStore) GetPosition(_ context.Context, id uint) (*model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ActivePositions(_ context.Context, userID uint) ([]model.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Position
	for _, p := range s.positions {
		if p.UserID == userID && p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *memStore) markExecuted(exec *model.OrderExecution) error {
	stored, ok := s.executions[exec.ID]
	if !ok || stored.Status != model.ExecutionStatusPending {
		return repository.ErrStaleWrite
	}
	stored.Status = model.ExecutionStatusExecuted
	stored.VenueOrderID = exec.VenueOrderID
	stored.FilledQuantity = exec.FilledQuantity
	stored.AvgFillPrice = exec.AvgFillPrice
	stored.Commission = exec.Commission
	stored.Notional = exec.Notional
	stored.ExecutedAt = exec.ExecutedAt
	exec.Status = model.ExecutionStatusExecuted
	return nil
}

func (s *memStore) CompleteOpen(_ context.Context, exec *model.OrderExecution, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCompletion != nil {
		return s.failCompletion
	}
	if err := s.markExecuted(exec); err != nil {
		return err
	}
	pos.ID = s.id()
	pos.OpenExecutionID = exec.ID
	pos.Active = true
	cp := *pos
	s.positions[pos.ID] = &cp
	return nil
}

func (s *memStore) CompleteClose(_ context.Context, exec *model.OrderExecution, pos *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCompletion != nil {
		return s.failCompletion
	}
	stored, ok := s.positions[pos.ID]
	if !ok || !stored.Active {
		return repository.ErrStaleWrite
	}
	if err := s.markExecuted(exec); err != nil {
		return err
	}
	stored.Active = false
	stored.CloseReason = pos.CloseReason
	stored.RealizedPnL = pos.RealizedPnL
	stored.LastPrice = pos.LastPrice
	stored.CloseExecutionID = &exec.ID
	stored.ClosedAt = exec.ExecutedAt
	return nil
}

func (s *memStore) ReducePosition(_ context.Context, exec *model.OrderExecution, pos *model.Position, previousSize decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCompletion != nil {
		return s.failCompletion
	}
	stored, ok := s.positions[pos.ID]
	if !ok || !stored.Active || !stored.Size.Equal(previousSize) {
		return repository.ErrStaleWrite
	}
	if err := s.markExecuted(exec); err != nil {
		return err
	}
	stored.Size = pos.Size
	stored.RealizedPnL = pos.RealizedPnL
	stored.LastPrice = pos.LastPrice
	return nil
}

func (s *memStore) ExecutionsMissingCommission(_ context.Context, since time.Time, limit int) ([]model.OrderExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderExecution
	for _, e := range s.executions {
		if e.Status == model.ExecutionStatusExecuted && e.Commission.IsZero() &&
			e.FilledQuantity.IsPositive() && e.ExecutedAt != nil && !e.ExecutedAt.Before(since) {
			out = append(out, *e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) BackfillCommission(_ context.Context, exec *model.OrderExecution, commission decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.executions[exec.ID]
	if !ok || stored.Status != model.ExecutionStatusExecuted || !stored.Commission.IsZero() {
		return repository.ErrStaleWrite
	}
	stored.Commission = commission
	if exec.Purpose == model.ExecutionPurposeClose && exec.PositionID != nil {
		if p, ok := s.positions[*exec.PositionID]; ok {
			p.RealizedPnL = p.RealizedPnL.Sub(commission)
		}
	}
	return nil
}

func (s *memStore) Capture(_ context.Context, _, _ string, err error, _ map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.captured = append(s.captured, err)
}

func (s *memStore) executionsByStatus(status string) []model.OrderExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OrderExecution
	for _, e := range s.executions {
		if e.Status == status {
			out = append(out, *e)
		}
	}
	return out
}

func (s *memStore) allExecutions() []model.OrderExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OrderExecution, 0, len(s.executions))
	for _, e := range s.executions {
		out = append(out, *e)
	}
	return out
}

func (s *memStore) violationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.violations)
}

// fakeAdapter scripts venue answers. Unset funcs fill the order completely at price.
type fakeAdapter struct {
	venue model.Venue
	price decimal.Decimal

	submitFn func(call int, p connectors.OrderParams) (*connectors.ExecutionResult, error)
	queryFn  func(clientOrderID string) (*connectors.ExecutionResult, error)

	mu          sync.Mutex
	submits     []connectors.OrderParams
	leverages   []int
	cancels     []string
	submitCalls int32
}

func filled(p connectors.OrderParams, price decimal.Decimal) *connectors.ExecutionResult {
	return &connectors.ExecutionResult{
		VenueOrderID:   "v-" + p.ClientOrderID,
		ClientOrderID:  p.ClientOrderID,
		Status:         connectors.OrderStatusFilled,
		FilledQuantity: p.Quantity,
		AvgPrice:       price,
		UpdatedAt:      time.Now().UTC(),
	}
}

func (a *fakeAdapter) Venue() model.Venue {
	return a.venue
}

func (a *fakeAdapter) Probe(context.Context) error {
	return nil
}

func (a *fakeAdapter) FetchBalance(context.Context) (*connectors.Balance, error) {
	return &connectors.Balance{Asset: "USDT"}, nil
}

func (a *fakeAdapter) SetLeverage(_ context.Context, _ string, leverage int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.leverages = append(a.leverages, leverage)
	return nil
}

func (a *fakeAdapter) SubmitOrder(_ context.Context, p connectors.OrderParams) (*connectors.ExecutionResult, error) {
	call := int(atomic.AddInt32(&a.submitCalls, 1))
	a.mu.Lock()
	a.submits = append(a.submits, p)
	a.mu.Unlock()
	if a.submitFn != nil {
		return a.submitFn(call, p)
	}
	return filled(p, a.price), nil
}

func (a *fakeAdapter) CancelOrder(_ context.Context, _ string, clientOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels = append(a.cancels, clientOrderID)
	return nil
}

func (a *fakeAdapter) QueryOrder(_ context.Context, _ string, clientOrderID string) (*connectors.ExecutionResult, error) {
	if a.queryFn != nil {
		return a.queryFn(clientOrderID)
	}
	return nil, connectors.ErrOrderNotFound
}

func (a *fakeAdapter) LastPrice(context.Context, string) (decimal.Decimal, error) {
	return a.price, nil
}

func (a *fakeAdapter) submitted() []connectors.OrderParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]connectors.OrderParams(nil), a.submits...)
}

// fakeAdapters returns the adapter registered for a credential id.
type fakeAdapters map[uint]*fakeAdapter

func (f fakeAdapters) For(cred *model.ExchangeCredential) (connectors.Adapter, error) {
	a, ok := f[cred.ID]
	if !ok {
		return nil, errors.New("no adapter")
	}
	return a, nil
}

// fixedPrice serves the same reference price for every symbol.
type fixedPrice decimal.Decimal

func (p fixedPrice) LastPrice(context.Context, *model.ExchangeCredential, string) (decimal.Decimal, error) {
	return decimal.Decimal(p), nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(_ context.Context, e notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

const (
	testUser    uint = 1
	binanceCred uint = 11
	bybitCred   uint = 12
)

// harness wires a coordinator to one user holding a Binance and a Bybit
// credential, both connected with a fresh 10000 USDT snapshot. Binance ranks first.
type harness struct {
	store    *memStore
	binance  *fakeAdapter
	bybit    *fakeAdapter
	breakers *resilience.BreakerSet
	notes    *recorder
	arena    *Arena
	coord    *Coordinator
}

func newHarness(cfg Config) *harness {
	h := &harness{
		store:    newMemStore(),
		binance:  &fakeAdapter{venue: model.VenueBinance, price: dec("50000")},
		bybit:    &fakeAdapter{venue: model.VenueBybit, price: dec("50000")},
		breakers: resilience.NewBreakerSet(resilience.BreakerSettings{FailureThreshold: 5, SuccessThreshold: 1, CoolDown: time.Minute}),
		notes:    &recorder{},
		arena:    NewArena(),
	}

	now := time.Now().UTC()
	h.store.addUser(&model.User{ID: testUser, Email: "trader@example.com"})
	for _, c := range []*model.ExchangeCredential{
		{ID: binanceCred, Venue: model.VenueBinance},
		{ID: bybitCred, Venue: model.VenueBybit},
	} {
		c.UserID = testUser
		c.Environment = model.EnvironmentProduction
		c.Status = model.CredentialStatusConnected
		c.AvailableBalance = dec("10000")
		c.TotalBalance = dec("10000")
		c.BalanceAt = &now
		h.store.addCredential(c)
	}

	if cfg.MaxCredentialAttempts == 0 {
		cfg.MaxCredentialAttempts = 2
	}
	if cfg.CloseTimeout == 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	if cfg.QueryTimeout == 0 {
		cfg.QueryTimeout = 5 * time.Second
	}

	h.coord = NewCoordinator(cfg, h.deps(), h.arena)
	var seq int32
	h.coord.newClientOrderID = func() string {
		return fmt.Sprintf("cid-%d", atomic.AddInt32(&seq, 1))
	}
	return h
}

func (h *harness) deps() Deps {
	return Deps{
		Store:    h.store,
		Adapters: fakeAdapters{binanceCred: h.binance, bybitCred: h.bybit},
		Prices:   fixedPrice(dec("50000")),
		Validator: risk.NewValidator(risk.Limits{
			MaxLeverage:            10,
			MaxPositionPct:         dec("50"),
			MaxConcurrentPositions: 2,
			DailyVolumeCap:         dec("100000"),
			MinBalance:             dec("10"),
			Staleness:              3 * time.Minute,
		}),
		Selector: selector.New(selector.Config{
			BalanceScale:  1000,
			VenuePriority: map[string]float64{"binance": 5, "bybit": 0},
		}),
		Breakers:        h.breakers,
		Retry:           resilience.RetryPolicy{MaxRetries: 2},
		Notifier:        h.notes,
		DefaultLeverage: 1,
	}
}

// longBTC is 0.01 BTC at 50000: 500 notional and margin at 1x.
func longBTC() model.OrderRequest {
	return model.OrderRequest{
		Symbol:   "BTCUSD",
		Side:     model.SideLong,
		Sizing:   model.Quantity(dec("0.01")),
		Kind:     model.OrderKindMarket,
		StopLoss: decPtr("48000"),
		Leverage: 1,
	}
}

func timeoutErr(venue model.Venue) error {
	return &connectors.ExchangeError{Venue: venue, Kind: connectors.KindTimeout, Message: "network timeout"}
}
