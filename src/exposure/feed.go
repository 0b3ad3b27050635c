package exposure

import (
	"sync"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

// VenueExposure is one credential's share of a user's exposure.
type VenueExposure struct {
	CredentialID     uint            `json:"credential_id"`
	Venue            model.Venue     `json:"venue"`
	Status           string          `json:"status"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	Notional         decimal.Decimal `json:"notional"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	Positions        int             `json:"positions"`
}

// Snapshot is a user's aggregated exposure at one point in time.
type Snapshot struct {
	UserID           uint            `json:"user_id"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	TotalBalance     decimal.Decimal `json:"total_balance"`
	Notional         decimal.Decimal `json:"notional"`
	UnrealizedPnL    decimal.Decimal `json:"unrealized_pnl"`
	Positions        int             `json:"positions"`
	Venues           []VenueExposure `json:"venues"`
	At               time.Time       `json:"at"`
}

// Aggregate builds a snapshot from a user's credentials and active positions.
// Balances only count for connected credentials.
func Aggregate(userID uint, creds []model.ExchangeCredential, positions []model.Position, at time.Time) Snapshot {
	snap := Snapshot{UserID: userID, At: at}
	byCred := make(map[uint]int, len(creds))
	for _, c := range creds {
		v := VenueExposure{CredentialID: c.ID, Venue: c.Venue, Status: c.Status}
		if c.IsConnected() {
			v.AvailableBalance = c.AvailableBalance
			v.TotalBalance = c.TotalBalance
			snap.AvailableBalance = snap.AvailableBalance.Add(c.AvailableBalance)
			snap.TotalBalance = snap.TotalBalance.Add(c.TotalBalance)
		}
		byCred[c.ID] = len(snap.Venues)
		snap.Venues = append(snap.Venues, v)
	}

	for i := range positions {
		p := &positions[i]
		if !p.Active {
			continue
		}
		notional := p.Notional()
		snap.Notional = snap.Notional.Add(notional)
		snap.UnrealizedPnL = snap.UnrealizedPnL.Add(p.UnrealizedPnL)
		snap.Positions++
		if idx, ok := byCred[p.CredentialID]; ok {
			v := &snap.Venues[idx]
			v.Notional = v.Notional.Add(notional)
			v.UnrealizedPnL = v.UnrealizedPnL.Add(p.UnrealizedPnL)
			v.Positions++
		}
	}
	return snap
}

// Feed keeps the latest snapshot per user and fans new ones out to subscribers.
// Publishing never blocks: a subscriber that falls behind misses snapshots.
type Feed struct {
	mu     sync.RWMutex
	latest map[uint]Snapshot
	subs   map[uint][]chan Snapshot
}

func NewFeed() *Feed {
	return &Feed{
		latest: make(map[uint]Snapshot),
		subs:   make(map[uint][]chan Snapshot),
	}
}

func (f *Feed) Publish(s Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latest[s.UserID] = s
	for _, ch := range f.subs[s.UserID] {
		select {
		case ch <- s:
		default:
			logger.WithFields(map[string]interface{}{
				"component": "exposure",
				"user_id":   s.UserID,
			}).Debug("slow subscriber, snapshot dropped")
		}
	}
}

func (f *Feed) Latest(userID uint) (Snapshot, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.latest[userID]
	return s, ok
}

// Subscribe returns a channel of the user's snapshots and its cancel func.
// The latest snapshot, if any, is delivered first. Cancel closes the channel.
func (f *Feed) Subscribe(userID uint, buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	f.mu.Lock()
	if s, ok := f.latest[userID]; ok {
		ch <- s
	}
	f.subs[userID] = append(f.subs[userID], ch)
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			subs := f.subs[userID]
			for i, c := range subs {
				if c == ch {
					f.subs[userID] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			if len(f.subs[userID]) == 0 {
				delete(f.subs, userID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Forget drops a user's latest snapshot, e.g. when nothing is left to report.
func (f *Feed) Forget(userID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.latest, userID)
}
