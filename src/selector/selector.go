package selector

import (
	"errors"
	"sort"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
)

var ErrNoExchangeAvailable = errors.New("no exchange account available")

var (
	productionBonus = decimal.NewFromInt(100)
	balanceWeight   = decimal.NewFromInt(50)
)

// Candidate is an eligible credential with its score.
type Candidate struct {
	Credential *model.ExchangeCredential
	Score      decimal.Decimal
}

type Selector struct {
	// BalanceScale is the balance at which the balance contribution reaches half its bound.
	BalanceScale decimal.Decimal
	VenueWeights map[model.Venue]decimal.Decimal
}

func New(cfg Config) *Selector {
	return &Selector{
		BalanceScale: decimal.NewFromFloat(cfg.BalanceScale),
		VenueWeights: cfg.Weights(),
	}
}

func (s *Selector) eligible(c *model.ExchangeCredential, requiredMargin decimal.Decimal) bool {
	return c.IsConnected() && c.BalanceAt != nil && c.AvailableBalance.GreaterThanOrEqual(requiredMargin)
}

// Score is environment + bounded balance + venue and credential preference.
func (s *Selector) Score(c *model.ExchangeCredential) decimal.Decimal {
	score := decimal.Zero
	if c.IsProduction() {
		score = score.Add(productionBonus)
	}

	avail := c.AvailableBalance
	if avail.IsPositive() {
		denom := avail.Add(s.BalanceScale)
		share := decimal.NewFromInt(1)
		if denom.IsPositive() {
			share = decimal.Min(avail.Div(denom), share)
		}
		score = score.Add(balanceWeight.Mul(share))
	}

	if w, ok := s.VenueWeights[c.Venue]; ok {
		score = score.Add(w)
	}
	return score.Add(c.PreferenceWeight)
}

// Rank returns eligible credentials best first. Ties break by venue name, then id.
func (s *Selector) Rank(creds []model.ExchangeCredential, requiredMargin decimal.Decimal) []Candidate {
	out := make([]Candidate, 0, len(creds))
	for i := range creds {
		c := &creds[i]
		if !s.eligible(c, requiredMargin) {
			continue
		}
		out = append(out, Candidate{Credential: c, Score: s.Score(c)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if cmp := out[i].Score.Cmp(out[j].Score); cmp != 0 {
			return cmp > 0
		}
		if out[i].Credential.Venue != out[j].Credential.Venue {
			return out[i].Credential.Venue < out[j].Credential.Venue
		}
		return out[i].Credential.ID < out[j].Credential.ID
	})
	return out
}

func (s *Selector) Select(creds []model.ExchangeCredential, requiredMargin decimal.Decimal) (Candidate, error) {
	ranked := s.Rank(creds, requiredMargin)
	if len(ranked) == 0 {
		return Candidate{}, ErrNoExchangeAvailable
	}
	return ranked[0], nil
}

// Reference picks the account the risk checks run against: the best connected
// credential that has a snapshot, regardless of the order's margin.
func (s *Selector) Reference(creds []model.ExchangeCredential) *model.ExchangeCredential {
	ranked := s.Rank(creds, decimal.Zero)
	if len(ranked) == 0 {
		return nil
	}
	return ranked[0].Credential
}
