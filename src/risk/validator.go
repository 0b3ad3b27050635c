package risk

import (
	"errors"
	"fmt"
	"time"

	"orderengine/src/model"

	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindUserInactive          Kind = "UserInactive"
	KindInsufficientBalance   Kind = "InsufficientBalance"
	KindPositionLimitExceeded Kind = "PositionLimitExceeded"
	KindLeverageExceeded      Kind = "LeverageExceeded"
	KindMissingStopLoss       Kind = "MissingStopLoss"
	KindDailyVolumeExceeded   Kind = "DailyVolumeExceeded"
)

var hundred = decimal.NewFromInt(100)

// ValidationError is a terminal rejection of one request. It is never retried.
type ValidationError struct {
	Kind        Kind
	Description string
	Severity    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Description)
}

// Violation converts the rejection into its persisted log entry.
func (e *ValidationError) Violation(userID uint) *model.RiskViolation {
	return &model.RiskViolation{
		UserID:      userID,
		Kind:        string(e.Kind),
		Description: e.Description,
		Severity:    e.Severity,
	}
}

func AsValidationError(err error) (*ValidationError, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr, true
	}
	return nil, false
}

func reject(kind Kind, severity, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Kind: kind, Description: fmt.Sprintf(format, args...), Severity: severity}
}

// Limits are the effective thresholds for one user.
type Limits struct {
	MaxLeverage            int
	MaxPositionPct         decimal.Decimal
	MaxConcurrentPositions int
	DailyVolumeCap         decimal.Decimal
	MinBalance             decimal.Decimal
	Staleness              time.Duration
}

// For overlays the non-zero fields of a user's profile on the defaults.
func (l Limits) For(profile model.RiskProfile) Limits {
	out := l
	if profile.MaxLeverage > 0 {
		out.MaxLeverage = profile.MaxLeverage
	}
	if profile.MaxPositionPct.IsPositive() {
		out.MaxPositionPct = profile.MaxPositionPct
	}
	if profile.MaxConcurrentPositions > 0 {
		out.MaxConcurrentPositions = profile.MaxConcurrentPositions
	}
	if profile.DailyVolumeCap.IsPositive() {
		out.DailyVolumeCap = profile.DailyVolumeCap
	}
	if profile.MinBalance.IsPositive() {
		out.MinBalance = profile.MinBalance
	}
	return out
}

// Snapshot is the user state a request is judged against, read under the user lock.
type Snapshot struct {
	User                  *model.User
	Account               *model.ExchangeCredential // reference account, nil when none is connected
	ActivePositions       int
	ExecutedNotionalToday decimal.Decimal
	Now                   time.Time
}

type Validator struct {
	defaults Limits
}

func NewValidator(defaults Limits) *Validator {
	return &Validator{defaults: defaults}
}

func (v *Validator) LimitsFor(user *model.User) Limits {
	if user == nil {
		return v.defaults
	}
	return v.defaults.For(user.RiskProfile)
}

// Validate runs the layers in order and stops at the first failure.
// It returns nil when the order is approved, otherwise a *ValidationError.
func (v *Validator) Validate(order Order, snap Snapshot) error {
	if vErr := v.validate(order, snap); vErr != nil {
		return vErr
	}
	return nil
}

func (v *Validator) validate(order Order, snap Snapshot) *ValidationError {
	if !snap.User.IsActive() {
		return reject(KindUserInactive, model.SeverityMedium, "user is not active")
	}
	limits := v.LimitsFor(snap.User)

	acct := snap.Account
	if acct == nil {
		return reject(KindInsufficientBalance, model.SeverityLow, "no connected exchange account with a balance snapshot")
	}
	age, ok := acct.SnapshotAge(snap.Now)
	if !ok {
		return reject(KindInsufficientBalance, model.SeverityLow, "account %d has no balance snapshot", acct.ID)
	}
	if limits.Staleness > 0 && age > limits.Staleness {
		return reject(KindInsufficientBalance, model.SeverityLow,
			"balance snapshot of account %d is %s old, limit %s", acct.ID, age.Truncate(time.Second), limits.Staleness)
	}
	if acct.AvailableBalance.LessThan(limits.MinBalance) {
		return reject(KindInsufficientBalance, model.SeverityLow,
			"available balance %s is below the minimum %s", acct.AvailableBalance.StringFixed(2), limits.MinBalance.StringFixed(2))
	}

	if snap.ActivePositions >= limits.MaxConcurrentPositions {
		return reject(KindPositionLimitExceeded, model.SeverityLow,
			"%d active positions, limit %d", snap.ActivePositions, limits.MaxConcurrentPositions)
	}

	if order.Leverage > limits.MaxLeverage {
		return reject(KindLeverageExceeded, model.SeverityMedium,
			"leverage %dx exceeds cap %dx", order.Leverage, limits.MaxLeverage)
	}

	capAmount := acct.AvailableBalance.Mul(limits.MaxPositionPct).Div(hundred)
	if order.Margin.GreaterThan(capAmount) {
		return reject(KindInsufficientBalance, model.SeverityMedium,
			"required margin %s exceeds %s%% of balance (%s)",
			order.Margin.StringFixed(2), limits.MaxPositionPct.String(), capAmount.StringFixed(2))
	}

	if order.StopLoss == nil {
		return reject(KindMissingStopLoss, model.SeverityHigh, "stop-loss is mandatory")
	}
	if !stopLossOnLosingSide(order.Side, *order.StopLoss, order.Price) {
		return reject(KindMissingStopLoss, model.SeverityHigh,
			"stop-loss %s is not below/above the %s entry %s", order.StopLoss.String(), order.Side, order.Price.String())
	}

	if limits.DailyVolumeCap.IsPositive() {
		total := snap.ExecutedNotionalToday.Add(order.Notional)
		if total.GreaterThan(limits.DailyVolumeCap) {
			return reject(KindDailyVolumeExceeded, model.SeverityMedium,
				"daily notional %s would exceed cap %s", total.StringFixed(2), limits.DailyVolumeCap.StringFixed(2))
		}
	}
	return nil
}

func stopLossOnLosingSide(side model.Side, stopLoss, price decimal.Decimal) bool {
	if side == model.SideShort {
		return stopLoss.GreaterThan(price)
	}
	return stopLoss.LessThan(price)
}
