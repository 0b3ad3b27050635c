package connectors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"orderengine/src/model"

	"github.com/stretchr/testify/assert"
)

func TestExchangeError_Classification(t *testing.T) {
	cases := []struct {
		kind      ErrorKind
		status    int
		fatal     bool
		retryable bool
	}{
		{KindInvalidKey, 401, true, false},
		{KindBadSignature, 400, true, false},
		{KindAddressNotAllowListed, 401, true, false},
		{KindPermissionDenied, 403, true, false},
		{KindRateLimited, 429, false, true},
		{KindTimeout, 0, false, true},
		{KindUnknown, 503, false, true},
		{KindUnknown, 400, false, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s_%d", tc.kind, tc.status), func(t *testing.T) {
			err := &ExchangeError{Venue: model.VenueBinance, Kind: tc.kind, HTTPStatus: tc.status}
			assert.Equal(t, tc.fatal, err.Fatal())
			assert.Equal(t, tc.retryable, err.Retryable())
			assert.NotEmpty(t, err.Diagnosis())
		})
	}
}

func TestExchangeError_AllowListDiagnosis(t *testing.T) {
	err := fmt.Errorf("submit: %w", &ExchangeError{Venue: model.VenueBybit, Kind: KindAddressNotAllowListed, Code: 10010})

	kind, text := Diagnose(err)
	assert.Equal(t, KindAddressNotAllowListed, kind)
	assert.Contains(t, text, "allow-list")
	assert.True(t, IsFatal(err))
	assert.False(t, IsRetryable(err))
}

func TestTransportError_CanceledIsNotRetryable(t *testing.T) {
	canceled := transportError(model.VenueBinance, context.Canceled)
	deadline := transportError(model.VenueBinance, context.DeadlineExceeded)

	assert.Equal(t, KindTimeout, canceled.Kind)
	assert.False(t, canceled.Retryable())
	assert.True(t, deadline.Retryable())
	assert.True(t, errors.Is(deadline, context.DeadlineExceeded))
}

func TestDiagnose_PlainError(t *testing.T) {
	kind, text := Diagnose(errors.New("boom"))
	assert.Equal(t, KindUnknown, kind)
	assert.Equal(t, "boom", text)
}
