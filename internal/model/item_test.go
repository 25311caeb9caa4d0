package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestItemStatus_Resolved(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status ItemStatus
		want   bool
	}{
		{ItemStatusPending, false},
		{ItemStatusLeased, false},
		{ItemStatusResolvedSuccess, true},
		{ItemStatusResolvedFailure, true},
		{ItemStatusResolvedUnknown, true},
		{ItemStatusResolvedError, true},
		{ItemStatus("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.status.Resolved())
		})
	}
}

func TestItemStatus_Valid(t *testing.T) {
	t.Parallel()
	assert.True(t, ItemStatusPending.Valid())
	assert.True(t, ItemStatusLeased.Valid())
	assert.True(t, ItemStatusResolvedError.Valid())
	assert.False(t, ItemStatus("").Valid())
}

func TestOutcome_StatusAndCacheable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ItemStatusResolvedSuccess, OutcomeSuccess.Status())
	assert.Equal(t, ItemStatusResolvedFailure, OutcomeFailure.Status())
	assert.Equal(t, ItemStatusResolvedUnknown, OutcomeUnknown.Status())
	assert.Equal(t, ItemStatusResolvedError, OutcomeError.Status())

	assert.True(t, OutcomeFailure.Cacheable())
	assert.False(t, OutcomeSuccess.Cacheable())
	assert.False(t, OutcomeUnknown.Cacheable())
	assert.False(t, OutcomeError.Cacheable())

	assert.False(t, Outcome(0).Valid())
	assert.False(t, Outcome(5).Valid())
	assert.Equal(t, "invalid", Outcome(9).String())
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := Fingerprint("alpha|beta")
	assert.Len(t, a, 64)
	assert.Equal(t, a, Fingerprint("  alpha|beta\n"))
	assert.NotEqual(t, a, Fingerprint("alpha|gamma"))

	// "é" precomposed vs. e + combining acute accent.
	assert.Equal(t, Fingerprint("caf\u00e9"), Fingerprint("cafe\u0301"))
}

func TestItemMetadata_Empty(t *testing.T) {
	t.Parallel()
	assert.True(t, ItemMetadata{}.Empty())
	assert.False(t, ItemMetadata{Locale: "US"}.Empty())
}
