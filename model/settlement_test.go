package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusInitiated, StatusValidating, true},
		{StatusInitiated, StatusExpired, true},
		{StatusInitiated, StatusProcessing, false},
		{StatusValidating, StatusProcessing, true},
		{StatusValidating, StatusFailed, true},
		{StatusValidating, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusExpired, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusExpired, StatusValidating, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(StatusCompleted))
	assert.True(t, IsTerminalStatus(StatusFailed))
	assert.True(t, IsTerminalStatus(StatusExpired))
	assert.False(t, IsTerminalStatus(StatusInitiated))
	assert.False(t, IsTerminalStatus(StatusValidating))
	assert.False(t, IsTerminalStatus(StatusProcessing))
}

func TestSLAForTier(t *testing.T) {
	assert.Equal(t, 4*time.Hour, SLAForTier(TierEmergency))
	assert.Equal(t, 2*time.Hour, SLAForTier(TierHigh))
	assert.Equal(t, 24*time.Hour, SLAForTier(TierNormal))
	assert.Equal(t, 72*time.Hour, SLAForTier(TierBatch))
	// Unknown tiers fall back to the NORMAL SLA.
	assert.Equal(t, 24*time.Hour, SLAForTier("RUSH"))
}

func TestSettlementTransition(t *testing.T) {
	s := &SettlementRequest{Reference: "set_1", Status: StatusInitiated}
	assert.NoError(t, s.Transition(StatusValidating))
	assert.Equal(t, StatusValidating, s.Status)
	assert.Error(t, s.Transition(StatusCompleted))
	assert.Equal(t, StatusValidating, s.Status)
}

func TestSettlementValidate(t *testing.T) {
	valid := SettlementRequest{
		Reference:    "set_valid",
		Amount:       1000,
		PriorityTier: TierNormal,
		Destination:  Destination{AccountNumber: "12345678"},
	}
	assert.NoError(t, valid.Validate())

	noAccount := valid
	noAccount.Destination.AccountNumber = ""
	assert.Error(t, noAccount.Validate())

	badTier := valid
	badTier.PriorityTier = "RUSH"
	assert.Error(t, badTier.Validate())

	zeroAmount := valid
	zeroAmount.Amount = 0
	assert.Error(t, zeroAmount.Validate())

	shortReference := valid
	shortReference.Reference = "s1"
	assert.Error(t, shortReference.Validate())
}
