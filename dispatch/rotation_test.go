package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailforge/models"
)

func TestRotatorRoundRobin(t *testing.T) {
	a1 := makeAccount(1, 50)
	a2 := makeAccount(2, 50)
	a3 := makeAccount(3, 50)
	r := NewAccountRotator([]*models.SenderAccount{a1, a2, a3})

	var picked []uint
	for i := 0; i < 4; i++ {
		lead := makeLead(uint(100+i), "x@example.com")
		a, err := r.Pick(lead)
		require.NoError(t, err)
		picked = append(picked, a.ID)
	}
	assert.Equal(t, []uint{1, 2, 3, 1}, picked)
}

func TestRotatorSkipsExhaustedAccounts(t *testing.T) {
	a1 := makeAccount(1, 2)
	a1.SentToday = 2
	a2 := makeAccount(2, 50)
	r := NewAccountRotator([]*models.SenderAccount{a1, a2})

	a, err := r.Pick(makeLead(100, "x@example.com"))
	require.NoError(t, err)
	assert.Equal(t, uint(2), a.ID)
}

func TestRotatorStickyAssignment(t *testing.T) {
	a1 := makeAccount(1, 50)
	a2 := makeAccount(2, 50)
	r := NewAccountRotator([]*models.SenderAccount{a1, a2})

	lead := makeLead(100, "x@example.com")
	assigned := a2.ID
	lead.AssignedAccountID = &assigned

	for i := 0; i < 3; i++ {
		a, err := r.Pick(lead)
		require.NoError(t, err)
		assert.Equal(t, a2.ID, a.ID, "assigned account is reused while it has quota")
	}
}

func TestRotatorStickyFallsBackWhenExhausted(t *testing.T) {
	a1 := makeAccount(1, 50)
	a2 := makeAccount(2, 1)
	a2.SentToday = 1
	r := NewAccountRotator([]*models.SenderAccount{a1, a2})

	lead := makeLead(100, "x@example.com")
	assigned := a2.ID
	lead.AssignedAccountID = &assigned

	a, err := r.Pick(lead)
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a.ID)
	require.NotNil(t, lead.AssignedAccountID)
	assert.Equal(t, a1.ID, *lead.AssignedAccountID, "the new assignment replaces the exhausted one")
}

func TestRotatorQuotaExhausted(t *testing.T) {
	a1 := makeAccount(1, 1)
	a1.SentToday = 1
	r := NewAccountRotator([]*models.SenderAccount{a1})

	_, err := r.Pick(makeLead(100, "x@example.com"))
	assert.ErrorIs(t, err, ErrQuotaExhausted)
	assert.False(t, r.HasAvailable())
}

func TestConfirmSendCountsUsage(t *testing.T) {
	a := makeAccount(1, 2)
	r := NewAccountRotator([]*models.SenderAccount{a})

	r.ConfirmSend(a)
	assert.Equal(t, 1, a.SentToday)
	assert.Equal(t, 1, a.TotalSent)
	assert.True(t, a.HasQuota())
	assert.Equal(t, 1, a.Remaining())

	r.ConfirmSend(a)
	assert.False(t, a.HasQuota())
	assert.Zero(t, a.Remaining())
}
