package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mailforge/models"
)

func TestSkipReason(t *testing.T) {
	unsubbed := makeLead(1, "gone@example.com")
	when := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	unsubbed.UnsubscribedAt = &when

	replied := makeLead(2, "replied@example.com")
	replied.Status = models.LeadStatusReplied

	reason, skip := skipReason(unsubbed)
	assert.True(t, skip)
	assert.Contains(t, reason, "unsubscribed at 2026-03-14")

	reason, skip = skipReason(replied)
	assert.True(t, skip)
	assert.Contains(t, reason, "already replied")

	for _, status := range []string{
		models.LeadStatusPending,
		models.LeadStatusContacted,
		models.LeadStatusBounced,
		models.LeadStatusInterested,
	} {
		lead := makeLead(3, "ok@example.com")
		lead.Status = status
		_, skip := skipReason(lead)
		assert.False(t, skip, "status %s is dispatchable", status)
	}
}

func TestMarkContacted(t *testing.T) {
	lead := makeLead(1, "a@example.com")
	assert.True(t, markContacted(lead))
	assert.Equal(t, models.LeadStatusContacted, lead.Status)

	// Terminal and externally-owned states are never overwritten.
	for _, status := range []string{
		models.LeadStatusContacted,
		models.LeadStatusReplied,
		models.LeadStatusBounced,
		models.LeadStatusInterested,
	} {
		lead := makeLead(2, "b@example.com")
		lead.Status = status
		assert.False(t, markContacted(lead))
		assert.Equal(t, status, lead.Status)
	}
}
