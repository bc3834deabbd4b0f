package dispatch

import (
	"fmt"

	"mailforge/models"
)

// skipReason reports why a lead must not be contacted at all this run.
// Skipped leads get an error-type ledger entry for visibility but no webhook
// or relay call is ever made for them.
func skipReason(lead *models.Lead) (string, bool) {
	if lead.UnsubscribedAt != nil {
		return fmt.Sprintf("lead %s unsubscribed at %s", lead.Email, lead.UnsubscribedAt.Format("2006-01-02")), true
	}
	if lead.Status == models.LeadStatusReplied {
		return fmt.Sprintf("lead %s already replied", lead.Email), true
	}
	return "", false
}

// markContacted applies the only transition the dispatch engine owns:
// pending → contacted, on a confirmed successful send. Leads in any other
// state keep it (replied/bounced/interested are set by external
// collaborators; an already-contacted lead stays contacted on follow-ups).
func markContacted(lead *models.Lead) bool {
	if lead.Status == models.LeadStatusPending {
		lead.Status = models.LeadStatusContacted
		return true
	}
	return false
}
