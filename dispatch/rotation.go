package dispatch

import (
	"mailforge/models"
)

// AccountRotator hands out sender accounts for leads. A lead that was already
// assigned an account keeps it while the account has quota (sticky
// assignment, so every email to one lead leaves from the same address);
// otherwise the next account with remaining quota is chosen round-robin.
//
// The rotator is mutated only by the single dispatch worker, so it carries no
// locking. If sends are ever parallelized, the cursor and the SentToday
// counters become the serialization point.
type AccountRotator struct {
	accounts []*models.SenderAccount
	cursor   int
}

func NewAccountRotator(accounts []*models.SenderAccount) *AccountRotator {
	return &AccountRotator{accounts: accounts}
}

// Pick selects the sender account for the lead and records the sticky
// assignment on it. Returns ErrQuotaExhausted when no account can take
// another send today.
func (r *AccountRotator) Pick(lead *models.Lead) (*models.SenderAccount, error) {
	if lead.AssignedAccountID != nil {
		for _, a := range r.accounts {
			if a.ID == *lead.AssignedAccountID && a.HasQuota() {
				return a, nil
			}
		}
		// Assigned account is exhausted or no longer selected; fall through
		// to rotation so the lead is not starved.
	}

	n := len(r.accounts)
	for i := 0; i < n; i++ {
		a := r.accounts[(r.cursor+i)%n]
		if !a.HasQuota() {
			continue
		}
		r.cursor = (r.cursor + i + 1) % n
		id := a.ID
		lead.AssignedAccountID = &id
		return a, nil
	}
	return nil, ErrQuotaExhausted
}

// ConfirmSend counts a confirmed successful send against the account. Called
// only after the mail client reported success, never at selection time.
func (r *AccountRotator) ConfirmSend(a *models.SenderAccount) {
	a.SentToday++
	a.TotalSent++
}

// HasAvailable reports whether any account still has quota.
func (r *AccountRotator) HasAvailable() bool {
	for _, a := range r.accounts {
		if a.HasQuota() {
			return true
		}
	}
	return false
}
