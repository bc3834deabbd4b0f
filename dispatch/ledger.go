package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"mailforge/models"
)

const sinkWriteTimeout = 10 * time.Second

// LedgerStore persists execution log entries. Implementations must tolerate
// being called from background goroutines.
type LedgerStore interface {
	AppendLogEntry(ctx context.Context, entry *models.ExecutionLogEntry) error
}

// Ledger appends one record per dispatch attempt. The in-memory copy is
// authoritative for the current run; the store write is detached and
// best-effort, so a slow or failing database never blocks the loop or alters
// the run's outcome.
type Ledger struct {
	store  LedgerStore
	logger *logrus.Entry
	tasks  taskGroup

	mu      sync.Mutex
	entries []models.ExecutionLogEntry
}

func NewLedger(store LedgerStore, logger *logrus.Entry) *Ledger {
	return &Ledger{store: store, logger: logger}
}

// Record appends the entry and schedules its persistence. Entries are never
// mutated after this call.
func (l *Ledger) Record(entry models.ExecutionLogEntry) {
	if entry.AttemptedAt.IsZero() {
		entry.AttemptedAt = time.Now().UTC()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.store == nil {
		return
	}
	l.tasks.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sinkWriteTimeout)
		defer cancel()
		persisted := entry
		if err := l.store.AppendLogEntry(ctx, &persisted); err != nil {
			l.logger.WithFields(logrus.Fields{
				"campaign_id": entry.CampaignID,
				"lead_id":     entry.LeadID,
			}).WithError(err).Warn("ledger write failed")
		}
	})
}

// Entries returns a copy of everything recorded so far.
func (l *Ledger) Entries() []models.ExecutionLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.ExecutionLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Wait joins outstanding background writes, bounded by timeout.
func (l *Ledger) Wait(timeout time.Duration) bool {
	return l.tasks.Wait(timeout)
}
