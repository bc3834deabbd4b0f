package dispatch

import (
	"sync"
	"time"
)

// taskGroup runs best-effort background writes (ledger, analytics) detached
// from the dispatch loop. The loop never waits on individual tasks; the run
// joins once at completion with a bounded timeout.
type taskGroup struct {
	wg sync.WaitGroup
}

func (g *taskGroup) Go(fn func()) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn()
	}()
}

// Wait blocks until all submitted tasks finish or the timeout elapses.
// Returns false on timeout.
func (g *taskGroup) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
