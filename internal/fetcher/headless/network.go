package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

const idlePollInterval = 50 * time.Millisecond

// networkTracker counts in-flight requests of a tab so navigation can wait for
// the network to go quiet.
type networkTracker struct {
	mu         sync.Mutex
	inflight   map[network.RequestID]struct{}
	lastChange time.Time
	seen       int
	status     int
}

func newNetworkTracker() *networkTracker {
	return &networkTracker{
		inflight:   make(map[network.RequestID]struct{}),
		lastChange: time.Now(),
	}
}

func (t *networkTracker) observe(ev any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.inflight[e.RequestID] = struct{}{}
		t.seen++
		t.lastChange = time.Now()
	case *network.EventResponseReceived:
		if e.Type == network.ResourceTypeDocument && e.Response != nil && t.status == 0 {
			t.status = int(e.Response.Status)
		}
	case *network.EventLoadingFinished:
		delete(t.inflight, e.RequestID)
		t.lastChange = time.Now()
	case *network.EventLoadingFailed:
		delete(t.inflight, e.RequestID)
		t.lastChange = time.Now()
	}
}

// idleFor reports how long the tab has had no requests in flight.
func (t *networkTracker) idleFor(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inflight) > 0 {
		return 0
	}
	return now.Sub(t.lastChange)
}

func (t *networkTracker) total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen
}

func (t *networkTracker) documentStatus() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

func (t *networkTracker) waitIdle(window time.Duration) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(idlePollInterval)
		defer ticker.Stop()
		for {
			if t.idleFor(time.Now()) >= window {
				return nil
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("wait network idle: %w", ctx.Err())
			case <-ticker.C:
			}
		}
	})
}
