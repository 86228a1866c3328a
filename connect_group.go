package recordbase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// connectGroup tracks a provider's connection state and coalesces concurrent
// Connect calls onto one in-flight attempt.
type connectGroup struct {
	provider string

	flight   singleflight.Group
	attempts atomic.Int64

	mu          sync.RWMutex
	connected   bool
	status      ProviderStatus
	message     string
	lastChecked time.Time
	duration    time.Duration
	lastErr     error
}

func newConnectGroup(provider string) *connectGroup {
	return &connectGroup{
		provider:    provider,
		status:      StatusDisconnected,
		message:     "not connected",
		lastChecked: Now(),
	}
}

// connect runs dial once for all concurrent callers. The shared attempt is
// detached from any single caller's cancellation; each caller still stops
// waiting when its own ctx ends.
func (g *connectGroup) connect(ctx context.Context, dial func(ctx context.Context) error) error {
	if g.isConnected() {
		return nil
	}

	ch := g.flight.DoChan("connect", func() (interface{}, error) {
		if g.isConnected() {
			return nil, nil
		}
		g.attempts.Add(1)
		g.set(StatusConnecting, "connecting", 0, nil)

		start := time.Now()
		if err := dial(context.WithoutCancel(ctx)); err != nil {
			g.set(StatusError, err.Error(), 0, err)
			return nil, err
		}
		elapsed := time.Since(start)

		g.mu.Lock()
		g.connected = true
		g.mu.Unlock()
		g.set(StatusConnected, "connected", elapsed, nil)
		return nil, nil
	})

	select {
	case <-ctx.Done():
		return classify(g.provider, ConnectionFailed, "connect cancelled", ctx.Err())
	case res := <-ch:
		return res.Err
	}
}

// disconnect marks the group disconnected after close has run.
func (g *connectGroup) disconnect(close func() error) error {
	g.mu.Lock()
	wasConnected := g.connected
	g.connected = false
	g.mu.Unlock()

	var err error
	if wasConnected && close != nil {
		err = close()
	}
	g.set(StatusDisconnected, "disconnected", 0, nil)
	return err
}

func (g *connectGroup) isConnected() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.connected
}

func (g *connectGroup) set(status ProviderStatus, msg string, d time.Duration, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status = status
	g.message = msg
	g.lastChecked = Now()
	if d > 0 {
		g.duration = d
	}
	if status == StatusDisconnected {
		g.duration = 0
	}
	g.lastErr = err
}

// markLost records that a status check found the connection dead.
func (g *connectGroup) markLost(err error) {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	g.set(StatusError, err.Error(), 0, err)
}

func (g *connectGroup) snapshot() StatusInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return StatusInfo{
		Provider:           g.provider,
		Status:             g.status,
		Message:            g.message,
		LastChecked:        g.lastChecked,
		ConnectionDuration: g.duration,
		Err:                g.lastErr,
	}
}

// Attempts is the number of dial attempts actually performed.
func (g *connectGroup) Attempts() int64 {
	return g.attempts.Load()
}
