package recordbase

import (
	"sync"
	"time"
)

// NotificationLevel maps to the severity a UI would show.
type NotificationLevel string

const (
	LevelInfo    NotificationLevel = "info"
	LevelWarning NotificationLevel = "warning"
	LevelError   NotificationLevel = "error"
)

// NotificationKind names the engine stage that produced a notification.
type NotificationKind string

const (
	NotifyRetrying       NotificationKind = "retrying"
	NotifyPrimaryFailed  NotificationKind = "primary-failed"
	NotifyFallbackUsed   NotificationKind = "fallback-used"
	NotifyAllFailed      NotificationKind = "all-failed"
	NotifyRecovered      NotificationKind = "recovered"
	NotifyRecoveryFailed NotificationKind = "recovery-failed"
)

// Notification is a structured event meant for user-facing toasts.
type Notification struct {
	Level    NotificationLevel
	Kind     NotificationKind
	Provider string

	// Fallback is the fallback provider's name when one was involved.
	Fallback     string
	FallbackUsed bool

	// Attempt is the 1-based attempt that just failed (retrying) or the
	// recovery attempt number.
	Attempt int
	Delay   time.Duration

	Message string
	Err     error
	Time    time.Time
}

// Notifier receives notifications. Implementations must not block for long;
// delivery is synchronous on the calling goroutine.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// NotificationHub fans notifications out to subscribers in subscription order.
type NotificationHub struct {
	mu     sync.RWMutex
	nextID int
	subs   []hubSubscriber
}

type hubSubscriber struct {
	id int
	fn func(Notification)
}

// NewNotificationHub creates an empty hub.
func NewNotificationHub() *NotificationHub {
	return &NotificationHub{}
}

// Subscribe registers fn and returns a function that removes it.
func (h *NotificationHub) Subscribe(fn func(Notification)) (remove func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, hubSubscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Notify delivers n to every current subscriber.
func (h *NotificationHub) Notify(n Notification) {
	h.mu.RLock()
	subs := make([]hubSubscriber, len(h.subs))
	copy(subs, h.subs)
	h.mu.RUnlock()

	for _, s := range subs {
		s.fn(n)
	}
}

// LogNotifier writes notifications to a Logger at the matching level.
type LogNotifier struct {
	Logger Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := loggerOrNoop(l.Logger)
	fields := []interface{}{"kind", string(n.Kind), "provider", n.Provider}
	if n.Fallback != "" {
		fields = append(fields, "fallback", n.Fallback, "fallback_used", n.FallbackUsed)
	}
	if n.Attempt > 0 {
		fields = append(fields, "attempt", n.Attempt)
	}
	if n.Delay > 0 {
		fields = append(fields, "delay", n.Delay)
	}
	if n.Err != nil {
		fields = append(fields, "error", n.Err)
	}

	switch n.Level {
	case LevelError:
		logger.Error(n.Message, fields...)
	case LevelWarning:
		logger.Warn(n.Message, fields...)
	default:
		logger.Info(n.Message, fields...)
	}
}

type noopNotifier struct{}

func (noopNotifier) Notify(Notification) {}
