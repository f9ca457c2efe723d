package pgcdc

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/lib/pq"
)

// ListenerState is the lifecycle state of the hybrid listener.
type ListenerState string

const (
	// StateStopped means no NOTIFY connection exists and none is wanted.
	StateStopped ListenerState = "stopped"

	// StateConnecting means the dedicated NOTIFY connection is being
	// established.
	StateConnecting ListenerState = "connecting"

	// StateListening means notifications are flowing and drains may run.
	StateListening ListenerState = "listening"

	// StatePaused means the connection was closed on purpose and will be
	// re-established by Resume.
	StatePaused ListenerState = "paused"
)

// Reconnect backoff bounds for the dedicated NOTIFY connection. pq doubles
// the interval per failed attempt between these bounds and retries
// indefinitely.
const (
	minReconnectInterval = time.Second
	maxReconnectInterval = 30 * time.Second
)

// defaultFallbackInterval is the period of the unconditional fallback drain
// compensating for lost notifications.
const defaultFallbackInterval = 60 * time.Second

// DrainFunc runs one drain: claim a batch, dispatch it, report outcomes.
// It returns the highest queue id it acknowledged (0 when the batch was
// empty) so the listener can skip reactive drains for ids already covered.
type DrainFunc func(ctx context.Context) (maxProcessedID int64, err error)

// SubscribeFunc receives raw NOTIFY payloads for user-defined channels.
type SubscribeFunc func(payload string)

// HybridListener consumes change notifications reactively over a dedicated
// LISTEN/NOTIFY connection and complements them with a low-frequency
// fallback drain, so queued messages survive dropped notifications.
//
// Lifecycle: stopped → connecting → listening. Pause unsubscribes and
// closes the connection; Resume re-establishes it. SuspendAndRun wraps a
// critical section in Pause/Resume, resuming on every exit path.
//
// Thread safety: safe for concurrent use.
type HybridListener struct {
	dsn              string
	channel          string
	fallbackInterval time.Duration
	drain            DrainFunc
	logger           Logger

	mu        sync.Mutex
	state     ListenerState
	pl        *pq.Listener
	cancel    context.CancelFunc
	loopDone  chan struct{}
	subs      map[string][]SubscribeFunc
	highWater int64
}

// NewHybridListener creates a listener for the given NOTIFY channel.
// The dsn is used for the dedicated NOTIFY connection only; TLS settings in
// it are forwarded to the driver verbatim. drain is invoked on each
// notification and fallback tick.
func NewHybridListener(dsn, channel string, drain DrainFunc, logger Logger) *HybridListener {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &HybridListener{
		dsn:              dsn,
		channel:          channel,
		fallbackInterval: defaultFallbackInterval,
		drain:            drain,
		logger:           logger,
		state:            StateStopped,
		subs:             make(map[string][]SubscribeFunc),
	}
}

// State returns the current lifecycle state.
func (l *HybridListener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start establishes the NOTIFY connection and begins draining.
// Valid from stopped or paused; a no-op while already listening.
func (l *HybridListener) Start(ctx context.Context) error {
	return l.connect(ctx)
}

// connect moves the listener to connecting, opens the dedicated connection,
// subscribes the change channel plus user channels and starts the event
// loop. Once subscribed the listener performs one immediate drain to pick
// up messages queued while disconnected.
func (l *HybridListener) connect(ctx context.Context) error {
	l.mu.Lock()
	if l.state == StateListening || l.state == StateConnecting {
		l.mu.Unlock()
		return nil
	}
	l.state = StateConnecting

	pl := pq.NewListener(l.dsn, minReconnectInterval, maxReconnectInterval, l.listenerEvent)
	l.pl = pl

	channels := make([]string, 0, len(l.subs)+1)
	channels = append(channels, l.channel)
	for ch := range l.subs {
		channels = append(channels, ch)
	}
	l.mu.Unlock()

	for _, ch := range channels {
		if err := pl.Listen(ch); err != nil {
			_ = pl.Close()
			l.mu.Lock()
			l.state = StateStopped
			l.pl = nil
			l.mu.Unlock()
			return NewErrorWithCause(ErrCodeListener, "failed to LISTEN on channel "+ch, err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.state = StateListening
	l.cancel = cancel
	l.loopDone = done
	l.mu.Unlock()

	go l.loop(loopCtx, pl, done)

	l.logger.Infof("Listening for change notifications on channel %q", l.channel)

	// Drain whatever accumulated while we were not listening.
	l.runDrain(ctx)

	return nil
}

// listenerEvent logs connection state changes of the underlying pq listener.
func (l *HybridListener) listenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warnf("Notification connection attempt failed: %v", err)
	case pq.ListenerEventDisconnected:
		l.logger.Warnf("Notification connection lost: %v", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("Notification connection re-established")
	}
}

// loop is the per-connection event loop: reactive drains on notifications,
// fallback drains on the timer, termination on cancel.
func (l *HybridListener) loop(ctx context.Context, pl *pq.Listener, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-pl.NotificationChannel():
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after a reconnect; notifications may have
				// been missed in between, so drain unconditionally.
				l.runDrain(ctx)
				continue
			}
			l.handleNotification(ctx, n)

		case <-ticker.C:
			l.runDrain(ctx)
		}
	}
}

// handleNotification routes one notification: change-channel payloads carry
// the inserted queue row id (advisory: used for logging and to skip drains
// already covered), other channels fan out to raw subscribers.
func (l *HybridListener) handleNotification(ctx context.Context, n *pq.Notification) {
	if n.Channel != l.channel {
		l.mu.Lock()
		callbacks := append([]SubscribeFunc(nil), l.subs[n.Channel]...)
		l.mu.Unlock()
		for _, cb := range callbacks {
			cb(n.Extra)
		}
		return
	}

	if id, err := strconv.ParseInt(n.Extra, 10, 64); err == nil {
		l.mu.Lock()
		covered := id <= l.highWater
		l.mu.Unlock()
		if covered {
			l.logger.Debugf("Skipping drain for already-processed message %d", id)
			return
		}
		l.logger.Debugf("Change notification for message %d", id)
	}
	// Unparseable payloads are ignored as identifiers but still drain.

	l.runDrain(ctx)
}

// runDrain invokes the drain function if the listener is still listening.
func (l *HybridListener) runDrain(ctx context.Context) {
	l.mu.Lock()
	listening := l.state == StateListening
	l.mu.Unlock()
	if !listening || l.drain == nil {
		return
	}

	maxID, err := l.drain(ctx)
	if err != nil {
		if ctx.Err() == nil {
			l.logger.Errorf("Drain failed: %v", err)
		}
		return
	}

	if maxID > 0 {
		l.mu.Lock()
		if maxID > l.highWater {
			l.highWater = maxID
		}
		l.mu.Unlock()
	}
}

// Pause unsubscribes, closes the NOTIFY connection and moves to paused.
// In-flight drains are cancelled at their next suspension point; fallback
// ticks while paused are no-ops.
func (l *HybridListener) Pause() {
	l.mu.Lock()
	if l.state != StateListening && l.state != StateConnecting {
		l.mu.Unlock()
		return
	}
	l.state = StatePaused
	pl := l.pl
	cancel := l.cancel
	done := l.loopDone
	l.pl = nil
	l.cancel = nil
	l.loopDone = nil
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if pl != nil {
		if err := pl.Close(); err != nil {
			l.logger.Warnf("Failed to close notification connection: %v", err)
		}
	}
	if done != nil {
		<-done
	}

	l.logger.Info("Change listener paused")
}

// Resume re-establishes the NOTIFY connection after Pause and returns to
// listening once connected.
func (l *HybridListener) Resume(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StatePaused {
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopped
	l.mu.Unlock()

	return l.connect(ctx)
}

// SuspendAndRun pauses the listener, runs fn, and resumes on every exit
// path, fn failures included. The fn error wins over a resume error.
func (l *HybridListener) SuspendAndRun(ctx context.Context, fn func() error) (err error) {
	l.Pause()

	defer func() {
		if resumeErr := l.Resume(ctx); resumeErr != nil {
			l.logger.Errorf("Failed to resume listener after suspension: %v", resumeErr)
			if err == nil {
				err = resumeErr
			}
		}
	}()

	return fn()
}

// Subscribe registers a raw NOTIFY callback for a user-defined channel
// beyond the change channel. Payloads are delivered verbatim.
func (l *HybridListener) Subscribe(channel string, callback SubscribeFunc) error {
	l.mu.Lock()
	_, known := l.subs[channel]
	l.subs[channel] = append(l.subs[channel], callback)
	pl := l.pl
	listening := l.state == StateListening
	l.mu.Unlock()

	if listening && !known && pl != nil {
		if err := pl.Listen(channel); err != nil {
			return NewErrorWithCause(ErrCodeListener, "failed to LISTEN on channel "+channel, err)
		}
	}
	return nil
}

// Stop tears the listener down completely.
func (l *HybridListener) Stop() {
	l.Pause()
	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	l.logger.Info("Change listener stopped")
}
