// Package sync provides the background synchronization controller that
// drains the durable ticket queue. It owns retry policy, the self-quiescing
// periodic timer, connectivity-triggered passes, and pending-count listener
// notification.
package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/lotusit/supportq/internal/logging"
	"github.com/lotusit/supportq/internal/models"
)

// DefaultMaxAttempts is the retry budget after which a record is
// dead-lettered: retained in storage but excluded from automatic retry.
const DefaultMaxAttempts = 10

// DefaultInterval is the periodic retry timer interval.
const DefaultInterval = 30 * time.Second

// SubmitFunc delivers one queued payload to the backend. It returns true on
// a 2xx response, false on any other response, and an error on transport
// failure. The controller treats false and error identically: the attempt
// failed and the record stays queued.
type SubmitFunc func(ctx context.Context, payload json.RawMessage) (bool, error)

// TicketStore is the durable queue contract the controller drains.
type TicketStore interface {
	Init()
	IsAvailable() bool
	Enqueue(ctx context.Context, payload json.RawMessage) error
	List(ctx context.Context) ([]models.QueuedTicket, error)
	Remove(ctx context.Context, id models.UUID) error
	UpdateAttempt(ctx context.Context, id models.UUID, attempts int, lastAttempt int64) error
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
	ListDeadLetters(ctx context.Context, maxAttempts int) ([]models.QueuedTicket, error)
}

// Result holds the tallies of one sync pass.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Config holds controller configuration.
type Config struct {
	Interval    time.Duration // periodic retry interval (default: 30 seconds)
	MaxAttempts int           // retry budget before dead-lettering (default: 10)
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() *Config {
	return &Config{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Controller coordinates retries of queued ticket submissions.
//
// All of its state is in-memory and process-lifetime; the durable records
// live exclusively in the store. The syncing flag serializes logically
// concurrent passes (a timer tick racing a manual flush) so the same record
// set is never drained twice.
type Controller struct {
	store       TicketStore
	submit      SubmitFunc
	interval    time.Duration
	maxAttempts int

	mu          sync.Mutex
	syncing     bool
	monitoring  bool
	timerStop   chan struct{}
	listeners   map[int]func(int)
	nextID      int
	unsubscribe func()
}

// NewController creates a Controller draining store through submit.
func NewController(store TicketStore, submit SubmitFunc, config *Config) *Controller {
	if config == nil {
		config = DefaultConfig()
	}
	interval := config.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxAttempts := config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Controller{
		store:       store,
		submit:      submit,
		interval:    interval,
		maxAttempts: maxAttempts,
		listeners:   make(map[int]func(int)),
	}
}

// MaxAttempts returns the configured retry budget.
func (c *Controller) MaxAttempts() int {
	return c.maxAttempts
}

// Enqueue persists a failed submission for later retry, notifies listeners
// with the fresh pending count, and guarantees the periodic timer is
// running. The store write completes before Enqueue returns so a crash right
// after a failed submit cannot lose the record.
func (c *Controller) Enqueue(ctx context.Context, payload json.RawMessage) error {
	if err := c.store.Enqueue(ctx, payload); err != nil {
		return err
	}

	count, err := c.store.Count(ctx)
	if err != nil {
		logging.Error("failed to count queued tickets after enqueue", err)
	} else {
		c.notifyListeners(count)
	}

	c.EnsurePeriodic()
	return nil
}

// SyncPending runs one synchronization pass: it attempts delivery of every
// stored record in list order, removing records on success and bumping
// attempt metadata on failure. Records past the retry budget are skipped.
//
// If a pass is already running the call is a no-op returning zero tallies.
// No error escapes a pass: unexpected failures are logged at the pass
// boundary and the pass reports no successes.
func (c *Controller) SyncPending(ctx context.Context) Result {
	c.mu.Lock()
	if c.syncing {
		c.mu.Unlock()
		return Result{}
	}
	c.syncing = true
	c.mu.Unlock()

	var res Result

	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("sync pass aborted", nil,
					map[string]interface{}{"panic": r})
				res = Result{}
			}
		}()

		c.store.Init()
		records, err := c.store.List(ctx)
		if err != nil {
			logging.Error("failed to list queued tickets", err)
			return
		}

		for _, rec := range records {
			if rec.DeadLettered(c.maxAttempts) {
				// Already reported as failed on the pass that
				// exhausted its budget; skipped silently since.
				continue
			}

			ok, err := c.submit(ctx, rec.Payload)
			if err == nil && ok {
				if err := c.store.Remove(ctx, rec.ID); err != nil {
					logging.Error("failed to remove synced ticket", err,
						map[string]interface{}{"id": rec.ID.String()})
					continue
				}
				res.Synced++
				continue
			}

			if err != nil {
				logging.Warn("ticket submission failed, will retry",
					map[string]interface{}{"id": rec.ID.String(), "attempts": rec.Attempts + 1, "reason": err.Error()})
			}
			if uerr := c.store.UpdateAttempt(ctx, rec.ID, rec.Attempts+1, time.Now().UnixMilli()); uerr != nil {
				logging.Error("failed to update attempt metadata", uerr,
					map[string]interface{}{"id": rec.ID.String()})
			}
			res.Failed++
		}
	}()

	c.mu.Lock()
	c.syncing = false
	c.mu.Unlock()

	count, err := c.store.Count(ctx)
	if err != nil {
		// Unknown pending count: keep the timer running and skip the
		// notification rather than report a bogus zero.
		logging.Error("failed to count queued tickets after sync pass", err)
	} else {
		c.notifyListeners(count)
		if count == 0 {
			c.stopTimerIfIdle(ctx, nil)
		}
	}

	if res.Synced > 0 || res.Failed > 0 {
		logging.Info("sync pass completed",
			map[string]interface{}{"synced": res.Synced, "failed": res.Failed})
	}

	return res
}

// OnCountChange registers a listener invoked with the pending count after
// every completed sync pass and every enqueue. It returns an unsubscribe
// function.
func (c *Controller) OnCountChange(fn func(count int)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// notifyListeners invokes every registered listener with count. A panicking
// listener is isolated so it cannot prevent others from being notified.
func (c *Controller) notifyListeners(count int) {
	c.mu.Lock()
	fns := make([]func(int), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		notifyOne(fn, count)
	}
}

func notifyOne(fn func(int), count int) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn("pending-count listener panicked",
				map[string]interface{}{"panic": r})
		}
	}()
	fn(count)
}

// StartMonitoring subscribes to connectivity-restored signals and starts the
// periodic timer. Idempotent: only the first call registers.
func (c *Controller) StartMonitoring(notifier ConnectivityNotifier) {
	c.mu.Lock()
	if c.monitoring {
		c.mu.Unlock()
		return
	}
	c.monitoring = true
	c.mu.Unlock()

	if notifier != nil {
		unsubscribe := notifier.Subscribe(func() {
			logging.Info("connectivity restored, starting sync pass")
			go c.SyncPending(context.Background())
		})
		c.mu.Lock()
		c.unsubscribe = unsubscribe
		c.mu.Unlock()
	}

	c.EnsurePeriodic()
}

// EnsurePeriodic guarantees the periodic retry timer is running. Called on
// every enqueue so the timer restarts after it has self-quiesced. Idempotent
// while a timer is active.
func (c *Controller) EnsurePeriodic() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timerStop != nil {
		return
	}
	stop := make(chan struct{})
	c.timerStop = stop

	go c.periodicLoop(stop)
}

// periodicLoop fires every interval. A tick with nothing pending cancels the
// timer; a future enqueue restarts it through EnsurePeriodic. This avoids
// indefinite idle polling while guaranteeing retry progress whenever work is
// outstanding.
func (c *Controller) periodicLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			count, err := c.store.Count(context.Background())
			if err != nil {
				logging.Error("failed to count queued tickets on timer tick", err)
				continue
			}
			if count == 0 {
				c.stopTimerIfIdle(context.Background(), stop)
				continue
			}
			c.SyncPending(context.Background())
		}
	}
}

// stopTimerIfIdle cancels the periodic timer only if the queue is still
// empty at the moment of cancellation. The count is re-read under the lock,
// so an enqueue racing the end of a pass either lands before the check and
// keeps the timer alive, or finds the timer already stopped and restarts it
// through EnsurePeriodic. A non-nil stop restricts cancellation to that
// timer instance, so a stale tick cannot kill a successor timer.
func (c *Controller) stopTimerIfIdle(ctx context.Context, stop chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timerStop == nil {
		return
	}
	if stop != nil && c.timerStop != stop {
		return
	}
	count, err := c.store.Count(ctx)
	if err != nil || count > 0 {
		return
	}
	close(c.timerStop)
	c.timerStop = nil
}

// stopTimer unconditionally cancels the periodic timer if one is active.
func (c *Controller) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timerStop != nil {
		close(c.timerStop)
		c.timerStop = nil
	}
}

// TimerActive reports whether the periodic timer is currently running.
func (c *Controller) TimerActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timerStop != nil
}

// DeadLetters returns records permanently excluded from automatic retry.
func (c *Controller) DeadLetters(ctx context.Context) ([]models.QueuedTicket, error) {
	return c.store.ListDeadLetters(ctx, c.maxAttempts)
}

// PendingCount returns the current number of queued records.
func (c *Controller) PendingCount(ctx context.Context) (int, error) {
	return c.store.Count(ctx)
}

// Stop cancels the periodic timer and the connectivity subscription for
// graceful shutdown.
func (c *Controller) Stop() {
	c.stopTimer()

	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.monitoring = false
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}
