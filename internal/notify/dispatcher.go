package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"broker_go/internal/infra"
)

// Job is one pending notification: a target account plus the payload
// handed to the external channel.
type Job struct {
	AccountID    string
	InstrumentID string
	Price        decimal.Decimal
	Title        string
	Body         string
	Data         map[string]string
	EnqueuedAt   time.Time
}

// Options configures a Dispatcher. Zero values fall back to defaults.
type Options struct {
	QueueCapacity  int
	SendTimeout    time.Duration
	CooldownWindow time.Duration
	Breaker        infra.CircuitBreakerConfig
	RateBurst      int
	RatePerSecond  float64
}

// DefaultOptions returns the dispatcher defaults.
func DefaultOptions() Options {
	return Options{
		QueueCapacity:  1024,
		SendTimeout:    5 * time.Second,
		CooldownWindow: 5 * time.Minute,
		Breaker:        infra.DefaultCircuitBreakerConfig("notification-channel"),
		RateBurst:      5,
		RatePerSecond:  10,
	}
}

// Dispatcher accepts notification jobs, applies the cooldown filter,
// and delivers them through the external channel guarded by a circuit
// breaker and a bounded FIFO queue. A slow or failing channel never
// blocks callers: Enqueue only appends, and the background consumer is
// the sole party talking to the Notifier.
type Dispatcher struct {
	notifier Notifier
	breaker  *infra.CircuitBreaker
	limiter  *infra.RateLimiter
	cooldown *CooldownTable

	sendTimeout time.Duration
	capacity    int

	mu    sync.Mutex
	queue []Job

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time

	delivered  atomic.Int64
	failed     atomic.Int64
	suppressed atomic.Int64
	overflowed atomic.Int64
}

// NewDispatcher creates a dispatcher. Start must be called before jobs
// drain.
func NewDispatcher(notifier Notifier, opts Options) *Dispatcher {
	def := DefaultOptions()
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = def.QueueCapacity
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = def.SendTimeout
	}
	if opts.CooldownWindow <= 0 {
		opts.CooldownWindow = def.CooldownWindow
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = def.RateBurst
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = def.RatePerSecond
	}
	if opts.Breaker.Name == "" {
		opts.Breaker = def.Breaker
	}

	return &Dispatcher{
		notifier:    notifier,
		breaker:     infra.NewCircuitBreaker(opts.Breaker),
		limiter:     infra.NewRateLimiter(opts.RateBurst, opts.RatePerSecond),
		cooldown:    NewCooldownTable(opts.CooldownWindow),
		sendTimeout: opts.SendTimeout,
		capacity:    opts.QueueCapacity,
		wake:        make(chan struct{}, 1),
		now:         time.Now,
	}
}

// Start launches the background consumer.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.wg.Add(1)
	go d.consume(ctx)
}

// Stop terminates the consumer. Queued jobs stay queued.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Enqueue accepts a job unless the cooldown filter suppresses it or
// the queue is full. Never blocks. Returns true if the job was queued.
func (d *Dispatcher) Enqueue(job Job) bool {
	now := d.now()
	if !d.cooldown.Allow(CooldownKey(job.AccountID, job.InstrumentID, job.Price), now) {
		d.suppressed.Add(1)
		slog.Debug("Notification suppressed by cooldown",
			slog.String("account", job.AccountID),
			slog.String("instrument", job.InstrumentID),
			slog.String("price", job.Price.StringFixed(2)))
		return false
	}

	job.EnqueuedAt = now

	d.mu.Lock()
	if len(d.queue) >= d.capacity {
		d.mu.Unlock()
		d.overflowed.Add(1)
		slog.Warn("Notification queue full, job dropped",
			slog.String("account", job.AccountID),
			slog.Int("capacity", d.capacity))
		return false
	}
	d.queue = append(d.queue, job)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *Dispatcher) pop() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return Job{}, false
	}
	job := d.queue[0]
	d.queue = d.queue[1:]
	return job, true
}

// consume drains the queue whenever the breaker is not OPEN. While
// OPEN it sleeps with exponential backoff; Allow flips the breaker to
// HALF_OPEN once the open timeout elapses, and the next delivery is
// the trial.
func (d *Dispatcher) consume(ctx context.Context) {
	defer d.wg.Done()

	openRetries := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !d.breaker.Allow() {
			delay := infra.CalculateBackoff(openRetries)
			openRetries++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		openRetries = 0

		job, ok := d.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
			case <-time.After(time.Second):
			}
			continue
		}

		d.deliver(ctx, job)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	d.limiter.Wait()

	sctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	err := d.notifier.Send(sctx, job.AccountID, job.Title, job.Body, job.Data)
	cancel()

	if err != nil {
		// Delivery is at-most-once: the breaker absorbs the failure
		// and the job is not retried.
		d.failed.Add(1)
		d.breaker.RecordFailure()
		slog.Warn("Notification delivery failed",
			slog.String("account", job.AccountID),
			slog.Any("error", err))
		return
	}

	d.delivered.Add(1)
	d.breaker.RecordSuccess()
}

// Health is the read-only operational snapshot of the dispatcher.
type Health struct {
	QueueLength     int     `json:"queue_length"`
	OldestAgeSec    float64 `json:"oldest_age_sec"`
	BreakerState    string  `json:"breaker_state"`
	BreakerFailures int     `json:"breaker_failures"`
	BreakerTrials   int     `json:"breaker_trial_successes"`
	Delivered       int64   `json:"delivered"`
	Failed          int64   `json:"failed"`
	Suppressed      int64   `json:"suppressed"`
	Overflowed      int64   `json:"overflowed"`
	CooldownEntries int     `json:"cooldown_entries"`
}

// GetHealth returns the current health snapshot.
func (d *Dispatcher) GetHealth() Health {
	d.mu.Lock()
	queueLen := len(d.queue)
	var oldest time.Duration
	if queueLen > 0 {
		oldest = d.now().Sub(d.queue[0].EnqueuedAt)
	}
	d.mu.Unlock()

	failures, trials := d.breaker.Counts()
	return Health{
		QueueLength:     queueLen,
		OldestAgeSec:    oldest.Seconds(),
		BreakerState:    d.breaker.GetState().String(),
		BreakerFailures: failures,
		BreakerTrials:   trials,
		Delivered:       d.delivered.Load(),
		Failed:          d.failed.Load(),
		Suppressed:      d.suppressed.Load(),
		Overflowed:      d.overflowed.Load(),
		CooldownEntries: d.cooldown.Len(),
	}
}

// ResetBreaker forces the breaker to CLOSED. Idempotent admin action.
func (d *Dispatcher) ResetBreaker() {
	d.breaker.Reset()
}

// ClearQueue discards every queued job. Idempotent admin action.
func (d *Dispatcher) ClearQueue() {
	d.mu.Lock()
	dropped := len(d.queue)
	d.queue = nil
	d.mu.Unlock()
	if dropped > 0 {
		slog.Info("Notification queue cleared", slog.Int("dropped", dropped))
	}
}
