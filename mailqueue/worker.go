package mailqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/mailer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

const (
	workerIdle int32 = iota
	workerRunning
	workerStopping
)

// bookkeeping bounds queue writes made after a delivery, which must happen
// even when the delivery context was cancelled.
const bookkeepingTimeout = 5 * time.Second

// WorkerConfig tunes the delivery loop.
type WorkerConfig struct {
	// ClientURL is the base of verification links.
	ClientURL string
	// PollInterval is the wait between polls of an empty queue.
	PollInterval time.Duration
	// RateMax deliveries per RateWindow. Zero disables rate limiting.
	RateMax    int
	RateWindow time.Duration
	// ReclaimInterval is how often expired leases are released.
	ReclaimInterval time.Duration
}

// DefaultWorkerConfig returns a worker delivering at most 10 messages per
// second.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ClientURL:       "http://localhost:3000",
		PollInterval:    time.Second,
		RateMax:         10,
		RateWindow:      time.Second,
		ReclaimInterval: 30 * time.Second,
	}
}

// Worker delivers jobs one at a time. Start and Stop may be called any
// number of times from any goroutine.
type Worker struct {
	queue   *Queue
	sender  mailer.Sender
	limiter *rate.Limiter
	window  rate.Window
	cfg     WorkerConfig
	log     *zap.Logger

	state      atomic.Int32
	mu         sync.Mutex
	stopLoop   context.CancelFunc
	cancelSend context.CancelFunc
	done       chan struct{}

	mProcessed   prometheus.Counter
	mCompleted   prometheus.Counter
	mRetried     prometheus.Counter
	mFailed      prometheus.Counter
	mRateLimited prometheus.Counter
}

// NewWorker builds a stopped worker. limiter may be nil when cfg.RateMax is
// zero. Counters are registered with reg; a nil reg leaves them
// unregistered.
func NewWorker(q *Queue, sender mailer.Sender, limiter *rate.Limiter, cfg WorkerConfig, log *zap.Logger, reg prometheus.Registerer) (*Worker, error) {
	if q == nil {
		return nil, errors.New("queue required")
	}
	if sender == nil {
		return nil, errors.New("sender required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = 30 * time.Second
	}
	window := rate.Window{Prefix: "rl:mail:", Max: cfg.RateMax, Period: cfg.RateWindow}
	if window.Enabled() && limiter == nil {
		return nil, errors.New("rate limiter required when RateMax is set")
	}
	if log == nil {
		log = zap.NewNop()
	}

	f := promauto.With(reg)
	return &Worker{
		queue:   q,
		sender:  sender,
		limiter: limiter,
		window:  window,
		cfg:     cfg,
		log:     log.With(zap.String("component", "mail_worker")),
		mProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "mail_worker_jobs_processed_total", Help: "Delivery attempts started.",
		}),
		mCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "mail_worker_jobs_completed_total", Help: "Jobs delivered.",
		}),
		mRetried: f.NewCounter(prometheus.CounterOpts{
			Name: "mail_worker_jobs_retried_total", Help: "Failed attempts scheduled for retry.",
		}),
		mFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "mail_worker_jobs_failed_total", Help: "Jobs that exhausted their attempts or failed permanently.",
		}),
		mRateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "mail_worker_rate_limited_total", Help: "Times the worker waited for the delivery rate limit.",
		}),
	}, nil
}

// Running reports whether the delivery loop is active.
func (w *Worker) Running() bool {
	return w.state.Load() == workerRunning
}

// Start launches the delivery loop. Calling Start on a running worker does
// nothing. The loop outlives ctx cancellation; use Stop to end it.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Load() != workerIdle {
		return nil
	}

	base := context.WithoutCancel(ctx)
	sendCtx, cancelSend := context.WithCancel(base)
	loopCtx, stopLoop := context.WithCancel(sendCtx)

	w.stopLoop = stopLoop
	w.cancelSend = cancelSend
	w.done = make(chan struct{})
	w.state.Store(workerRunning)

	go w.run(loopCtx, sendCtx, w.done)
	w.log.Info("mail worker started")
	return nil
}

// Stop ends the loop. A delivery in progress may finish until ctx ends;
// after that it is cancelled and its job returned to the queue. Stop on a
// stopped worker returns nil.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state.Load() != workerRunning {
		return nil
	}
	w.state.Store(workerStopping)
	w.stopLoop()

	var err error
	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancelSend()
		<-w.done
		err = ctx.Err()
	}
	w.cancelSend()

	w.state.Store(workerIdle)
	w.log.Info("mail worker stopped")
	return err
}

func (w *Worker) run(loopCtx, sendCtx context.Context, done chan struct{}) {
	defer close(done)

	var lastReclaim time.Time
	for loopCtx.Err() == nil {
		if time.Since(lastReclaim) >= w.cfg.ReclaimInterval {
			lastReclaim = time.Now()
			if n, err := w.queue.Reclaim(loopCtx); err != nil {
				w.log.Warn("reclaim failed", zap.Error(err))
			} else if n > 0 {
				w.log.Info("reclaimed expired leases", zap.Int("jobs", n))
			}
		}

		job, err := w.queue.Dequeue(loopCtx)
		if err != nil {
			if !errors.Is(err, ErrEmpty) && loopCtx.Err() == nil {
				w.log.Error("dequeue failed", zap.Error(err))
			}
			sleep(loopCtx, w.cfg.PollInterval)
			continue
		}

		if !w.waitForRate(loopCtx) {
			w.release(job)
			return
		}
		w.process(sendCtx, job)
	}
}

// waitForRate blocks until the rate window admits one delivery. It returns
// false if ctx ends first.
func (w *Worker) waitForRate(ctx context.Context) bool {
	if !w.window.Enabled() {
		return ctx.Err() == nil
	}
	for {
		d, err := w.limiter.Allow(ctx, w.window, "worker")
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			w.log.Warn("rate limiter unavailable", zap.Error(err))
			if !sleep(ctx, w.cfg.PollInterval) {
				return false
			}
			continue
		}
		if d.Allowed {
			return true
		}
		w.mRateLimited.Inc()
		wait := d.RetryAfter
		if wait <= 0 {
			wait = w.cfg.PollInterval
		}
		if !sleep(ctx, wait) {
			return false
		}
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	w.mProcessed.Inc()
	log := w.log.With(
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempts+1),
		zap.Int("max_attempts", job.MaxAttempts),
	)
	log.Debug("processing job")

	err := w.dispatch(ctx, job)
	if err != nil && ctx.Err() != nil {
		// Cut off by Stop's deadline; this attempt does not count.
		log.Warn("delivery interrupted, releasing job")
		w.release(job)
		return
	}

	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()

	if err == nil {
		if cerr := w.queue.Complete(bctx, job.ID); cerr != nil {
			log.Error("mark completed failed", zap.Error(cerr))
			return
		}
		w.mCompleted.Inc()
		log.Info("email sent")
		return
	}

	state, ferr := w.queue.Fail(bctx, job.ID, err)
	if ferr != nil {
		log.Error("mark failed failed", zap.Error(ferr), zap.NamedError("cause", err))
		return
	}
	if state == StateDelayed {
		w.mRetried.Inc()
		log.Warn("delivery failed, will retry", zap.Error(err))
		return
	}
	w.mFailed.Inc()
	log.Error("delivery failed permanently", zap.Error(err))
}

// dispatch delivers job according to its kind.
func (w *Worker) dispatch(ctx context.Context, job *Job) error {
	switch job.Kind {
	case KindVerification:
		var p VerificationPayload
		if err := job.DecodePayload(&p); err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		msg, err := mailer.VerificationMessage(w.cfg.ClientURL, job.Recipient, p.Token)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPermanent, err)
		}
		msg.IdempotencyKey = job.ID
		return w.send(ctx, msg)
	default:
		return fmt.Errorf("%w: unknown job kind %q", ErrPermanent, job.Kind)
	}
}

func (w *Worker) send(ctx context.Context, msg mailer.Message) error {
	err := w.sender.Send(ctx, msg)
	if errors.Is(err, mailer.ErrRejected) {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return err
}

func (w *Worker) release(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), bookkeepingTimeout)
	defer cancel()
	if err := w.queue.Release(ctx, job.ID); err != nil {
		w.log.Error("release failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
