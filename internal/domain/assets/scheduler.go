package assets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/microhost/internal/shared/types"
)

var ErrSchedulerStopped = errors.New("prefetch scheduler stopped")

// Job is one unit of background prefetch work
type Job struct {
	Name  string
	URLs  []string
	Fetch types.FetchFunc
	// Run replaces the default URL warm-up when set
	Run func(ctx context.Context) error
	// Done is called once with the job result
	Done func(err error)
}

// SchedulerConfig configures idle prefetching
type SchedulerConfig struct {
	Workers    int
	IdleWindow time.Duration
	RPS        float64
	MaxRetries uint64
}

// DefaultSchedulerConfig returns the scheduler defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Workers:    2,
		IdleWindow: 200 * time.Millisecond,
		RPS:        20,
		MaxRetries: 3,
	}
}

// Scheduler runs prefetch jobs only while the host is idle. Foreground
// work brackets itself with Busy; a job starts once no foreground work is
// running and none has finished within IdleWindow.
type Scheduler struct {
	cache   *Cache
	cfg     SchedulerConfig
	pool    *ants.Pool
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.Mutex
	queue    []Job
	active   int
	lastBusy time.Time
	stopped  bool

	wake    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
	loop    sync.WaitGroup
}

// NewScheduler creates and starts a scheduler
func NewScheduler(cache *Cache, cfg SchedulerConfig, logger *logging.Logger) (*Scheduler, error) {
	if cache == nil {
		return nil, fmt.Errorf("scheduler requires a cache")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.IdleWindow < 0 {
		cfg.IdleWindow = 0
	}

	log := logger.Named("prefetch")
	pool, err := ants.NewPool(cfg.Workers, ants.WithPanicHandler(func(p interface{}) {
		log.Error("Prefetch worker panicked", zap.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	limit := rate.Inf
	burst := 0
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		burst = int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cache:   cache,
		cfg:     cfg,
		pool:    pool,
		limiter: rate.NewLimiter(limit, burst),
		logger:  log,
		wake:    make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.loop.Add(1)
	go s.dispatch()
	return s, nil
}

// WithMetrics adds metrics tracking to the scheduler
func (s *Scheduler) WithMetrics(metrics *monitoring.Metrics) *Scheduler {
	s.metrics = metrics
	return s
}

// Busy marks the start of foreground work. The returned func marks its
// end and must be called exactly once.
func (s *Scheduler) Busy() func() {
	s.mu.Lock()
	s.active++
	s.lastBusy = time.Now()
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.active--
			s.lastBusy = time.Now()
			s.mu.Unlock()
			s.signal()
		})
	}
}

// Enqueue schedules a job to run when the host is idle
func (s *Scheduler) Enqueue(job Job) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.queue = append(s.queue, job)
	s.pending.Add(1)
	s.mu.Unlock()

	s.signal()
	return nil
}

// Pending returns the number of queued jobs not yet started
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Wait blocks until every enqueued job has finished or ctx is done
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop stops dispatching, fails queued jobs with ErrSchedulerStopped and
// waits for running jobs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	queued := s.queue
	s.queue = nil
	s.mu.Unlock()

	s.cancel()
	s.loop.Wait()

	for _, job := range queued {
		s.finish(job, ErrSchedulerStopped)
	}
	s.pending.Wait()
	s.pool.Release()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	defer s.loop.Done()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		job, wait, ok := s.next()
		if ok {
			s.submit(job)
			continue
		}

		if wait > 0 {
			timer.Reset(wait)
		}
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// next pops a job when the host is idle. Otherwise it returns how long to
// wait before checking again; zero means wait for a signal.
func (s *Scheduler) next() (Job, time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 || s.active > 0 {
		return Job{}, 0, false
	}
	if idle := time.Since(s.lastBusy); idle < s.cfg.IdleWindow {
		return Job{}, s.cfg.IdleWindow - idle, false
	}

	job := s.queue[0]
	s.queue = s.queue[1:]
	return job, 0, true
}

func (s *Scheduler) submit(job Job) {
	err := s.pool.Submit(func() {
		s.finish(job, s.run(job))
	})
	if err != nil {
		s.logger.Warn("Failed to submit prefetch job", zap.String("job", job.Name), zap.Error(err))
		s.finish(job, err)
	}
}

func (s *Scheduler) run(job Job) error {
	if job.Run != nil {
		return job.Run(s.ctx)
	}
	for _, url := range job.URLs {
		if err := s.warm(job, url); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) warm(job Job, url string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.MaxRetries),
		s.ctx,
	)
	return backoff.Retry(func() error {
		if err := s.limiter.Wait(s.ctx); err != nil {
			return backoff.Permanent(err)
		}
		_, err := s.cache.Get(s.ctx, url, job.Fetch)
		if errors.Is(err, ErrNoFetcher) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
}

func (s *Scheduler) finish(job Job, err error) {
	defer s.pending.Done()

	status := "success"
	if err != nil {
		status = "error"
		s.logger.Debug("Prefetch job failed", zap.String("job", job.Name), zap.Error(err))
	}
	s.metrics.RecordPrefetchJob(status)

	if job.Done != nil {
		job.Done(err)
	}
}
