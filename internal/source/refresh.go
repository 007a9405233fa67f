package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/joeblew999/forest-sync/internal/service"
)

// Snapshotter produces registry snapshots. *Fetcher is one.
type Snapshotter interface {
	Fetch(ctx context.Context) (service.Snapshot, error)
}

// Status describes the last refresh.
type Status struct {
	LastRun     time.Time `json:"lastRun" doc:"When the last refresh finished"`
	LastSuccess time.Time `json:"lastSuccess" doc:"When the feed was last read successfully"`
	LastError   string    `json:"lastError,omitempty" doc:"Error of the last refresh, if it failed"`
	Schedule    string    `json:"schedule" doc:"Refresh schedule (cron syntax)"`
}

// Refresher reloads the registry on a schedule.
type Refresher struct {
	src      Snapshotter
	store    *service.SinkService
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	log      *slog.Logger

	mu        sync.Mutex
	status    Status
	listeners []func(context.Context, service.Snapshot)
	running   bool
}

// NewRefresher returns a refresher that installs snapshots from src into
// store. schedule uses standard cron syntax or descriptors such as
// "@every 15m"; an empty schedule disables periodic refresh.
func NewRefresher(src Snapshotter, store *service.SinkService, schedule string, timeout time.Duration, log *slog.Logger) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	return &Refresher{
		src:      src,
		store:    store,
		schedule: schedule,
		timeout:  timeout,
		cron:     cron.New(),
		log:      log,
		status:   Status{Schedule: schedule},
	}
}

// OnRefresh registers fn to run after each successful refresh.
func (r *Refresher) OnRefresh(fn func(context.Context, service.Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Refresh fetches once. On failure the previous snapshot stays in place.
func (r *Refresher) Refresh(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	snap, err := r.src.Fetch(ctx)

	r.mu.Lock()
	r.status.LastRun = time.Now()
	if err != nil {
		r.status.LastError = err.Error()
		r.mu.Unlock()
		r.log.ErrorContext(ctx, "feed refresh failed", "error", err)
		return err
	}
	r.status.LastError = ""
	r.status.LastSuccess = r.status.LastRun
	listeners := append([]func(context.Context, service.Snapshot){}, r.listeners...)
	r.mu.Unlock()

	if err := r.store.Replace(snap); err != nil {
		r.log.WarnContext(ctx, "snapshot not cached", "error", err)
	}
	r.log.InfoContext(ctx, "feed refreshed", "sinks", len(snap.CarbonSinks), "owners", len(snap.Owners))

	for _, fn := range listeners {
		fn(ctx, snap)
	}
	return nil
}

// Schedule adds a maintenance job to the refresher's scheduler.
func (r *Refresher) Schedule(spec, name string, job func(context.Context)) error {
	_, err := r.cron.AddFunc(spec, func() {
		r.log.Debug("scheduled job", "job", name)
		job(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	return nil
}

// Start runs a first refresh in the background and then follows the
// schedule until Stop. A failed first refresh is logged, not returned.
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher already running")
	}
	r.running = true
	r.mu.Unlock()

	if r.schedule != "" {
		if err := r.Schedule(r.schedule, "feed refresh", func(ctx context.Context) { _ = r.Refresh(ctx) }); err != nil {
			return err
		}
	}
	r.cron.Start()
	go func() { _ = r.Refresh(ctx) }()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	<-r.cron.Stop().Done()
}

// Status returns the outcome of the last refresh.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
