package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/glimps-re/stegascan/pkg/datamodel"
	"github.com/glimps-re/stegascan/pkg/engine"
	"github.com/google/uuid"
)

const (
	defaultWorkers      = 4
	defaultQueueSize    = 64
	defaultPollInterval = 50 * time.Millisecond
)

type Config struct {
	Workers   int `yaml:"workers" mapstructure:"workers"`
	QueueSize int `yaml:"queue_size" mapstructure:"queue_size"`
	// Retention is how long terminal records are kept, 0 keeps them forever.
	Retention     time.Duration `yaml:"retention" mapstructure:"retention"`
	JanitorPeriod time.Duration `yaml:"janitor_period" mapstructure:"janitor_period"`
	PollInterval  time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
}

type job struct {
	id       string
	data     []byte
	filename string
	opts     engine.Options
}

// Dispatcher runs submitted analyses on a bounded pool of workers.
type Dispatcher struct {
	scanner engine.Scanner
	store   Store
	config  Config

	lock     sync.RWMutex
	started  bool
	stop     chan struct{}
	queue    chan job
	workerWg sync.WaitGroup
}

func NewDispatcher(config Config, scanner engine.Scanner, store Store) *Dispatcher {
	if config.Workers < 1 {
		config.Workers = defaultWorkers
	}
	if config.QueueSize < 1 {
		config.QueueSize = defaultQueueSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.JanitorPeriod <= 0 {
		config.JanitorPeriod = max(config.Retention/2, time.Second)
	}
	return &Dispatcher{
		scanner: scanner,
		store:   store,
		config:  config,
		stop:    make(chan struct{}),
		queue:   make(chan job, config.QueueSize),
	}
}

func (d *Dispatcher) Start() {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.started = true
	for range d.config.Workers {
		d.workerWg.Go(func() { d.worker() })
	}
	if d.config.Retention > 0 {
		d.workerWg.Go(func() { d.janitor() })
	}
}

// Submit records a pending analysis and queues it. The returned id is valid
// even with ErrQueueFull: the record is then already Failed.
func (d *Dispatcher) Submit(ctx context.Context, data []byte, filename string, opts engine.Options) (id string, err error) {
	if len(data) == 0 {
		err = datamodel.ErrEmptyFile
		return
	}
	if opts, err = opts.Normalize(); err != nil {
		return
	}

	d.lock.RLock()
	defer d.lock.RUnlock()
	if !d.started {
		err = ErrStopped
		return
	}

	id = uuid.NewString()
	if err = d.store.Create(ctx, Record{ID: id, Filename: filename, Status: StatusPending}); err != nil {
		id = ""
		return
	}
	select {
	case d.queue <- job{id: id, data: data, filename: filename, opts: opts}:
		logger.Debug("analysis queued", slog.String("id", id), slog.String("file", filename))
	default:
		d.fail(ctx, id, ErrQueueFull)
		err = ErrQueueFull
	}
	return
}

// Poll returns the current snapshot of an analysis, with its public status.
func (d *Dispatcher) Poll(ctx context.Context, id string) (rec Record, err error) {
	rec, err = d.store.Get(ctx, id)
	rec.Status = rec.Status.Public()
	return
}

// Wait polls id until it reaches a terminal state or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, id string) (rec Record, err error) {
	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()
	for {
		rec, err = d.store.Get(ctx, id)
		if err != nil || rec.Status.Terminal() {
			return
		}
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) worker() {
	for {
		select {
		case <-d.stop:
			return
		case j := <-d.queue:
			d.run(j)
		}
	}
}

func (d *Dispatcher) run(j job) {
	jobLogger := logger.With(slog.String("id", j.id), slog.String("file", j.filename))
	// analyses are not cancellable once dispatched
	ctx := context.Background()
	if _, err := d.store.Transition(ctx, j.id, Update{Status: StatusProcessing}); err != nil {
		jobLogger.Error("could not start analysis", slog.String("error", err.Error()))
		return
	}
	res, err := d.scan(ctx, j)
	if err != nil {
		jobLogger.Warn("analysis failed", slog.String("error", err.Error()))
		d.fail(ctx, j.id, err)
		return
	}
	if _, err = d.store.Transition(ctx, j.id, Update{Status: StatusCompleted, Result: &res}); err != nil {
		jobLogger.Error("could not complete analysis", slog.String("error", err.Error()))
		return
	}
	jobLogger.Debug("analysis completed", slog.String("confidence", string(res.Summary.ConfidenceLevel)))
}

func (d *Dispatcher) scan(ctx context.Context, j job) (res datamodel.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", datamodel.ErrInternal, r)
		}
	}()
	return d.scanner.Scan(ctx, j.data, j.filename, j.opts)
}

func (d *Dispatcher) fail(ctx context.Context, id string, cause error) {
	if _, err := d.store.Transition(ctx, id, Update{Status: StatusFailed, Error: cause.Error()}); err != nil {
		logger.Error("could not mark analysis as failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) janitor() {
	ticker := time.NewTicker(d.config.JanitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			deleted, err := d.store.DeleteBefore(context.Background(), Now().Add(-d.config.Retention))
			if err != nil {
				logger.Error("could not purge analyses", slog.String("error", err.Error()))
				continue
			}
			if deleted > 0 {
				logger.Debug("purged analyses", slog.Int("deleted", deleted))
			}
		}
	}
}

// Close stops accepting analyses, lets running ones finish and fails the ones
// still queued.
func (d *Dispatcher) Close(ctx context.Context) (err error) {
	d.lock.Lock()
	if !d.started {
		d.lock.Unlock()
		return
	}
	d.started = false
	close(d.stop)
	d.lock.Unlock()

	done := make(chan struct{})
	go func() {
		d.workerWg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		return
	}

	for {
		select {
		case j := <-d.queue:
			d.fail(ctx, j.id, ErrStopped)
		default:
			return
		}
	}
}

// IsNotFound reports whether err means the analysis id is unknown.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrJobNotFound)
}
