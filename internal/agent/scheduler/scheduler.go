package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinel/internal/check"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	// ErrConflict means a job already exists for the check id. Schedule does
	// not silently replace: a duplicate dispatch is a bug upstream and must
	// surface.
	ErrConflict = errors.New("job already exists")
	// ErrNotFound means no job is registered for the check id.
	ErrNotFound = errors.New("job not found")
)

// Runner executes one check and handles its results (report to the master).
// The scheduler does not care what happens to results; a Runner must not
// panic, but the scheduler recovers and logs if it does.
type Runner func(ctx context.Context, spec *check.Spec)

// JobSummary is the externally visible state of one scheduled job.
type JobSummary struct {
	Spec    check.Spec `json:"spec"`
	Paused  bool       `json:"paused"`
	NextRun time.Time  `json:"next_run"`
}

type job struct {
	spec    check.Spec
	entryID cron.EntryID
	paused  bool
}

// Scheduler holds one independently timed repeating job per check. Jobs fire
// concurrently; one job's failure or slowness never delays another's timer.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	jobs   map[uint32]*job
	runner Runner
	mu     sync.RWMutex
}

func New(logger *zap.Logger, runner Runner) *Scheduler {
	return &Scheduler{
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
		jobs:   make(map[uint32]*job),
		runner: runner,
	}
}

// Schedule registers a new job keyed by the spec's check id. Returns
// ErrConflict if one already exists.
func (s *Scheduler) Schedule(spec check.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[spec.ID]; exists {
		return fmt.Errorf("check %d: %w", spec.ID, ErrConflict)
	}

	j := &job{spec: spec}
	if err := s.addEntry(j); err != nil {
		return err
	}
	s.jobs[spec.ID] = j

	s.logger.Info("Job scheduled",
		zap.Uint32("check_id", spec.ID),
		zap.String("type", string(spec.Type)),
		zap.Int("interval", spec.Interval))
	return nil
}

// Reschedule atomically replaces an existing job's spec, or creates the job
// when none exists. This is the upsert used by the update flow.
func (s *Scheduler) Reschedule(spec check.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.jobs[spec.ID]; exists {
		if !existing.paused {
			s.cron.Remove(existing.entryID)
		}
		delete(s.jobs, spec.ID)
	}

	j := &job{spec: spec}
	if err := s.addEntry(j); err != nil {
		return err
	}
	s.jobs[spec.ID] = j

	s.logger.Info("Job rescheduled",
		zap.Uint32("check_id", spec.ID),
		zap.Int("interval", spec.Interval))
	return nil
}

// Unschedule removes the job and cancels its pending timer. An execution
// already in flight completes and still reports.
func (s *Scheduler) Unschedule(checkID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[checkID]
	if !exists {
		return fmt.Errorf("check %d: %w", checkID, ErrNotFound)
	}
	if !j.paused {
		s.cron.Remove(j.entryID)
	}
	delete(s.jobs, checkID)

	s.logger.Info("Job unscheduled", zap.Uint32("check_id", checkID))
	return nil
}

// RunOnce fires the job immediately without touching its schedule.
func (s *Scheduler) RunOnce(checkID uint32) error {
	s.mu.RLock()
	j, exists := s.jobs[checkID]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("check %d: %w", checkID, ErrNotFound)
	}

	spec := j.spec
	go s.run(&spec)
	return nil
}

// Pause stops the job's timer but keeps its registration.
func (s *Scheduler) Pause(checkID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[checkID]
	if !exists {
		return fmt.Errorf("check %d: %w", checkID, ErrNotFound)
	}
	if !j.paused {
		s.cron.Remove(j.entryID)
		j.paused = true
		s.logger.Info("Job paused", zap.Uint32("check_id", checkID))
	}
	return nil
}

// Resume restores a paused job's timer.
func (s *Scheduler) Resume(checkID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, exists := s.jobs[checkID]
	if !exists {
		return fmt.Errorf("check %d: %w", checkID, ErrNotFound)
	}
	if j.paused {
		if err := s.addEntry(j); err != nil {
			return err
		}
		j.paused = false
		s.logger.Info("Job resumed", zap.Uint32("check_id", checkID))
	}
	return nil
}

// List returns a snapshot of all registered jobs.
func (s *Scheduler) List() []JobSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]JobSummary, 0, len(s.jobs))
	for _, j := range s.jobs {
		summaries = append(summaries, s.summary(j))
	}
	return summaries
}

// Get returns one job's snapshot.
func (s *Scheduler) Get(checkID uint32) (JobSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, exists := s.jobs[checkID]
	if !exists {
		return JobSummary{}, fmt.Errorf("check %d: %w", checkID, ErrNotFound)
	}
	return s.summary(j), nil
}

func (s *Scheduler) summary(j *job) JobSummary {
	sum := JobSummary{Spec: j.spec, Paused: j.paused}
	if !j.paused {
		sum.NextRun = s.cron.Entry(j.entryID).Next
	}
	return sum
}

// Start begins firing timers. Idempotent.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// PauseAll halts all timers without dropping any registration.
func (s *Scheduler) PauseAll() {
	s.cron.Stop()
	s.logger.Info("Scheduler paused")
}

// Stop halts timers for shutdown. In-flight executions complete on their
// own goroutines.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.logger.Info("Scheduler stopped")
}

// addEntry registers the cron entry for a job. Caller holds the lock.
func (s *Scheduler) addEntry(j *job) error {
	spec := j.spec
	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %ds", spec.Interval), func() {
		s.run(&spec)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule check %d: %w", spec.ID, err)
	}
	j.entryID = entryID
	return nil
}

// run executes one job invocation. Failures are isolated: a panic here is
// logged and never reaches the cron timer goroutine or other jobs.
func (s *Scheduler) run(spec *check.Spec) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job execution panicked",
				zap.Uint32("check_id", spec.ID),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(spec.Timeout)*time.Second)
	defer cancel()

	s.runner(ctx, spec)
}
