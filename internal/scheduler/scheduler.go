package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler is the process-wide cron engine. Sessions register recurring
// jobs on it and cancel them through the returned Token.
type Scheduler struct {
	engine *cron.Cron
}

// New creates a scheduler whose jobs recover from panics and skip a tick
// while the previous run is still in progress.
func New() *Scheduler {
	l := cronLogger{}
	return &Scheduler{
		engine: cron.New(
			cron.WithLogger(l),
			cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
		),
	}
}

// Start runs the engine in its own goroutine.
func (s *Scheduler) Start() {
	logrus.Info("Scheduler started")
	s.engine.Start()
}

// Stop halts the engine. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	logrus.Info("Scheduler stopping")
	return s.engine.Stop()
}

// Every runs job on a fixed interval until the token is cancelled.
func (s *Scheduler) Every(interval time.Duration, job cron.Job) *Token {
	id := s.engine.Schedule(cron.Every(interval), job)
	return &Token{scheduler: s, id: id}
}

// Len returns the number of registered jobs.
func (s *Scheduler) Len() int {
	return len(s.engine.Entries())
}

// Token cancels one scheduled job.
type Token struct {
	scheduler *Scheduler
	id        cron.EntryID
	once      sync.Once
}

// Cancel removes the job. Safe on nil and safe to call more than once.
func (t *Token) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() {
		t.scheduler.engine.Remove(t.id)
	})
}

// cronLogger routes cron's own logging through logrus.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logrus.WithFields(toFields(keysAndValues)).Debug(msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logrus.WithFields(toFields(keysAndValues)).WithError(err).Error(msg)
}

func toFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			fields[k] = keysAndValues[i+1]
		}
	}
	return fields
}
