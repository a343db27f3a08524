// Package scheduler runs the relay's periodic housekeeping on gocron.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/campuschat/internal/logger"
)

// gocronLogger пишет сообщения планировщика в общий логгер.
type gocronLogger struct{}

func (gocronLogger) Debug(msg string, args ...any) { logger.Debugf("gocron: %s%s", msg, kv(args)) }
func (gocronLogger) Info(msg string, args ...any)  { logger.Debugf("gocron: %s%s", msg, kv(args)) }
func (gocronLogger) Warn(msg string, args ...any)  { logger.Warnf("gocron: %s%s", msg, kv(args)) }
func (gocronLogger) Error(msg string, args ...any) { logger.Errorf("gocron: %s%s", msg, kv(args)) }

func kv(args []any) string {
	var b strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	return b.String()
}

type Scheduler struct {
	s gocron.Scheduler
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithLogger(gocronLogger{}),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: create: %w", err)
	}
	return &Scheduler{s: s}, nil
}

// Every schedules job at a fixed interval. A run that overlaps the previous
// one is skipped.
func (s *Scheduler) Every(name string, interval time.Duration, job func()) error {
	_, err := s.s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(job),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", name, err)
	}
	logger.Infof("scheduler: %s every %s", name, interval)
	return nil
}

func (s *Scheduler) Start() {
	s.s.Start()
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() error {
	if err := s.s.Shutdown(); err != nil {
		return fmt.Errorf("scheduler: shutdown: %w", err)
	}
	return nil
}
