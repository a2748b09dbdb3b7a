package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the generation worker on cron schedules: a generation
// pass on a configurable spec and a daily reminder scan.
type Scheduler struct {
	cron           *cron.Cron
	worker         *GenerationWorker
	generationSpec string
	reminderSpec   string
	jobTimeout     time.Duration
}

func NewScheduler(worker *GenerationWorker, generationSpec, reminderSpec string, location *time.Location) *Scheduler {
	return &Scheduler{
		cron:           cron.New(cron.WithLocation(location)),
		worker:         worker,
		generationSpec: generationSpec,
		reminderSpec:   reminderSpec,
		jobTimeout:     5 * time.Minute,
	}
}

// Start registers the jobs and blocks until ctx is cancelled. An immediate
// generation pass runs first so restarts do not leave due rules waiting
// for the next tick.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.generationSpec, s.runGeneration); err != nil {
		return fmt.Errorf("add generation job: %w", err)
	}

	if _, err := s.cron.AddFunc(s.reminderSpec, s.runReminders); err != nil {
		return fmt.Errorf("add reminder job: %w", err)
	}

	s.runGeneration()

	s.cron.Start()
	slog.Info("Scheduler started",
		"generation_spec", s.generationSpec,
		"reminder_spec", s.reminderSpec)

	<-ctx.Done()
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) runGeneration() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	if _, err := s.worker.ProcessDueRules(ctx); err != nil {
		slog.ErrorContext(ctx, "Generation pass failed", "error", err)
	}
}

func (s *Scheduler) runReminders() {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	sent, err := s.worker.SendReminders(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Reminder scan failed", "error", err)
		return
	}
	if sent > 0 {
		slog.InfoContext(ctx, "Reminder scan complete", "sent", sent)
	}
}
