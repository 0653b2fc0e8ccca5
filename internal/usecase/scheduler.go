package usecase

import (
	"fmt"

	"NeuralRoulette/pkg/logger"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the timed session chores: checkpoints and a status line.
type Scheduler struct {
	cron    *cron.Cron
	session *Session
	log     *logger.Logger
}

func NewScheduler(session *Session, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	return &Scheduler{cron: cron.New(), session: session, log: log}
}

// Register adds the checkpoint and status jobs. Empty specs are skipped.
func (s *Scheduler) Register(checkpointSpec, statusSpec string) error {
	if checkpointSpec != "" {
		if _, err := s.cron.AddFunc(checkpointSpec, s.checkpoint); err != nil {
			return fmt.Errorf("register checkpoint job: %w", err)
		}
	}
	if statusSpec != "" {
		if _, err := s.cron.AddFunc(statusSpec, s.status); err != nil {
			return fmt.Errorf("register status job: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) checkpoint() {
	if _, err := s.session.Checkpoint(); err != nil {
		s.log.Error("scheduled checkpoint failed", logger.Error(err))
	}
}

func (s *Scheduler) status() {
	snap := s.session.Snapshot()
	s.log.Info("session status",
		logger.String("status", string(snap.Status)),
		logger.Int("spins", snap.Spins),
		logger.Int("cycles", snap.Cycles),
		logger.String("balance", snap.Engine.Balance.String()),
		logger.Float("win_rate", snap.Engine.WinRate),
		logger.Float("roi", snap.Engine.ROI),
		logger.Int64("train_steps", snap.Model.Steps),
		logger.Int("feed_gaps", snap.FeedGaps),
	)
}
