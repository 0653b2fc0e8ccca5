package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/pkg/logger"
)

// Reporter emits the end-of-session report to the log, the recorder, the
// publisher and either a JSON file or the given writer.
type Reporter struct {
	rec  drepo.Recorder
	pub  drepo.Publisher
	log  *logger.Logger
	path string
	out  io.Writer
}

func NewReporter(rec drepo.Recorder, pub drepo.Publisher, log *logger.Logger, path string, out io.Writer) *Reporter {
	if log == nil {
		log = logger.Nop()
	}
	return &Reporter{rec: rec, pub: pub, log: log, path: path, out: out}
}

// Emit delivers r to every sink. Sink failures are collected; the remaining
// sinks still run.
func (r *Reporter) Emit(ctx context.Context, rep *models.SessionReport) error {
	if rep == nil {
		return errors.New("report is nil")
	}
	r.log.Info("session report",
		logger.String("session", rep.SessionID),
		logger.String("strategy", rep.Strategy),
		logger.String("status", string(rep.Status)),
		logger.String("stop_reason", rep.StopReason),
		logger.Int("total_spins", rep.TotalSpins),
		logger.Int("cycles", rep.Cycles),
		logger.Float("win_rate", rep.WinRate),
		logger.String("starting_balance", rep.StartingBalance.String()),
		logger.String("final_balance", rep.FinalBalance.String()),
		logger.Float("roi", rep.ROI),
		logger.Int("feed_gaps", rep.FeedGaps),
	)

	var errs []error
	if r.rec != nil {
		if err := r.rec.RecordReport(ctx, rep); err != nil {
			errs = append(errs, fmt.Errorf("record report: %w", err))
		}
	}
	if r.pub != nil {
		if err := r.pub.PublishReport(ctx, rep); err != nil {
			errs = append(errs, fmt.Errorf("publish report: %w", err))
		}
	}

	blob, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("encode report: %w", err))...)
	}
	switch {
	case r.path != "":
		if err := writeFileAtomic(r.path, blob); err != nil {
			errs = append(errs, err)
		} else {
			r.log.Info("report written", logger.String("path", r.path))
		}
	case r.out != nil:
		if _, err := r.out.Write(append(blob, '\n')); err != nil {
			errs = append(errs, fmt.Errorf("write report: %w", err))
		}
	}
	return errors.Join(errs...)
}

func writeFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
