package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
	"NeuralRoulette/internal/usecase"
	"NeuralRoulette/pkg/config"
	xhttp "NeuralRoulette/pkg/http"
	"NeuralRoulette/pkg/logger"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *logger.Logger
	session    *usecase.Session
	collector  *usecase.SpinCollector
	scheduler  *usecase.Scheduler
	reporter   *usecase.Reporter
	httpServer *xhttp.Server
	recorder   drepo.Recorder
	publisher  drepo.Publisher
}

// New creates a new App instance with all dependencies. httpServer may be nil.
func New(
	cfg *config.Config,
	log *logger.Logger,
	session *usecase.Session,
	collector *usecase.SpinCollector,
	scheduler *usecase.Scheduler,
	reporter *usecase.Reporter,
	httpServer *xhttp.Server,
	recorder drepo.Recorder,
	publisher drepo.Publisher,
) *App {
	return &App{
		cfg:        cfg,
		log:        log,
		session:    session,
		collector:  collector,
		scheduler:  scheduler,
		reporter:   reporter,
		httpServer: httpServer,
		recorder:   recorder,
		publisher:  publisher,
	}
}

// Session exposes the running session.
func (a *App) Session() *usecase.Session { return a.session }

// Run starts the session and blocks until it ends or ctx is cancelled. The
// final report is emitted and returned in both cases.
func (a *App) Run(ctx context.Context) (*models.SessionReport, error) {
	if err := a.session.Prepare(ctx); err != nil {
		a.session.Finish(models.StatusModelError, err.Error())
		return a.finish(err)
	}

	if err := a.scheduler.Register(a.cfg.Checkpoint.Schedule, a.cfg.Session.StatusLogSchedule); err != nil {
		a.log.Warn("scheduler disabled", logger.Error(err))
	} else {
		a.scheduler.Start()
	}

	var serverErr <-chan error
	if a.httpServer != nil {
		if err := a.httpServer.Start(); err != nil {
			a.log.Error("http server start error", logger.Error(err))
		} else {
			serverErr = a.httpServer.Err()
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := a.collector.Start(runCtx); err != nil {
		a.log.Error("feed start failed", logger.Error(err))
		a.session.Finish(models.StatusFeedError, err.Error())
		return a.finish(err)
	}
	a.log.Info("session started",
		logger.String("session", a.session.ID()),
		logger.String("strategy", a.session.Strategy().String()),
		logger.String("feed", a.collector.FeedName()),
	)

	select {
	case <-ctx.Done():
		a.log.Info("shutdown signal received")
		a.session.Finish(models.StatusStopped, "interrupted")
	case <-a.session.Done():
	case err := <-serverErr:
		a.session.Finish(models.StatusStopped, "http server failed")
		return a.finish(err)
	}
	return a.finish(nil)
}

// finish stops everything in dependency order and emits the report.
func (a *App) finish(cause error) (*models.SessionReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	var errs []error
	if cause != nil {
		errs = append(errs, cause)
	}
	if err := a.collector.Shutdown(ctx); err != nil {
		a.log.Warn("collector stop error", logger.Error(err))
	}
	a.scheduler.Stop()
	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			a.log.Warn("http shutdown error", logger.Error(err))
		}
	}
	if err := a.session.Close(ctx); err != nil {
		a.log.Error("session close error", logger.Error(err))
		errs = append(errs, err)
	}

	report := a.session.Report()
	if err := a.reporter.Emit(ctx, report); err != nil {
		a.log.Warn("report emit error", logger.Error(err))
	}

	if err := a.publisher.Close(); err != nil {
		a.log.Warn("publisher close error", logger.Error(err))
	}
	if err := a.recorder.Close(); err != nil {
		a.log.Warn("recorder close error", logger.Error(err))
	}
	a.log.Info("shutdown complete", logger.String("status", string(report.Status)))
	return report, errors.Join(errs...)
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.Server.ShutdownTimeout; d > 0 {
		return d + 5*time.Second
	}
	return 15 * time.Second
}

// ExitCode maps a finished session to the process exit status: 0 for a
// graceful end, 1 when the feed or the model failed.
func ExitCode(report *models.SessionReport, err error) int {
	if report != nil {
		switch report.Status {
		case models.StatusFeedError, models.StatusModelError:
			return 1
		}
	}
	if err != nil {
		return 1
	}
	return 0
}

// Describe renders the one-line summary printed on exit.
func Describe(r *models.SessionReport) string {
	if r == nil {
		return "no session report"
	}
	return fmt.Sprintf("session %s %s: %d spins, %d cycles, %d wins, balance %s -> %s (ROI %.2f%%)",
		r.SessionID, r.Status, r.TotalSpins, r.Cycles, r.Wins,
		r.StartingBalance.StringFixed(2), r.FinalBalance.StringFixed(2), r.ROI*100)
}
