package repository

import (
	"context"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
)

// NoopRecorder is used when the archive backend is "none".
type NoopRecorder struct{}

func (NoopRecorder) Init(context.Context) error                                  { return nil }
func (NoopRecorder) RecordSpin(context.Context, string, *models.SpinEvent) error { return nil }
func (NoopRecorder) RecordRound(context.Context, *models.RoundResult) error      { return nil }
func (NoopRecorder) RecordReport(context.Context, *models.SessionReport) error   { return nil }
func (NoopRecorder) Health(context.Context) error                                { return nil }
func (NoopRecorder) Close() error                                                { return nil }

// NoopPublisher is used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishRound(context.Context, *models.RoundResult) error    { return nil }
func (NoopPublisher) PublishReport(context.Context, *models.SessionReport) error { return nil }
func (NoopPublisher) Close() error                                               { return nil }

var (
	_ drepo.Recorder  = NoopRecorder{}
	_ drepo.Publisher = NoopPublisher{}
)
