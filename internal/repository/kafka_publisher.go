package repository

import (
	"context"

	"NeuralRoulette/internal/domain/models"
	drepo "NeuralRoulette/internal/domain/repository"
)

// MessagePublisher is the part of pkg/kafka.Producer used here.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaPublisher streams rounds and reports, keyed by session id so a
// session's messages stay on one partition.
type KafkaPublisher struct {
	producer    MessagePublisher
	roundTopic  string
	reportTopic string
}

func NewKafkaPublisher(producer MessagePublisher, roundTopic, reportTopic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, roundTopic: roundTopic, reportTopic: reportTopic}
}

func (p *KafkaPublisher) PublishRound(ctx context.Context, r *models.RoundResult) error {
	return p.producer.Publish(ctx, p.roundTopic, []byte(r.SessionID), r)
}

func (p *KafkaPublisher) PublishReport(ctx context.Context, r *models.SessionReport) error {
	return p.producer.Publish(ctx, p.reportTopic, []byte(r.SessionID), r)
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

var _ drepo.Publisher = (*KafkaPublisher)(nil)
