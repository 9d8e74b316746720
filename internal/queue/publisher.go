package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hetulpatel/crossmatch/internal/cache"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/matches"
)

// MessageWriter is the subset of *kafka.Writer used for publishing.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OpportunityMessage is the payload published for each changed opportunity.
type OpportunityMessage struct {
	RunID       string                  `json:"run_id"`
	PairKey     string                  `json:"pair_key"`
	PublishedAt time.Time               `json:"published_at"`
	Result      matches.ArbitrageResult `json:"result"`
}

// Publisher sends opportunities to Kafka, skipping pairs whose best leg and
// profit are unchanged since the last publication.
type Publisher struct {
	writer MessageWriter
	last   cache.OpportunityCache
	now    func() time.Time
}

// NewPublisher wraps writer. A nil last cache publishes every result.
func NewPublisher(writer MessageWriter, last cache.OpportunityCache) *Publisher {
	return &Publisher{writer: writer, last: last, now: time.Now}
}

// PublishOpportunities writes one message per changed result and returns how
// many were sent.
func (p *Publisher) PublishOpportunities(ctx context.Context, runID string, results []matches.ArbitrageResult) (int, error) {
	if p == nil || p.writer == nil || len(results) == 0 {
		return 0, nil
	}

	published := p.now().UTC()
	msgs := make([]kafka.Message, 0, len(results))
	pending := make(map[string]cache.OpportunityRecord, len(results))

	for _, r := range results {
		key := r.PairKey()
		record := cache.OpportunityRecord{BestLeg: string(r.BestLeg), Profit: r.Profit, UpdatedAt: published}
		if p.last != nil {
			prev, ok, err := p.last.Get(ctx, key)
			if err != nil {
				logging.Warnf("[publisher] last-opportunity lookup %s: %v", key, err)
			} else if ok && prev.Same(record) {
				continue
			}
		}
		payload, err := json.Marshal(OpportunityMessage{RunID: runID, PairKey: key, PublishedAt: published, Result: r})
		if err != nil {
			return 0, fmt.Errorf("marshal opportunity %s: %w", key, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(key), Value: payload})
		pending[key] = record
	}

	if len(msgs) == 0 {
		return 0, nil
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish %d opportunities: %w", len(msgs), err)
	}
	if p.last != nil {
		for key, record := range pending {
			if err := p.last.Set(ctx, key, record); err != nil {
				logging.Warnf("[publisher] remember opportunity %s: %v", key, err)
			}
		}
	}
	return len(msgs), nil
}
