package workers

import (
	"context"
	"encoding/json"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/hetulpatel/crossmatch/internal/kafka"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/queue"
)

// Handler processes one published opportunity.
type Handler func(context.Context, queue.OpportunityMessage) error

// MessageReader is the subset of *kafka.Reader the pool consumes from.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafkago.Message, error)
	Close() error
}

// Run starts workerCount consumers of topic in group and blocks until ctx is
// done and every consumer has returned.
func Run(ctx context.Context, brokers []string, topic, group string, workerCount int, handler Handler) {
	RunReaders(ctx, workerCount, func() MessageReader {
		return kafka.NewReader(brokers, topic, group)
	}, handler)
}

// RunReaders is Run with a custom reader constructor.
func RunReaders(ctx context.Context, workerCount int, newReader func() MessageReader, handler Handler) {
	if workerCount <= 0 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			reader := newReader()
			defer reader.Close()
			logging.Debugf("[workers] consumer %d started", id)
			consume(ctx, reader, handler)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
}

func consume(ctx context.Context, reader MessageReader, handler Handler) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Errorf("[workers] read error: %v", err)
			continue
		}

		var op queue.OpportunityMessage
		if err := json.Unmarshal(msg.Value, &op); err != nil {
			logging.Errorf("[workers] unmarshal error on %s: %v", string(msg.Key), err)
			continue
		}

		if handler != nil {
			if err := handler(ctx, op); err != nil {
				logging.Errorf("[workers] handler error for %s: %v", op.PairKey, err)
			}
		}
	}
}
