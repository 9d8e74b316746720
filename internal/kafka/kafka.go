package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/hetulpatel/crossmatch/internal/logging"
)

const (
	DefaultOpportunityTopic = "arbitrage.opportunities"
	brokerPollInterval      = time.Second
)

var errNoBrokers = errors.New("kafka: no brokers configured")

// CleanBrokers trims entries and drops empty ones.
func CleanBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// TopicSpec describes the opportunity topic. Zero counts mean one.
type TopicSpec struct {
	Name              string
	Partitions        int
	ReplicationFactor int
}

func (t TopicSpec) config() kafka.TopicConfig {
	cfg := kafka.TopicConfig{
		Topic:             t.Name,
		NumPartitions:     t.Partitions,
		ReplicationFactor: t.ReplicationFactor,
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultOpportunityTopic
	}
	if cfg.NumPartitions <= 0 {
		cfg.NumPartitions = 1
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = 1
	}
	return cfg
}

// dialAny returns a connection to the first broker that answers.
func dialAny(ctx context.Context, brokers []string) (*kafka.Conn, error) {
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	var errs []error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", b, err))
	}
	return nil, errors.Join(errs...)
}

// WaitForBroker polls the broker list every brokerPollInterval until one of
// them accepts a connection.
func WaitForBroker(ctx context.Context, brokers []string) error {
	if len(brokers) == 0 {
		return errNoBrokers
	}
	ticker := time.NewTicker(brokerPollInterval)
	defer ticker.Stop()
	for attempt := 1; ; attempt++ {
		conn, err := dialAny(ctx, brokers)
		if err == nil {
			conn.Close()
			if attempt > 1 {
				logging.Infof("[kafka] broker reachable after %d attempts", attempt)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka: no broker reachable after %d attempts: %w", attempt, err)
		case <-ticker.C:
		}
	}
}

// EnsureTopic creates the topic on the cluster controller; a topic that already
// exists is left as is.
func EnsureTopic(ctx context.Context, brokers []string, spec TopicSpec) error {
	conn, err := dialAny(ctx, brokers)
	if err != nil {
		return fmt.Errorf("kafka: dial: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("kafka: dial controller %s: %w", addr, err)
	}
	defer ctrl.Close()

	cfg := spec.config()
	err = ctrl.CreateTopics(cfg)
	if errors.Is(err, kafka.TopicAlreadyExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", cfg.Topic, err)
	}
	logging.Infof("[kafka] topic %s ready (%d partitions, rf %d)", cfg.Topic, cfg.NumPartitions, cfg.ReplicationFactor)
	return nil
}

// NewWriter returns a writer keyed by market pair so updates to one pair stay
// ordered on a partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 100 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
}

func NewReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokers,
		Topic:             topic,
		GroupID:           group,
		MinBytes:          1,
		MaxBytes:          10e6,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		CommitInterval:    time.Second,
		StartOffset:       kafka.LastOffset,
	})
}
