package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/hetulpatel/crossmatch/internal/config"
	"github.com/hetulpatel/crossmatch/internal/kafka"
	"github.com/hetulpatel/crossmatch/internal/logging"
	"github.com/hetulpatel/crossmatch/internal/queue"
	"github.com/hetulpatel/crossmatch/internal/workers"
)

func main() {
	configPath := flag.String("config", os.Getenv("ARB_CONFIG"), "path to a TOML config file")
	workerCount := flag.Int("workers", 1, "concurrent consumers in the group")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Fatalf("[opportunity-tail] load config: %v", err)
	}
	logging.SetLevel(cfg.LogLevel)

	brokers := kafka.CleanBrokers(cfg.Kafka.Brokers)
	topic := cfg.Kafka.OpportunityTopic
	if topic == "" {
		topic = kafka.DefaultOpportunityTopic
	}

	waitCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	if err := kafka.WaitForBroker(waitCtx, brokers); err != nil {
		logging.Fatalf("[opportunity-tail] wait for broker: %v", err)
	}
	cancel()

	ensureCtx, cancelEnsure := context.WithTimeout(ctx, 30*time.Second)
	spec := kafka.TopicSpec{Name: topic, Partitions: cfg.Kafka.Partitions, ReplicationFactor: cfg.Kafka.ReplicationFactor}
	if err := kafka.EnsureTopic(ensureCtx, brokers, spec); err != nil {
		logging.Errorf("[opportunity-tail] ensure topic warning: %v", err)
	}
	cancelEnsure()

	logging.Infof("[opportunity-tail] consuming %s with group %s (%d workers)", topic, cfg.Kafka.GroupID, *workerCount)
	workers.Run(ctx, brokers, topic, cfg.Kafka.GroupID, *workerCount, func(_ context.Context, op queue.OpportunityMessage) error {
		printOpportunity(op)
		return nil
	})
}

func printOpportunity(op queue.OpportunityMessage) {
	r := op.Result
	days := "?"
	if r.DaysToResolution != nil {
		days = fmt.Sprintf("%d", *r.DaysToResolution)
	}
	annual := "n/a"
	if r.AnnualizedReturn != nil {
		annual = fmt.Sprintf("%.1f%%", *r.AnnualizedReturn*100)
	}
	fmt.Printf("[arb-opportunity] run=%s pair=%s leg=%s spread=%.4f profit=%.4f days=%s annualized=%s\n  PM: %s\n  KS: %s\n",
		op.RunID, op.PairKey, r.BestLeg, r.Spread, r.Profit, days, annual, r.PolyMarket.Question, r.KalshiMarket.Question)
}
