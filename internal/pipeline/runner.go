package pipeline

import (
	"context"
	"log/slog"

	"opsdesk/internal/domain"
)

const defaultConcurrency = 3

// Runner consumes the inbound bus and processes messages with bounded
// concurrency. Each message is handed to the replier of the gateway it
// arrived on.
type Runner struct {
	bus         domain.MessageBus
	processor   *Processor
	repliers    map[domain.GatewayKind]domain.Replier
	concurrency int
	logger      *slog.Logger
}

type RunnerConfig struct {
	Bus         domain.MessageBus
	Processor   *Processor
	Repliers    map[domain.GatewayKind]domain.Replier
	Concurrency int // max parallel messages (default 3)
	Logger      *slog.Logger
}

func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Runner{
		bus:         cfg.Bus,
		processor:   cfg.Processor,
		repliers:    cfg.Repliers,
		concurrency: cfg.Concurrency,
		logger:      cfg.Logger,
	}
}

// Run blocks until the context is cancelled or the bus is closed.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("Pipeline started", "concurrency", r.concurrency)

	sem := make(chan struct{}, r.concurrency)
	inbound := r.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Pipeline stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Info("Inbound channel closed, pipeline stopping")
				return
			}
			replier, ok := r.repliers[msg.Gateway]
			if !ok {
				r.logger.Error("No replier for gateway, dropping message", "gateway", msg.Gateway)
				continue
			}
			sem <- struct{}{}
			go func(m domain.CanonicalMessage, rep domain.Replier) {
				defer func() { <-sem }()
				r.processor.Process(ctx, m, rep)
			}(msg, replier)
		}
	}
}
