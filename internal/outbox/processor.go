// README: Outbox processor polls pending messages and dispatches them to handlers by event type.
package outbox

import (
	"context"
	"fmt"
	"time"

	"foodhub/internal/config"
	"foodhub/internal/logger"
)

type Handler interface {
	HandleMessage(ctx context.Context, m *Message) error
}

type Repository interface {
	Claim(ctx context.Context, limit int) ([]*Message, error)
	MarkCompleted(ctx context.Context, id int64, at time.Time) error
	Release(ctx context.Context, id int64, reason string) error
	MarkFailed(ctx context.Context, id int64, reason string) error
}

type Processor struct {
	repo     Repository
	handlers map[string]Handler
	cfg      config.OutboxConfig
	log      logger.Logger
	now      func() time.Time
}

func NewProcessor(repo Repository, cfg config.OutboxConfig, log logger.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Processor{
		repo:     repo,
		handlers: make(map[string]Handler),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Register must be called before Run.
func (p *Processor) Register(eventType string, h Handler) {
	p.handlers[eventType] = h
}

func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.log.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// ProcessBatch handles one claimed batch. A failing message never stops the
// rest of the batch.
func (p *Processor) ProcessBatch(ctx context.Context) (int, error) {
	msgs, err := p.repo.Claim(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim outbox messages: %w", err)
	}
	done := 0
	for _, m := range msgs {
		if err := p.process(ctx, m); err != nil {
			p.log.Warn("outbox message not delivered",
				"message_id", m.ID, "event_type", m.EventType, "aggregate_id", m.AggregateID,
				"attempts", m.Attempts, "error", err)
			continue
		}
		done++
	}
	return done, nil
}

func (p *Processor) process(ctx context.Context, m *Message) error {
	h, ok := p.handlers[m.EventType]
	if !ok {
		reason := "no handler for event type " + m.EventType
		if err := p.repo.MarkFailed(ctx, m.ID, reason); err != nil {
			p.log.Error("outbox mark failed", "message_id", m.ID, "error", err)
		}
		return fmt.Errorf("%s", reason)
	}

	if err := h.HandleMessage(ctx, m); err != nil {
		if m.Attempts >= p.cfg.MaxAttempts {
			if markErr := p.repo.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
				p.log.Error("outbox mark failed", "message_id", m.ID, "error", markErr)
			}
			return fmt.Errorf("giving up after %d attempts: %w", m.Attempts, err)
		}
		if relErr := p.repo.Release(ctx, m.ID, err.Error()); relErr != nil {
			p.log.Error("outbox release failed", "message_id", m.ID, "error", relErr)
		}
		return err
	}

	if err := p.repo.MarkCompleted(ctx, m.ID, p.now()); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	p.log.Debug("outbox message delivered", "message_id", m.ID, "event_type", m.EventType)
	return nil
}
