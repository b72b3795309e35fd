// Package worker scores claims arriving on the event bus and fans out the
// resulting assessments.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/scoring"
)

// Worker processes submitted claims asynchronously from the EventBus.
type Worker struct {
	bus        domain.EventBus
	engine     *scoring.Engine
	dispatcher *Dispatcher

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Topic to consume claims from; defaults to domain.TopicClaimSubmitted
	Topic string
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, engine *scoring.Engine, dispatcher *Dispatcher) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:        eventBus,
		engine:     engine,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the claim topic.
func (w *Worker) Start(cfg Config) error {
	topic := cfg.Topic
	if topic == "" {
		topic = domain.TopicClaimSubmitted
	}

	sub, err := w.bus.Subscribe(w.ctx, topic, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("claim worker started", "topic", topic)
	return nil
}

// replyEnvelope is sent back to request-reply callers.
type replyEnvelope struct {
	Assessment *domain.Assessment `json:"assessment,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// handleMessage scores one submitted claim.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var req domain.ClaimRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		w.reply(ctx, msg, replyEnvelope{Error: "invalid claim payload"})
		return fmt.Errorf("failed to parse claim message %s: %w", msg.ID, err)
	}

	assessment, err := w.engine.ScoreTransaction(ctx, req.Claim())
	if err != nil {
		cause := "scoring failed"
		if errors.Is(err, domain.ErrProviderUnavailable) {
			cause = domain.ErrProviderUnavailable.Error()
		}
		w.reply(ctx, msg, replyEnvelope{Error: cause})
		return err
	}

	if assessment.Metadata.TraceID == "" {
		assessment.Metadata.TraceID = msg.ID
	}

	w.dispatcher.Dispatch(ctx, assessment)
	w.reply(ctx, msg, replyEnvelope{Assessment: assessment})

	slog.Info("claim processed",
		"message_id", msg.ID,
		"assessment_id", assessment.ID,
		"beneficiary_id", assessment.BeneficiaryID,
		"fraud_score", assessment.FraudScore,
		"risk_level", assessment.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

func (w *Worker) reply(ctx context.Context, msg *domain.Message, env replyEnvelope) {
	topic := bus.ReplyTopic(msg)
	if topic == "" {
		return
	}

	payload, err := json.Marshal(env)
	if err != nil {
		slog.Error("failed to marshal reply", "message_id", msg.ID, "error", err)
		return
	}
	if err := w.bus.Publish(ctx, topic, payload); err != nil {
		slog.Error("failed to publish reply", "message_id", msg.ID, "error", err)
	}
}

// DecodeReply unpacks a worker reply received through EventBus.Request.
func DecodeReply(data []byte) (*domain.Assessment, error) {
	var env replyEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse reply: %w", err)
	}
	if env.Error != "" {
		return nil, errors.New(env.Error)
	}
	if env.Assessment == nil {
		return nil, errors.New("empty reply")
	}
	return env.Assessment, nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("claim worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
