package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/claimguard/internal/anomaly"
	"github.com/opensource-finance/claimguard/internal/bus"
	"github.com/opensource-finance/claimguard/internal/cache"
	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/history"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/scoring"
)

// memRepo records saved assessments.
type memRepo struct {
	repository.NopRepository
	mu    sync.Mutex
	saved map[string]*domain.Assessment
}

func newMemRepo() *memRepo {
	return &memRepo{saved: make(map[string]*domain.Assessment)}
}

func (r *memRepo) SaveAssessment(_ context.Context, a *domain.Assessment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved[a.ID] = a
	return nil
}

func (r *memRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func newTestEngine(t *testing.T) *scoring.Engine {
	t.Helper()

	model, err := anomaly.Train(domain.ModelConfig{Trees: 10, SampleSize: 64, Contamination: 0.25, TrainingRows: 100, Seed: 1})
	if err != nil {
		t.Fatalf("failed to train model: %v", err)
	}
	explainer, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create rule engine: %v", err)
	}

	return scoring.NewEngine(
		history.NewStore(),
		scoring.NewHybridScorer(anomaly.NewProviderWithModel(model), scoring.DefaultWeights(), scoring.FixedNoise(0.03)),
		explainer,
		decision.NewProcessor(),
	)
}

func claimPayload(t *testing.T, beneficiary, shop string, regionRisk, ts float64) []byte {
	t.Helper()
	payload, err := json.Marshal(domain.ClaimRequest{
		BeneficiaryID: beneficiary,
		ShopID:        shop,
		Quantity:      5,
		RegionRisk:    &regionRisk,
		Timestamp:     ts,
	})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	return payload
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	repo := newMemRepo()
	lru := cache.NewLRUCache(100)
	dispatcher := NewDispatcher(repo, lru, eventBus, nil, DispatchConfig{AssessmentTTL: time.Minute, AlertWindow: time.Hour})

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, newTestEngine(t), dispatcher)

		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if stats.Topics[0] != domain.TopicClaimSubmitted {
			t.Errorf("expected topic %s, got %s", domain.TopicClaimSubmitted, stats.Topics[0])
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
		if w.GetStats().SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", w.GetStats().SubscriptionCount)
		}
	})

	t.Run("ProcessClaim", func(t *testing.T) {
		w := NewWorker(eventBus, newTestEngine(t), dispatcher)
		if err := w.Start(Config{}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		assessments := make(chan *domain.Assessment, 4)
		alerts := make(chan *domain.Assessment, 4)
		collect := func(ch chan *domain.Assessment) domain.MessageHandler {
			return func(ctx context.Context, msg *domain.Message) error {
				var a domain.Assessment
				if err := json.Unmarshal(msg.Payload, &a); err != nil {
					return err
				}
				ch <- &a
				return nil
			}
		}
		if _, err := eventBus.Subscribe(ctx, domain.TopicAssessment, collect(assessments)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if _, err := eventBus.Subscribe(ctx, domain.TopicAlert, collect(alerts)); err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		// a shop hop across regions inside five minutes scores HIGH
		if err := eventBus.Publish(ctx, domain.TopicClaimSubmitted, claimPayload(t, "ben-async", "shop-1", 0.2, 1000)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		first := waitFor(t, assessments)
		if first.Signals.DailyCount != 1 {
			t.Errorf("expected first claim daily count 1, got %d", first.Signals.DailyCount)
		}

		if err := eventBus.Publish(ctx, domain.TopicClaimSubmitted, claimPayload(t, "ben-async", "shop-2", 0.8, 1300)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		second := waitFor(t, assessments)
		if second.RiskLevel != domain.RiskHigh {
			t.Errorf("expected HIGH, got %s (%.2f)", second.RiskLevel, second.FraudScore)
		}

		alert := waitFor(t, alerts)
		if alert.ID != second.ID {
			t.Errorf("expected alert for %s, got %s", second.ID, alert.ID)
		}

		if repo.count() < 2 {
			t.Errorf("expected assessments to be persisted, got %d", repo.count())
		}
		cached, err := lru.GetAssessment(ctx, second.ID)
		if err != nil || cached == nil {
			t.Errorf("expected cached assessment, got %v, %v", cached, err)
		}
	})

	t.Run("RequestReply", func(t *testing.T) {
		w := NewWorker(eventBus, newTestEngine(t), dispatcher)
		if err := w.Start(Config{Topic: "claimguard.test.rpc"}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		defer w.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		reply, err := eventBus.Request(ctx, "claimguard.test.rpc", claimPayload(t, "ben-rpc", "shop-9", 0.1, 50))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}

		a, err := DecodeReply(reply)
		if err != nil {
			t.Fatalf("DecodeReply failed: %v", err)
		}
		if a.BeneficiaryID != "ben-rpc" {
			t.Errorf("expected ben-rpc, got %s", a.BeneficiaryID)
		}
		if a.Metadata.TraceID == "" {
			t.Error("expected trace id to be filled from the message id")
		}

		reply, err = eventBus.Request(ctx, "claimguard.test.rpc", []byte("{not json"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if _, err := DecodeReply(reply); err == nil {
			t.Error("expected error reply for invalid payload")
		}
	})
}

func waitFor(t *testing.T, ch <-chan *domain.Assessment) *domain.Assessment {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for assessment")
		return nil
	}
}

func TestDispatcherAlertThrottle(t *testing.T) {
	eventBus := bus.NewChannelBus(10)
	defer eventBus.Close()

	d := NewDispatcher(nil, cache.NewLRUCache(10), eventBus, nil, DispatchConfig{AlertWindow: time.Hour})
	ctx := context.Background()

	high := func(id, beneficiary string) *domain.Assessment {
		return &domain.Assessment{
			ID:            id,
			BeneficiaryID: beneficiary,
			ScoringResult: domain.ScoringResult{FraudScore: 0.9, RiskLevel: domain.RiskHigh, Reasons: []string{}},
		}
	}

	if !d.Dispatch(ctx, high("a1", "ben-1")) {
		t.Error("expected first HIGH assessment to alert")
	}
	if d.Dispatch(ctx, high("a2", "ben-1")) {
		t.Error("expected second alert in window to be throttled")
	}
	if !d.Dispatch(ctx, high("a3", "ben-2")) {
		t.Error("expected other beneficiary to alert")
	}

	low := &domain.Assessment{ID: "a4", BeneficiaryID: "ben-3", ScoringResult: domain.ScoringResult{FraudScore: 0.1, RiskLevel: domain.RiskLow}}
	if d.Dispatch(ctx, low) {
		t.Error("expected LOW assessment not to alert")
	}
}

// flakyAlertBus fails alert publishes while failures is positive.
type flakyAlertBus struct {
	domain.EventBus
	mu       sync.Mutex
	failures int
	alerts   int
}

func (b *flakyAlertBus) Publish(ctx context.Context, topic string, payload []byte) error {
	if topic == domain.TopicAlert {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.failures > 0 {
			b.failures--
			return errors.New("broker unavailable")
		}
		b.alerts++
	}
	return b.EventBus.Publish(ctx, topic, payload)
}

func TestDispatcherAlertPublishFailureReleasesThrottle(t *testing.T) {
	inner := bus.NewChannelBus(10)
	defer inner.Close()
	eventBus := &flakyAlertBus{EventBus: inner, failures: 1}

	d := NewDispatcher(nil, cache.NewLRUCache(10), eventBus, nil, DispatchConfig{AlertWindow: time.Hour})
	ctx := context.Background()

	high := func(id string) *domain.Assessment {
		return &domain.Assessment{
			ID:            id,
			BeneficiaryID: "ben-9",
			ScoringResult: domain.ScoringResult{FraudScore: 0.9, RiskLevel: domain.RiskHigh, Reasons: []string{}},
		}
	}

	if d.Dispatch(ctx, high("f1")) {
		t.Error("expected failed publish not to report an alert")
	}
	if !d.Dispatch(ctx, high("f2")) {
		t.Error("expected alert after a failed publish not to be throttled")
	}
	if d.Dispatch(ctx, high("f3")) {
		t.Error("expected alert after a successful publish to be throttled")
	}
	if eventBus.alerts != 1 {
		t.Errorf("expected 1 delivered alert, got %d", eventBus.alerts)
	}
}

func TestDispatcherWithoutBackends(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, decision.NewProcessor(), DispatchConfig{})

	a := &domain.Assessment{ID: "a1", ScoringResult: domain.ScoringResult{RiskLevel: domain.RiskHigh}}
	if d.Dispatch(context.Background(), a) {
		t.Error("expected no alert without a bus")
	}
	if d.Dispatch(context.Background(), nil) {
		t.Error("expected nil assessment to be ignored")
	}
}

func TestDecodeReply(t *testing.T) {
	if _, err := DecodeReply([]byte(`{"error":"anomaly score provider unavailable"}`)); err == nil {
		t.Error("expected error reply")
	}
	if _, err := DecodeReply([]byte(`{}`)); err == nil {
		t.Error("expected error for empty reply")
	}
	if _, err := DecodeReply([]byte(`nope`)); err == nil {
		t.Error("expected error for invalid reply")
	}

	a, err := DecodeReply([]byte(`{"assessment":{"id":"x","riskLevel":"LOW"}}`))
	if err != nil {
		t.Fatalf("DecodeReply failed: %v", err)
	}
	if a.ID != "x" || a.RiskLevel != domain.RiskLow {
		t.Errorf("unexpected assessment %+v", a)
	}
}
