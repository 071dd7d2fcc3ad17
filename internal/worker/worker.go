// Package worker scores submitted batches asynchronously off the EventBus.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/trancheready/internal/cache"
	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/tadp"
)

// Batch lifecycle states.
const (
	StatusPending  = "pending"
	StatusScored   = "scored"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// BatchMessage is the payload of a batch.submitted message.
type BatchMessage struct {
	BatchID     string       `json:"batchId"`
	TenantID    string       `json:"tenantId"`
	Batch       domain.Batch `json:"batch"`
	SubmittedAt time.Time    `json:"submittedAt"`
}

// BatchStatus is what the cache holds under batch:<id>.
type BatchStatus struct {
	BatchID     string                     `json:"batchId"`
	Status      string                     `json:"status"`
	Result      *domain.Result             `json:"result,omitempty"`
	Invalid     *domain.InvalidRecordError `json:"invalid,omitempty"`
	Error       string                     `json:"error,omitempty"`
	SubmittedAt time.Time                  `json:"submittedAt"`
	CompletedAt time.Time                  `json:"completedAt,omitzero"`
}

// CaseMessage is the payload of a case.opened message.
type CaseMessage struct {
	BatchID   string      `json:"batchId"`
	RulesetID string      `json:"rulesetId"`
	Case      domain.Case `json:"case"`
}

// ScoredMessage is the payload of batch.scored, batch.rejected and batch.failed messages.
type ScoredMessage struct {
	BatchID string        `json:"batchId"`
	Status  string        `json:"status"`
	Counts  domain.Counts `json:"counts"`
}

// ResultKey is the cache key for a batch's status.
func ResultKey(batchID string) string {
	return "batch:" + batchID
}

// Submit records a pending status and publishes the batch for a worker.
func Submit(ctx context.Context, eventBus domain.EventBus, c domain.Cache, tenantID string, b domain.Batch, ttl time.Duration) (string, error) {
	msg := BatchMessage{
		BatchID:     uuid.New().String(),
		TenantID:    tenantID,
		Batch:       b,
		SubmittedAt: time.Now().UTC(),
	}

	pending := BatchStatus{BatchID: msg.BatchID, Status: StatusPending, SubmittedAt: msg.SubmittedAt}
	if err := cache.SetJSON(ctx, c, tenantID, ResultKey(msg.BatchID), pending, ttl); err != nil {
		return "", fmt.Errorf("record pending batch: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode batch: %w", err)
	}
	if err := eventBus.Publish(ctx, tenantID, domain.TopicBatchSubmitted, payload); err != nil {
		return "", fmt.Errorf("publish batch: %w", err)
	}
	return msg.BatchID, nil
}

// Lookup returns the stored status for batchID, or domain.ErrNotFound.
func Lookup(ctx context.Context, c domain.Cache, tenantID, batchID string) (*BatchStatus, error) {
	var st BatchStatus
	found, err := cache.GetJSON(ctx, c, tenantID, ResultKey(batchID), &st)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, domain.ErrNotFound
	}
	return &st, nil
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs to subscribe for; empty subscribes to every tenant.
	TenantIDs []string

	// ResultTTL is how long results stay in the cache.
	ResultTTL time.Duration
}

// Worker consumes batch.submitted and publishes the outcome.
type Worker struct {
	bus       domain.EventBus
	cache     domain.Cache
	processor *tadp.Processor
	resultTTL time.Duration

	mu            sync.Mutex
	subscriptions []domain.Subscription
	inflight      sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates an async worker.
func NewWorker(eventBus domain.EventBus, c domain.Cache, processor *tadp.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       eventBus,
		cache:     c,
		processor: processor,
		resultTTL: time.Hour,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes for the configured tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.ResultTTL > 0 {
		w.resultTTL = cfg.ResultTTL
	}

	tenants := cfg.TenantIDs
	if len(tenants) == 0 {
		tenants = []string{domain.WildcardTenant}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, tenantID := range tenants {
		sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicBatchSubmitted, w.handleMessage)
		if err != nil {
			return fmt.Errorf("subscribe tenant %s: %w", tenantID, err)
		}
		w.subscriptions = append(w.subscriptions, sub)
		slog.Info("worker subscribed",
			"tenant_id", tenantID,
			"topic", domain.TopicBatchSubmitted,
		)
	}
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	w.inflight.Add(1)
	defer w.inflight.Done()

	var bm BatchMessage
	if err := json.Unmarshal(msg.Payload, &bm); err != nil {
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	// The envelope tenant is authoritative; the payload cannot redirect writes.
	bm.TenantID = msg.TenantID
	return w.processBatch(ctx, bm)
}

func (w *Worker) processBatch(ctx context.Context, bm BatchMessage) error {
	start := time.Now()
	status := BatchStatus{BatchID: bm.BatchID, SubmittedAt: bm.SubmittedAt}

	result, err := w.processor.Process(ctx, bm.Batch)
	status.CompletedAt = time.Now().UTC()

	var invalid *domain.InvalidRecordError
	switch {
	case err == nil:
		status.Status = StatusScored
		status.Result = result
	case errors.As(err, &invalid):
		status.Status = StatusRejected
		status.Invalid = invalid
	default:
		status.Status = StatusFailed
		status.Error = err.Error()
	}

	if serr := cache.SetJSON(ctx, w.cache, bm.TenantID, ResultKey(bm.BatchID), status, w.resultTTL); serr != nil {
		slog.Error("failed to store batch result",
			"batch_id", bm.BatchID,
			"tenant_id", bm.TenantID,
			"error", serr,
		)
		return serr
	}

	summary := ScoredMessage{BatchID: bm.BatchID, Status: status.Status}
	if result != nil {
		summary.Counts = result.Counts
	}
	w.publish(ctx, bm.TenantID, summaryTopic(status.Status), summary)

	if result != nil {
		for _, c := range result.Cases {
			w.publish(ctx, bm.TenantID, domain.TopicCaseOpened, CaseMessage{
				BatchID:   bm.BatchID,
				RulesetID: result.Ruleset.RulesetID,
				Case:      c,
			})
		}
	}

	slog.Info("batch processed",
		"batch_id", bm.BatchID,
		"tenant_id", bm.TenantID,
		"status", status.Status,
		"clients", len(bm.Batch.Clients),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func summaryTopic(status string) string {
	switch status {
	case StatusScored:
		return domain.TopicBatchScored
	case StatusRejected:
		return domain.TopicBatchRejected
	default:
		return domain.TopicBatchFailed
	}
}

func (w *Worker) publish(ctx context.Context, tenantID, topic string, v any) {
	payload, err := json.Marshal(v)
	if err == nil {
		err = w.bus.Publish(ctx, tenantID, topic, payload)
	}
	if err != nil {
		slog.Error("failed to publish",
			"topic", topic,
			"tenant_id", tenantID,
			"error", err,
		)
	}
}

// Stop unsubscribes and waits for in-flight batches.
func (w *Worker) Stop() error {
	w.mu.Lock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil
	w.mu.Unlock()

	w.inflight.Wait()
	w.cancel()

	slog.Info("workers stopped")
	return nil
}

// Stats reports the active subscriptions.
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
