package outreach

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/clinicore/outreach/internal/config"
	redisclient "github.com/clinicore/outreach/internal/redis"
	"github.com/clinicore/outreach/internal/signature"
)

var ErrDispatchInProgress = errors.New("dispatch run already in progress")

// DispatchResult aggregates one dispatcher run.
type DispatchResult struct {
	Processed int      // delivered, marked sent
	Failed    int      // retried or dead-lettered
	Skipped   int      // claimed by a concurrent run
	Errors    []string // dead-letter causes only
}

// Dispatcher delivers due pending events to the automation engine with
// bounded retries and a dead-letter terminal path. It is stateless and safe
// to invoke repeatedly; overlapping runs are excluded by a Redis lock, and
// each row is additionally guarded by an atomic claim.
type Dispatcher struct {
	repo       Repository
	locker     redisclient.Locker
	client     *http.Client
	webhookURL string
	secret     string
	batchSize  int
	reclaim    time.Duration
}

func NewDispatcher(repo Repository, locker redisclient.Locker, cfg config.Config) *Dispatcher {
	return &Dispatcher{
		repo:       repo,
		locker:     locker,
		client:     &http.Client{Timeout: cfg.DispatchTimeout},
		webhookURL: cfg.EngineWebhookURL,
		secret:     cfg.WebhookSecret,
		batchSize:  cfg.DispatchBatchSize,
		reclaim:    cfg.ProcessingReclaim,
	}
}

// Run executes one dispatch pass. It returns ErrDispatchInProgress when
// another run holds the lock; callers treat that as a successful no-op.
func (d *Dispatcher) Run(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	err := d.locker.WithDispatchLock(ctx, func(lockCtx context.Context) error {
		var batchErr error
		result, batchErr = d.dispatchBatch(lockCtx)
		return batchErr
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return DispatchResult{}, ErrDispatchInProgress
		}
		return result, err
	}

	return result, nil
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (DispatchResult, error) {
	var result DispatchResult

	now := time.Now()
	reclaimBefore := now.Add(-d.reclaim)

	events, err := d.repo.FetchDuePending(ctx, now, reclaimBefore, d.batchSize)
	if err != nil {
		return result, fmt.Errorf("fetch due events: %w", err)
	}

	for i := range events {
		ev := &events[i]

		claimed, err := d.repo.ClaimEvent(ctx, ev.ID, reclaimBefore)
		if err != nil {
			log.Printf("claim event %s: %v", ev.ID, err)
			continue
		}
		if !claimed {
			// Another worker took the row between fetch and claim.
			result.Skipped++
			continue
		}

		if err := d.send(ctx, ev); err != nil {
			d.recordFailure(ctx, ev, err, &result)
			continue
		}

		processedAt := time.Now()
		if err := d.repo.MarkEventSent(ctx, ev.ID, processedAt); err != nil {
			log.Printf("mark event %s sent: %v", ev.ID, err)
		}
		if ev.WorkflowID != nil {
			// Best effort, the event transition is authoritative.
			if err := d.repo.MarkWorkflowSent(ctx, *ev.WorkflowID, processedAt); err != nil {
				log.Printf("mark workflow %s sent for event %s: %v", *ev.WorkflowID, ev.ID, err)
			}
		}
		result.Processed++
	}

	return result, nil
}

func (d *Dispatcher) send(ctx context.Context, ev *OutboundEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(ev.Payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if d.secret != "" {
		req.Header.Set("X-Webhook-Signature", signature.Sign(ev.Payload, d.secret))
	}
	req.Header.Set("X-Idempotency-Key", signature.IdempotencyKey(ev.ID.String(), ev.CreatedAt))
	req.Header.Set("X-Event-Id", ev.ID.String())
	req.Header.Set("X-Event-Type", ev.EventType)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post to engine: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}

	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, ev *OutboundEvent, sendErr error, result *DispatchResult) {
	result.Failed++
	retryCount := ev.RetryCount + 1

	if retryCount >= ev.MaxRetries {
		msg := fmt.Sprintf("event %s dead-lettered after %d attempts: %v", ev.ID, retryCount, sendErr)
		result.Errors = append(result.Errors, msg)
		if err := d.repo.MarkEventDeadLetter(ctx, ev.ID, retryCount, sendErr.Error(), time.Now()); err != nil {
			log.Printf("mark event %s dead letter: %v", ev.ID, err)
		}
		return
	}

	// Linear backoff: 1 minute after the first failure, 2 after the second.
	nextAttempt := time.Now().Add(time.Duration(retryCount) * time.Minute)
	if err := d.repo.MarkEventRetry(ctx, ev.ID, retryCount, sendErr.Error(), nextAttempt); err != nil {
		log.Printf("mark event %s for retry: %v", ev.ID, err)
	}
}
