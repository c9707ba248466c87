package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/configs"
	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/queue"
	"github.com/fraudshield/scoring-engine/internal/repositories"
	"github.com/fraudshield/scoring-engine/internal/webhook"
)

// Worker drains decision events off the stream and performs everything that
// must not block the response path: the durable transaction write, the
// consortium observations, and webhook delivery.
type Worker struct {
	id           string
	streamClient *queue.RedisStreamClient
	transactions *repositories.TransactionRepository
	consortium   *repositories.ConsortiumRepository
	clients      *repositories.ClientRepository
	dispatcher   *webhook.Dispatcher
	config       configs.WorkerConfig
	wg           sync.WaitGroup
	stopCh       chan struct{}
	metrics      *Metrics
}

// Metrics tracks worker throughput.
type Metrics struct {
	mu                sync.RWMutex
	ProcessedCount    int64
	FailedCount       int64
	TotalProcessingMs int64
	LastProcessedAt   time.Time
}

func (m *Metrics) record(d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if failed {
		m.FailedCount++
	} else {
		m.ProcessedCount++
	}
	m.TotalProcessingMs += d.Milliseconds()
	m.LastProcessedAt = time.Now()
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() (processed, failed, totalMs int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ProcessedCount, m.FailedCount, m.TotalProcessingMs
}

func NewWorker(
	id string,
	streamClient *queue.RedisStreamClient,
	transactions *repositories.TransactionRepository,
	consortium *repositories.ConsortiumRepository,
	clients *repositories.ClientRepository,
	dispatcher *webhook.Dispatcher,
	config configs.WorkerConfig,
) *Worker {
	return &Worker{
		id:           id,
		streamClient: streamClient,
		transactions: transactions,
		consortium:   consortium,
		clients:      clients,
		dispatcher:   dispatcher,
		config:       config,
		stopCh:       make(chan struct{}),
		metrics:      &Metrics{},
	}
}

// Start runs the consumer goroutines and blocks until a shutdown signal.
func (w *Worker) Start(ctx context.Context) error {
	log.Info().
		Str("worker_id", w.id).
		Int("concurrency", w.config.Concurrency).
		Msg("Starting persistence worker")

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.processLoop(ctx, fmt.Sprintf("%s-%d", w.id, i))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info().Msg("Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled")
	}

	return w.Stop()
}

// Stop drains the goroutines gracefully.
func (w *Worker) Stop() error {
	log.Info().Str("worker_id", w.id).Msg("Stopping worker...")
	close(w.stopCh)
	w.wg.Wait()
	log.Info().Str("worker_id", w.id).Msg("Worker stopped")
	return nil
}

func (w *Worker) processLoop(ctx context.Context, consumerName string) {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopCh:
			log.Info().Str("consumer", consumerName).Msg("Worker goroutine stopping")
			return
		case <-ctx.Done():
			return
		default:
		}

		messages, err := w.streamClient.Consume(ctx, consumerName, int64(w.config.BatchSize), w.config.PollInterval)
		if err != nil {
			log.Error().Err(err).Str("consumer", consumerName).Msg("Failed to consume messages")
			time.Sleep(time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			started := time.Now()
			if err := w.processEvent(ctx, msg.Event); err != nil {
				w.metrics.record(time.Since(started), true)
				log.Error().
					Err(err).
					Str("transaction_id", msg.Event.Transaction.ExternalID).
					Int("retry", msg.Event.RetryCount).
					Msg("Failed to process decision event")
				if rqErr := w.streamClient.Requeue(ctx, msg.ID, msg.Event, err); rqErr != nil {
					log.Error().Err(rqErr).Msg("Failed to requeue event")
				}
				continue
			}
			w.metrics.record(time.Since(started), false)
			if err := w.streamClient.Acknowledge(ctx, msg.ID); err != nil {
				log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to acknowledge message")
			}
		}
	}
}

// processEvent persists one decision. The insert is idempotent: a replayed
// event loses the unique-constraint race and skips the follow-up writes.
func (w *Worker) processEvent(ctx context.Context, event *models.DecisionEvent) error {
	tx := event.Transaction

	inserted, err := w.transactions.Create(ctx, tx)
	if err != nil {
		return fmt.Errorf("persist transaction: %w", err)
	}
	if !inserted {
		log.Debug().
			Str("transaction_id", tx.ExternalID).
			Msg("Transaction already persisted, skipping side effects")
		return nil
	}

	for kind, digest := range event.Observations {
		if err := w.consortium.Observe(ctx, tx.ClientID.String(), kind, digest, tx.CreatedAt); err != nil {
			return fmt.Errorf("consortium observe %s: %w", kind, err)
		}
	}

	if webhook.ShouldNotify(tx) && event.WebhookURL != "" {
		w.deliverWebhook(ctx, tx)
	}
	return nil
}

// deliverWebhook resolves the tenant's signing secret and dispatches. Webhook
// failure is terminal here, never a reason to retry the persistence.
func (w *Worker) deliverWebhook(ctx context.Context, tx *models.Transaction) {
	client, err := w.clients.GetByID(ctx, tx.ClientID)
	if err != nil {
		log.Warn().Err(err).Str("client_id", tx.ClientID.String()).Msg("Webhook client lookup failed")
		return
	}
	if client.WebhookURL == "" {
		return
	}
	if err := w.dispatcher.Dispatch(ctx, client.WebhookURL, client.WebhookSecret, tx); err != nil {
		log.Error().Err(err).Str("transaction_id", tx.ExternalID).Msg("Webhook delivery gave up")
	}
}

// AgeOutRunner periodically trims expired consortium observations. It lives
// in the worker so the request path never pays for it.
type AgeOutRunner struct {
	consortium *repositories.ConsortiumRepository
	cfg        configs.ConsortiumConfig
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

func NewAgeOutRunner(consortium *repositories.ConsortiumRepository, cfg configs.ConsortiumConfig) *AgeOutRunner {
	return &AgeOutRunner{consortium: consortium, cfg: cfg, stopCh: make(chan struct{})}
}

func (r *AgeOutRunner) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.AgeOutEvery)
		defer ticker.Stop()
		for {
			select {
			case <-r.stopCh:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.consortium.AgeOut(ctx, r.cfg.WindowDays); err != nil {
					log.Error().Err(err).Msg("Consortium age-out failed")
				}
			}
		}
	}()
	log.Info().
		Dur("every", r.cfg.AgeOutEvery).
		Int("window_days", r.cfg.WindowDays).
		Msg("Consortium age-out scheduled")
}

func (r *AgeOutRunner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

// WorkerID derives a unique consumer id for this process.
func WorkerID(prefix string) string {
	host, err := os.Hostname()
	if err != nil {
		host = uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s-%s-%d", prefix, host, os.Getpid())
}
