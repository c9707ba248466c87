package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/configs"
	"github.com/fraudshield/scoring-engine/internal/cache"
)

// This worker does NOT score transactions (the API scores inline and the
// Redis Stream worker persists). It tails the transactions table via CDC for:
//   - real-time decision analytics aggregation
//   - outcome transition tracking (decision vs. confirmed outcome)
//   - recent-event feed for dashboards
//   - event replay / data warehouse sync

// DebeziumMessage represents a CDC event from Debezium
type DebeziumMessage struct {
	Before      json.RawMessage `json:"before"`
	After       json.RawMessage `json:"after"`
	Source      DebeziumSource  `json:"source"`
	Op          string          `json:"op"` // c=create, u=update, d=delete, r=read (snapshot)
	TsMs        int64           `json:"ts_ms"`
	Transaction json.RawMessage `json:"transaction"`
}

// DebeziumSource contains metadata about the change
type DebeziumSource struct {
	Version   string `json:"version"`
	Connector string `json:"connector"`
	Name      string `json:"name"`
	TsMs      int64  `json:"ts_ms"`
	Snapshot  string `json:"snapshot"`
	DB        string `json:"db"`
	Schema    string `json:"schema"`
	Table     string `json:"table"`
	TxID      int64  `json:"txId"`
	LSN       int64  `json:"lsn"`
}

// DecisionCDC is the subset of the transactions row the pipeline cares about.
type DecisionCDC struct {
	ID         string  `json:"id"`
	ClientID   string  `json:"client_id"`
	ExternalID string  `json:"external_id"`
	Vertical   string  `json:"vertical"`
	Score      int     `json:"score"`
	RiskLevel  string  `json:"risk_level"`
	Decision   string  `json:"decision"`
	Outcome    *string `json:"outcome"`
	FraudType  *string `json:"fraud_type"`
	CreatedAt  string  `json:"created_at"`
}

// AnalyticsEvent represents a processed event for analytics
type AnalyticsEvent struct {
	EventType     string                 `json:"event_type"`
	TransactionID string                 `json:"transaction_id"`
	ClientID      string                 `json:"client_id"`
	Vertical      string                 `json:"vertical"`
	Score         int                    `json:"score"`
	RiskLevel     string                 `json:"risk_level"`
	Decision      string                 `json:"decision"`
	Outcome       string                 `json:"outcome,omitempty"`
	PrevOutcome   string                 `json:"prev_outcome,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	CDCTimestamp  int64                  `json:"cdc_timestamp_ms"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// RealTimeMetrics tracks live counters over the CDC feed
type RealTimeMetrics struct {
	mu                   sync.RWMutex
	DecisionsRecorded    int64
	Approved             int64
	Reviews              int64
	Declined             int64
	OutcomesRecorded     int64
	LevelDistribution    map[string]int64
	VerticalDistribution map[string]int64
	OutcomeTransitions   map[string]int64
	LastEventTime        time.Time
	EventsPerSecond      float64
	windowStart          time.Time
	windowCount          int64
}

func NewRealTimeMetrics() *RealTimeMetrics {
	return &RealTimeMetrics{
		LevelDistribution:    make(map[string]int64),
		VerticalDistribution: make(map[string]int64),
		OutcomeTransitions:   make(map[string]int64),
		windowStart:          time.Now(),
	}
}

func (m *RealTimeMetrics) RecordEvent(event *AnalyticsEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastEventTime = time.Now()
	m.windowCount++

	elapsed := time.Since(m.windowStart).Seconds()
	if elapsed > 0 {
		m.EventsPerSecond = float64(m.windowCount) / elapsed
	}

	// Reset window every minute
	if elapsed > 60 {
		m.windowStart = time.Now()
		m.windowCount = 0
	}

	switch event.EventType {
	case "decision_recorded":
		m.DecisionsRecorded++
		m.LevelDistribution[event.RiskLevel]++
		m.VerticalDistribution[event.Vertical]++

		switch event.Decision {
		case "approve":
			m.Approved++
		case "review":
			m.Reviews++
		case "decline":
			m.Declined++
		}
	case "outcome_recorded":
		m.OutcomesRecorded++
		m.OutcomeTransitions[event.Decision+"->"+event.Outcome]++
	}
}

func (m *RealTimeMetrics) GetSnapshot() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"decisions_recorded":    m.DecisionsRecorded,
		"approved":              m.Approved,
		"reviews":               m.Reviews,
		"declined":              m.Declined,
		"outcomes_recorded":     m.OutcomesRecorded,
		"events_per_second":     m.EventsPerSecond,
		"level_distribution":    m.LevelDistribution,
		"vertical_distribution": m.VerticalDistribution,
		"outcome_transitions":   m.OutcomeTransitions,
		"last_event_time":       m.LastEventTime,
	}
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENVIRONMENT") == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Info().Msg("Starting CDC analytics pipeline")

	cfg := configs.Load()

	kafkaBrokers := os.Getenv("KAFKA_BROKERS")
	if kafkaBrokers == "" {
		kafkaBrokers = "localhost:9092"
	}
	brokers := strings.Split(kafkaBrokers, ",")

	kafkaGroupID := os.Getenv("KAFKA_GROUP_ID")
	if kafkaGroupID == "" {
		kafkaGroupID = "decision-analytics"
	}

	kafkaTopics := os.Getenv("KAFKA_TOPICS")
	if kafkaTopics == "" {
		kafkaTopics = "fraudshield.public.transactions"
	}
	topics := strings.Split(kafkaTopics, ",")

	cacheClient, err := cache.NewClient(cfg.Redis.URL, cfg.Redis.OpTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer cacheClient.Close()

	metrics := NewRealTimeMetrics()

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true
	config.Version = sarama.V3_0_0_0

	// Kafka usually comes up after us in compose; retry the handshake
	var consumerGroup sarama.ConsumerGroup
	for i := 0; i < 30; i++ {
		consumerGroup, err = sarama.NewConsumerGroup(brokers, kafkaGroupID, config)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", i+1).Msg("Failed to connect to Kafka, retrying...")
		time.Sleep(5 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Kafka consumer group after retries")
	}
	defer consumerGroup.Close()

	handler := &AnalyticsPipelineHandler{
		metrics:     metrics,
		cacheClient: cacheClient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received, stopping analytics pipeline...")
		cancel()
	}()

	go handler.startMetricsReporter(ctx)

	log.Info().
		Strs("brokers", brokers).
		Strs("topics", topics).
		Str("group_id", kafkaGroupID).
		Msg("Analytics pipeline started, consuming CDC events")

	for {
		if err := consumerGroup.Consume(ctx, topics, handler); err != nil {
			log.Error().Err(err).Msg("Error from consumer")
		}

		if ctx.Err() != nil {
			log.Info().Msg("Context cancelled, shutting down analytics pipeline")
			return
		}
	}
}

// AnalyticsPipelineHandler processes CDC events for analytics
type AnalyticsPipelineHandler struct {
	metrics     *RealTimeMetrics
	cacheClient *cache.Client
}

func (h *AnalyticsPipelineHandler) Setup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics pipeline session started")
	return nil
}

func (h *AnalyticsPipelineHandler) Cleanup(sarama.ConsumerGroupSession) error {
	log.Info().Msg("Analytics pipeline session ended")
	return nil
}

func (h *AnalyticsPipelineHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			h.processMessage(session.Context(), message)
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *AnalyticsPipelineHandler) processMessage(ctx context.Context, message *sarama.ConsumerMessage) {
	var debeziumMsg DebeziumMessage
	if err := json.Unmarshal(message.Value, &debeziumMsg); err != nil {
		log.Error().Err(err).Msg("Failed to parse Debezium message")
		return
	}

	if debeziumMsg.Op == "d" {
		// Decision rows are append-mostly; deletes only happen on retention
		// cleanup and carry no analytics signal.
		return
	}

	var row DecisionCDC
	var prevRow *DecisionCDC

	if debeziumMsg.After != nil {
		if err := json.Unmarshal(debeziumMsg.After, &row); err != nil {
			log.Error().Err(err).Msg("Failed to parse decision from CDC payload")
			return
		}
	}

	if debeziumMsg.Before != nil {
		prevRow = &DecisionCDC{}
		if err := json.Unmarshal(debeziumMsg.Before, prevRow); err != nil {
			prevRow = nil
		}
	}

	event := h.createAnalyticsEvent(&debeziumMsg, &row, prevRow)
	if event == nil {
		return
	}

	h.metrics.RecordEvent(event)
	h.logEvent(event)
	h.storeRecentEvent(ctx, event)
}

func (h *AnalyticsPipelineHandler) createAnalyticsEvent(msg *DebeziumMessage, row *DecisionCDC, prevRow *DecisionCDC) *AnalyticsEvent {
	eventType := ""
	switch msg.Op {
	case "c", "r":
		eventType = "decision_recorded"
	case "u":
		// Only outcome feedback mutates decision rows; anything else
		// (backfills, schema migrations) is noise.
		if row.Outcome == nil {
			return nil
		}
		eventType = "outcome_recorded"
	default:
		return nil
	}

	event := &AnalyticsEvent{
		EventType:     eventType,
		TransactionID: row.ID,
		ClientID:      row.ClientID,
		Vertical:      row.Vertical,
		Score:         row.Score,
		RiskLevel:     row.RiskLevel,
		Decision:      row.Decision,
		Timestamp:     time.Now(),
		CDCTimestamp:  msg.TsMs,
		Metadata: map[string]interface{}{
			"table":     msg.Source.Table,
			"lsn":       msg.Source.LSN,
			"txId":      msg.Source.TxID,
			"connector": msg.Source.Connector,
		},
	}

	if row.Outcome != nil {
		event.Outcome = *row.Outcome
	}
	if prevRow != nil && prevRow.Outcome != nil {
		event.PrevOutcome = *prevRow.Outcome
	}

	return event
}

func (h *AnalyticsPipelineHandler) logEvent(event *AnalyticsEvent) {
	switch event.EventType {
	case "decision_recorded":
		log.Info().
			Str("tx_id", shortID(event.TransactionID)).
			Str("vertical", event.Vertical).
			Int("score", event.Score).
			Str("level", event.RiskLevel).
			Str("decision", event.Decision).
			Msg("Decision captured")

	case "outcome_recorded":
		log.Info().
			Str("tx_id", shortID(event.TransactionID)).
			Str("decision", event.Decision).
			Str("outcome", event.Outcome).
			Msg("Outcome recorded")
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

func (h *AnalyticsPipelineHandler) storeRecentEvent(ctx context.Context, event *AnalyticsEvent) {
	// Cached for dashboard access; warehouse sync reads the topic directly.
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return
	}

	key := "analytics:recent_events"
	rdb := h.cacheClient.Raw()
	rdb.LPush(ctx, key, string(eventJSON))
	rdb.LTrim(ctx, key, 0, 999)
}

func (h *AnalyticsPipelineHandler) startMetricsReporter(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snapshot := h.metrics.GetSnapshot()
			log.Info().
				Int64("decisions", snapshot["decisions_recorded"].(int64)).
				Int64("approved", snapshot["approved"].(int64)).
				Int64("reviews", snapshot["reviews"].(int64)).
				Int64("declined", snapshot["declined"].(int64)).
				Int64("outcomes", snapshot["outcomes_recorded"].(int64)).
				Float64("events_per_sec", snapshot["events_per_second"].(float64)).
				Msg("Analytics pipeline metrics")

		case <-ctx.Done():
			return
		}
	}
}
