package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/features"
	"github.com/fraudshield/scoring-engine/internal/hashing"
	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/policy"
	"github.com/fraudshield/scoring-engine/internal/rules"
)

// ResultCache is the idempotency cache: marshaled response bytes keyed by
// (tenant, transaction id).
type ResultCache interface {
	GetBytes(ctx context.Context, key string) ([]byte, bool, error)
	SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// VelocityWriter records the side effects of a freshly evaluated transaction.
type VelocityWriter interface {
	Bump(ctx context.Context, tenantID, scope, digest, txID string, at time.Time) error
	ObserveDeviceUser(ctx context.Context, tenantID, deviceDigest, userDigest string, at time.Time) error
	SetLastGeo(ctx context.Context, tenantID, userDigest string, p cache.GeoPoint) error
}

// Publisher hands the decision event to the async persistence pipeline.
type Publisher interface {
	PublishDecision(ctx context.Context, event *models.DecisionEvent) error
}

// Options are the engine tunables lifted from config.
type Options struct {
	CacheTTL       time.Duration
	MLEnabled      bool
	MLTimeout      time.Duration
	RuleFanout     int
	RulesetVersion string
}

// Engine runs the full scoring path for one transaction: cache lookup,
// context assembly, parallel rule evaluation, optional ML, aggregation,
// response caching and the async persistence hand-off.
type Engine struct {
	registry   *rules.Registry
	assembler  *features.Assembler
	aggregator *Aggregator
	policies   *policy.Store
	learned    *policy.WeightTable
	results    ResultCache
	velocity   VelocityWriter
	publisher  Publisher
	ml         Adapter
	opts       Options
	fanout     int
}

func NewEngine(
	registry *rules.Registry,
	assembler *features.Assembler,
	aggregator *Aggregator,
	policies *policy.Store,
	learned *policy.WeightTable,
	results ResultCache,
	velocity VelocityWriter,
	publisher Publisher,
	ml Adapter,
	opts Options,
) *Engine {
	fanout := opts.RuleFanout
	if fanout <= 0 {
		fanout = runtime.NumCPU()
	}
	return &Engine{
		registry:   registry,
		assembler:  assembler,
		aggregator: aggregator,
		policies:   policies,
		learned:    learned,
		results:    results,
		velocity:   velocity,
		publisher:  publisher,
		ml:         ml,
		opts:       opts,
		fanout:     fanout,
	}
}

// Verdict is the outcome of one check: the exact response bytes plus routing
// hints for the handler.
type Verdict struct {
	Body      []byte
	Response  *models.CheckResponse
	FromCache bool
}

func resultKey(clientID uuid.UUID, txID string) string {
	return fmt.Sprintf("result:%s:%s", clientID, txID)
}

// Check scores one transaction. A replay inside the cache TTL returns the
// original bytes untouched and performs no side effects.
func (e *Engine) Check(ctx context.Context, client *models.Client, req *models.CheckRequest) (*Verdict, error) {
	started := time.Now()
	key := resultKey(client.ID, req.TransactionID)

	cacheDegraded := false
	cached, found, err := e.results.GetBytes(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("transaction_id", req.TransactionID).Msg("Result cache unavailable")
		cacheDegraded = true
	} else if found {
		return &Verdict{Body: cached, FromCache: true}, nil
	}

	ec := e.assembler.Assemble(ctx, client, req, started)
	if cacheDegraded {
		ec.Degraded = true
	}

	flags := e.evaluate(ctx, ec)

	var prediction *Prediction
	if e.opts.MLEnabled && e.ml != nil {
		prediction = e.predict(ctx, ec)
	}

	snap := e.policies.Snapshot()
	outcome := e.aggregator.Aggregate(flags, ec.Vertical, snap, e.learned, prediction)

	resp := &models.CheckResponse{
		TransactionID:    req.TransactionID,
		RiskScore:        outcome.Score,
		RiskLevel:        outcome.Level,
		Decision:         outcome.Decision,
		Flags:            outcome.Flags,
		Recommendation:   outcome.Recommendation,
		ProcessingTimeMs: time.Since(started).Milliseconds(),
		Degraded:         ec.Degraded,
	}
	if resp.Flags == nil {
		resp.Flags = []models.Flag{}
	}

	body, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}

	// Side effects only on a fresh evaluation, so a replay can never double
	// count. Each is best-effort.
	if !cacheDegraded {
		if err := e.results.SetBytes(ctx, key, body, e.opts.CacheTTL); err != nil {
			log.Warn().Err(err).Msg("Result cache write failed")
		}
	}
	e.recordSideEffects(ctx, ec, req)
	e.publish(ctx, client, req, ec, outcome, resp.ProcessingTimeMs)

	return &Verdict{Body: body, Response: resp}, nil
}

// evaluate runs the vertical's rules under a bounded worker pool. A panicking
// rule is logged and skipped; the remaining flags still form a valid result.
func (e *Engine) evaluate(ctx context.Context, ec *features.Context) []models.Flag {
	applicable := e.registry.ForVertical(ec.Vertical)
	results := make([]*models.Flag, len(applicable))

	sem := make(chan struct{}, e.fanout)
	var wg sync.WaitGroup
	for i, rule := range applicable {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, rule *rules.Rule) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("rule", rule.Name).Msg("Rule panicked, skipping")
				}
			}()
			if res := rule.Check(ec); res != nil {
				f := rule.Flag(res)
				results[i] = &f
			}
		}(i, rule)
	}
	wg.Wait()

	flags := make([]models.Flag, 0, len(results))
	for _, f := range results {
		if f != nil {
			flags = append(flags, *f)
		}
	}
	return flags
}

func (e *Engine) predict(ctx context.Context, ec *features.Context) *Prediction {
	mlCtx, cancel := context.WithTimeout(ctx, e.opts.MLTimeout)
	defer cancel()
	pred, err := e.ml.Predict(mlCtx, FeatureVector(ec))
	if err != nil {
		log.Warn().Err(err).Msg("ML adapter unavailable, scoring on rules only")
		return nil
	}
	return pred
}

func (e *Engine) recordSideEffects(ctx context.Context, ec *features.Context, req *models.CheckRequest) {
	if ec.Degraded {
		return
	}
	bumps := []struct{ scope, digest string }{
		{cache.ScopeUser, ec.UserDigest},
		{cache.ScopeDevice, ec.DeviceDigest},
		{cache.ScopeIP, ec.IPDigest},
		{cache.ScopeTenant, ec.TenantID},
	}
	for _, b := range bumps {
		if b.digest == "" {
			continue
		}
		if err := e.velocity.Bump(ctx, ec.TenantID, b.scope, b.digest, req.TransactionID, ec.Timestamp); err != nil {
			log.Warn().Err(err).Str("scope", b.scope).Msg("Velocity bump failed")
		}
	}
	if ec.DeviceDigest != "" && ec.UserDigest != "" {
		if err := e.velocity.ObserveDeviceUser(ctx, ec.TenantID, ec.DeviceDigest, ec.UserDigest, ec.Timestamp); err != nil {
			log.Warn().Err(err).Msg("Device-user observation failed")
		}
	}
	if req.Features != nil && req.Features.Network != nil {
		n := req.Features.Network
		if n.IPLatitude != nil && n.IPLongitude != nil {
			point := cache.GeoPoint{Latitude: *n.IPLatitude, Longitude: *n.IPLongitude, SeenAt: ec.Timestamp}
			if err := e.velocity.SetLastGeo(ctx, ec.TenantID, ec.UserDigest, point); err != nil {
				log.Warn().Err(err).Msg("Geo update failed")
			}
		}
	}
}

func (e *Engine) publish(ctx context.Context, client *models.Client, req *models.CheckRequest, ec *features.Context, outcome Outcome, latencyMs int64) {
	if e.publisher == nil {
		return
	}
	tx := buildTransaction(client, req, ec, outcome, latencyMs)
	tx.RulesetVersion = e.opts.RulesetVersion
	event := &models.DecisionEvent{
		ClientID:     client.ID.String(),
		Transaction:  tx,
		Observations: observations(ec),
		WebhookURL:   client.WebhookURL,
		Timestamp:    time.Now().UTC(),
	}
	if err := e.publisher.PublishDecision(ctx, event); err != nil {
		log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("Decision event publish failed")
	}
}

func buildTransaction(client *models.Client, req *models.CheckRequest, ec *features.Context, outcome Outcome, latencyMs int64) *models.Transaction {
	names := make([]string, 0, len(outcome.Flags))
	for _, f := range outcome.Flags {
		names = append(names, f.Rule)
	}
	return &models.Transaction{
		ID:                uuid.New(),
		ClientID:          client.ID,
		ExternalID:        req.TransactionID,
		UserDigest:        ec.UserDigest,
		DeviceDigest:      ec.DeviceDigest,
		FingerprintDigest: ec.FingerprintDigest,
		IPDigest:          ec.IPDigest,
		EmailDigest:       ec.EmailDigest,
		PhoneDigest:       ec.PhoneDigest,
		NationalIDDigest:  ec.NationalIDDigest,
		WalletDigest:      ec.WalletDigest,
		CardDigest:        ec.CardDigest,
		Amount:            req.Amount,
		Currency:          ec.Currency,
		TransactionType:   ec.TransactionType,
		Vertical:          ec.Vertical,
		Country:           ec.Country,
		Score:             outcome.Score,
		RiskLevel:         outcome.Level,
		Decision:          outcome.Decision,
		Flags:             outcome.Flags,
		FlagNames:         names,
		ContextSnapshot:   snapshotContext(ec),
		ProcessingTimeMs:  latencyMs,
		CreatedAt:         time.Now().UTC(),
	}
}

// snapshotContext keeps only digests, counts and booleans; never a raw value.
func snapshotContext(ec *features.Context) models.JSONB {
	snap := models.JSONB{
		"velocity_known":   ec.VelocityKnown,
		"consortium_known": ec.ConsortiumKnown,
		"is_night":         ec.IsNight,
		"is_weekend":       ec.IsWeekend,
		"is_round_amount":  ec.IsRoundAmount,
	}
	if ec.VelocityKnown {
		snap["user_velocity"] = ec.UserVelocity
		snap["device_velocity"] = ec.DeviceVelocity
	}
	if ec.ConsortiumKnown {
		snap["tenants_touching"] = ec.TenantsTouching
		snap["fraud_confirmations"] = ec.FraudConfirmations
	}
	if ec.IsNewAccount != nil {
		snap["is_new_account"] = *ec.IsNewAccount
	}
	if ec.IsNewDevice != nil {
		snap["is_new_device"] = *ec.IsNewDevice
	}
	if ec.ImpossibleTravel != nil {
		snap["impossible_travel"] = *ec.ImpossibleTravel
	}
	return snap
}

func observations(ec *features.Context) map[string]string {
	obs := make(map[string]string)
	add := func(kind, digest string) {
		if digest != "" {
			obs[kind] = digest
		}
	}
	add(hashing.KindPhone, ec.PhoneDigest)
	add(hashing.KindEmail, ec.EmailDigest)
	add(hashing.KindFingerprint, ec.FingerprintDigest)
	add(hashing.KindNationalID, ec.NationalIDDigest)
	add(hashing.KindWallet, ec.WalletDigest)
	return obs
}

// CheckBatch scores up to the configured batch limit, preserving input order.
// Each element runs through the exact single-check path.
func (e *Engine) CheckBatch(ctx context.Context, client *models.Client, reqs []models.CheckRequest) []models.BatchCheckResult {
	results := make([]models.BatchCheckResult, len(reqs))
	sem := make(chan struct{}, e.fanout)
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			verdict, err := e.Check(ctx, client, &reqs[i])
			if err != nil {
				results[i] = models.BatchCheckResult{Error: &models.APIError{
					ErrorCode: models.ErrCodeInternal,
					Message:   "scoring failed",
				}}
				return
			}
			resp := verdict.Response
			if resp == nil {
				resp = &models.CheckResponse{}
				if err := json.Unmarshal(verdict.Body, resp); err != nil {
					results[i] = models.BatchCheckResult{Error: &models.APIError{
						ErrorCode: models.ErrCodeInternal,
						Message:   "scoring failed",
					}}
					return
				}
			}
			results[i] = models.BatchCheckResult{Response: resp}
		}(i)
	}
	wg.Wait()
	return results
}
