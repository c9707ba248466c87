package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/configs"
	"github.com/fraudshield/scoring-engine/internal/analytics"
	"github.com/fraudshield/scoring-engine/internal/auth"
	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/learning"
	"github.com/fraudshield/scoring-engine/internal/models"
	"github.com/fraudshield/scoring-engine/internal/policy"
	"github.com/fraudshield/scoring-engine/internal/queue"
	"github.com/fraudshield/scoring-engine/internal/repositories"
	"github.com/fraudshield/scoring-engine/internal/scoring"
	"github.com/fraudshield/scoring-engine/internal/services"
)

type handlerDeps struct {
	cfg         *configs.Config
	engine      *scoring.Engine
	learning    *learning.Service
	analytics   *analytics.Service
	policies    *policy.Store
	accuracy    *repositories.RuleAccuracyRepository
	clients     *repositories.ClientRepository
	audit       *repositories.AuditRepository
	authSvc     *services.AuthService
	keyDigest   func(string) string
	rateLimiter *cache.RateLimiter
	db          *repositories.Database
	cacheClient *cache.Client
	stream      *queue.RedisStreamClient
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.APIError{
		ErrorCode: code,
		Message:   message,
		RequestID: c.GetString("request_id"),
	})
}

// bindJSON distinguishes malformed bodies (400) from schema violations (422).
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		var ve validator.ValidationErrors
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.As(err, &ve), errors.As(err, &typeErr):
			respondError(c, http.StatusUnprocessableEntity, models.ErrCodeSchemaViolation, err.Error())
		case errors.As(err, &syntaxErr):
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "malformed JSON body")
		default:
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error())
		}
		return false
	}
	return true
}

func (d *handlerDeps) tierLimit(client *models.Client) int {
	if client.RateLimitPerMin > 0 {
		return client.RateLimitPerMin
	}
	if limit, ok := d.cfg.Scoring.RateLimitTiers[client.Tier]; ok {
		return limit
	}
	return d.cfg.Scoring.RateLimitTiers[models.TierBronze]
}

// rateLimitMiddleware debits one request from the tenant's per-minute budget.
// The limiter fails open; a cache outage never rejects traffic.
func rateLimitMiddleware(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := auth.ClientFromContext(c)
		if client == nil {
			respondError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "no authenticated client")
			c.Abort()
			return
		}

		limit := d.tierLimit(client)
		allowed, remaining, retryAfter, _ := d.rateLimiter.Allow(c.Request.Context(), client.ID.String(), limit)
		if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			respondError(c, http.StatusTooManyRequests, models.ErrCodeRateLimited,
				fmt.Sprintf("rate limit of %d requests per minute exceeded", limit))
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Next()
	}
}

func healthHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		cacheStatus := "healthy"
		if !d.cacheClient.Healthy(ctx) {
			cacheStatus = "unreachable"
		}
		storeStatus := "healthy"
		if !d.db.Healthy(ctx) {
			storeStatus = "unreachable"
		}
		status := "healthy"
		if storeStatus != "healthy" {
			status = "degraded"
		}
		queueStatus := gin.H{"status": "unreachable"}
		if info, err := d.stream.GetStreamInfo(ctx); err == nil {
			queueStatus = gin.H{"status": "healthy", "depth": info.Length, "pending": info.Pending}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"cache":     cacheStatus,
			"store":     storeStatus,
			"queue":     queueStatus,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}

func checkHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := auth.ClientFromContext(c)

		var req models.CheckRequest
		if !bindJSON(c, &req) {
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), d.cfg.Server.RequestDeadline)
		defer cancel()

		verdict, err := d.engine.Check(ctx, client, &req)
		if err != nil {
			log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("Scoring failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "scoring failed")
			return
		}
		c.Data(http.StatusOK, "application/json", verdict.Body)
	}
}

func batchCheckHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := auth.ClientFromContext(c)

		var req models.BatchCheckRequest
		if !bindJSON(c, &req) {
			return
		}
		if len(req.Transactions) > d.cfg.Scoring.BatchMaxSize {
			respondError(c, http.StatusBadRequest, models.ErrCodeBatchTooLarge,
				fmt.Sprintf("batch exceeds the %d transaction limit", d.cfg.Scoring.BatchMaxSize))
			return
		}

		// One rate-limit debit per element; the middleware already took one.
		limit := d.tierLimit(client)
		for i := 1; i < len(req.Transactions); i++ {
			allowed, _, retryAfter, _ := d.rateLimiter.Allow(c.Request.Context(), client.ID.String(), limit)
			if !allowed {
				c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
				respondError(c, http.StatusTooManyRequests, models.ErrCodeRateLimited,
					fmt.Sprintf("rate limit of %d requests per minute exceeded mid-batch", limit))
				return
			}
		}

		results := d.engine.CheckBatch(c.Request.Context(), client, req.Transactions)
		c.JSON(http.StatusOK, models.BatchCheckResponse{Results: results})
	}
}

func feedbackHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := auth.ClientFromContext(c)

		var req models.FeedbackRequest
		if !bindJSON(c, &req) {
			return
		}

		tx, err := d.learning.ProcessFeedback(c.Request.Context(), client, &req)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrNotFound):
				respondError(c, http.StatusNotFound, models.ErrCodeNotFound, "transaction not found")
			case errors.Is(err, models.ErrOutcomeConflict):
				respondError(c, http.StatusConflict, models.ErrCodeOutcomeConflict, "outcome already recorded with a different value")
			default:
				log.Error().Err(err).Str("transaction_id", req.TransactionID).Msg("Feedback processing failed")
				respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "feedback processing failed")
			}
			return
		}

		d.recordAudit(c, models.AuditEventFeedback, req.TransactionID, "transaction", &client.ID, "feedback", models.JSONB{
			"actual_outcome": req.ActualOutcome,
			"fraud_type":     req.FraudType,
		})

		c.JSON(http.StatusOK, gin.H{
			"transaction_id": tx.ExternalID,
			"outcome":        req.ActualOutcome,
			"status":         "recorded",
		})
	}
}

func verticalsHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		thresholds := d.policies.Snapshot().Thresholds()
		out := make([]gin.H, 0, len(models.Verticals))
		for _, v := range models.Verticals {
			out = append(out, gin.H{"vertical": v, "threshold": thresholds[v]})
		}
		c.JSON(http.StatusOK, gin.H{"verticals": out})
	}
}

func verticalConfigHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		vertical := c.Param("vertical")
		p, ok := d.policies.Snapshot().Vertical(vertical)
		if !ok {
			respondError(c, http.StatusNotFound, models.ErrCodeNotFound, "unknown vertical")
			return
		}
		c.JSON(http.StatusOK, gin.H{"vertical": vertical, "policy": p})
	}
}

func analyticsSummaryHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		client := auth.ClientFromContext(c)
		summary, err := d.analytics.DailySummary(c.Request.Context(), client.ID, c.Query("date"))
		if err != nil {
			if errors.Is(err, models.ErrInvalidInput) {
				respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "date must be YYYY-MM-DD")
				return
			}
			log.Error().Err(err).Msg("Analytics summary failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "analytics query failed")
			return
		}
		c.JSON(http.StatusOK, summary)
	}
}

// Admin handlers

func adminLoginHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if !bindJSON(c, &req) {
			return
		}
		resp, err := d.authSvc.Login(c.Request.Context(), &req)
		if err != nil {
			if errors.Is(err, services.ErrInvalidCredentials) {
				respondError(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid email or password")
				return
			}
			log.Error().Err(err).Msg("Admin login failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "login failed")
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

type createClientRequest struct {
	Name            string `json:"name" binding:"required"`
	Tier            string `json:"tier" binding:"required,oneof=bronze silver gold"`
	Vertical        string `json:"vertical" binding:"required"`
	RateLimitPerMin int    `json:"rate_limit_per_min"`
	WebhookURL      string `json:"webhook_url"`
	WebhookSecret   string `json:"webhook_secret"`
}

func createClientHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createClientRequest
		if !bindJSON(c, &req) {
			return
		}
		if !validVertical(req.Vertical) {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "unknown vertical")
			return
		}

		// The raw key is returned exactly once; only its digest is stored.
		apiKey := "fsk_" + uuid.NewString()
		client := &models.Client{
			Name:            req.Name,
			APIKeyDigest:    d.keyDigest(apiKey),
			Tier:            req.Tier,
			Vertical:        req.Vertical,
			RateLimitPerMin: req.RateLimitPerMin,
			WebhookURL:      req.WebhookURL,
			WebhookSecret:   req.WebhookSecret,
		}
		if err := d.clients.Create(c.Request.Context(), client); err != nil {
			log.Error().Err(err).Msg("Client creation failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "client creation failed")
			return
		}

		d.recordAudit(c, models.AuditEventClientAdmin, client.ID.String(), "client", &client.ID, "create", models.JSONB{
			"name": req.Name, "tier": req.Tier, "vertical": req.Vertical,
		})

		c.JSON(http.StatusCreated, gin.H{"client": client, "api_key": apiKey})
	}
}

func listClientsHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		clients, err := d.clients.List(c.Request.Context(), limit, offset)
		if err != nil {
			log.Error().Err(err).Msg("Client listing failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "client listing failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"clients": clients})
	}
}

type updateClientRequest struct {
	Tier            string  `json:"tier" binding:"omitempty,oneof=bronze silver gold"`
	RateLimitPerMin *int    `json:"rate_limit_per_min"`
	WebhookURL      *string `json:"webhook_url"`
	WebhookSecret   *string `json:"webhook_secret"`
}

func updateClientHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "invalid client id")
			return
		}
		var req updateClientRequest
		if !bindJSON(c, &req) {
			return
		}

		client, err := d.clients.GetByID(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, repositories.ErrClientNotFound) {
				respondError(c, http.StatusNotFound, models.ErrCodeNotFound, "client not found")
				return
			}
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "client lookup failed")
			return
		}

		if req.Tier != "" {
			client.Tier = req.Tier
		}
		if req.RateLimitPerMin != nil {
			client.RateLimitPerMin = *req.RateLimitPerMin
		}
		if req.WebhookURL != nil {
			client.WebhookURL = *req.WebhookURL
		}
		if req.WebhookSecret != nil {
			client.WebhookSecret = *req.WebhookSecret
		}

		if err := d.clients.Update(c.Request.Context(), client); err != nil {
			log.Error().Err(err).Msg("Client update failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "client update failed")
			return
		}

		d.recordAudit(c, models.AuditEventClientAdmin, client.ID.String(), "client", &client.ID, "update", models.JSONB{
			"tier": client.Tier, "rate_limit_per_min": client.RateLimitPerMin,
		})
		c.JSON(http.StatusOK, gin.H{"client": client})
	}
}

func rotateKeyHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, "invalid client id")
			return
		}

		apiKey := "fsk_" + uuid.NewString()
		if err := d.clients.RotateAPIKey(c.Request.Context(), id, d.keyDigest(apiKey)); err != nil {
			if errors.Is(err, repositories.ErrClientNotFound) {
				respondError(c, http.StatusNotFound, models.ErrCodeNotFound, "client not found")
				return
			}
			log.Error().Err(err).Msg("API key rotation failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "key rotation failed")
			return
		}

		d.recordAudit(c, models.AuditEventClientAdmin, id.String(), "client", &id, "rotate_key", nil)
		c.JSON(http.StatusOK, gin.H{"client_id": id, "api_key": apiKey})
	}
}

func updatePolicyHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		vertical := c.Param("vertical")

		var p policy.VerticalPolicy
		if !bindJSON(c, &p) {
			return
		}

		if err := d.policies.Update(vertical, p); err != nil {
			respondError(c, http.StatusBadRequest, models.ErrCodeInvalidInput, err.Error())
			return
		}

		d.recordAudit(c, models.AuditEventPolicyUpdate, vertical, "vertical_policy", nil, "update", models.JSONB{
			"threshold": p.Threshold,
			"weights":   p.Weights,
			"disabled":  p.Disabled,
		})

		log.Info().Str("vertical", vertical).Int("threshold", p.Threshold).Msg("Vertical policy updated")
		c.JSON(http.StatusOK, gin.H{"vertical": vertical, "policy": p})
	}
}

func ruleAccuracyHandler(d *handlerDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		aggregates, err := d.accuracy.ListAll(c.Request.Context())
		if err != nil {
			log.Error().Err(err).Msg("Rule accuracy listing failed")
			respondError(c, http.StatusInternalServerError, models.ErrCodeInternal, "accuracy listing failed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"rules": aggregates})
	}
}

// recordAudit is best-effort; an audit failure never fails the request.
func (d *handlerDeps) recordAudit(c *gin.Context, eventType, entityID, entityType string, clientID *uuid.UUID, action string, payload models.JSONB) {
	entry := &models.AuditLog{
		EventType:  eventType,
		EntityID:   entityID,
		EntityType: entityType,
		ClientID:   clientID,
		Action:     action,
		Payload:    payload,
		RequestID:  c.GetString("request_id"),
	}
	if err := d.audit.Record(c.Request.Context(), entry); err != nil {
		log.Warn().Err(err).Str("event_type", eventType).Msg("Audit record failed")
	}
}

func validVertical(v string) bool {
	for _, known := range models.Verticals {
		if known == v {
			return true
		}
	}
	return false
}
