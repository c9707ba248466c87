package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Vertical enum values
const (
	VerticalLending     = "lending"
	VerticalFintech     = "fintech"
	VerticalPayments    = "payments"
	VerticalCrypto      = "crypto"
	VerticalEcommerce   = "ecommerce"
	VerticalBetting     = "betting"
	VerticalGaming      = "gaming"
	VerticalMarketplace = "marketplace"
)

// Verticals lists every supported vertical in a stable order.
var Verticals = []string{
	VerticalLending, VerticalFintech, VerticalPayments, VerticalCrypto,
	VerticalEcommerce, VerticalBetting, VerticalGaming, VerticalMarketplace,
}

// Tier enum values
const (
	TierBronze = "bronze"
	TierSilver = "silver"
	TierGold   = "gold"
)

// RiskLevel enum values
const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// Decision enum values
const (
	DecisionApprove = "approve"
	DecisionReview  = "review"
	DecisionDecline = "decline"
)

// Outcome enum values
const (
	OutcomeFraud      = "fraud"
	OutcomeLegitimate = "legitimate"
)

// Severity enum values (same scale as risk levels, applied per flag)
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Client represents a tenant of the scoring service.
type Client struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	APIKeyDigest    string    `json:"-"`
	Tier            string    `json:"tier"`
	Vertical        string    `json:"vertical"`
	RateLimitPerMin int       `json:"rate_limit_per_min"`
	WebhookURL      string    `json:"webhook_url,omitempty"`
	WebhookSecret   string    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CheckRequest is the body of POST /api/v1/fraud/check.
// The nested feature categories are all optional; an absent category means
// "unknown", never zero or false.
type CheckRequest struct {
	TransactionID     string      `json:"transaction_id" binding:"required"`
	UserID            string      `json:"user_id" binding:"required"`
	Amount            float64     `json:"amount" binding:"required,gt=0"`
	Currency          string      `json:"currency" binding:"required,len=3"`
	TransactionType   string      `json:"transaction_type" binding:"required"`
	Vertical          string      `json:"vertical,omitempty"`
	DeviceID          string      `json:"device_id,omitempty"`
	DeviceFingerprint string      `json:"device_fingerprint,omitempty"`
	DeviceComponents  JSONB       `json:"device_components,omitempty"`
	IPAddress         string      `json:"ip_address,omitempty"`
	Country           string      `json:"country,omitempty"`
	Timestamp         *time.Time  `json:"timestamp,omitempty"`
	TZOffsetMinutes   *int        `json:"tz_offset_minutes,omitempty"`
	Features          *FeatureBag `json:"features,omitempty"`
}

// FeatureBag groups the optional feature categories a tenant may supply.
type FeatureBag struct {
	Identity      *IdentityFeatures      `json:"identity,omitempty"`
	Behavioral    *BehavioralFeatures    `json:"behavioral,omitempty"`
	Transaction   *TransactionFeatures   `json:"transaction,omitempty"`
	Network       *NetworkFeatures       `json:"network,omitempty"`
	ATO           *ATOFeatures           `json:"ato,omitempty"`
	Funding       *FundingFeatures       `json:"funding,omitempty"`
	MerchantAbuse *MerchantAbuseFeatures `json:"merchant_abuse,omitempty"`
	MLDerived     *MLDerivedFeatures     `json:"ml_derived,omitempty"`
	Derived       *DerivedFeatures       `json:"derived,omitempty"`
}

// IdentityFeatures carries who-the-user-claims-to-be signals. Every leaf is a
// pointer: nil means the tenant did not know, which several rules treat
// differently from false/zero.
type IdentityFeatures struct {
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	NationalID     *string `json:"national_id,omitempty"`
	StreetAddress  *string `json:"street_address,omitempty"`
	AccountAgeDays *int    `json:"account_age_days,omitempty"`
	EmailVerified  *bool   `json:"email_verified,omitempty"`
	PhoneVerified  *bool   `json:"phone_verified,omitempty"`
}

type BehavioralFeatures struct {
	FirstTransaction  *bool      `json:"first_transaction,omitempty"`
	DormantDays       *int       `json:"dormant_days,omitempty"`
	TypicalAmount     *float64   `json:"typical_amount,omitempty"`
	SessionSeconds    *float64   `json:"session_seconds,omitempty"`
	PreviousLatitude  *float64   `json:"previous_latitude,omitempty"`
	PreviousLongitude *float64   `json:"previous_longitude,omitempty"`
	PreviousSeenAt    *time.Time `json:"previous_seen_at,omitempty"`
}

type TransactionFeatures struct {
	CardBIN           *string  `json:"card_bin,omitempty"`
	CardLast4         *string  `json:"card_last4,omitempty"`
	FailedPayments24h *int     `json:"failed_payments_24h,omitempty"`
	ShippingCountry   *string  `json:"shipping_country,omitempty"`
	BillingCountry    *string  `json:"billing_country,omitempty"`
	IsDigitalGoods    *bool    `json:"is_digital_goods,omitempty"`
	MaxAllowedAmount  *float64 `json:"max_allowed_amount,omitempty"`
	DeclaredCountry   *string  `json:"declared_country,omitempty"`
}

type NetworkFeatures struct {
	IsVPN       *bool    `json:"is_vpn,omitempty"`
	IsProxy     *bool    `json:"is_proxy,omitempty"`
	IPCountry   *string  `json:"ip_country,omitempty"`
	IPLatitude  *float64 `json:"ip_latitude,omitempty"`
	IPLongitude *float64 `json:"ip_longitude,omitempty"`
}

// ATOFeatures carries account-takeover signals.
type ATOFeatures struct {
	PhoneChangedRecently    *bool `json:"phone_changed_recently,omitempty"`
	EmailChangedRecently    *bool `json:"email_changed_recently,omitempty"`
	PasswordChangedRecently *bool `json:"password_changed_recently,omitempty"`
	ContactChangedRecently  *bool `json:"contact_changed_recently,omitempty"`
	NewDevice               *bool `json:"new_device,omitempty"`
}

type FundingFeatures struct {
	WalletAddress    *string `json:"wallet_address,omitempty"`
	WalletAgeDays    *int    `json:"wallet_age_days,omitempty"`
	SuspiciousWallet *bool   `json:"suspicious_wallet,omitempty"`
	IsP2P            *bool   `json:"is_p2p,omitempty"`
}

type MerchantAbuseFeatures struct {
	SellerAgeDays      *int     `json:"seller_age_days,omitempty"`
	SellerRating       *float64 `json:"seller_rating,omitempty"`
	HighRiskCategory   *bool    `json:"high_risk_category,omitempty"`
	BonusClaimed       *bool    `json:"bonus_claimed,omitempty"`
	WageredRatio       *float64 `json:"wagered_ratio,omitempty"`
	WithdrawalCount24h *int     `json:"withdrawal_count_24h,omitempty"`
}

type MLDerivedFeatures struct {
	AnomalyScore *float64  `json:"anomaly_score,omitempty"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

type DerivedFeatures struct {
	CustomScore *float64 `json:"custom_score,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Flag is one rule's explanation of why it contributed to the score.
type Flag struct {
	Rule          string  `json:"type"`
	Severity      string  `json:"severity"`
	BaseScore     float64 `json:"base_score"`
	WeightedScore float64 `json:"score"`
	Confidence    float64 `json:"confidence"`
	Message       string  `json:"message"`
	Metadata      JSONB   `json:"metadata,omitempty"`
}

// CheckResponse is the body returned by POST /api/v1/fraud/check.
type CheckResponse struct {
	TransactionID    string `json:"transaction_id"`
	RiskScore        int    `json:"risk_score"`
	RiskLevel        string `json:"risk_level"`
	Decision         string `json:"decision"`
	Flags            []Flag `json:"flags"`
	Recommendation   string `json:"recommendation"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Degraded         bool   `json:"degraded,omitempty"`
}

// BatchCheckRequest bundles up to BatchMaxSize transactions.
type BatchCheckRequest struct {
	Transactions []CheckRequest `json:"transactions" binding:"required,min=1,max=1000"`
}

// BatchCheckResponse returns one result per input, in order.
type BatchCheckResponse struct {
	Results []BatchCheckResult `json:"results"`
}

type BatchCheckResult struct {
	Response *CheckResponse `json:"response,omitempty"`
	Error    *APIError      `json:"error,omitempty"`
}

// Transaction is the persisted record of one scored check. Identifier-like
// columns hold digests only; the raw values never leave the request path.
type Transaction struct {
	ID                uuid.UUID  `json:"id"`
	ClientID          uuid.UUID  `json:"client_id"`
	ExternalID        string     `json:"transaction_id"`
	UserDigest        string     `json:"user_digest"`
	DeviceDigest      string     `json:"device_digest,omitempty"`
	FingerprintDigest string     `json:"fingerprint_digest,omitempty"`
	IPDigest          string     `json:"ip_digest,omitempty"`
	EmailDigest       string     `json:"email_digest,omitempty"`
	PhoneDigest       string     `json:"phone_digest,omitempty"`
	NationalIDDigest  string     `json:"national_id_digest,omitempty"`
	WalletDigest      string     `json:"wallet_digest,omitempty"`
	CardDigest        string     `json:"card_digest,omitempty"`
	Amount            float64    `json:"amount"`
	Currency          string     `json:"currency"`
	TransactionType   string     `json:"transaction_type"`
	Vertical          string     `json:"vertical"`
	Country           string     `json:"country,omitempty"`
	Score             int        `json:"score"`
	RiskLevel         string     `json:"risk_level"`
	Decision          string     `json:"decision"`
	Flags             []Flag     `json:"flags"`
	FlagNames         []string   `json:"flag_names"`
	ContextSnapshot   JSONB      `json:"context_snapshot"`
	RulesetVersion    string     `json:"ruleset_version"`
	ProcessingTimeMs  int64      `json:"processing_time_ms"`
	Outcome           *string    `json:"outcome,omitempty"`
	FraudType         *string    `json:"fraud_type,omitempty"`
	OutcomeAt         *time.Time `json:"outcome_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// FeedbackRequest is the body of POST /api/v1/feedback.
type FeedbackRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
	ActualOutcome string `json:"actual_outcome" binding:"required,oneof=fraud legitimate"`
	FraudType     string `json:"fraud_type,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// RuleAccuracy aggregates confirmed outcomes per (rule, vertical).
type RuleAccuracy struct {
	Rule           string    `json:"rule"`
	Vertical       string    `json:"vertical"`
	TruePositives  int64     `json:"true_positives"`
	FalsePositives int64     `json:"false_positives"`
	TrueNegatives  int64     `json:"true_negatives"`
	FalseNegatives int64     `json:"false_negatives"`
	Weight         float64   `json:"weight"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Precision returns TP/(TP+FP) and whether the denominator is non-zero.
func (a *RuleAccuracy) Precision() (float64, bool) {
	denom := a.TruePositives + a.FalsePositives
	if denom == 0 {
		return 0, false
	}
	return float64(a.TruePositives) / float64(denom), true
}

// ConsortiumEntry is the cross-tenant, digest-only index row.
type ConsortiumEntry struct {
	Digest      string    `json:"digest"`
	Kind        string    `json:"kind"`
	TenantCount int       `json:"tenant_count"`
	FraudCount  int64     `json:"fraud_count"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// DecisionEvent is published to the Redis Stream after the response is sent;
// the persistence worker consumes it.
type DecisionEvent struct {
	ClientID    string       `json:"client_id"`
	Transaction *Transaction `json:"transaction"`
	// Digests observed on this transaction, by kind, for the consortium index.
	Observations map[string]string `json:"observations,omitempty"`
	WebhookURL   string            `json:"webhook_url,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	RetryCount   int               `json:"retry_count"`
}

// AuditLog records admin and feedback actions.
type AuditLog struct {
	ID         uuid.UUID  `json:"id"`
	EventType  string     `json:"event_type"`
	EntityID   string     `json:"entity_id"`
	EntityType string     `json:"entity_type"`
	ClientID   *uuid.UUID `json:"client_id,omitempty"`
	Action     string     `json:"action"`
	Payload    JSONB      `json:"payload"`
	RequestID  string     `json:"request_id"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AuditEventType enum values
const (
	AuditEventFeedback     = "feedback"
	AuditEventPolicyUpdate = "policy_update"
	AuditEventClientAdmin  = "client_admin"
)

// AdminUser is an operator account for the admin surface.
type AdminUser struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// DecisionSummary aggregates one tenant's recent decisions.
type DecisionSummary struct {
	Date          string      `json:"date"`
	Total         int         `json:"total"`
	Approved      int         `json:"approved"`
	Reviewed      int         `json:"reviewed"`
	Declined      int         `json:"declined"`
	AvgScore      float64     `json:"avg_score"`
	CriticalCount int         `json:"critical_count"`
	TopRules      []RuleCount `json:"top_rules"`
}

// RuleCount pairs a rule name with its trigger count.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// JSONB is a helper type for PostgreSQL JSONB columns.
type JSONB map[string]interface{}

func (j JSONB) Value() ([]byte, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}
