package features

import (
	"time"

	"github.com/fraudshield/scoring-engine/internal/cache"
)

// Context is the full evaluation context handed to the rule catalogue. Rules
// read it and nothing else. Every identifier appears only as a digest; leaves
// that can be unknown are pointers, and nil always means "not supplied",
// never false or zero.
type Context struct {
	TenantID        string
	Vertical        string
	TransactionID   string
	Amount          float64
	Currency        string
	TransactionType string
	Country         string

	// Timestamp is UTC; LocalTime is the transaction's recorded local time
	// when the request carried a UTC offset, otherwise equal to Timestamp.
	Timestamp time.Time
	LocalTime time.Time

	UserDigest        string
	DeviceDigest      string
	FingerprintDigest string
	IPDigest          string
	EmailDigest       string
	PhoneDigest       string
	NationalIDDigest  string
	AddressDigest     string
	WalletDigest      string
	CardDigest        string

	// Velocity windows per scope. Valid only when VelocityKnown; a cache
	// outage leaves them zero and VelocityKnown false.
	VelocityKnown  bool
	UserVelocity   cache.Counts
	DeviceVelocity cache.Counts
	IPVelocity     cache.Counts
	TenantVelocity cache.Counts

	// Cross-tenant consortium aggregates over this transaction's digests.
	ConsortiumKnown    bool
	TenantsTouching    int
	FraudConfirmations int64
	// Fraud confirmations on the device/fingerprint digests specifically.
	DeviceFraudConfirmations int64

	// Distinct user digests seen on this device in the last 24h.
	DeviceUserCount int64

	// Derived booleans. Pointer-typed ones are nil when the inputs needed to
	// compute them were absent.
	IsNewAccount     *bool
	IsVeryNewAccount *bool
	IsNight          bool
	IsWeekend        bool
	IsBusinessHours  bool
	IsRoundAmount    bool
	ImpossibleTravel *bool
	TravelSpeedKmh   float64
	IsNewDevice      *bool
	IsDeviceShared   *bool

	// Email traits computed from the raw value before digesting; the raw
	// address itself never enters the context.
	EmailDisposable      *bool
	EmailLooksSequential *bool

	// Identity / behavioral
	AccountAgeDays   *int
	DormantDays      *int
	FirstTransaction *bool

	// Payments / ecommerce
	FailedPayments24h *int
	BINHighRisk       *bool
	ShippingCountry   *string
	BillingCountry    *string
	IsDigitalGoods    *bool
	MaxAllowedAmount  *float64

	// Network
	IsVPN     *bool
	IsProxy   *bool
	IPCountry *string

	// Account takeover
	PhoneChangedRecently   *bool
	ContactChangedRecently *bool

	// Crypto funding
	WalletAgeDays    *int
	SuspiciousWallet *bool
	IsP2P            *bool

	// Marketplace / betting
	SellerAgeDays      *int
	SellerRating       *float64
	HighRiskCategory   *bool
	BonusClaimed       *bool
	WageredRatio       *float64
	WithdrawalCount24h *int

	MLAnomalyScore *float64

	// Degraded is set when velocity or consortium reads failed and the
	// context was assembled from request features alone.
	Degraded bool
}

// True reports a known-true optional boolean.
func True(b *bool) bool {
	return b != nil && *b
}

func boolPtr(b bool) *bool { return &b }
