package features

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/hashing"
	"github.com/fraudshield/scoring-engine/internal/models"
)

// VelocityReader is the slice of the velocity store the assembler needs.
type VelocityReader interface {
	Window(ctx context.Context, tenantID, scope, digest string, now time.Time) (cache.Counts, error)
	DeviceUserCount(ctx context.Context, tenantID, deviceDigest string, now time.Time) (int64, error)
	LastGeo(ctx context.Context, tenantID, userDigest string) (*cache.GeoPoint, error)
}

// ConsortiumReader exposes cross-tenant aggregates. Implementations return
// counts only, never tenant lists or raw identifiers.
type ConsortiumReader interface {
	TenantCount(ctx context.Context, digests []string, windowDays int) (int, error)
	FraudCounts(ctx context.Context, digests []string) (map[string]int64, error)
}

// Options carries the tunables the assembler reads from config.
type Options struct {
	RoundAmounts             []float64
	ImpossibleTravelSpeedKmh float64
	DeviceSharedThreshold    int
	ConsortiumWindowDays     int
	ContextTimeout           time.Duration
}

// Assembler turns a raw check request into the evaluation context. It is the
// only component that sees raw identifiers.
type Assembler struct {
	hasher     *hashing.Hasher
	velocity   VelocityReader
	consortium ConsortiumReader
	opts       Options
}

func NewAssembler(hasher *hashing.Hasher, velocity VelocityReader, consortium ConsortiumReader, opts Options) *Assembler {
	return &Assembler{hasher: hasher, velocity: velocity, consortium: consortium, opts: opts}
}

var (
	sequentialLocalPart = regexp.MustCompile(`\d{3,}$`)

	disposableDomains = map[string]bool{
		"mailinator.com":   true,
		"guerrillamail.com": true,
		"10minutemail.com": true,
		"tempmail.com":     true,
		"temp-mail.org":    true,
		"throwaway.email":  true,
		"yopmail.com":      true,
		"sharklasers.com":  true,
		"getnada.com":      true,
		"trashmail.com":    true,
		"maildrop.cc":      true,
		"dispostable.com":  true,
	}

	// Card BIN prefixes with poor chargeback reputation. Placeholder list;
	// production deployments load this from the BIN intelligence feed.
	highRiskBINs = map[string]bool{
		"400022": true,
		"411111": true,
		"453997": true,
		"455673": true,
		"510510": true,
		"521853": true,
		"543603": true,
		"601120": true,
	}
)

// Assemble builds the context for one transaction. Velocity and consortium
// reads run under a combined soft deadline; if they fail the context is still
// returned with Degraded set.
func (a *Assembler) Assemble(ctx context.Context, client *models.Client, req *models.CheckRequest, now time.Time) *Context {
	ec := &Context{
		TenantID:        client.ID.String(),
		Vertical:        a.vertical(client, req),
		TransactionID:   req.TransactionID,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		TransactionType: strings.ToLower(req.TransactionType),
		Country:         strings.ToUpper(req.Country),
	}

	ts := now.UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	ec.Timestamp = ts
	ec.LocalTime = ts
	if req.TZOffsetMinutes != nil {
		ec.LocalTime = ts.In(time.FixedZone("local", *req.TZOffsetMinutes*60))
	}

	a.digest(ec, req)
	a.emailTraits(ec, req)
	a.liftBag(ec, req)
	a.timeAndAmount(ec)

	if a.opts.ContextTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.ContextTimeout)
		defer cancel()
	}

	a.readVelocity(ctx, ec, now)
	a.readConsortium(ctx, ec)
	a.deviceTraits(ctx, ec, req, now)
	a.travel(ctx, ec, req, now)

	return ec
}

func (a *Assembler) vertical(client *models.Client, req *models.CheckRequest) string {
	if req.Vertical != "" {
		return strings.ToLower(req.Vertical)
	}
	return client.Vertical
}

func (a *Assembler) digest(ec *Context, req *models.CheckRequest) {
	ec.UserDigest = a.hasher.Digest(hashing.KindUser, req.UserID)
	ec.DeviceDigest = a.hasher.Digest(hashing.KindDevice, req.DeviceID)
	ec.FingerprintDigest = a.hasher.Digest(hashing.KindFingerprint, req.DeviceFingerprint)
	ec.IPDigest = a.hasher.Digest(hashing.KindIP, req.IPAddress)

	if req.Features == nil {
		return
	}
	if id := req.Features.Identity; id != nil {
		if id.Email != nil {
			ec.EmailDigest = a.hasher.Digest(hashing.KindEmail, *id.Email)
		}
		if id.Phone != nil {
			ec.PhoneDigest = a.hasher.Digest(hashing.KindPhone, *id.Phone)
		}
		if id.NationalID != nil {
			ec.NationalIDDigest = a.hasher.Digest(hashing.KindNationalID, *id.NationalID)
		}
		if id.StreetAddress != nil {
			ec.AddressDigest = a.hasher.Digest(hashing.KindAddress, *id.StreetAddress)
		}
	}
	if f := req.Features.Funding; f != nil && f.WalletAddress != nil {
		ec.WalletDigest = a.hasher.Digest(hashing.KindWallet, *f.WalletAddress)
	}
	if t := req.Features.Transaction; t != nil && t.CardBIN != nil {
		card := *t.CardBIN
		if t.CardLast4 != nil {
			card += ":" + *t.CardLast4
		}
		ec.CardDigest = a.hasher.Digest(hashing.KindCard, card)
	}
}

// emailTraits derives booleans from the raw email address before it is
// discarded; downstream only ever sees the digest.
func (a *Assembler) emailTraits(ec *Context, req *models.CheckRequest) {
	if req.Features == nil || req.Features.Identity == nil || req.Features.Identity.Email == nil {
		return
	}
	email := strings.ToLower(strings.TrimSpace(*req.Features.Identity.Email))
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return
	}
	local, domain := email[:at], email[at+1:]
	ec.EmailDisposable = boolPtr(disposableDomains[domain])
	ec.EmailLooksSequential = boolPtr(sequentialLocalPart.MatchString(local))
}

func (a *Assembler) liftBag(ec *Context, req *models.CheckRequest) {
	bag := req.Features
	if bag == nil {
		return
	}
	if id := bag.Identity; id != nil {
		ec.AccountAgeDays = id.AccountAgeDays
	}
	if b := bag.Behavioral; b != nil {
		ec.DormantDays = b.DormantDays
		ec.FirstTransaction = b.FirstTransaction
	}
	if t := bag.Transaction; t != nil {
		ec.FailedPayments24h = t.FailedPayments24h
		ec.ShippingCountry = upperPtr(t.ShippingCountry)
		ec.BillingCountry = upperPtr(t.BillingCountry)
		ec.IsDigitalGoods = t.IsDigitalGoods
		ec.MaxAllowedAmount = t.MaxAllowedAmount
		if t.CardBIN != nil {
			ec.BINHighRisk = boolPtr(highRiskBINs[strings.TrimSpace(*t.CardBIN)])
		}
		if ec.Country == "" && t.DeclaredCountry != nil {
			ec.Country = strings.ToUpper(*t.DeclaredCountry)
		}
	}
	if n := bag.Network; n != nil {
		ec.IsVPN = n.IsVPN
		ec.IsProxy = n.IsProxy
		ec.IPCountry = upperPtr(n.IPCountry)
	}
	if ato := bag.ATO; ato != nil {
		ec.PhoneChangedRecently = ato.PhoneChangedRecently
		ec.ContactChangedRecently = ato.ContactChangedRecently
		if ec.ContactChangedRecently == nil && (True(ato.EmailChangedRecently) || True(ato.PasswordChangedRecently)) {
			ec.ContactChangedRecently = boolPtr(true)
		}
		ec.IsNewDevice = ato.NewDevice
	}
	if f := bag.Funding; f != nil {
		ec.WalletAgeDays = f.WalletAgeDays
		ec.SuspiciousWallet = f.SuspiciousWallet
		ec.IsP2P = f.IsP2P
	}
	if m := bag.MerchantAbuse; m != nil {
		ec.SellerAgeDays = m.SellerAgeDays
		ec.SellerRating = m.SellerRating
		ec.HighRiskCategory = m.HighRiskCategory
		ec.BonusClaimed = m.BonusClaimed
		ec.WageredRatio = m.WageredRatio
		ec.WithdrawalCount24h = m.WithdrawalCount24h
	}
	if ml := bag.MLDerived; ml != nil {
		ec.MLAnomalyScore = ml.AnomalyScore
	}
}

func (a *Assembler) timeAndAmount(ec *Context) {
	hour := ec.LocalTime.Hour()
	ec.IsNight = hour >= 2 && hour < 5
	wd := ec.LocalTime.Weekday()
	ec.IsWeekend = wd == time.Saturday || wd == time.Sunday
	ec.IsBusinessHours = !ec.IsWeekend && hour >= 9 && hour < 18

	for _, amt := range a.opts.RoundAmounts {
		if ec.Amount == amt {
			ec.IsRoundAmount = true
			break
		}
	}

	if ec.AccountAgeDays != nil {
		ec.IsNewAccount = boolPtr(*ec.AccountAgeDays < 7)
		ec.IsVeryNewAccount = boolPtr(*ec.AccountAgeDays < 3)
	}
}

func (a *Assembler) readVelocity(ctx context.Context, ec *Context, now time.Time) {
	type read struct {
		scope  string
		digest string
		dst    *cache.Counts
	}
	reads := []read{
		{cache.ScopeUser, ec.UserDigest, &ec.UserVelocity},
		{cache.ScopeDevice, ec.DeviceDigest, &ec.DeviceVelocity},
		{cache.ScopeIP, ec.IPDigest, &ec.IPVelocity},
		{cache.ScopeTenant, ec.TenantID, &ec.TenantVelocity},
	}
	ok := true
	for _, r := range reads {
		if r.digest == "" {
			continue
		}
		counts, err := a.velocity.Window(ctx, ec.TenantID, r.scope, r.digest, now)
		if err != nil {
			log.Warn().Err(err).Str("scope", r.scope).Msg("Velocity read failed, degrading")
			ok = false
			break
		}
		*r.dst = counts
	}
	ec.VelocityKnown = ok
	if !ok {
		ec.Degraded = true
	}
}

func (a *Assembler) readConsortium(ctx context.Context, ec *Context) {
	digests := nonEmpty(ec.PhoneDigest, ec.EmailDigest, ec.FingerprintDigest, ec.NationalIDDigest, ec.WalletDigest)
	if len(digests) == 0 {
		ec.ConsortiumKnown = true
		return
	}

	tenants, err := a.consortium.TenantCount(ctx, digests, a.opts.ConsortiumWindowDays)
	if err != nil {
		log.Warn().Err(err).Msg("Consortium tenant count failed, degrading")
		ec.Degraded = true
		return
	}
	ec.TenantsTouching = tenants

	counts, err := a.consortium.FraudCounts(ctx, digests)
	if err != nil {
		log.Warn().Err(err).Msg("Consortium fraud counts failed, degrading")
		ec.Degraded = true
		return
	}
	for _, c := range counts {
		ec.FraudConfirmations += c
	}
	ec.DeviceFraudConfirmations = counts[ec.FingerprintDigest]
	ec.ConsortiumKnown = true
}

func (a *Assembler) deviceTraits(ctx context.Context, ec *Context, req *models.CheckRequest, now time.Time) {
	if ec.DeviceDigest == "" {
		return
	}
	if ec.VelocityKnown {
		count, err := a.velocity.DeviceUserCount(ctx, ec.TenantID, ec.DeviceDigest, now)
		if err == nil {
			ec.DeviceUserCount = count
			ec.IsDeviceShared = boolPtr(a.opts.DeviceSharedThreshold > 0 && count >= int64(a.opts.DeviceSharedThreshold))
		}
		// Tenant never claimed new/old device; infer from history.
		if ec.IsNewDevice == nil {
			ec.IsNewDevice = boolPtr(ec.DeviceVelocity.D7 == 0)
		}
	}
}

// travel computes the impossible-travel boolean. The previous location comes
// from the request's behavioral bag when supplied, otherwise from the last
// observed location in the velocity store. Unknown endpoints leave the
// boolean nil.
func (a *Assembler) travel(ctx context.Context, ec *Context, req *models.CheckRequest, now time.Time) {
	var curLat, curLon float64
	var haveCur bool
	if req.Features != nil && req.Features.Network != nil {
		n := req.Features.Network
		if n.IPLatitude != nil && n.IPLongitude != nil {
			curLat, curLon, haveCur = *n.IPLatitude, *n.IPLongitude, true
		}
	}
	if !haveCur {
		return
	}

	var prevLat, prevLon float64
	var prevAt time.Time
	var havePrev bool
	if req.Features != nil && req.Features.Behavioral != nil {
		b := req.Features.Behavioral
		if b.PreviousLatitude != nil && b.PreviousLongitude != nil && b.PreviousSeenAt != nil {
			prevLat, prevLon, prevAt, havePrev = *b.PreviousLatitude, *b.PreviousLongitude, *b.PreviousSeenAt, true
		}
	}
	if !havePrev && ec.VelocityKnown {
		if p, err := a.velocity.LastGeo(ctx, ec.TenantID, ec.UserDigest); err == nil && p != nil {
			prevLat, prevLon, prevAt, havePrev = p.Latitude, p.Longitude, p.SeenAt, true
		}
	}
	if !havePrev {
		return
	}

	distance := Haversine(prevLat, prevLon, curLat, curLon)
	elapsed := ec.Timestamp.Sub(prevAt).Hours()
	speed := ImpliedSpeedKmh(distance, elapsed)
	ec.TravelSpeedKmh = speed
	ec.ImpossibleTravel = boolPtr(distance > 1 && speed > a.opts.ImpossibleTravelSpeedKmh)
}

func upperPtr(s *string) *string {
	if s == nil {
		return nil
	}
	u := strings.ToUpper(strings.TrimSpace(*s))
	return &u
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
