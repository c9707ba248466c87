package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/hashing"
	"github.com/fraudshield/scoring-engine/internal/models"
)

type fakeVelocity struct {
	counts      map[string]cache.Counts
	deviceUsers int64
	lastGeo     *cache.GeoPoint
	err         error
}

func (f *fakeVelocity) Window(ctx context.Context, tenantID, scope, digest string, now time.Time) (cache.Counts, error) {
	if f.err != nil {
		return cache.Counts{}, f.err
	}
	return f.counts[scope], nil
}

func (f *fakeVelocity) DeviceUserCount(ctx context.Context, tenantID, deviceDigest string, now time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.deviceUsers, nil
}

func (f *fakeVelocity) LastGeo(ctx context.Context, tenantID, userDigest string) (*cache.GeoPoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.lastGeo, nil
}

type fakeConsortium struct {
	tenants int
	counts  map[string]int64
	err     error
}

func (f *fakeConsortium) TenantCount(ctx context.Context, digests []string, windowDays int) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.tenants, nil
}

func (f *fakeConsortium) FraudCounts(ctx context.Context, digests []string) (map[string]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

func testAssembler(t *testing.T, vel *fakeVelocity, cons *fakeConsortium) *Assembler {
	t.Helper()
	hasher, err := hashing.New("test-secret")
	require.NoError(t, err)
	return NewAssembler(hasher, vel, cons, Options{
		RoundAmounts:             []float64{1000, 5000, 10000, 100000},
		ImpossibleTravelSpeedKmh: 900,
		DeviceSharedThreshold:    3,
		ConsortiumWindowDays:     30,
	})
}

func testClient(vertical string) *models.Client {
	return &models.Client{ID: uuid.New(), Name: "acme", Vertical: vertical}
}

func strPtr(s string) *string       { return &s }
func intPtr(n int) *int             { return &n }
func floatPtr(f float64) *float64   { return &f }
func timePtr(t time.Time) *time.Time { return &t }

func TestAssembleBasics(t *testing.T) {
	a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	req := &models.CheckRequest{
		TransactionID:   "tx-1",
		UserID:          "user-1",
		Amount:          2500,
		Currency:        "usd",
		TransactionType: "Purchase",
		Country:         "ng",
	}
	ec := a.Assemble(context.Background(), testClient(models.VerticalLending), req, now)

	assert.Equal(t, "lending", ec.Vertical)
	assert.Equal(t, "USD", ec.Currency)
	assert.Equal(t, "purchase", ec.TransactionType)
	assert.Equal(t, "NG", ec.Country)
	assert.NotEmpty(t, ec.UserDigest)
	assert.Empty(t, ec.DeviceDigest)
	assert.True(t, ec.VelocityKnown)
	assert.False(t, ec.Degraded)

	t.Run("request vertical overrides client vertical", func(t *testing.T) {
		req2 := *req
		req2.Vertical = "Crypto"
		ec := a.Assemble(context.Background(), testClient(models.VerticalLending), &req2, now)
		assert.Equal(t, "crypto", ec.Vertical)
	})
}

func TestAssembleLocalTime(t *testing.T) {
	a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})

	// 01:30 UTC on a Tuesday; +120 minutes puts local time at 03:30.
	ts := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)

	tests := []struct {
		name        string
		offset      *int
		wantNight   bool
		wantWeekend bool
	}{
		{"no offset stays UTC", nil, false, false},
		{"offset shifts into night window", intPtr(120), true, false},
		{"offset shifts across midnight", intPtr(-120), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &models.CheckRequest{
				TransactionID:   "tx-1",
				UserID:          "user-1",
				Amount:          10,
				Currency:        "USD",
				TransactionType: "purchase",
				Timestamp:       timePtr(ts),
				TZOffsetMinutes: tt.offset,
			}
			ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())
			assert.Equal(t, tt.wantNight, ec.IsNight)
			assert.Equal(t, tt.wantWeekend, ec.IsWeekend)
			assert.Equal(t, ts, ec.Timestamp)
		})
	}

	t.Run("weekend detection", func(t *testing.T) {
		sat := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
		req := &models.CheckRequest{
			TransactionID: "tx-1", UserID: "user-1", Amount: 10,
			Currency: "USD", TransactionType: "purchase", Timestamp: timePtr(sat),
		}
		ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())
		assert.True(t, ec.IsWeekend)
		assert.False(t, ec.IsBusinessHours)
	})
}

func TestAssembleRoundAmountAndAccountAge(t *testing.T) {
	a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})
	now := time.Now()

	req := &models.CheckRequest{
		TransactionID: "tx-1", UserID: "user-1", Amount: 100000,
		Currency: "NGN", TransactionType: "transfer",
		Features: &models.FeatureBag{
			Identity: &models.IdentityFeatures{AccountAgeDays: intPtr(2)},
		},
	}
	ec := a.Assemble(context.Background(), testClient("fintech"), req, now)

	assert.True(t, ec.IsRoundAmount)
	assert.True(t, True(ec.IsNewAccount))
	assert.True(t, True(ec.IsVeryNewAccount))

	t.Run("unknown age leaves pointers nil", func(t *testing.T) {
		req2 := *req
		req2.Features = nil
		req2.Amount = 123.45
		ec := a.Assemble(context.Background(), testClient("fintech"), &req2, now)
		assert.Nil(t, ec.IsNewAccount)
		assert.False(t, ec.IsRoundAmount)
	})
}

func TestAssembleEmailTraits(t *testing.T) {
	a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})

	tests := []struct {
		name           string
		email          string
		wantDisposable bool
		wantSequential bool
	}{
		{"clean address", "alice@example.com", false, false},
		{"disposable domain", "bob@mailinator.com", true, false},
		{"sequential local part", "fraudster1234@example.com", false, true},
		{"both", "acct9001@yopmail.com", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &models.CheckRequest{
				TransactionID: "tx-1", UserID: "user-1", Amount: 10,
				Currency: "USD", TransactionType: "purchase",
				Features: &models.FeatureBag{
					Identity: &models.IdentityFeatures{Email: strPtr(tt.email)},
				},
			}
			ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())
			require.NotNil(t, ec.EmailDisposable)
			require.NotNil(t, ec.EmailLooksSequential)
			assert.Equal(t, tt.wantDisposable, *ec.EmailDisposable)
			assert.Equal(t, tt.wantSequential, *ec.EmailLooksSequential)
			assert.NotEmpty(t, ec.EmailDigest)
		})
	}

	t.Run("no email means unknown", func(t *testing.T) {
		req := &models.CheckRequest{
			TransactionID: "tx-1", UserID: "user-1", Amount: 10,
			Currency: "USD", TransactionType: "purchase",
		}
		ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())
		assert.Nil(t, ec.EmailDisposable)
		assert.Nil(t, ec.EmailLooksSequential)
	})
}

func TestAssembleVelocityDegrades(t *testing.T) {
	vel := &fakeVelocity{err: errors.New("connection refused")}
	a := testAssembler(t, vel, &fakeConsortium{})

	req := &models.CheckRequest{
		TransactionID: "tx-1", UserID: "user-1", Amount: 10,
		Currency: "USD", TransactionType: "purchase",
	}
	ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())

	assert.False(t, ec.VelocityKnown)
	assert.True(t, ec.Degraded)
	assert.Equal(t, cache.Counts{}, ec.UserVelocity)
}

func TestAssembleVelocityCounts(t *testing.T) {
	vel := &fakeVelocity{
		counts: map[string]cache.Counts{
			cache.ScopeUser:   {M1: 3, M10: 8, H1: 15, H24: 40, D7: 60},
			cache.ScopeDevice: {D7: 0},
		},
	}
	a := testAssembler(t, vel, &fakeConsortium{})

	req := &models.CheckRequest{
		TransactionID: "tx-1", UserID: "user-1", DeviceID: "dev-1",
		Amount: 10, Currency: "USD", TransactionType: "purchase",
	}
	ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())

	assert.True(t, ec.VelocityKnown)
	assert.Equal(t, int64(3), ec.UserVelocity.M1)
	assert.Equal(t, int64(40), ec.UserVelocity.H24)
	// No device history in the window implies a new device.
	assert.True(t, True(ec.IsNewDevice))
}

func TestAssembleDeviceShared(t *testing.T) {
	vel := &fakeVelocity{deviceUsers: 4}
	a := testAssembler(t, vel, &fakeConsortium{})

	req := &models.CheckRequest{
		TransactionID: "tx-1", UserID: "user-1", DeviceID: "dev-1",
		Amount: 10, Currency: "USD", TransactionType: "purchase",
	}
	ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())

	assert.Equal(t, int64(4), ec.DeviceUserCount)
	assert.True(t, True(ec.IsDeviceShared))

	t.Run("tenant claim wins over inference", func(t *testing.T) {
		claimed := false
		req2 := *req
		req2.Features = &models.FeatureBag{ATO: &models.ATOFeatures{NewDevice: &claimed}}
		ec := a.Assemble(context.Background(), testClient("fintech"), &req2, time.Now())
		assert.False(t, True(ec.IsNewDevice))
	})
}

func TestAssembleConsortium(t *testing.T) {
	t.Run("aggregates over supplied digests", func(t *testing.T) {
		cons := &fakeConsortium{tenants: 4, counts: map[string]int64{"x": 2, "y": 1}}
		a := testAssembler(t, &fakeVelocity{}, cons)
		req := &models.CheckRequest{
			TransactionID: "tx-1", UserID: "user-1", Amount: 10,
			Currency: "USD", TransactionType: "purchase",
			Features: &models.FeatureBag{
				Identity: &models.IdentityFeatures{Phone: strPtr("+2348012345678")},
			},
		}
		ec := a.Assemble(context.Background(), testClient("lending"), req, time.Now())
		assert.True(t, ec.ConsortiumKnown)
		assert.Equal(t, 4, ec.TenantsTouching)
		assert.Equal(t, int64(3), ec.FraudConfirmations)
	})

	t.Run("no digests skips the lookup", func(t *testing.T) {
		cons := &fakeConsortium{err: errors.New("must not be called")}
		a := testAssembler(t, &fakeVelocity{}, cons)
		req := &models.CheckRequest{
			TransactionID: "tx-1", UserID: "user-1", Amount: 10,
			Currency: "USD", TransactionType: "purchase",
		}
		ec := a.Assemble(context.Background(), testClient("lending"), req, time.Now())
		assert.True(t, ec.ConsortiumKnown)
		assert.Zero(t, ec.TenantsTouching)
		assert.False(t, ec.Degraded)
	})

	t.Run("failure degrades without erroring", func(t *testing.T) {
		cons := &fakeConsortium{err: errors.New("timeout")}
		a := testAssembler(t, &fakeVelocity{}, cons)
		req := &models.CheckRequest{
			TransactionID: "tx-1", UserID: "user-1", Amount: 10,
			Currency: "USD", TransactionType: "purchase",
			Features: &models.FeatureBag{
				Identity: &models.IdentityFeatures{Phone: strPtr("+2348012345678")},
			},
		}
		ec := a.Assemble(context.Background(), testClient("lending"), req, time.Now())
		assert.False(t, ec.ConsortiumKnown)
		assert.True(t, ec.Degraded)
	})
}

func TestAssembleTravel(t *testing.T) {
	lagosLat, lagosLon := 6.4531, 3.3958
	londonLat, londonLon := 51.5074, -0.1278
	ts := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	newReq := func() *models.CheckRequest {
		return &models.CheckRequest{
			TransactionID: "tx-1", UserID: "user-1", Amount: 10,
			Currency: "USD", TransactionType: "purchase",
			Timestamp: timePtr(ts),
			Features: &models.FeatureBag{
				Network: &models.NetworkFeatures{
					IPLatitude:  floatPtr(londonLat),
					IPLongitude: floatPtr(londonLon),
				},
			},
		}
	}

	t.Run("lagos to london in two hours is impossible", func(t *testing.T) {
		a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})
		req := newReq()
		req.Features.Behavioral = &models.BehavioralFeatures{
			PreviousLatitude:  floatPtr(lagosLat),
			PreviousLongitude: floatPtr(lagosLon),
			PreviousSeenAt:    timePtr(ts.Add(-2 * time.Hour)),
		}
		ec := a.Assemble(context.Background(), testClient("fintech"), req, ts)
		require.NotNil(t, ec.ImpossibleTravel)
		assert.True(t, *ec.ImpossibleTravel)
		assert.Greater(t, ec.TravelSpeedKmh, 2000.0)
	})

	t.Run("same trip over a week is fine", func(t *testing.T) {
		a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})
		req := newReq()
		req.Features.Behavioral = &models.BehavioralFeatures{
			PreviousLatitude:  floatPtr(lagosLat),
			PreviousLongitude: floatPtr(lagosLon),
			PreviousSeenAt:    timePtr(ts.Add(-7 * 24 * time.Hour)),
		}
		ec := a.Assemble(context.Background(), testClient("fintech"), req, ts)
		require.NotNil(t, ec.ImpossibleTravel)
		assert.False(t, *ec.ImpossibleTravel)
	})

	t.Run("previous location falls back to cached geo", func(t *testing.T) {
		vel := &fakeVelocity{lastGeo: &cache.GeoPoint{
			Latitude: lagosLat, Longitude: lagosLon, SeenAt: ts.Add(-time.Hour),
		}}
		a := testAssembler(t, vel, &fakeConsortium{})
		ec := a.Assemble(context.Background(), testClient("fintech"), newReq(), ts)
		require.NotNil(t, ec.ImpossibleTravel)
		assert.True(t, *ec.ImpossibleTravel)
	})

	t.Run("unknown endpoints stay nil", func(t *testing.T) {
		a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})
		ec := a.Assemble(context.Background(), testClient("fintech"), newReq(), ts)
		assert.Nil(t, ec.ImpossibleTravel)
	})
}

func TestAssembleATOInference(t *testing.T) {
	a := testAssembler(t, &fakeVelocity{}, &fakeConsortium{})
	changed := true

	req := &models.CheckRequest{
		TransactionID: "tx-1", UserID: "user-1", Amount: 10,
		Currency: "USD", TransactionType: "purchase",
		Features: &models.FeatureBag{
			ATO: &models.ATOFeatures{PasswordChangedRecently: &changed},
		},
	}
	ec := a.Assemble(context.Background(), testClient("fintech"), req, time.Now())

	assert.True(t, True(ec.ContactChangedRecently))
}
