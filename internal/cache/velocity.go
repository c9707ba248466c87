package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Velocity scopes.
const (
	ScopeUser   = "user"
	ScopeDevice = "device"
	ScopeIP     = "ip"
	ScopeTenant = "tenant"
)

// Counts holds transaction counts over the standard sliding windows.
type Counts struct {
	M1  int64 `json:"1m"`
	M10 int64 `json:"10m"`
	H1  int64 `json:"1h"`
	H24 int64 `json:"24h"`
	D7  int64 `json:"7d"`
}

const retention = 7 * 24 * time.Hour

// VelocityStore tracks per-subject transaction velocity in Redis sorted sets.
// Members are transaction ids, so replaying the same transaction never
// inflates a window.
type VelocityStore struct {
	client *Client
}

func NewVelocityStore(client *Client) *VelocityStore {
	return &VelocityStore{client: client}
}

func zMember(score float64, member string) redis.Z {
	return redis.Z{Score: score, Member: member}
}

func velocityKey(tenantID, scope, digest string) string {
	return fmt.Sprintf("vel:%s:%s:%s", tenantID, scope, digest)
}

// Bump records a transaction against one subject. Safe to call repeatedly
// with the same transaction id.
func (v *VelocityStore) Bump(ctx context.Context, tenantID, scope, digest, txID string, at time.Time) error {
	if digest == "" {
		return nil
	}
	ctx, cancel := v.client.withTimeout(ctx)
	defer cancel()

	key := velocityKey(tenantID, scope, digest)
	pipe := v.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, zMember(float64(at.UnixMilli()), txID))
	pipe.Expire(ctx, key, retention+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("velocity bump %s: %w", key, err)
	}
	return nil
}

// Window counts one subject's transactions in every standard window, trimming
// entries past retention first.
func (v *VelocityStore) Window(ctx context.Context, tenantID, scope, digest string, now time.Time) (Counts, error) {
	if digest == "" {
		return Counts{}, nil
	}
	ctx, cancel := v.client.withTimeout(ctx)
	defer cancel()

	key := velocityKey(tenantID, scope, digest)
	nowMs := now.UnixMilli()
	cut := func(d time.Duration) string {
		return fmt.Sprintf("%d", now.Add(-d).UnixMilli())
	}
	max := fmt.Sprintf("%d", nowMs)

	pipe := v.client.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cut(retention))
	m1 := pipe.ZCount(ctx, key, cut(time.Minute), max)
	m10 := pipe.ZCount(ctx, key, cut(10*time.Minute), max)
	h1 := pipe.ZCount(ctx, key, cut(time.Hour), max)
	h24 := pipe.ZCount(ctx, key, cut(24*time.Hour), max)
	d7 := pipe.ZCount(ctx, key, cut(retention), max)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("velocity window %s: %w", key, err)
	}

	return Counts{
		M1:  m1.Val(),
		M10: m10.Val(),
		H1:  h1.Val(),
		H24: h24.Val(),
		D7:  d7.Val(),
	}, nil
}

// ObserveDeviceUser links a user digest to a device digest for device-sharing
// detection. Windowed at 24h.
func (v *VelocityStore) ObserveDeviceUser(ctx context.Context, tenantID, deviceDigest, userDigest string, at time.Time) error {
	if deviceDigest == "" || userDigest == "" {
		return nil
	}
	ctx, cancel := v.client.withTimeout(ctx)
	defer cancel()

	key := fmt.Sprintf("devusers:%s:%s", tenantID, deviceDigest)
	pipe := v.client.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, zMember(float64(at.UnixMilli()), userDigest))
	pipe.Expire(ctx, key, 25*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("device users observe: %w", err)
	}
	return nil
}

// DeviceUserCount returns how many distinct users touched a device in the
// last 24 hours.
func (v *VelocityStore) DeviceUserCount(ctx context.Context, tenantID, deviceDigest string, now time.Time) (int64, error) {
	if deviceDigest == "" {
		return 0, nil
	}
	ctx, cancel := v.client.withTimeout(ctx)
	defer cancel()

	key := fmt.Sprintf("devusers:%s:%s", tenantID, deviceDigest)
	cutoff := fmt.Sprintf("%d", now.Add(-24*time.Hour).UnixMilli())

	pipe := v.client.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	count := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("device users count: %w", err)
	}
	return count.Val(), nil
}

// GeoPoint is the last observed location of a user.
type GeoPoint struct {
	Latitude  float64   `json:"lat"`
	Longitude float64   `json:"lon"`
	SeenAt    time.Time `json:"seen_at"`
}

func geoKey(tenantID, userDigest string) string {
	return fmt.Sprintf("lastgeo:%s:%s", tenantID, userDigest)
}

// LastGeo returns (nil, nil) when no location has been recorded.
func (v *VelocityStore) LastGeo(ctx context.Context, tenantID, userDigest string) (*GeoPoint, error) {
	if userDigest == "" {
		return nil, nil
	}
	raw, found, err := v.client.GetBytes(ctx, geoKey(tenantID, userDigest))
	if err != nil || !found {
		return nil, err
	}
	var p GeoPoint
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, nil
	}
	return &p, nil
}

func (v *VelocityStore) SetLastGeo(ctx context.Context, tenantID, userDigest string, p GeoPoint) error {
	if userDigest == "" {
		return nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return v.client.SetBytes(ctx, geoKey(tenantID, userDigest), raw, retention)
}
