package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/scoring-engine/internal/models"
)

func TestShouldNotify(t *testing.T) {
	tests := []struct {
		name string
		tx   models.Transaction
		want bool
	}{
		{"decline", models.Transaction{Decision: models.DecisionDecline, RiskLevel: models.RiskLevelHigh}, true},
		{"critical review", models.Transaction{Decision: models.DecisionReview, RiskLevel: models.RiskLevelCritical}, true},
		{"plain review", models.Transaction{Decision: models.DecisionReview, RiskLevel: models.RiskLevelMedium}, false},
		{"approve", models.Transaction{Decision: models.DecisionApprove, RiskLevel: models.RiskLevelLow}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldNotify(&tt.tx))
		})
	}
}

func TestSign(t *testing.T) {
	body := []byte(`{"event":"transaction.flagged"}`)
	got := Sign("s3cret", body)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(body)
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), got)

	assert.NotEqual(t, got, Sign("other", body))
}

func TestDispatch(t *testing.T) {
	tx := &models.Transaction{
		ExternalID: "tx-9",
		Score:      82,
		RiskLevel:  models.RiskLevelCritical,
		Decision:   models.DecisionDecline,
	}

	t.Run("delivers signed payload", func(t *testing.T) {
		var gotSig string
		var gotBody []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotSig = r.Header.Get("X-Signature")
			gotBody, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := NewDispatcher(time.Second, 3, time.Millisecond)
		require.NoError(t, d.Dispatch(context.Background(), srv.URL, "hook-secret", tx))

		assert.Equal(t, Sign("hook-secret", gotBody), gotSig)

		var event Event
		require.NoError(t, json.Unmarshal(gotBody, &event))
		assert.Equal(t, "transaction.flagged", event.Event)
		assert.Equal(t, "tx-9", event.TransactionID)
		assert.Equal(t, 82, event.RiskScore)
	})

	t.Run("retries until success", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		d := NewDispatcher(time.Second, 5, time.Millisecond)
		require.NoError(t, d.Dispatch(context.Background(), srv.URL, "s", tx))
		assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		d := NewDispatcher(time.Second, 2, time.Millisecond)
		err := d.Dispatch(context.Background(), srv.URL, "s", tx)
		assert.Error(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("empty url is a no-op", func(t *testing.T) {
		d := NewDispatcher(time.Second, 2, time.Millisecond)
		assert.NoError(t, d.Dispatch(context.Background(), "", "s", tx))
	})

	t.Run("cancelled context stops the backoff", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		d := NewDispatcher(time.Second, 5, time.Hour)
		err := d.Dispatch(ctx, srv.URL, "s", tx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
