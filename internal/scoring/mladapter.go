package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fraudshield/scoring-engine/internal/features"
)

// Prediction is what an ML scorer returns for one transaction.
type Prediction struct {
	Probability float64            `json:"probability"`
	Importance  map[string]float64 `json:"importance,omitempty"`
}

// Adapter is the pluggable ML scorer. Implementations must be safe for
// concurrent use and should respect the context deadline; the engine treats
// any error as "ML unavailable" and scores on rules alone.
type Adapter interface {
	Predict(ctx context.Context, featureVector map[string]float64) (*Prediction, error)
}

// FeatureVector flattens the evaluation context into the numeric vector the
// model was trained on. Unknown leaves are simply absent.
func FeatureVector(ec *features.Context) map[string]float64 {
	v := map[string]float64{
		"amount": ec.Amount,
		"hour":   float64(ec.LocalTime.Hour()),
	}
	setBool := func(key string, b bool) {
		if b {
			v[key] = 1
		} else {
			v[key] = 0
		}
	}
	setBool("is_night", ec.IsNight)
	setBool("is_weekend", ec.IsWeekend)
	setBool("is_round_amount", ec.IsRoundAmount)
	if ec.IsNewAccount != nil {
		setBool("is_new_account", *ec.IsNewAccount)
	}
	if ec.IsNewDevice != nil {
		setBool("is_new_device", *ec.IsNewDevice)
	}
	if ec.AccountAgeDays != nil {
		v["account_age_days"] = float64(*ec.AccountAgeDays)
	}
	if ec.VelocityKnown {
		v["user_velocity_1h"] = float64(ec.UserVelocity.H1)
		v["user_velocity_24h"] = float64(ec.UserVelocity.H24)
		v["device_velocity_1h"] = float64(ec.DeviceVelocity.H1)
		v["ip_velocity_1h"] = float64(ec.IPVelocity.H1)
	}
	if ec.ConsortiumKnown {
		v["tenants_touching"] = float64(ec.TenantsTouching)
		v["fraud_confirmations"] = float64(ec.FraudConfirmations)
	}
	if ec.MLAnomalyScore != nil {
		v["anomaly_score"] = *ec.MLAnomalyScore
	}
	return v
}

// HTTPAdapter calls an external scoring endpoint. One shared http.Client, so
// it is safe under the rule fan-out.
type HTTPAdapter struct {
	endpoint string
	client   *http.Client
}

func NewHTTPAdapter(endpoint string, timeout time.Duration) *HTTPAdapter {
	return &HTTPAdapter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAdapter) Predict(ctx context.Context, featureVector map[string]float64) (*Prediction, error) {
	body, err := json.Marshal(map[string]interface{}{"features": featureVector})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ml predict: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ml predict: status %d", resp.StatusCode)
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return nil, fmt.Errorf("ml predict decode: %w", err)
	}
	if pred.Probability < 0 || pred.Probability > 1 {
		return nil, fmt.Errorf("ml predict: probability %.4f out of range", pred.Probability)
	}
	return &pred, nil
}
