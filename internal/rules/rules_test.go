package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudshield/scoring-engine/internal/cache"
	"github.com/fraudshield/scoring-engine/internal/features"
)

func bptr(b bool) *bool          { return &b }
func iptr(n int) *int            { return &n }
func fptr(f float64) *float64    { return &f }
func sptr(s string) *string      { return &s }

func evalRule(t *testing.T, name string, ec *features.Context) *Result {
	t.Helper()
	reg, err := Build(Options{})
	require.NoError(t, err)
	rule, ok := reg.Get(name)
	require.True(t, ok, "rule %s not registered", name)
	return rule.Check(ec)
}

func TestAccountRules(t *testing.T) {
	t.Run("new_account_large_amount", func(t *testing.T) {
		ec := &features.Context{Amount: 150_000, IsNewAccount: bptr(true), AccountAgeDays: iptr(2)}
		res := evalRule(t, "new_account_large_amount", ec)
		require.NotNil(t, res)
		assert.Equal(t, 150_000.0, res.Metadata["amount"])

		t.Run("unknown age does not fire", func(t *testing.T) {
			ec := &features.Context{Amount: 150_000}
			assert.Nil(t, evalRule(t, "new_account_large_amount", ec))
		})

		t.Run("small amount does not fire", func(t *testing.T) {
			ec := &features.Context{Amount: 500, IsNewAccount: bptr(true)}
			assert.Nil(t, evalRule(t, "new_account_large_amount", ec))
		})
	})

	t.Run("dormant_account_reactivation", func(t *testing.T) {
		ec := &features.Context{Amount: 120_000, DormantDays: iptr(120)}
		assert.NotNil(t, evalRule(t, "dormant_account_reactivation", ec))

		ec.DormantDays = iptr(30)
		assert.Nil(t, evalRule(t, "dormant_account_reactivation", ec))
	})

	t.Run("night_large_transaction", func(t *testing.T) {
		ec := &features.Context{Amount: 200_000, IsNight: true}
		assert.NotNil(t, evalRule(t, "night_large_transaction", ec))

		ec.IsNight = false
		assert.Nil(t, evalRule(t, "night_large_transaction", ec))
	})

	t.Run("round_amount_pattern", func(t *testing.T) {
		ec := &features.Context{Amount: 100_000, IsRoundAmount: true}
		assert.NotNil(t, evalRule(t, "round_amount_pattern", ec))

		ec.Amount = 1000
		assert.Nil(t, evalRule(t, "round_amount_pattern", ec))
	})
}

func TestDeviceRules(t *testing.T) {
	t.Run("device_fraud_history needs consortium data", func(t *testing.T) {
		ec := &features.Context{ConsortiumKnown: true, DeviceFraudConfirmations: 2}
		assert.NotNil(t, evalRule(t, "device_fraud_history", ec))

		ec.ConsortiumKnown = false
		assert.Nil(t, evalRule(t, "device_fraud_history", ec))
	})

	t.Run("device_velocity", func(t *testing.T) {
		ec := &features.Context{VelocityKnown: true, DeviceVelocity: cache.Counts{H1: 5}}
		assert.NotNil(t, evalRule(t, "device_velocity", ec))

		t.Run("degraded context never fires", func(t *testing.T) {
			ec := &features.Context{VelocityKnown: false, DeviceVelocity: cache.Counts{H1: 50}}
			assert.Nil(t, evalRule(t, "device_velocity", ec))
		})
	})

	t.Run("device_shared_multiple_users", func(t *testing.T) {
		ec := &features.Context{IsDeviceShared: bptr(true), DeviceUserCount: 4}
		res := evalRule(t, "device_shared_multiple_users", ec)
		require.NotNil(t, res)
		assert.Equal(t, int64(4), res.Metadata["distinct_users"])
	})
}

func TestVelocityRules(t *testing.T) {
	tests := []struct {
		rule   string
		counts cache.Counts
		fires  bool
	}{
		{"rapid_transactions_1m", cache.Counts{M1: 3}, true},
		{"rapid_transactions_1m", cache.Counts{M1: 2}, false},
		{"rapid_transactions_10m", cache.Counts{M10: 8}, true},
		{"rapid_transactions_1h", cache.Counts{H1: 15}, true},
		{"rapid_transactions_24h", cache.Counts{H24: 40}, true},
		{"rapid_transactions_24h", cache.Counts{H24: 39}, false},
	}

	for _, tt := range tests {
		t.Run(tt.rule, func(t *testing.T) {
			ec := &features.Context{VelocityKnown: true, UserVelocity: tt.counts}
			res := evalRule(t, tt.rule, ec)
			assert.Equal(t, tt.fires, res != nil)
		})
	}

	t.Run("first_transaction_at_maximum", func(t *testing.T) {
		ec := &features.Context{
			Amount:           250_000,
			FirstTransaction: bptr(true),
			MaxAllowedAmount: fptr(250_000),
		}
		assert.NotNil(t, evalRule(t, "first_transaction_at_maximum", ec))

		ec.Amount = 100
		assert.Nil(t, evalRule(t, "first_transaction_at_maximum", ec))
	})
}

func TestIdentityRules(t *testing.T) {
	t.Run("sim_swap_pattern needs all three signals", func(t *testing.T) {
		ec := &features.Context{
			TransactionType:      "withdrawal",
			PhoneChangedRecently: bptr(true),
			IsNewDevice:          bptr(true),
		}
		assert.NotNil(t, evalRule(t, "sim_swap_pattern", ec))

		t.Run("not a cash-out", func(t *testing.T) {
			ec := &features.Context{
				TransactionType:      "purchase",
				PhoneChangedRecently: bptr(true),
				IsNewDevice:          bptr(true),
			}
			assert.Nil(t, evalRule(t, "sim_swap_pattern", ec))
		})

		t.Run("unknown device", func(t *testing.T) {
			ec := &features.Context{
				TransactionType:      "withdrawal",
				PhoneChangedRecently: bptr(true),
			}
			assert.Nil(t, evalRule(t, "sim_swap_pattern", ec))
		})
	})

	t.Run("contact_change_withdrawal", func(t *testing.T) {
		ec := &features.Context{TransactionType: "payout", ContactChangedRecently: bptr(true)}
		assert.NotNil(t, evalRule(t, "contact_change_withdrawal", ec))
	})

	t.Run("disposable_email_domain", func(t *testing.T) {
		ec := &features.Context{EmailDisposable: bptr(true)}
		assert.NotNil(t, evalRule(t, "disposable_email_domain", ec))

		ec.EmailDisposable = nil
		assert.Nil(t, evalRule(t, "disposable_email_domain", ec))
	})
}

func TestGeoRules(t *testing.T) {
	t.Run("impossible_travel", func(t *testing.T) {
		ec := &features.Context{ImpossibleTravel: bptr(true), TravelSpeedKmh: 2500}
		res := evalRule(t, "impossible_travel", ec)
		require.NotNil(t, res)
		assert.Equal(t, 2500.0, res.Metadata["implied_speed_kmh"])

		t.Run("unknown location never fires", func(t *testing.T) {
			assert.Nil(t, evalRule(t, "impossible_travel", &features.Context{}))
		})
	})

	t.Run("country_mismatch", func(t *testing.T) {
		ec := &features.Context{Country: "NG", IPCountry: sptr("GB")}
		assert.NotNil(t, evalRule(t, "country_mismatch", ec))

		ec.IPCountry = sptr("NG")
		assert.Nil(t, evalRule(t, "country_mismatch", ec))

		ec.IPCountry = nil
		assert.Nil(t, evalRule(t, "country_mismatch", ec))
	})

	t.Run("vpn_proxy_ip", func(t *testing.T) {
		assert.NotNil(t, evalRule(t, "vpn_proxy_ip", &features.Context{IsVPN: bptr(true)}))
		assert.NotNil(t, evalRule(t, "vpn_proxy_ip", &features.Context{IsProxy: bptr(true)}))
		assert.Nil(t, evalRule(t, "vpn_proxy_ip", &features.Context{IsVPN: bptr(false)}))
	})
}

func TestLoanStacking(t *testing.T) {
	t.Run("default threshold", func(t *testing.T) {
		ec := &features.Context{ConsortiumKnown: true, TenantsTouching: 3}
		assert.NotNil(t, evalRule(t, "loan_stacking", ec))

		ec.TenantsTouching = 2
		assert.Nil(t, evalRule(t, "loan_stacking", ec))
	})

	t.Run("configured threshold", func(t *testing.T) {
		reg, err := Build(Options{LoanStackingTenants: 5})
		require.NoError(t, err)
		rule, ok := reg.Get("loan_stacking")
		require.True(t, ok)

		assert.Nil(t, rule.Check(&features.Context{ConsortiumKnown: true, TenantsTouching: 4}))
		assert.NotNil(t, rule.Check(&features.Context{ConsortiumKnown: true, TenantsTouching: 5}))
	})

	t.Run("degraded consortium never fires", func(t *testing.T) {
		ec := &features.Context{ConsortiumKnown: false, TenantsTouching: 10}
		assert.Nil(t, evalRule(t, "loan_stacking", ec))
	})
}

func TestPaymentRules(t *testing.T) {
	t.Run("multiple_failed_payments", func(t *testing.T) {
		ec := &features.Context{FailedPayments24h: iptr(3)}
		assert.NotNil(t, evalRule(t, "multiple_failed_payments", ec))

		ec.FailedPayments24h = iptr(2)
		assert.Nil(t, evalRule(t, "multiple_failed_payments", ec))
	})

	t.Run("shipping_billing_mismatch only on high value", func(t *testing.T) {
		ec := &features.Context{
			Amount:          60_000,
			ShippingCountry: sptr("US"),
			BillingCountry:  sptr("RO"),
		}
		assert.NotNil(t, evalRule(t, "shipping_billing_mismatch", ec))

		ec.Amount = 100
		assert.Nil(t, evalRule(t, "shipping_billing_mismatch", ec))
	})

	t.Run("digital_goods_new_account", func(t *testing.T) {
		ec := &features.Context{IsDigitalGoods: bptr(true), IsNewAccount: bptr(true)}
		assert.NotNil(t, evalRule(t, "digital_goods_new_account", ec))
	})
}

func TestBettingRules(t *testing.T) {
	t.Run("withdrawal_without_wagering", func(t *testing.T) {
		ec := &features.Context{TransactionType: "withdrawal", WageredRatio: fptr(0.2)}
		assert.NotNil(t, evalRule(t, "withdrawal_without_wagering", ec))

		ec.WageredRatio = fptr(0.9)
		assert.Nil(t, evalRule(t, "withdrawal_without_wagering", ec))
	})

	t.Run("bonus_abuse_device_sharing", func(t *testing.T) {
		ec := &features.Context{BonusClaimed: bptr(true), IsDeviceShared: bptr(true)}
		assert.NotNil(t, evalRule(t, "bonus_abuse_device_sharing", ec))
	})

	t.Run("excessive_withdrawals", func(t *testing.T) {
		ec := &features.Context{WithdrawalCount24h: iptr(5)}
		assert.NotNil(t, evalRule(t, "excessive_withdrawals", ec))
	})
}

func TestCryptoRules(t *testing.T) {
	t.Run("new_wallet_high_value", func(t *testing.T) {
		ec := &features.Context{Amount: 80_000, WalletAgeDays: iptr(3)}
		assert.NotNil(t, evalRule(t, "new_wallet_high_value", ec))

		ec.WalletAgeDays = iptr(30)
		assert.Nil(t, evalRule(t, "new_wallet_high_value", ec))
	})

	t.Run("suspicious_wallet", func(t *testing.T) {
		ec := &features.Context{SuspiciousWallet: bptr(true)}
		assert.NotNil(t, evalRule(t, "suspicious_wallet", ec))
	})

	t.Run("p2p_velocity", func(t *testing.T) {
		ec := &features.Context{IsP2P: bptr(true), VelocityKnown: true, UserVelocity: cache.Counts{H24: 12}}
		assert.NotNil(t, evalRule(t, "p2p_velocity", ec))

		ec.VelocityKnown = false
		assert.Nil(t, evalRule(t, "p2p_velocity", ec))
	})
}

func TestMarketplaceRules(t *testing.T) {
	t.Run("new_seller_high_value", func(t *testing.T) {
		ec := &features.Context{Amount: 60_000, SellerAgeDays: iptr(5)}
		assert.NotNil(t, evalRule(t, "new_seller_high_value", ec))
	})

	t.Run("low_rated_seller ignores unrated", func(t *testing.T) {
		ec := &features.Context{SellerRating: fptr(1.5)}
		assert.NotNil(t, evalRule(t, "low_rated_seller", ec))

		ec.SellerRating = fptr(0)
		assert.Nil(t, evalRule(t, "low_rated_seller", ec))
	})
}
