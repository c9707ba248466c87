package hashing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Digest kinds. Two identical raw values of different kinds never collide
// because the kind participates in the MAC input.
const (
	KindUser        = "user"
	KindDevice      = "device"
	KindFingerprint = "fingerprint"
	KindIP          = "ip"
	KindEmail       = "email"
	KindPhone       = "phone"
	KindNationalID  = "national_id"
	KindAddress     = "address"
	KindWallet      = "wallet"
	KindCard        = "card"
	KindAPIKey      = "api_key"
)

var ErrNoSecret = errors.New("hashing: secret key is not configured")

// Hasher produces salted, kind-separated digests of raw identifiers. Raw
// values pass through here exactly once, on the request path; everything
// downstream sees digests only.
type Hasher struct {
	key []byte
}

func New(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	key := []byte(secret)
	if len(key) > 64 {
		// blake2b keys max out at 64 bytes.
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Hasher{key: key}, nil
}

// Digest returns the hex digest of value under kind, or "" for an empty
// value. Values are trimmed and lowercased first so that case and whitespace
// variants of the same identifier link together.
func (h *Hasher) Digest(kind, value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	mac, err := blake2b.New256(h.key)
	if err != nil {
		// unreachable: New bounds the key to 64 bytes
		panic(fmt.Sprintf("hashing: %v", err))
	}
	mac.Write([]byte(kind))
	mac.Write([]byte{0})
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
