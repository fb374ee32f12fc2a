package result

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Handle is a short-lived grant to fetch one job's stored document. Status
// calls mint a fresh one every time so access stays centralized and
// short-lived; nothing durable carries a fetchable pointer.
type Handle struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer mints and verifies result handles using an HMAC over the storage
// reference and expiry time.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (s *Signer) signature(ref string, exp int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s|%d", ref, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Mint issues a fresh handle for the given storage reference.
func (s *Signer) Mint(ref string) Handle {
	expiresAt := s.now().Add(s.ttl)
	exp := expiresAt.Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.signature(ref, exp))
	return Handle{
		URL:       fmt.Sprintf("/results/%s?%s", ref, q.Encode()),
		ExpiresAt: expiresAt,
	}
}

// Verify checks a presented signature and expiry for a storage reference.
func (s *Signer) Verify(ref, expStr, sig string) error {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed expiry: %w", err)
	}
	if s.now().Unix() > exp {
		return fmt.Errorf("handle expired")
	}
	want := s.signature(ref, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}
