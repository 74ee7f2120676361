// Package captoken issues short-lived HMAC capability tokens.
//
// A token proves to the upstream image host that the bearer was authorized by
// this gateway at a given moment, letting clients upload directly to upstream
// and bypass the gateway's own body-size limits. The upstream worker verifies
// the signature and rejects timestamps outside its clock-skew window; the
// gateway only issues.
package captoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	dErrors "pixgate/pkg/domain-errors"
)

// Token is a signed timestamp proof. Never persisted; regenerated per request.
type Token struct {
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

// Issuer signs capability tokens with a secret shared with the upstream worker.
type Issuer struct {
	secret []byte
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// New creates an Issuer. The secret may be empty here; Issue fails closed on
// every call until a real secret is configured, so a misconfigured deployment
// surfaces as a server error instead of minting tokens signed with "".
func New(secret string, opts ...Option) *Issuer {
	i := &Issuer{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue produces a token for the current second.
//
// The signed message is exactly "upload:" followed by the decimal unix
// timestamp, no whitespace; the upstream verifier reproduces it byte for
// byte. The signature is base64url without padding to match the Web Crypto
// encoding on the verifying side.
func (i *Issuer) Issue() (Token, error) {
	if len(i.secret) == 0 {
		return Token{}, dErrors.New(dErrors.CodeConfiguration, "capability signing secret is not configured")
	}

	ts := i.now().Unix()
	mac := hmac.New(sha256.New, i.secret)
	mac.Write([]byte("upload:" + strconv.FormatInt(ts, 10)))

	return Token{
		Timestamp: ts,
		Signature: base64.RawURLEncoding.EncodeToString(mac.Sum(nil)),
	}, nil
}
