package captoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "pixgate/pkg/domain-errors"
)

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func TestIssue(t *testing.T) {
	t.Run("deterministic for fixed secret and timestamp", func(t *testing.T) {
		a, err := New("secret", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)
		b, err := New("secret", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)

		assert.Equal(t, a, b)
		assert.Equal(t, int64(1700000000), a.Timestamp)
	})

	t.Run("signature matches reference HMAC over upload:<ts>", func(t *testing.T) {
		tok, err := New("secret", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)

		mac := hmac.New(sha256.New, []byte("secret"))
		mac.Write([]byte("upload:1700000000"))
		want := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
		assert.Equal(t, want, tok.Signature)
	})

	t.Run("changing the secret changes the signature", func(t *testing.T) {
		a, err := New("secret", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)
		b, err := New("secreu", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)
		assert.NotEqual(t, a.Signature, b.Signature)
	})

	t.Run("changing the timestamp changes the signature", func(t *testing.T) {
		a, err := New("secret", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)
		b, err := New("secret", WithClock(fixedClock(1700000001))).Issue()
		require.NoError(t, err)
		assert.NotEqual(t, a.Signature, b.Signature)
	})

	t.Run("signature is url-safe with no padding", func(t *testing.T) {
		// SHA-256 output is 32 bytes, so standard base64 would end in "=".
		tok, err := New("secret", WithClock(fixedClock(1700000000))).Issue()
		require.NoError(t, err)

		assert.NotContains(t, tok.Signature, "=")
		assert.NotContains(t, tok.Signature, "+")
		assert.NotContains(t, tok.Signature, "/")
		assert.Len(t, strings.TrimRight(tok.Signature, "="), 43)
	})

	t.Run("empty secret fails closed", func(t *testing.T) {
		_, err := New("").Issue()
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeConfiguration))
	})
}
