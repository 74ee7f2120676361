package quota

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	t.Run("pro wins regardless of authenticated flag", func(t *testing.T) {
		assert.Equal(t, TierPro, Resolve(true, true).Tier)
		// Pro implies authenticated in practice, but the resolver must not assume it.
		assert.Equal(t, TierPro, Resolve(false, true).Tier)
	})

	t.Run("authenticated without pro gets user policy", func(t *testing.T) {
		p := Resolve(true, false)
		assert.Equal(t, TierUser, p.Tier)
		assert.Equal(t, int64(15*1024*1024), p.MaxFileSizeBytes)
		assert.Equal(t, 10, p.MaxBulkFiles)
		assert.Equal(t, 30, p.RequestsPerMinute)
	})

	t.Run("everything else is anonymous", func(t *testing.T) {
		p := Resolve(false, false)
		assert.Equal(t, TierAnonymous, p.Tier)
		assert.Equal(t, int64(5*1024*1024), p.MaxFileSizeBytes)
		assert.Equal(t, 5, p.MaxBulkFiles)
		assert.Equal(t, 10, p.RequestsPerMinute)
	})

	t.Run("pro limits match the published plan", func(t *testing.T) {
		p := Resolve(true, true)
		assert.Equal(t, int64(35*1024*1024), p.MaxFileSizeBytes)
		assert.Equal(t, 50, p.MaxBulkFiles)
		assert.Equal(t, 100, p.RequestsPerMinute)
	})
}

func TestAllowsExpiration(t *testing.T) {
	assert.True(t, Resolve(true, true).AllowsExpiration())
	assert.False(t, Resolve(true, false).AllowsExpiration())
	assert.False(t, Resolve(false, false).AllowsExpiration())
}

func TestMaxRequestBytes(t *testing.T) {
	// Must fit the largest legitimate request: a full pro bulk batch.
	p := Resolve(true, true)
	assert.GreaterOrEqual(t, MaxRequestBytes(), p.MaxFileSizeBytes*int64(p.MaxBulkFiles))
}
