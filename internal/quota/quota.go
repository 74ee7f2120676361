// Package quota maps caller identity attributes to upload policies.
//
// This is the single source of tier derivation: every entry point resolves
// its policy here instead of checking isPro/isLoggedIn flags ad hoc.
package quota

// Tier identifies one of the three canonical quota tiers.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierUser      Tier = "user"
	TierPro       Tier = "pro"
)

// Policy is an immutable per-tier upload policy. The three canonical values
// below are the only policies that exist; they are never persisted.
type Policy struct {
	Tier              Tier
	MaxFileSizeBytes  int64
	MaxBulkFiles      int
	RequestsPerMinute int
}

var (
	anonymousPolicy = Policy{
		Tier:              TierAnonymous,
		MaxFileSizeBytes:  5 * 1024 * 1024,
		MaxBulkFiles:      5,
		RequestsPerMinute: 10,
	}
	userPolicy = Policy{
		Tier:              TierUser,
		MaxFileSizeBytes:  15 * 1024 * 1024,
		MaxBulkFiles:      10,
		RequestsPerMinute: 30,
	}
	proPolicy = Policy{
		Tier:              TierPro,
		MaxFileSizeBytes:  35 * 1024 * 1024,
		MaxBulkFiles:      50,
		RequestsPerMinute: 100,
	}
)

// Resolve returns the policy for a caller. Precedence is pro > authenticated >
// anonymous; pro implies authenticated in practice, but Resolve does not
// assume it. Total function, no error conditions.
func Resolve(isAuthenticated, isPro bool) Policy {
	switch {
	case isPro:
		return proPolicy
	case isAuthenticated:
		return userPolicy
	default:
		return anonymousPolicy
	}
}

// AllowsExpiration reports whether the policy's tier may request custom
// expiration. Only pro uploads carry an expiration; any other tier supplying
// one is a policy violation, not silently ignored.
func (p Policy) AllowsExpiration() bool {
	return p.Tier == TierPro
}

// MaxRequestBytes returns the largest request body any tier can legitimately
// send: the pro batch limit plus headroom for multipart framing. Used to size
// the transport-level body limit.
func MaxRequestBytes() int64 {
	const multipartOverhead = 1 << 20
	return proPolicy.MaxFileSizeBytes*int64(proPolicy.MaxBulkFiles) + multipartOverhead
}
