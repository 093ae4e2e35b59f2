package memory

// Config holds the trust policy and query classification tunables.
// The decay/boost shapes are fixed (multiplicative decay, convex boost);
// the constants are policy choices and deliberately configurable.
type Config struct {
	// DecayFactor multiplies trust on each flag, in (0,1).
	// Default: 0.1
	DecayFactor float64

	// TrustFloor is the minimum trust reachable by decay. A small
	// residual (rather than 0) keeps repeated flags distinguishable
	// from a single flag in the audit history.
	// Default: 0.02
	TrustFloor float64

	// BoostFraction moves trust toward 1.0 on each approve, in (0,1):
	// trust' = trust + BoostFraction*(1-trust). A single approve cannot
	// fully erase a long flag history in one step.
	// Default: 0.4
	BoostFraction float64

	// SuppressionThreshold excludes a memory from results entirely when
	// its trust falls below it.
	// Default: 0.2
	SuppressionThreshold float64

	// LowConfidenceThreshold marks a returned result as low-confidence
	// when relevance*trust falls below it.
	// Default: 0.3
	LowConfidenceThreshold float64

	// DefaultTrust is the trust assigned to memories ingested without
	// an explicit initial trust, and assumed for memories that have
	// never received feedback.
	// Default: 1.0
	DefaultTrust float64
}

// DefaultConfig holds the default trust policy.
var DefaultConfig = &Config{
	DecayFactor:            0.1,
	TrustFloor:             0.02,
	BoostFraction:          0.4,
	SuppressionThreshold:   0.2,
	LowConfidenceThreshold: 0.3,
	DefaultTrust:           1.0,
}

// clamp bounds a trust weight to [0,1]. Every trust update is clamped.
func clamp(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}
