package models

// PlatformStatus categorizes how likely a candidate is to be a real Shopify
// storefront, derived from the weighted verification score.
type PlatformStatus string

const (
	// PlatformUnset: verification has never run for this candidate.
	PlatformUnset PlatformStatus = ""
	// PlatformUnverified: verification ran and no signal fired (score 0).
	PlatformUnverified PlatformStatus = "unverified"
	// PlatformUnlikely: weak evidence only (score in (0, 0.4)).
	PlatformUnlikely PlatformStatus = "unlikely"
	// PlatformProbable: moderate evidence (score in [0.4, 0.6)).
	PlatformProbable PlatformStatus = "probable"
	// PlatformConfirmed: strong evidence (score >= 0.6).
	PlatformConfirmed PlatformStatus = "confirmed"
)

// IsValid checks if the platform status is one of the supported enum values.
func (s PlatformStatus) IsValid() bool {
	switch s {
	case PlatformUnset, PlatformUnverified, PlatformUnlikely, PlatformProbable, PlatformConfirmed:
		return true
	}
	return false
}

// StatusForConfidence maps an aggregate confidence score to its categorical
// platform status. Thresholds: >=0.6 confirmed, [0.4,0.6) probable,
// (0,0.4) unlikely, 0 unverified.
func StatusForConfidence(confidence float64) PlatformStatus {
	switch {
	case confidence >= 0.6:
		return PlatformConfirmed
	case confidence >= 0.4:
		return PlatformProbable
	case confidence > 0:
		return PlatformUnlikely
	default:
		return PlatformUnverified
	}
}

// LifecycleStatus is the authoritative operational state of a candidate,
// written by the strict overlay and health checks under the precedence rules
// in the health service.
type LifecycleStatus string

const (
	LifecyclePending           LifecycleStatus = "pending"
	LifecycleActive            LifecycleStatus = "active"
	LifecyclePossiblyInactive  LifecycleStatus = "possibly_inactive"
	LifecycleInactivePlatform  LifecycleStatus = "inactive_platform"
	LifecycleNonexistent       LifecycleStatus = "nonexistent"
	LifecycleDead              LifecycleStatus = "dead"
	LifecyclePasswordProtected LifecycleStatus = "password_protected"
	LifecycleRateLimited       LifecycleStatus = "rate_limited"
	LifecycleBlocked           LifecycleStatus = "blocked"
)

// IsValid checks if the lifecycle status is one of the supported enum values.
func (s LifecycleStatus) IsValid() bool {
	switch s {
	case LifecyclePending, LifecycleActive, LifecyclePossiblyInactive,
		LifecycleInactivePlatform, LifecycleNonexistent, LifecycleDead,
		LifecyclePasswordProtected, LifecycleRateLimited, LifecycleBlocked:
		return true
	}
	return false
}

// String returns the string representation.
func (s LifecycleStatus) String() string {
	return string(s)
}

// IsTerminalNegative reports whether the status is a negative state that
// automated re-evaluation may not silently flip back to a positive one.
func (s LifecycleStatus) IsTerminalNegative() bool {
	switch s {
	case LifecycleInactivePlatform, LifecycleDead, LifecycleBlocked, LifecycleNonexistent:
		return true
	}
	return false
}

// Schedulable reports whether the candidate may be picked up for another
// automated pass. Nonexistent is permanently out of rotation.
func (s LifecycleStatus) Schedulable() bool {
	return s != LifecycleNonexistent
}

// CanTransition encodes the lifecycle transition table. strictConfirmed is
// true only when the strict overlay has independently re-confirmed health in
// the same evaluation; it is the sole path from a terminal negative back to
// active.
func CanTransition(from, to LifecycleStatus, strictConfirmed bool) bool {
	if from == to {
		return true
	}

	// Nonexistent is terminal forever: the resource is gone, re-probing the
	// same identity cannot resurrect it.
	if from == LifecycleNonexistent {
		return false
	}

	if from.IsTerminalNegative() {
		// Demotions between negatives are allowed (dead -> blocked etc.);
		// promotion to a positive state needs strict re-confirmation.
		if to == LifecycleActive || to == LifecyclePossiblyInactive {
			return strictConfirmed
		}
		return true
	}

	return true
}

// QuantityStatus tags how the product-count metric was obtained. The store
// keeps truth-or-unknown; it never fabricates a nonzero default.
type QuantityStatus string

const (
	// QuantityUnset: no quantity probe has run yet.
	QuantityUnset QuantityStatus = ""
	// QuantityConfirmed: the count endpoint answered; the metric is the true
	// count, including a legitimate zero.
	QuantityConfirmed QuantityStatus = "confirmed"
	// QuantityUnknown: the probe failed for a non-rate-limit reason.
	QuantityUnknown QuantityStatus = "unknown"
	// QuantityRateLimited: the count endpoint returned a 429-class answer.
	QuantityRateLimited QuantityStatus = "rate_limited"
)

// IsValid checks if the quantity status is one of the supported enum values.
func (s QuantityStatus) IsValid() bool {
	switch s {
	case QuantityUnset, QuantityConfirmed, QuantityUnknown, QuantityRateLimited:
		return true
	}
	return false
}
