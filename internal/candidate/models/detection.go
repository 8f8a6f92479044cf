package models

// DetectionOutcome tags how a single detector or probe resolved. Consumers
// switch exhaustively on the outcome instead of truthiness-checking values.
type DetectionOutcome string

const (
	OutcomeConfirmed   DetectionOutcome = "confirmed"
	OutcomeUnknown     DetectionOutcome = "unknown"
	OutcomeRateLimited DetectionOutcome = "rate_limited"
)

// Detection is the tagged result of one detector: either a confirmed value,
// an absence of signal, or a rate-limit answer. Absence never aborts sibling
// detectors.
type Detection[T any] struct {
	Outcome DetectionOutcome
	Value   T
}

// Detected wraps a positively confirmed value.
func Detected[T any](value T) Detection[T] {
	return Detection[T]{Outcome: OutcomeConfirmed, Value: value}
}

// NoSignal marks a detector that found nothing usable.
func NoSignal[T any]() Detection[T] {
	return Detection[T]{Outcome: OutcomeUnknown}
}

// RateLimited marks a detector whose upstream answered with a 429-class
// response. Rate limits are not negative evidence about the candidate.
func RateLimited[T any]() Detection[T] {
	return Detection[T]{Outcome: OutcomeRateLimited}
}

// Confirmed reports whether the detection carries a positive value.
func (d Detection[T]) Confirmed() bool {
	return d.Outcome == OutcomeConfirmed
}
