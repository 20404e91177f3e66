package domain

import "errors"

var (
	// ErrSubscriptionFailed is returned when subscription to events fails
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrTokenNotFound is returned when a token referenced by an event is not indexed
	ErrTokenNotFound = errors.New("token not found")

	// ErrMarketNotFound is returned when a market id has no token mapped to it
	ErrMarketNotFound = errors.New("market not found")

	// ErrInterestIndexNotFound is returned when a market has no interest index
	ErrInterestIndexNotFound = errors.New("interest index not found")

	// ErrTotalParNotFound is returned when a market has no total par row
	ErrTotalParNotFound = errors.New("total par not found")

	// ErrProtocolNotInitialized is returned when the protocol singleton is missing
	ErrProtocolNotInitialized = errors.New("protocol not initialized")

	// ErrPairNotFound is returned when an AMM event is emitted by an unknown pair
	ErrPairNotFound = errors.New("amm pair not found")

	// ErrUnknownEventKind is returned when no handler exists for an event kind
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrInvalidEventParams is returned when an event's params cannot be decoded
	ErrInvalidEventParams = errors.New("invalid event params")
)

// IsMissingReference reports whether err means an entity the event ordering guarantees was absent
func IsMissingReference(err error) bool {
	return errors.Is(err, ErrTokenNotFound) ||
		errors.Is(err, ErrMarketNotFound) ||
		errors.Is(err, ErrInterestIndexNotFound) ||
		errors.Is(err, ErrTotalParNotFound) ||
		errors.Is(err, ErrProtocolNotInitialized) ||
		errors.Is(err, ErrPairNotFound)
}
