package listener

import "time"

// Backoff maps a worker's consecutive-failure count to a sleep duration.
// The delay grows linearly with the failure count and is clamped to Max.
type Backoff struct {
	// Base is the per-failure increment. Defaults to the empty-poll sleep,
	// so the first failure sleeps as long as an empty queue would.
	Base time.Duration

	// Max is the hard ceiling on the computed delay.
	Max time.Duration
}

// Next returns the sleep duration for the given consecutive-failure count.
// A count of zero or less yields no delay.
func (b Backoff) Next(consecutiveFailures int) time.Duration {
	if consecutiveFailures <= 0 {
		return 0
	}

	delay := b.Base * time.Duration(consecutiveFailures)
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
