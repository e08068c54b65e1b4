// Package playback schedules synthesised model audio for gapless, in-order
// playback on an output clock and supports hard interruption.
//
// The [Scheduler] keeps a playback cursor (the earliest time the next buffer
// may start) and an arena of active buffers keyed by monotonically increasing
// ids. Buffers leave the arena when the [OutputDevice] reports that they ended
// naturally or when the scheduler is interrupted. Both removals go through the
// scheduler's single lock.
//
// [Renderer] is a software [OutputDevice]: it mixes scheduled buffers on a
// real-time sample clock and streams the result as PCM16 to an [io.Writer]
// such as an ffplay process.
package playback

import "time"

// Voice is a buffer handed to an [OutputDevice] for playback.
type Voice interface {
	// Stop silences the voice immediately. The device must not invoke the
	// voice's end callback after Stop returns. Stop is idempotent.
	Stop()
}

// OutputDevice is an audio output context with its own clock.
//
// Implementations must be safe for concurrent use and must never invoke an
// end callback while holding a lock that Play or Stop acquires.
type OutputDevice interface {
	// Now returns the current output-clock time.
	Now() time.Duration

	// Play schedules mono samples to start at the given output-clock time.
	// A start time in the past plays immediately. onEnded is called once,
	// from a device goroutine, after the last sample has played.
	Play(samples []int16, at time.Duration, onEnded func()) (Voice, error)

	// Close stops all voices and releases the device. Idempotent.
	Close() error
}
