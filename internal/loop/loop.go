// Package loop defines the execution contract the core runs under.
//
// All waiting-pool and rate-limiter state is mutated from a single goroutine.
// Anything that blocks (Directory calls) runs elsewhere via Await and resumes on
// the loop; delayed work (match timeouts, unblocks) is scheduled with AfterFunc and
// also runs on the loop. Between an Await and its resume, any number of other
// events may be processed.
package loop

import "time"

// Timer is a scheduled callback. Stop is best-effort: a callback that was already
// handed to the loop still runs, so callbacks must re-check state before acting.
type Timer interface {
	Stop() bool
}

// Loop serializes core state changes
type Loop interface {
	// Now returns the loop's current time
	Now() time.Time

	// AfterFunc runs fn on the loop once d has elapsed
	AfterFunc(d time.Duration, fn func()) Timer

	// Await runs work off the loop, then runs resume on the loop
	Await(work func(), resume func())
}
