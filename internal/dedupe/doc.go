// Package dedupe throttles repeated notifications with a time-based cache.
//
// The gateway uses it to send at most one Warning per robot and reason within
// a window, even though the safety monitor re-derives the same decision every
// evaluation cycle.
package dedupe
