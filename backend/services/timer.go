package services

import "time"

// The server owns the countdown. Remaining time is decremented by wall-clock
// elapsed time since the session was last seen, never by a client-reported
// delta, so a tampered client clock cannot extend a session.

func remainingAfter(remaining int, lastSeen, now time.Time) int {
	elapsed := int(now.Sub(lastSeen) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining -= elapsed
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// reconcileRemaining keeps the smaller of the server-computed and
// client-reported values. A negative client value means "not reported".
func reconcileRemaining(server, client int) int {
	if client < 0 || client >= server {
		return server
	}
	return client
}
