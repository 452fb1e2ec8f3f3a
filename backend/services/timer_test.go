package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRemainingAfter(t *testing.T) {
	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, 540, remainingAfter(600, base, base.Add(time.Minute)))
	assert.Equal(t, 600, remainingAfter(600, base, base))
	assert.Equal(t, 0, remainingAfter(600, base, base.Add(time.Hour)))

	// a clock that appears to run backwards elapses nothing
	assert.Equal(t, 600, remainingAfter(600, base, base.Add(-time.Minute)))
}

func TestReconcileRemaining(t *testing.T) {
	// client reporting less time than the server shrinks the countdown
	assert.Equal(t, 100, reconcileRemaining(300, 100))

	// client can never extend the countdown
	assert.Equal(t, 300, reconcileRemaining(300, 900))

	// negative means the client did not report
	assert.Equal(t, 300, reconcileRemaining(300, -1))

	assert.Equal(t, 0, reconcileRemaining(0, 50))
}
