package services

import (
	"testing"
	"time"

	"academix_backend/backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendWarningsKeepsOrderAndDropsUnknownKinds(t *testing.T) {
	sess := &models.TestSession{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	events := []models.IntegrityEvent{
		{Kind: models.IntegrityTabSwitch, At: now},
		{Kind: "telepathy"},
		{Kind: models.IntegrityCopy, At: now.Add(time.Second)},
	}
	require.NoError(t, appendWarnings(sess, events, now, false))

	recorded, err := SessionWarnings(sess)
	require.NoError(t, err)
	require.Len(t, recorded, 2)
	assert.Equal(t, models.IntegrityTabSwitch, recorded[0].Kind)
	assert.Equal(t, models.IntegrityCopy, recorded[1].Kind)
	assert.Equal(t, 1, sess.TabSwitchCount)
}

func TestAppendWarningsStampsMissingTimes(t *testing.T) {
	sess := &models.TestSession{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	require.NoError(t, appendWarnings(sess, []models.IntegrityEvent{{Kind: models.IntegrityRightClick}}, now, false))

	recorded, err := SessionWarnings(sess)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.True(t, recorded[0].At.Equal(now))
}

func TestAppendWarningsFlagsProctoredSessionAtThreshold(t *testing.T) {
	sess := &models.TestSession{}
	now := time.Now()

	var events []models.IntegrityEvent
	for i := 0; i < TabSwitchFlagThreshold; i++ {
		events = append(events, models.IntegrityEvent{Kind: models.IntegrityTabSwitch, At: now})
	}

	require.NoError(t, appendWarnings(sess, events, now, true))
	assert.Equal(t, TabSwitchFlagThreshold, sess.TabSwitchCount)
	assert.True(t, sess.FlaggedForReview)
}

func TestAppendWarningsNoFlagWithoutProctoring(t *testing.T) {
	sess := &models.TestSession{}
	now := time.Now()

	var events []models.IntegrityEvent
	for i := 0; i < TabSwitchFlagThreshold+2; i++ {
		events = append(events, models.IntegrityEvent{Kind: models.IntegrityTabSwitch, At: now})
	}

	require.NoError(t, appendWarnings(sess, events, now, false))
	assert.False(t, sess.FlaggedForReview)
}

func TestAppendWarningsAccumulatesAcrossBatches(t *testing.T) {
	sess := &models.TestSession{}
	now := time.Now()

	require.NoError(t, appendWarnings(sess, []models.IntegrityEvent{{Kind: models.IntegrityTabSwitch, At: now}}, now, true))
	require.NoError(t, appendWarnings(sess, []models.IntegrityEvent{{Kind: models.IntegrityDevtools, At: now}}, now, true))

	recorded, err := SessionWarnings(sess)
	require.NoError(t, err)
	assert.Len(t, recorded, 2)
}
