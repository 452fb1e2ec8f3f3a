package services

import (
	"encoding/json"
	"time"

	"academix_backend/backend/models"
)

// TabSwitchFlagThreshold is the tab-switch count at which a proctored session
// is flagged for faculty review. Flagging never blocks the student.
const TabSwitchFlagThreshold = 3

var validIntegrityKinds = map[string]bool{
	models.IntegrityTabSwitch:  true,
	models.IntegrityCopy:       true,
	models.IntegrityDevtools:   true,
	models.IntegrityRightClick: true,
	models.IntegrityForcedExit: true,
}

// appendWarnings records a batch of integrity events on the session. Events
// with unknown kinds are dropped; the rest are appended in order.
func appendWarnings(sess *models.TestSession, events []models.IntegrityEvent, now time.Time, proctoring bool) error {
	if len(events) == 0 {
		return nil
	}

	existing, err := SessionWarnings(sess)
	if err != nil {
		return err
	}

	for _, ev := range events {
		if !validIntegrityKinds[ev.Kind] {
			continue
		}
		if ev.At.IsZero() {
			ev.At = now
		}
		existing = append(existing, ev)
		if ev.Kind == models.IntegrityTabSwitch {
			sess.TabSwitchCount++
		}
	}

	if proctoring && sess.TabSwitchCount >= TabSwitchFlagThreshold {
		sess.FlaggedForReview = true
	}

	raw, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	sess.Warnings = raw
	return nil
}

// SessionWarnings decodes the ordered warning list stored on a session.
func SessionWarnings(sess *models.TestSession) ([]models.IntegrityEvent, error) {
	if len(sess.Warnings) == 0 {
		return nil, nil
	}
	var events []models.IntegrityEvent
	if err := json.Unmarshal(sess.Warnings, &events); err != nil {
		return nil, err
	}
	return events, nil
}
