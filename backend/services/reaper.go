package services

import (
	"log"
	"time"

	"academix_backend/backend/models"
)

// Reaper sweeps open sessions in the background. Clients that stopped
// heartbeating are marked disconnected; sessions whose time or resume window
// has fully elapsed are auto-submitted with whatever answers were persisted.
// A session is never left open forever.
type Reaper struct {
	svc              *SessionService
	store            SessionStore
	interval         time.Duration
	heartbeatTimeout time.Duration
	logger           *log.Logger
	stop             chan struct{}
}

func NewReaper(svc *SessionService, store SessionStore, interval, heartbeatTimeout time.Duration, logger *log.Logger) *Reaper {
	return &Reaper{
		svc:              svc,
		store:            store,
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger,
		stop:             make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.loop()
}

func (r *Reaper) Stop() {
	close(r.stop)
}

func (r *Reaper) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

// Sweep runs one pass over every non-terminal session.
func (r *Reaper) Sweep() {
	sessions, err := r.store.OpenSessions()
	if err != nil {
		r.logger.Printf("reaper: listing open sessions failed: %v", err)
		return
	}

	now := r.svc.now()
	for i := range sessions {
		sess := sessions[i]
		test, err := r.store.TestByID(sess.TestID)
		if err != nil || test == nil {
			continue
		}

		switch sess.Status {
		case models.SessionStarted, models.SessionInProgress:
			if remainingAfter(sess.TimeRemaining, sess.LastSeenAt, now) == 0 {
				if _, err := r.svc.AutoSubmit(sess.ID, models.EndReasonTimeout); err != nil {
					r.logger.Printf("reaper: auto-submit of %s failed: %v", sess.ID, err)
				}
			} else if now.Sub(sess.LastSeenAt) >= r.heartbeatTimeout {
				if err := r.svc.RecordDisconnect(sess.ID); err != nil {
					r.logger.Printf("reaper: disconnect of %s failed: %v", sess.ID, err)
				}
			}

		case models.SessionDisconnected:
			if sess.CanResume {
				// Faculty override holds the session open until they act.
				continue
			}
			window := time.Duration(0)
			if test.Policy.AllowResume {
				window = time.Duration(test.Policy.ResumeTimeLimitMinutes) * time.Minute
			}
			if sess.SessionTerminatedAt != nil && now.Sub(*sess.SessionTerminatedAt) > window {
				if _, err := r.svc.AutoSubmit(sess.ID, models.EndReasonResumeExpired); err != nil {
					r.logger.Printf("reaper: auto-submit of expired %s failed: %v", sess.ID, err)
				}
			}
		}
	}
}
