package models

import (
	"time"

	"github.com/ternarybob/colligo/internal/common"
)

// CollectionSchedule is a recurring daily collection trigger. The runner
// enqueues a collection job when the schedule's target hour matches the
// current hour in the reporting timezone and no same-day completed job
// already exists for the target.
type CollectionSchedule struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	TargetURL      string    `json:"target_url"`
	Hour           int       `json:"hour"` // 0-23, in the reporting timezone
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Active         bool      `json:"active"`
	IncludeProfile bool      `json:"include_profile"`
	IncludePosts   bool      `json:"include_posts"`
	IncludeReels   bool      `json:"include_reels"`
	Priority       int       `json:"priority"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewCollectionSchedule creates an active schedule for a username
func NewCollectionSchedule(username, targetURL string, hour int, startDate, endDate time.Time) *CollectionSchedule {
	return &CollectionSchedule{
		ID:             common.NewScheduleID(),
		Username:       username,
		TargetURL:      targetURL,
		Hour:           hour,
		StartDate:      startDate,
		EndDate:        endDate,
		Active:         true,
		IncludeProfile: true,
		IncludePosts:   true,
		IncludeReels:   true,
		CreatedAt:      time.Now(),
	}
}

// CoversDay reports whether the schedule's date range includes the given day.
// Both bounds are inclusive and compared at day precision in day's location.
func (s *CollectionSchedule) CoversDay(day time.Time) bool {
	loc := day.Location()
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	start := time.Date(s.StartDate.Year(), s.StartDate.Month(), s.StartDate.Day(), 0, 0, 0, 0, loc)
	end := time.Date(s.EndDate.Year(), s.EndDate.Month(), s.EndDate.Day(), 0, 0, 0, 0, loc)
	return !d.Before(start) && !d.After(end)
}
