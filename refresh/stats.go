package refresh

import (
	"time"
)

// Stats is the stats bag accumulated across the stages of one refresh run.
type Stats struct {
	StartedAt time.Time

	ContentSize       int
	EntriesTotal      int
	EntriesWithoutUID int
	EntriesNew        int
	EntriesFailed     int

	PostsCreated   int
	PostsRejected  int
	PostsPublished int
	PostsFailed    int

	StageDurations map[string]time.Duration
}

func NewStats() Stats {
	return Stats{
		StageDurations: map[string]time.Duration{},
	}
}

// Metadata flattens the stats bag for event persistence.
func (s *Stats) Metadata() map[string]interface{} {
	durations := make(map[string]string, len(s.StageDurations))
	for name, duration := range s.StageDurations {
		durations[name] = duration.String()
	}

	return map[string]interface{}{
		"started_at":          s.StartedAt,
		"content_size":        s.ContentSize,
		"entries_total":       s.EntriesTotal,
		"entries_without_uid": s.EntriesWithoutUID,
		"entries_new":         s.EntriesNew,
		"entries_failed":      s.EntriesFailed,
		"posts_created":       s.PostsCreated,
		"posts_rejected":      s.PostsRejected,
		"posts_published":     s.PostsPublished,
		"posts_failed":        s.PostsFailed,
		"stage_durations":     durations,
	}
}
