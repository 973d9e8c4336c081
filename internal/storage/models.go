package storage

import "time"

// Entity represents a streaming account in the follow graph
type Entity struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	BroadcasterType string    `json:"broadcaster_type"`
	Description     string    `json:"description"`
	Language        string    `json:"lang"`
	LastGame        string    `json:"last_game_played_name"`
	ViewCount       int64     `json:"view_count"`
	FollowerCount   *int64    `json:"num_followers"`
	ProfileImageURL string    `json:"profile_image_url"`
	CreatedAt       time.Time `json:"created_at"`

	// Follows is nil until the outbound follows have been fetched.
	// An empty non-nil slice means the entity follows nothing.
	Follows []string `json:"user_follows"`
}

// Same reports whether both records describe the same entity.
// Identity is the identifier alone.
func (e Entity) Same(other Entity) bool {
	return e.ID == other.ID
}

// FollowsFetched reports whether the outbound follows have been retrieved
func (e Entity) FollowsFetched() bool {
	return e.Follows != nil
}

// Clone returns a copy that shares no slices or pointers with e
func (e Entity) Clone() Entity {
	c := e
	if e.Follows != nil {
		c.Follows = append(make([]string, 0, len(e.Follows)), e.Follows...)
	}
	if e.FollowerCount != nil {
		n := *e.FollowerCount
		c.FollowerCount = &n
	}
	return c
}

// MetricScore is one entry of a persisted metric ranking
type MetricScore struct {
	EntityID string  `json:"id"`
	Score    float64 `json:"score"`
}

// Run kinds
const (
	RunCrawl     = "crawl"
	RunFollows   = "follows"
	RunFollowers = "followers"
)

// CrawlRun records one crawl or follow-up pass for export on exit
type CrawlRun struct {
	RunID             string    `json:"run_id"`
	Kind              string    `json:"kind"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Iterations        int       `json:"iterations"`
	CorpusSize        int       `json:"corpus_size"`
	TerminationReason string    `json:"termination_reason"`
}

// Metrics tracks crawl statistics for export on exit
type Metrics struct {
	RunID              string    `json:"run_id"`
	StartTime          time.Time `json:"start_time"`
	EndTime            time.Time `json:"end_time"`
	EntitiesDiscovered int       `json:"entities_discovered"`
	EntitiesExpanded   int       `json:"entities_expanded"`
	ExpansionsFailed   int       `json:"expansions_failed"`
	EdgesFetched       int       `json:"edges_fetched"`
	Checkpoints        int       `json:"checkpoints"`
	TotalFetchTimeMs   int64     `json:"total_fetch_time_ms"`
	AvgFetchTimeMs     int64     `json:"avg_fetch_time_ms"`
	TerminationReason  string    `json:"termination_reason"`
}
