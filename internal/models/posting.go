package models

import (
	"encoding/json"
	"time"
)

// Source enumerates the origin systems postings are harvested from.
type Source string

const (
	SourceStackOverflow Source = "stackoverflow"
	SourceYCombinator   Source = "ycombinator"
	SourceWellfound     Source = "wellfound"
	SourceMonster       Source = "monster"
	SourceLinkedIn      Source = "linkedin"
)

// Sources lists every accepted source in a stable order.
var Sources = []Source{
	SourceStackOverflow,
	SourceYCombinator,
	SourceWellfound,
	SourceMonster,
	SourceLinkedIn,
}

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

// DefaultLocation is stored when a posting carries no location.
const DefaultLocation = "Not specified"

// JobPosting is one observed posting, unique by JobURL.
type JobPosting struct {
	ID        string          `json:"id"`
	Company   string          `json:"company"`
	Title     string          `json:"title"`
	Location  string          `json:"location"`
	Source    Source          `json:"source"`
	Skills    []string        `json:"skills"`
	JobURL    string          `json:"job_url"`
	Salary    *string         `json:"salary"`
	Equity    *string         `json:"equity"`
	JobType   *string         `json:"job_type"`
	Remote    *bool           `json:"remote"`
	ScrapedAt time.Time       `json:"scraped_at"`
	RawData   json.RawMessage `json:"raw_data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SourceStats summarises the postings of one source.
type SourceStats struct {
	Count        int64     `json:"count"`
	LatestScrape time.Time `json:"latestScrape"`
}

// Stats is the aggregate view returned by the stats query.
type Stats struct {
	Total    int64                  `json:"total"`
	BySource map[Source]SourceStats `json:"bySource"`
}
