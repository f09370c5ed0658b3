package domain

import "time"

// Subject is the public figure whose content is ingested.
type Subject struct {
	ID              string
	Name            string
	OfficialDomains []string
	// Accounts maps account-bound platforms to the identifiers the subject owns there.
	Accounts map[Platform][]string
	Sources  []SourceEndpoint
}

// EndpointsFor returns the configured endpoints of one platform.
func (s Subject) EndpointsFor(p Platform) []SourceEndpoint {
	var out []SourceEndpoint
	for _, ep := range s.Sources {
		if ep.Platform == p {
			out = append(out, ep)
		}
	}
	return out
}

// Platforms lists the platforms that have at least one endpoint, in AllPlatforms order.
func (s Subject) Platforms() []Platform {
	var out []Platform
	for _, p := range AllPlatforms {
		if len(s.EndpointsFor(p)) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// SourceEndpoint is one upstream location (blog index, feed URL) for a subject.
type SourceEndpoint struct {
	Platform Platform
	Name     string
	URL      string
	Options  map[string]string
}

// SourceState is the ingestion cursor of a (subject, platform) pair.
type SourceState struct {
	SubjectID     string    `json:"subject_id"`
	Platform      Platform  `json:"platform"`
	LastItemID    string    `json:"last_item_id,omitempty"`
	LastFetchedAt time.Time `json:"last_fetched_at"`
	// ItemsSeen keeps ingested ids in insertion order.
	ItemsSeen []string `json:"items_seen"`
}
