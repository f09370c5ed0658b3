package domain

import "time"

// StoredItem is a content item as kept by the repository, with its post-processing flags.
type StoredItem struct {
	ContentItem
	Processed bool
	Embedded  bool
	StoredAt  time.Time
}

// Chunk is a slice of an item's body prepared for embedding.
type Chunk struct {
	ID        string
	ContentID string
	Index     int
	Text      string
	Embedding []float32
}

// ItemFilter narrows repository listings. Zero fields do not filter.
type ItemFilter struct {
	SubjectID     string
	Platform      Platform
	OnlyPending   bool
	MinScore      int
	Limit         int
	PublishedFrom *time.Time
}

// RepositoryStats summarizes the stored corpus.
type RepositoryStats struct {
	Total      int
	Processed  int
	Embedded   int
	Chunks     int
	BySubject  map[string]int
	ByPlatform map[Platform]int
}
