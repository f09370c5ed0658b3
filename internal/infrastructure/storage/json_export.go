package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

type exportedItem struct {
	ID           string         `json:"id"`
	SubjectID    string         `json:"subject_id"`
	Platform     string         `json:"platform"`
	ContentType  string         `json:"content_type"`
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	URL          string         `json:"url"`
	Author       string         `json:"author,omitempty"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	FetchedAt    time.Time      `json:"fetched_at"`
	Authenticity int            `json:"authenticity_score"`
	Signals      map[string]int `json:"authenticity_signals,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Processed    bool           `json:"processed"`
	Embedded     bool           `json:"embedded"`
}

// ExportJSON writes the items matching filter as an indented JSON array and returns how many were written.
func ExportJSON(ctx context.Context, repo ports.ContentRepository, filter domain.ItemFilter, w io.Writer) (int, error) {
	items, err := repo.ListItems(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("list items: %w", err)
	}

	out := make([]exportedItem, 0, len(items))
	for _, item := range items {
		e := exportedItem{
			ID:           item.ID,
			SubjectID:    item.SubjectID,
			Platform:     string(item.Platform),
			ContentType:  string(item.ContentType),
			Title:        item.Title,
			Body:         item.Body,
			URL:          item.URL,
			Author:       item.Author,
			PublishedAt:  item.PublishedAt,
			FetchedAt:    item.FetchedAt,
			Authenticity: item.Score(),
			Metadata:     item.RawMetadata,
			Processed:    item.Processed,
			Embedded:     item.Embedded,
		}
		if item.Authenticity != nil {
			e.Signals = item.Authenticity.Signals
		}
		out = append(out, e)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return 0, fmt.Errorf("encode export: %w", err)
	}
	return len(out), nil
}
