// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/autobrr/pickr/internal/models"
)

// IdentifierQuery asks a source for releases of one exact title.
type IdentifierQuery struct {
	ID      string
	Type    models.MediaType
	Season  int
	Episode int
}

// SearchSource finds candidates. Both methods return models.ErrNoResults (or
// an empty slice) when nothing matched.
type SearchSource interface {
	SearchByIdentifier(ctx context.Context, q IdentifierQuery) ([]models.Candidate, error)
	SearchByQuery(ctx context.Context, text string, mediaType models.MediaType) ([]models.Candidate, error)
}

type AvailabilityOracle interface {
	CheckAvailability(ctx context.Context, hashes []string) (map[string]models.Availability, error)
}

type StreamResolver interface {
	Resolve(ctx context.Context, hash, preferredServiceID string) (models.StreamInfo, error)
}

type DownloadSink interface {
	Enqueue(ctx context.Context, stream models.StreamInfo, req models.DownloadRequest) (string, error)
	PollStatus(ctx context.Context, taskID string) (models.ExternalDownloadStatus, error)
}

type PreferenceSource interface {
	Preferences() models.Preferences
}

// StaticPreferences is a PreferenceSource that never changes.
type StaticPreferences models.Preferences

func (p StaticPreferences) Preferences() models.Preferences {
	return models.Preferences(p)
}

// Request is the user's media selection.
type Request struct {
	MediaID   string           `json:"mediaId"`
	Type      models.MediaType `json:"type"`
	Title     string           `json:"title,omitempty"`
	Year      int              `json:"year,omitempty"`
	Season    int              `json:"season,omitempty"`
	Episode   int              `json:"episode,omitempty"`
	EpisodeID string           `json:"episodeId,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.MediaID) == "" && strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("%w: media id or title required", ErrInvalidRequest)
	}
	if r.Season < 0 || r.Episode < 0 {
		return fmt.Errorf("%w: negative season or episode", ErrInvalidRequest)
	}
	return nil
}

// ContextKey identifies the selection. Without an id the title stands in.
func (r Request) ContextKey() models.ContextKey {
	media := strings.TrimSpace(r.MediaID)
	if media == "" {
		media = "title:" + strings.ToLower(strings.TrimSpace(r.Title))
		if r.Year > 0 {
			media = fmt.Sprintf("%s:%d", media, r.Year)
		}
	}
	if !r.Type.IsEpisodic() {
		return models.ContextKey{MediaID: media}
	}
	return models.ContextKey{MediaID: media, Season: r.Season, Episode: r.Episode}
}

func (r Request) identifierQuery() IdentifierQuery {
	return IdentifierQuery{ID: strings.TrimSpace(r.MediaID), Type: r.Type, Season: r.Season, Episode: r.Episode}
}

// FallbackQuery is the free-text query used when the identifier search fails:
// "Title 1999" for movies, "Title S01E02" (or "Title S01") for episodes.
func (r Request) FallbackQuery() string {
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return ""
	}

	if r.Type.IsEpisodic() {
		switch {
		case r.Season > 0 && r.Episode > 0:
			return fmt.Sprintf("%s S%02dE%02d", title, r.Season, r.Episode)
		case r.Season > 0:
			return fmt.Sprintf("%s S%02d", title, r.Season)
		default:
			return title
		}
	}

	if r.Year > 0 {
		return fmt.Sprintf("%s %d", title, r.Year)
	}
	return title
}

func (r Request) downloadRequest() models.DownloadRequest {
	return models.DownloadRequest{
		MediaID:   r.MediaID,
		EpisodeID: r.EpisodeID,
		Title:     r.Title,
		Year:      r.Year,
		Season:    r.Season,
		Episode:   r.Episode,
	}
}
