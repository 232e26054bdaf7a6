// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// ContextKey identifies what the user has selected: a media item and, for
// episodic media, a season and episode. Movies use zero season and episode.
type ContextKey struct {
	MediaID string `json:"mediaId"`
	Season  int    `json:"season,omitempty"`
	Episode int    `json:"episode,omitempty"`
}

func (k ContextKey) String() string {
	return fmt.Sprintf("%s|s%d|e%d", k.MediaID, k.Season, k.Episode)
}

// Hash is a compact fingerprint of the key for log correlation.
func (k ContextKey) Hash() uint64 {
	return xxhash.Sum64String(k.String())
}

func (k ContextKey) IsZero() bool {
	return k == ContextKey{}
}
