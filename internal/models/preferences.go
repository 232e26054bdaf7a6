// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"strings"
)

// HDRPreference is either "auto" or an explicit HDR format name.
type HDRPreference string

const HDRPreferenceAuto HDRPreference = "auto"

// Format returns the explicit HDR format, or false for auto and unparseable values.
func (p HDRPreference) Format() (HDR, bool) {
	value := strings.ToLower(strings.TrimSpace(string(p)))
	if value == "" || value == string(HDRPreferenceAuto) {
		return HDRNone, false
	}
	hdr, err := ParseHDR(value)
	if err != nil {
		return HDRNone, false
	}
	return hdr, true
}

// Preferences are the user choices that influence ranking and fallback ordering.
type Preferences struct {
	PreferredQuality Quality       `json:"preferredQuality"`
	PreferCached     bool          `json:"preferCached"`
	PreferAtmos      bool          `json:"preferAtmos"`
	HDRPreference    HDRPreference `json:"hdrPreference"`
}

// DefaultPreferences are used when no preference source is configured.
func DefaultPreferences() Preferences {
	return Preferences{
		PreferredQuality: QualityUnknown,
		PreferCached:     true,
		HDRPreference:    HDRPreferenceAuto,
	}
}
