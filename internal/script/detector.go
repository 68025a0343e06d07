// Package script decides whether a cell value carries target-language text.
package script

import (
	"regexp"
	"strings"
	"unicode"
)

// TokenPrefix marks a placeholder cell resolved later through the token store.
const TokenPrefix = "_rsv_"

var hexTag = regexp.MustCompile(`<hex:[^>]+>`)

// Detector reports whether a text value contains target-language script.
type Detector interface {
	HasTarget(text string) bool
	Name() string
}

// New returns the detector for a pipeline variant ("localized" or "global").
func New(variant string) Detector {
	if variant == "global" {
		return NewGlobal()
	}
	return NewKorean()
}

type korean struct{}

// NewKorean detects Hangul syllables. Token placeholders count as Korean
// because they resolve to Korean text.
func NewKorean() Detector {
	return korean{}
}

func (korean) Name() string { return "korean" }

func (korean) HasTarget(text string) bool {
	if text == "" {
		return false
	}
	if strings.HasPrefix(text, TokenPrefix) {
		return true
	}
	return HasHangul(text)
}

type global struct{}

// NewGlobal detects Japanese or Latin text that is neither Korean nor a
// technical value.
func NewGlobal() Detector {
	return global{}
}

func (global) Name() string { return "global" }

func (global) HasTarget(text string) bool {
	if text == "" {
		return false
	}

	clean := StripHexTags(text)
	if HasHangul(clean) || IsTechnical(clean) {
		return false
	}

	for _, r := range clean {
		switch {
		case r >= 0x3040 && r <= 0x30FF, r >= 0x4E00 && r <= 0x9FAF:
			return true
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			return true
		}
	}
	return false
}

// HasHangul reports whether text contains a precomposed Hangul syllable.
func HasHangul(text string) bool {
	for _, r := range text {
		if r >= 0xAC00 && r <= 0xD7AF {
			return true
		}
	}
	return false
}

// IsTechnical reports whether text is a do-not-translate value: empty after
// trimming, a boolean literal or a bit-flag expression.
func IsTechnical(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case lower == "":
		return true
	case lower == "true", lower == "false":
		return true
	case strings.HasPrefix(lower, "bit&"):
		return true
	}
	return false
}

// StripHexTags removes embedded <hex:...> escape tags.
func StripHexTags(text string) string {
	if !strings.Contains(text, "<hex:") {
		return text
	}
	return hexTag.ReplaceAllString(text, "")
}
