// Package naming derives stable identifiers and filesystem-safe names from
// arbitrary user text.
package naming

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultSourceID namespaces single-account archives.
	DefaultSourceID = "default"
	// NoProject is the sentinel project id for ungrouped conversations.
	NoProject = "no_project"
	// MaxFolderTitle caps the title portion of a conversation folder name.
	MaxFolderTitle = 80
)

var (
	invalidChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
	whitespaceRun = regexp.MustCompile(`\s+`)
	sourceIDRun   = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)
)

// NormalizeSourceID sanitizes a source/account id for safe use in paths and
// composite keys. Empty input falls back to DefaultSourceID.
func NormalizeSourceID(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return DefaultSourceID
	}
	value = sourceIDRun.ReplaceAllString(value, "-")
	value = strings.Trim(value, "-_.")
	value = strings.ToLower(value)
	if value == "" {
		return DefaultSourceID
	}
	return value
}

// SafeName converts an arbitrary title into a safe folder name, truncating
// rune-wise beyond maxLength.
func SafeName(name string, maxLength int) string {
	if name == "" {
		name = "Untitled"
	}
	cleaned := invalidChars.ReplaceAllString(name, "_")
	cleaned = whitespaceRun.ReplaceAllString(cleaned, " ")
	cleaned = strings.TrimSpace(cleaned)
	if runes := []rune(cleaned); len(runes) > maxLength {
		cleaned = strings.TrimRight(string(runes[:maxLength-3]), " ") + "..."
	}
	if cleaned == "" {
		return "Untitled"
	}
	return cleaned
}

// MakeProjectUID builds the composite project key.
func MakeProjectUID(sourceID, projectID string) string {
	return sourceID + ":" + projectID
}

// SplitProjectUID parses a composite project key. Bare legacy ids remain valid:
// without a separator the account defaults to DefaultSourceID.
func SplitProjectUID(uid string) (sourceID, projectID string) {
	if i := strings.Index(uid, ":"); i >= 0 {
		sourceID, projectID = uid[:i], uid[i+1:]
		if sourceID == "" {
			sourceID = DefaultSourceID
		}
		if projectID == "" {
			projectID = NoProject
		}
		return sourceID, projectID
	}
	return DefaultSourceID, uid
}

// MakeConversationUID builds the composite conversation key.
func MakeConversationUID(sourceID, conversationID string) string {
	return sourceID + ":" + conversationID
}

// SplitConversationUID parses a composite conversation key, defaulting the
// account like SplitProjectUID.
func SplitConversationUID(uid string) (sourceID, conversationID string) {
	if i := strings.Index(uid, ":"); i >= 0 {
		sourceID, conversationID = uid[:i], uid[i+1:]
		if sourceID == "" {
			sourceID = DefaultSourceID
		}
		if conversationID == "" {
			conversationID = uid
		}
		return sourceID, conversationID
	}
	return DefaultSourceID, uid
}

// GenerateConversationID returns the source-provided id or a fresh uuid.
func GenerateConversationID(raw string) string {
	if raw != "" {
		return raw
	}
	return uuid.New().String()
}

// ShortID returns the first eight characters of an id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// DateString formats an epoch-second timestamp as a UTC date. Absent
// timestamps map to the epoch date so folder names stay sortable.
func DateString(ts float64) string {
	if ts == 0 {
		return "1970-01-01"
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02")
}

// HumanTime formats an epoch-second timestamp for display, empty when absent.
func HumanTime(ts float64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04 UTC")
}

// ConversationFolder combines a UTC date prefix with the safe title so that
// lexicographic order approximates chronological order.
func ConversationFolder(title string, createdAt float64, conversationID string) string {
	name := "Untitled-" + ShortID(conversationID)
	if title != "" {
		name = SafeName(title, MaxFolderTitle)
	}
	return DateString(createdAt) + " - " + name
}

// DefaultProjectName is the display name used when no override applies.
func DefaultProjectName(projectID string) string {
	if projectID == NoProject {
		return "No project"
	}
	return "Project " + ShortID(projectID)
}

// NormalizeProjectName canonicalizes a display name for case-, width- and
// whitespace-insensitive lookup.
func NormalizeProjectName(value string) string {
	normalized := norm.NFKC.String(strings.TrimSpace(value))
	normalized = whitespaceRun.ReplaceAllString(normalized, " ")
	return strings.ToLower(strings.TrimSpace(normalized))
}
