package notes

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxTitleLength bounds the title in characters.
	MaxTitleLength = 200
	// MaxSummaryLength bounds the summary in characters.
	MaxSummaryLength = 500
	// MaxTags caps the number of tags kept on a note.
	MaxTags = 3
)

var (
	// ErrNoteNotFound indicates that no record exists for the requested timestamp.
	ErrNoteNotFound = errors.New("notes: note not found")
	// ErrCorruptRecord indicates that a record exists but cannot be deserialized.
	ErrCorruptRecord = errors.New("notes: corrupt record")
	// ErrInvalidIdentifier indicates that a storage entry name is not a note key.
	ErrInvalidIdentifier = errors.New("notes: not a note identifier")
	// ErrInvalidDraft indicates that a draft cannot produce a valid note.
	ErrInvalidDraft = errors.New("notes: invalid draft")
	// ErrInvalidRange indicates that a range query ends before it starts.
	ErrInvalidRange = errors.New("notes: invalid range")
	// ErrGenerationUnavailable indicates that the text generator is absent, timed out, or failed.
	ErrGenerationUnavailable = errors.New("notes: generation unavailable")
)

// Note is the persisted note entity. Timestamp is the primary key.
type Note struct {
	Timestamp time.Time
	Title     string
	Summary   string
	Contents  string
	Tags      []string
}

// Key returns the storage identifier derived from the note timestamp.
func (n Note) Key(codec KeyCodec) string {
	return codec.Encode(n.Timestamp)
}

// HasTag reports whether the note carries the tag, ignoring case.
func (n Note) HasTag(tag string) bool {
	wanted := strings.ToLower(strings.TrimSpace(tag))
	if wanted == "" {
		return false
	}
	for _, existing := range n.Tags {
		if strings.ToLower(existing) == wanted {
			return true
		}
	}
	return false
}

func (n Note) clone() Note {
	copied := n
	if n.Tags != nil {
		copied.Tags = append([]string(nil), n.Tags...)
	}
	return copied
}

func (n Note) validate() error {
	if n.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidDraft)
	}
	if strings.TrimSpace(n.Title) == "" {
		return fmt.Errorf("%w: empty title", ErrInvalidDraft)
	}
	if utf8.RuneCountInString(n.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", ErrInvalidDraft, MaxTitleLength)
	}
	if utf8.RuneCountInString(n.Summary) > MaxSummaryLength {
		return fmt.Errorf("%w: summary exceeds %d characters", ErrInvalidDraft, MaxSummaryLength)
	}
	if strings.TrimSpace(n.Contents) == "" {
		return fmt.Errorf("%w: empty contents", ErrInvalidDraft)
	}
	return nil
}

// Draft is the transient input to note creation and update.
type Draft struct {
	Title    string
	Contents string
	Tags     string
}

// Resolution is the metadata produced for a draft.
type Resolution struct {
	Title    string
	Summary  string
	Tags     []string
	Contents string
}
