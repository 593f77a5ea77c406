package notes

import (
	"strings"
)

// tagLabels are the directive labels recognized in user tag input and on the
// first line of note contents.
var tagLabels = []string{"tag:", "tags:", "category:", "categories:"}

const (
	tagSeparator        = ","
	labelSeparator      = ":"
	directiveTerminator = "."
)

// ParseUserTags splits comma-separated tag input. Each segment may carry a
// label ("tags: work"); only the text after the first colon is kept. Tags are
// trimmed and lower-cased, and empty segments are dropped.
func ParseUserTags(raw string) []string {
	tags := []string{}
	if strings.TrimSpace(raw) == "" {
		return tags
	}
	for _, segment := range strings.Split(raw, tagSeparator) {
		if _, value, found := strings.Cut(segment, labelSeparator); found {
			segment = value
		}
		tag := strings.ToLower(strings.TrimSpace(segment))
		if tag == "" {
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// ExtractEmbedded detects a tag directive on the first line of content and
// returns the parsed tags together with the content minus the directive.
//
// The directive ends at the first period of the line, wherever that period
// sits relative to the label. Without a period the whole first line is the
// directive and is dropped.
func ExtractEmbedded(content string) ([]string, string) {
	firstLine, rest, hasRest := strings.Cut(content, "\n")
	firstLine = strings.TrimSuffix(firstLine, "\r")
	if !containsTagLabel(firstLine) {
		return []string{}, content
	}

	directive, remainder, hasPeriod := strings.Cut(firstLine, directiveTerminator)
	if hasPeriod && strings.TrimSpace(remainder) != "" {
		cleaned := remainder
		if hasRest {
			cleaned += "\n" + rest
		}
		return ParseUserTags(directive), strings.TrimSpace(cleaned)
	}
	if !hasPeriod {
		directive = firstLine
	}
	return ParseUserTags(directive), strings.TrimSpace(rest)
}

func containsTagLabel(line string) bool {
	normalized := strings.ToLower(line)
	for _, label := range tagLabels {
		if strings.Contains(normalized, label) {
			return true
		}
	}
	return false
}

// NormalizeTags lower-cases and trims tags, drops empties and duplicates
// (first occurrence wins), and keeps at most limit entries. A non-positive
// limit keeps everything.
func NormalizeTags(tags []string, limit int) []string {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		value := strings.ToLower(strings.TrimSpace(tag))
		if value == "" {
			continue
		}
		if _, duplicate := seen[value]; duplicate {
			continue
		}
		seen[value] = struct{}{}
		normalized = append(normalized, value)
		if limit > 0 && len(normalized) == limit {
			break
		}
	}
	return normalized
}
