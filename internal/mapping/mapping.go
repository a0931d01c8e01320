// Package mapping provides the declarative field-mapping tables between the
// two systems' data models, plus the value normalizations used by the loop
// guard. Mappings are explicit per entity kind: a list of
// (sourceField, targetField, transform) triples evaluated by Apply.
package mapping

import (
	"strings"
	"time"
)

// Transform converts a source field value into its target representation.
type Transform func(string) string

// FieldMapping is one (sourceField, targetField, transform) triple.
type FieldMapping struct {
	Source    string
	Target    string
	Transform Transform
}

// Apply evaluates a mapping table against a source field set, producing the
// managed target field set. Source fields absent from the input are skipped,
// so fields not managed by this system are left untouched on the target.
func Apply(mappings []FieldMapping, source map[string]string) map[string]string {
	target := make(map[string]string, len(mappings))
	for _, m := range mappings {
		value, ok := source[m.Source]
		if !ok {
			continue
		}
		if m.Transform != nil {
			value = m.Transform(value)
		}
		target[m.Target] = value
	}
	return target
}

// QuoteTaskMappings maps FieldPro quote fields onto TaskHub task fields.
var QuoteTaskMappings = []FieldMapping{
	{Source: "title", Target: "name"},
	{Source: "description", Target: "description"},
	{Source: "status", Target: "status", Transform: statusToTask},
	{Source: "due_date", Target: "due_date", Transform: NormalizeDate},
	{Source: "site", Target: "location"},
	{Source: "total", Target: "quote_value"},
}

// WorkOrderTaskMappings maps FieldPro work-order fields onto TaskHub task fields.
var WorkOrderTaskMappings = []FieldMapping{
	{Source: "title", Target: "name"},
	{Source: "description", Target: "description"},
	{Source: "status", Target: "status", Transform: statusToTask},
	{Source: "due_date", Target: "due_date", Transform: NormalizeDate},
	{Source: "site", Target: "location"},
	{Source: "priority", Target: "priority", Transform: strings.ToLower},
}

// ForKind returns the mapping table for a FieldPro entity kind, or nil when
// the kind is not synchronized.
func ForKind(kind string) []FieldMapping {
	switch kind {
	case "quote":
		return QuoteTaskMappings
	case "work_order":
		return WorkOrderTaskMappings
	default:
		return nil
	}
}

// statusToTask folds FieldPro workflow statuses into TaskHub task statuses.
func statusToTask(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "draft", "pending":
		return "to_do"
	case "approved", "scheduled", "in_progress":
		return "in_progress"
	case "complete", "completed", "invoiced":
		return "done"
	case "cancelled", "rejected":
		return "cancelled"
	default:
		return "to_do"
	}
}

// dateLayouts are the date formats the two systems are known to emit.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeDate reduces a date value to its comparable canonical form:
// date-only in UTC ("2006-01-02"), ignoring time-of-day and zone. Values that
// parse as epoch milliseconds are converted first. Unparseable values are
// returned trimmed, so a comparison degrades to string equality.
func NormalizeDate(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	if millis, ok := parseEpochMillis(value); ok {
		return millis.UTC().Format("2006-01-02")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC().Format("2006-01-02")
		}
	}
	return value
}

// parseEpochMillis interprets an all-digit value as epoch milliseconds.
func parseEpochMillis(value string) (time.Time, bool) {
	if len(value) < 12 || len(value) > 14 {
		return time.Time{}, false
	}
	var millis int64
	for _, r := range value {
		if r < '0' || r > '9' {
			return time.Time{}, false
		}
		millis = millis*10 + int64(r-'0')
	}
	return time.UnixMilli(millis), true
}

// NormalizeIdentifier reduces one user identifier to comparable form. One
// logical user may appear as an email, a numeric id or a "user:<id>" handle
// depending on the system.
func NormalizeIdentifier(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	id = strings.TrimPrefix(id, "user:")
	return id
}

// NormalizeIdentifierSet reduces a list of user identifiers to a comparable
// set, dropping blanks and duplicates.
func NormalizeIdentifierSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		normalized := NormalizeIdentifier(id)
		if normalized == "" {
			continue
		}
		set[normalized] = true
	}
	return set
}
