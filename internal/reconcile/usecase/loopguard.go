package usecase

import (
	"context"
	"log/slog"

	"github.com/allisson/syncbridge/internal/mapping"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// CurrentValueFunc fetches the destination's current values for one tracked
// field, directly from that system rather than from the notification.
type CurrentValueFunc func(ctx context.Context, field string) ([]string, error)

// LoopGuard breaks update echo-loops: a push from one system triggers a
// change notification on the other side that would otherwise bounce straight
// back. Before a write, the candidate value is compared in normalized form
// against the value already on record; an exact match means the notification
// carries no new information and the write is skipped.
//
// The rule applied here: a notification is loop-checked iff its diff touches
// exactly one tracked field. Ambiguous shapes (multiple fields, no diff)
// always proceed — they are assumed to carry new information.
type LoopGuard struct {
	logger *slog.Logger
}

// NewLoopGuard creates a LoopGuard.
func NewLoopGuard(logger *slog.Logger) *LoopGuard {
	return &LoopGuard{logger: logger}
}

// ShouldSkip reports whether the pending write for the notification is an
// echo. candidates holds the values about to be written, keyed by tracked
// field name. A lookup or normalization failure degrades to "proceed with the
// update": failing open toward progress, never toward silently dropping real
// changes.
func (g *LoopGuard) ShouldSkip(
	ctx context.Context,
	notification *webhookDomain.ChangeNotification,
	candidates map[string][]string,
	fetchCurrent CurrentValueFunc,
) bool {
	field, _, ok := notification.SingleTrackedChange()
	if !ok {
		return false
	}

	candidate, ok := candidates[field]
	if !ok {
		return false
	}

	current, err := fetchCurrent(ctx, field)
	if err != nil {
		if g.logger != nil {
			g.logger.Warn("loop guard lookup failed, proceeding with update",
				slog.String("field", field),
				slog.Any("error", err),
			)
		}
		return false
	}

	return valuesEqual(field, candidate, current)
}

// valuesEqual compares two field values in canonical form: date-only for
// dates, a normalized identifier set for assignees (one logical user may have
// more than one identifier format across systems).
func valuesEqual(field string, a, b []string) bool {
	switch field {
	case "due_date":
		if len(a) != 1 || len(b) != 1 {
			return false
		}
		return mapping.NormalizeDate(a[0]) == mapping.NormalizeDate(b[0])
	case "assigned_to":
		setA := mapping.NormalizeIdentifierSet(a)
		setB := mapping.NormalizeIdentifierSet(b)
		if len(setA) != len(setB) {
			return false
		}
		for id := range setA {
			if !setB[id] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
