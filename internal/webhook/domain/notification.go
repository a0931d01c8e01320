// Package domain defines the inbound change-notification types shared by the
// webhook ingress and the reconciliation flows.
package domain

import apperrors "github.com/allisson/syncbridge/internal/errors"

// System identifies one of the two synchronized record stores. Either can be
// the source of a notification depending on which side's webhook fired.
type System string

// The two synchronized systems.
const (
	SystemFieldPro System = "fieldpro"
	SystemTaskHub  System = "taskhub"
)

// EntityKind is the kind of record a notification refers to.
type EntityKind string

// Tracked entity kinds.
const (
	EntityQuote     EntityKind = "quote"
	EntityWorkOrder EntityKind = "work_order"
	EntityTask      EntityKind = "task"
)

// Lifecycle verbs carried by notifications and bus topics.
const (
	VerbCreated   = "created"
	VerbUpdated   = "updated"
	VerbDestroyed = "destroyed"
)

// Domain-specific errors for webhook processing.
var (
	// ErrInvalidSignature indicates the event signature did not match the raw body.
	ErrInvalidSignature = apperrors.Wrap(apperrors.ErrUnauthorized, "invalid webhook signature")

	// ErrUnknownEntityKind indicates the notification names an entity kind this system does not track.
	ErrUnknownEntityKind = apperrors.Wrap(apperrors.ErrInvalidInput, "unknown entity kind")
)

// FieldChange is one entry of a notification's field-level diff.
type FieldChange struct {
	Old string
	New string
}

// ChangeNotification describes what arrived on a webhook. It is immutable
// once received and is used only to decide what to check for loop prevention,
// never as the source of truth for content — content is always re-fetched
// from the origin system.
type ChangeNotification struct {
	Origin     System
	EntityID   string
	EntityKind EntityKind
	Verb       string
	// Changes is the optional field-level diff, keyed by field name.
	Changes map[string]FieldChange
}

// trackedFields are the fields the loop guard knows how to normalize and
// compare. Changes outside this set always proceed with the update.
var trackedFields = map[string]bool{
	"due_date":    true,
	"assigned_to": true,
}

// SingleTrackedChange reports whether the notification's diff touches exactly
// one tracked field, returning that field and its change. Any other shape
// (no diff, zero tracked fields, multiple fields) is not loop-checked.
func (n *ChangeNotification) SingleTrackedChange() (string, FieldChange, bool) {
	if len(n.Changes) != 1 {
		return "", FieldChange{}, false
	}
	for field, change := range n.Changes {
		if trackedFields[field] {
			return field, change, true
		}
	}
	return "", FieldChange{}, false
}
