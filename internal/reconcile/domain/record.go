// Package domain defines the reconciliation entities: the freshly-fetched
// canonical record and the durable cross-system reference.
package domain

import (
	"fmt"
	"strings"

	apperrors "github.com/allisson/syncbridge/internal/errors"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// Flow names, one per reconciliation direction and entity kind.
const (
	FlowQuoteSync     = "quote-sync"
	FlowWorkOrderSync = "work-order-sync"
	FlowTaskWriteBack = "task-writeback"
)

// Step names recorded on every flow run.
const (
	StepFetchSource     = "fetch_source"
	StepLoopGuard       = "loop_guard"
	StepReconcileTarget = "reconcile_target"
	StepWriteBack       = "write_back"
)

// Reconciliation errors.
var (
	// ErrAmbiguousReference indicates the target search matched more than one
	// candidate for one source record. This is a data-integrity anomaly and
	// surfaces as a recoverable error, never a silent pick-first.
	ErrAmbiguousReference = apperrors.Wrap(apperrors.ErrConflict, "multiple target records reference one source record")

	// ErrNoReference indicates a target-side record carries no link back to a
	// source record, so there is nothing to write back.
	ErrNoReference = apperrors.Wrap(apperrors.ErrNotFound, "record has no external reference")
)

// CanonicalRecord is the authoritative, freshly-fetched representation of an
// entity from one system. Fetched fresh on every processing attempt and owned
// exclusively by the attempt that fetched it; never cached across attempts.
type CanonicalRecord struct {
	System webhookDomain.System
	Kind   webhookDomain.EntityKind
	ID     string
	// Fields is the flat source field set consumed by the mapping tables.
	Fields map[string]string
	// Assignees are the responsible-party identifiers. Ownership syncs as a
	// set delta, not an overwrite.
	Assignees []string
}

// ExternalReference is the durable link between a source-system identifier
// and the corresponding target-system identifier. It is created the first
// time a target record is produced and re-derived by search on every
// subsequent update; no local mapping table is trusted as ground truth.
type ExternalReference struct {
	SourceKind webhookDomain.EntityKind
	SourceID   string
	TargetID   string
}

// Encode renders the reference value stored on the target record's queryable
// identifying attribute, e.g. "quote:1042".
func (r ExternalReference) Encode() string {
	return fmt.Sprintf("%s:%s", r.SourceKind, r.SourceID)
}

// ParseExternalRef decodes a stored reference value back into kind and id.
func ParseExternalRef(value string) (webhookDomain.EntityKind, string, error) {
	kind, id, ok := strings.Cut(value, ":")
	if !ok || kind == "" || id == "" {
		return "", "", ErrNoReference
	}
	switch webhookDomain.EntityKind(kind) {
	case webhookDomain.EntityQuote, webhookDomain.EntityWorkOrder:
		return webhookDomain.EntityKind(kind), id, nil
	default:
		return "", "", webhookDomain.ErrUnknownEntityKind
	}
}
