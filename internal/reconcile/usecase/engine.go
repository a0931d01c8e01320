// Package usecase implements the reconciliation engine, the loop guard and
// the flow processor that ties them to the event bus and the trace recorder.
package usecase

import (
	"context"
	"log/slog"

	apperrors "github.com/allisson/syncbridge/internal/errors"
	"github.com/allisson/syncbridge/internal/mapping"
	reconDomain "github.com/allisson/syncbridge/internal/reconcile/domain"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// TargetTask is the engine's view of a target-system record.
type TargetTask struct {
	ID         string
	ExternalID string
	Fields     map[string]string
	Assignees  []string
}

// TargetTaskInput is the engine's create payload for the target system.
type TargetTaskInput struct {
	ExternalID string
	Fields     map[string]string
	Assignees  []string
}

// SourceGateway exposes the source system (FieldPro) operations the flows need.
type SourceGateway interface {
	// FetchCanonical fetches the authoritative record fresh. Notification
	// payloads are never trusted for content.
	FetchCanonical(ctx context.Context, kind webhookDomain.EntityKind, id string) (*reconDomain.CanonicalRecord, error)
	// UpdateFields writes the given fields back to the source record.
	UpdateFields(ctx context.Context, kind webhookDomain.EntityKind, id string, fields map[string]string) error
}

// TargetGateway exposes the target system (TaskHub) operations the flows need.
type TargetGateway interface {
	// FetchTask fetches the authoritative task fresh by its target-system id.
	FetchTask(ctx context.Context, id string) (*TargetTask, error)
	// SearchByExternalRef finds tasks by the stored source reference.
	SearchByExternalRef(ctx context.Context, externalRef string) ([]TargetTask, error)
	Create(ctx context.Context, input TargetTaskInput) (*TargetTask, error)
	Update(ctx context.Context, id string, fields map[string]string) error
	AddAssignee(ctx context.Context, taskID, userID string) error
	RemoveAssignee(ctx context.Context, taskID, userID string) error
}

// Result describes one reconciliation outcome.
type Result struct {
	Reference reconDomain.ExternalReference
	Created   bool
}

// Engine performs the idempotent create-or-update against the target system.
// For a given source id, re-running Reconcile any number of times converges
// to one target record whose managed fields equal the latest canonical
// record, as long as the search step is consistent.
type Engine struct {
	target TargetGateway
	logger *slog.Logger
}

// NewEngine creates a reconciliation engine.
func NewEngine(target TargetGateway, logger *slog.Logger) *Engine {
	return &Engine{target: target, logger: logger}
}

// Reconcile upserts the target record for a freshly-fetched canonical record.
//
// The existence decision is a search against the target system keyed by the
// stored source reference — never a locally cached id-to-id table, because
// the target may have been edited out-of-band. Finding more than one
// candidate is a data-integrity anomaly and surfaces as an error.
func (e *Engine) Reconcile(ctx context.Context, record *reconDomain.CanonicalRecord) (*Result, error) {
	reference := reconDomain.ExternalReference{
		SourceKind: record.Kind,
		SourceID:   record.ID,
	}

	candidates, err := e.target.SearchByExternalRef(ctx, reference.Encode())
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to search target system")
	}
	if len(candidates) > 1 {
		return nil, apperrors.Wrapf(
			reconDomain.ErrAmbiguousReference,
			"%d tasks reference %s", len(candidates), reference.Encode(),
		)
	}

	managed := mapping.Apply(mapping.ForKind(string(record.Kind)), record.Fields)

	if len(candidates) == 0 {
		task, err := e.target.Create(ctx, TargetTaskInput{
			ExternalID: reference.Encode(),
			Fields:     managed,
			Assignees:  record.Assignees,
		})
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to create target record")
		}
		reference.TargetID = task.ID
		return &Result{Reference: reference, Created: true}, nil
	}

	existing := candidates[0]
	reference.TargetID = existing.ID

	// Full overwrite of the managed field set; fields not managed by this
	// system are left untouched.
	if err := e.target.Update(ctx, existing.ID, managed); err != nil {
		return nil, apperrors.Wrap(err, "failed to update target record")
	}

	if err := e.syncAssignees(ctx, existing, record.Assignees); err != nil {
		return nil, err
	}

	return &Result{Reference: reference, Created: false}, nil
}

// syncAssignees issues add/remove deltas so the task's assignee set matches
// the canonical record's responsible parties. The target's ownership model is
// set-based and additive/subtractive, not overwrite-based.
func (e *Engine) syncAssignees(ctx context.Context, task TargetTask, desired []string) error {
	currentSet := mapping.NormalizeIdentifierSet(task.Assignees)
	desiredSet := mapping.NormalizeIdentifierSet(desired)

	for _, id := range desired {
		if !currentSet[mapping.NormalizeIdentifier(id)] {
			if err := e.target.AddAssignee(ctx, task.ID, id); err != nil {
				return apperrors.Wrapf(err, "failed to add assignee %s", id)
			}
		}
	}
	for _, id := range task.Assignees {
		if !desiredSet[mapping.NormalizeIdentifier(id)] {
			if err := e.target.RemoveAssignee(ctx, task.ID, id); err != nil {
				return apperrors.Wrapf(err, "failed to remove assignee %s", id)
			}
		}
	}

	return nil
}
