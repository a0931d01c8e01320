package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

func newTestLoopGuard() *LoopGuard {
	return NewLoopGuard(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dueDateNotification(old, new string) *webhookDomain.ChangeNotification {
	return &webhookDomain.ChangeNotification{
		Origin:     webhookDomain.SystemTaskHub,
		EntityID:   "T-9",
		EntityKind: webhookDomain.EntityTask,
		Verb:       webhookDomain.VerbUpdated,
		Changes: map[string]webhookDomain.FieldChange{
			"due_date": {Old: old, New: new},
		},
	}
}

func staticCurrent(values map[string][]string) CurrentValueFunc {
	return func(ctx context.Context, field string) ([]string, error) {
		return values[field], nil
	}
}

func TestLoopGuardShouldSkip_DueDateEcho(t *testing.T) {
	guard := newTestLoopGuard()
	notification := dueDateNotification("2025-05-01", "2025-05-20")

	// The destination already carries the incoming value in a different
	// representation of the same day.
	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"due_date": {"2025-05-20"}},
		staticCurrent(map[string][]string{"due_date": {"2025-05-20T00:00:00Z"}}),
	)

	assert.True(t, skip)
}

func TestLoopGuardShouldSkip_DueDateDiffers(t *testing.T) {
	guard := newTestLoopGuard()
	notification := dueDateNotification("2025-05-01", "2025-05-20")

	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"due_date": {"2025-05-20"}},
		staticCurrent(map[string][]string{"due_date": {"2025-05-01"}}),
	)

	assert.False(t, skip)
}

func TestLoopGuardShouldSkip_AssigneeSetEcho(t *testing.T) {
	guard := newTestLoopGuard()
	notification := &webhookDomain.ChangeNotification{
		Verb: webhookDomain.VerbUpdated,
		Changes: map[string]webhookDomain.FieldChange{
			"assigned_to": {Old: "user:1", New: "user:7"},
		},
	}

	// Same logical set, different identifier formats and order.
	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"assigned_to": {"user:7", "Alice@Example.com"}},
		staticCurrent(map[string][]string{"assigned_to": {"alice@example.com", "7"}}),
	)

	assert.True(t, skip)
}

func TestLoopGuardShouldSkip_AssigneeSetDiffers(t *testing.T) {
	guard := newTestLoopGuard()
	notification := &webhookDomain.ChangeNotification{
		Verb: webhookDomain.VerbUpdated,
		Changes: map[string]webhookDomain.FieldChange{
			"assigned_to": {Old: "user:1", New: "user:7"},
		},
	}

	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"assigned_to": {"user:7"}},
		staticCurrent(map[string][]string{"assigned_to": {"user:7", "user:8"}}),
	)

	assert.False(t, skip)
}

func TestLoopGuardShouldSkip_NoDiffProceeds(t *testing.T) {
	guard := newTestLoopGuard()
	notification := &webhookDomain.ChangeNotification{Verb: webhookDomain.VerbCreated}

	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"due_date": {"2025-05-20"}},
		staticCurrent(map[string][]string{"due_date": {"2025-05-20"}}),
	)

	assert.False(t, skip)
}

func TestLoopGuardShouldSkip_MultipleFieldsProceeds(t *testing.T) {
	guard := newTestLoopGuard()
	notification := &webhookDomain.ChangeNotification{
		Verb: webhookDomain.VerbUpdated,
		Changes: map[string]webhookDomain.FieldChange{
			"due_date":    {Old: "2025-05-01", New: "2025-05-20"},
			"description": {Old: "a", New: "b"},
		},
	}

	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"due_date": {"2025-05-20"}},
		staticCurrent(map[string][]string{"due_date": {"2025-05-20"}}),
	)

	assert.False(t, skip)
}

func TestLoopGuardShouldSkip_NoCandidateProceeds(t *testing.T) {
	guard := newTestLoopGuard()
	notification := dueDateNotification("2025-05-01", "2025-05-20")

	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{},
		staticCurrent(map[string][]string{"due_date": {"2025-05-20"}}),
	)

	assert.False(t, skip)
}

func TestLoopGuardShouldSkip_LookupFailureProceeds(t *testing.T) {
	guard := newTestLoopGuard()
	notification := dueDateNotification("2025-05-01", "2025-05-20")

	skip := guard.ShouldSkip(
		context.Background(),
		notification,
		map[string][]string{"due_date": {"2025-05-20"}},
		func(ctx context.Context, field string) ([]string, error) {
			return nil, errors.New("fieldpro unavailable")
		},
	)

	assert.False(t, skip)
}
