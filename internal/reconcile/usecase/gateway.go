package usecase

import (
	"context"

	apperrors "github.com/allisson/syncbridge/internal/errors"
	"github.com/allisson/syncbridge/internal/fieldpro"
	reconDomain "github.com/allisson/syncbridge/internal/reconcile/domain"
	"github.com/allisson/syncbridge/internal/taskhub"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// FieldProGateway adapts the FieldPro client to the SourceGateway interface.
type FieldProGateway struct {
	client *fieldpro.Client
}

// NewFieldProGateway creates a FieldProGateway.
func NewFieldProGateway(client *fieldpro.Client) *FieldProGateway {
	return &FieldProGateway{client: client}
}

// FetchCanonical fetches the authoritative record for the given kind and id.
func (g *FieldProGateway) FetchCanonical(
	ctx context.Context,
	kind webhookDomain.EntityKind,
	id string,
) (*reconDomain.CanonicalRecord, error) {
	switch kind {
	case webhookDomain.EntityQuote:
		quote, err := g.client.GetQuote(ctx, id)
		if err != nil {
			return nil, err
		}
		return &reconDomain.CanonicalRecord{
			System:    webhookDomain.SystemFieldPro,
			Kind:      kind,
			ID:        quote.ID,
			Fields:    quote.FieldMap(),
			Assignees: quote.AssigneeIDs(),
		}, nil
	case webhookDomain.EntityWorkOrder:
		workOrder, err := g.client.GetWorkOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		return &reconDomain.CanonicalRecord{
			System:    webhookDomain.SystemFieldPro,
			Kind:      kind,
			ID:        workOrder.ID,
			Fields:    workOrder.FieldMap(),
			Assignees: workOrder.AssigneeIDs(),
		}, nil
	default:
		return nil, apperrors.Wrapf(webhookDomain.ErrUnknownEntityKind, "kind %q", kind)
	}
}

// UpdateFields writes fields back to the source record.
func (g *FieldProGateway) UpdateFields(
	ctx context.Context,
	kind webhookDomain.EntityKind,
	id string,
	fields map[string]string,
) error {
	switch kind {
	case webhookDomain.EntityQuote:
		return g.client.UpdateQuoteFields(ctx, id, fields)
	case webhookDomain.EntityWorkOrder:
		return g.client.UpdateWorkOrderFields(ctx, id, fields)
	default:
		return apperrors.Wrapf(webhookDomain.ErrUnknownEntityKind, "kind %q", kind)
	}
}

// TaskHubGateway adapts the TaskHub client to the TargetGateway interface.
type TaskHubGateway struct {
	client *taskhub.Client
}

// NewTaskHubGateway creates a TaskHubGateway.
func NewTaskHubGateway(client *taskhub.Client) *TaskHubGateway {
	return &TaskHubGateway{client: client}
}

// FetchTask fetches one task fresh by its TaskHub id.
func (g *TaskHubGateway) FetchTask(ctx context.Context, id string) (*TargetTask, error) {
	task, err := g.client.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	converted := convertTask(task)
	return &converted, nil
}

// SearchByExternalRef finds tasks by their stored source reference.
func (g *TaskHubGateway) SearchByExternalRef(ctx context.Context, externalRef string) ([]TargetTask, error) {
	tasks, err := g.client.SearchByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	converted := make([]TargetTask, 0, len(tasks))
	for i := range tasks {
		converted = append(converted, convertTask(&tasks[i]))
	}
	return converted, nil
}

// Create creates a new task carrying the source reference.
func (g *TaskHubGateway) Create(ctx context.Context, input TargetTaskInput) (*TargetTask, error) {
	task, err := g.client.CreateTask(ctx, taskhub.TaskInput{
		ExternalID: input.ExternalID,
		Fields:     input.Fields,
		Assignees:  input.Assignees,
	})
	if err != nil {
		return nil, err
	}
	converted := convertTask(task)
	return &converted, nil
}

// Update overwrites a task's managed fields.
func (g *TaskHubGateway) Update(ctx context.Context, id string, fields map[string]string) error {
	return g.client.UpdateTask(ctx, id, taskhub.TaskInput{Fields: fields})
}

// AddAssignee adds one member to a task's assignee set.
func (g *TaskHubGateway) AddAssignee(ctx context.Context, taskID, userID string) error {
	return g.client.AddAssignee(ctx, taskID, userID)
}

// RemoveAssignee removes one member from a task's assignee set.
func (g *TaskHubGateway) RemoveAssignee(ctx context.Context, taskID, userID string) error {
	return g.client.RemoveAssignee(ctx, taskID, userID)
}

func convertTask(task *taskhub.Task) TargetTask {
	return TargetTask{
		ID:         task.ID,
		ExternalID: task.ExternalID,
		Fields:     task.Fields,
		Assignees:  task.AssigneeIDs(),
	}
}
