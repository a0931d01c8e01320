// Package dto defines the webhook request payloads and their validation rules.
package dto

import (
	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/syncbridge/internal/validation"
	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

// FieldChangePayload is one field entry of a webhook's change diff.
type FieldChangePayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// FieldProEventRequest is the payload FieldPro posts on entity changes.
type FieldProEventRequest struct {
	EventID  string                        `json:"event_id"`
	Entity   string                        `json:"entity"`
	EntityID string                        `json:"entity_id"`
	Action   string                        `json:"action"`
	Changes  map[string]FieldChangePayload `json:"changes"`
}

// Validate checks the request against the tracked entity kinds and verbs.
func (r FieldProEventRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Entity,
			validation.Required,
			customValidation.NotBlank,
			validation.In(string(webhookDomain.EntityQuote), string(webhookDomain.EntityWorkOrder)),
		),
		validation.Field(&r.EntityID, validation.Required, customValidation.NotBlank),
		validation.Field(&r.Action,
			validation.Required,
			validation.In(webhookDomain.VerbCreated, webhookDomain.VerbUpdated, webhookDomain.VerbDestroyed),
		),
	)
}

// ToNotification maps the request into the domain change notification.
func (r FieldProEventRequest) ToNotification() *webhookDomain.ChangeNotification {
	return &webhookDomain.ChangeNotification{
		Origin:     webhookDomain.SystemFieldPro,
		EntityID:   r.EntityID,
		EntityKind: webhookDomain.EntityKind(r.Entity),
		Verb:       r.Action,
		Changes:    mapChanges(r.Changes),
	}
}

// TaskHubEventRequest is the payload TaskHub posts on task changes.
type TaskHubEventRequest struct {
	EventID string                        `json:"event_id"`
	TaskID  string                        `json:"task_id"`
	Action  string                        `json:"action"`
	Changes map[string]FieldChangePayload `json:"changes"`
}

// Validate checks the request shape.
func (r TaskHubEventRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TaskID, validation.Required, customValidation.NotBlank),
		validation.Field(&r.Action,
			validation.Required,
			validation.In(webhookDomain.VerbCreated, webhookDomain.VerbUpdated),
		),
	)
}

// ToNotification maps the request into the domain change notification.
func (r TaskHubEventRequest) ToNotification() *webhookDomain.ChangeNotification {
	return &webhookDomain.ChangeNotification{
		Origin:     webhookDomain.SystemTaskHub,
		EntityID:   r.TaskID,
		EntityKind: webhookDomain.EntityTask,
		Verb:       r.Action,
		Changes:    mapChanges(r.Changes),
	}
}

func mapChanges(changes map[string]FieldChangePayload) map[string]webhookDomain.FieldChange {
	if len(changes) == 0 {
		return nil
	}
	mapped := make(map[string]webhookDomain.FieldChange, len(changes))
	for field, change := range changes {
		mapped[field] = webhookDomain.FieldChange{Old: change.Old, New: change.New}
	}
	return mapped
}
