package dto

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

func TestFieldProEventRequestValidate(t *testing.T) {
	valid := FieldProEventRequest{
		EventID:  "evt-1",
		Entity:   "quote",
		EntityID: "1042",
		Action:   "created",
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("ValidWorkOrder", func(t *testing.T) {
		req := valid
		req.Entity = "work_order"
		assert.NoError(t, req.Validate())
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		req := valid
		req.Entity = "technician"
		assert.Error(t, req.Validate())
	})

	t.Run("MissingEntity", func(t *testing.T) {
		req := valid
		req.Entity = ""
		assert.Error(t, req.Validate())
	})

	t.Run("BlankEntityID", func(t *testing.T) {
		req := valid
		req.EntityID = "   "
		assert.Error(t, req.Validate())
	})

	t.Run("UnknownAction", func(t *testing.T) {
		req := valid
		req.Action = "archived"
		assert.Error(t, req.Validate())
	})

	t.Run("DestroyedAction", func(t *testing.T) {
		req := valid
		req.Action = "destroyed"
		assert.NoError(t, req.Validate())
	})
}

func TestFieldProEventRequestToNotification(t *testing.T) {
	req := FieldProEventRequest{
		EventID:  "evt-1",
		Entity:   "quote",
		EntityID: "1042",
		Action:   "updated",
		Changes: map[string]FieldChangePayload{
			"due_date": {Old: "2025-05-01", New: "2025-05-20"},
		},
	}

	n := req.ToNotification()

	assert.Equal(t, webhookDomain.SystemFieldPro, n.Origin)
	assert.Equal(t, webhookDomain.EntityQuote, n.EntityKind)
	assert.Equal(t, "1042", n.EntityID)
	assert.Equal(t, webhookDomain.VerbUpdated, n.Verb)
	assert.Equal(t, webhookDomain.FieldChange{Old: "2025-05-01", New: "2025-05-20"}, n.Changes["due_date"])
}

func TestTaskHubEventRequestValidate(t *testing.T) {
	valid := TaskHubEventRequest{
		EventID: "evt-2",
		TaskID:  "T-9",
		Action:  "updated",
	}

	t.Run("Valid", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("MissingTaskID", func(t *testing.T) {
		req := valid
		req.TaskID = ""
		assert.Error(t, req.Validate())
	})

	t.Run("DestroyedNotAccepted", func(t *testing.T) {
		req := valid
		req.Action = "destroyed"
		assert.Error(t, req.Validate())
	})
}

func TestTaskHubEventRequestToNotification(t *testing.T) {
	req := TaskHubEventRequest{
		EventID: "evt-2",
		TaskID:  "T-9",
		Action:  "created",
	}

	n := req.ToNotification()

	assert.Equal(t, webhookDomain.SystemTaskHub, n.Origin)
	assert.Equal(t, webhookDomain.EntityTask, n.EntityKind)
	assert.Equal(t, "T-9", n.EntityID)
	assert.Nil(t, n.Changes)
}

func TestFieldProEventRequestUnmarshal(t *testing.T) {
	payload := `{
		"event_id": "evt-1",
		"entity": "quote",
		"entity_id": "1042",
		"action": "updated",
		"changes": {"due_date": {"old": "2025-05-01", "new": "2025-05-20"}}
	}`

	var req FieldProEventRequest
	require.NoError(t, json.Unmarshal([]byte(payload), &req))

	assert.Equal(t, "quote", req.Entity)
	assert.Equal(t, "1042", req.EntityID)
	assert.Equal(t, FieldChangePayload{Old: "2025-05-01", New: "2025-05-20"}, req.Changes["due_date"])
}
