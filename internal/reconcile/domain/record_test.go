package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	webhookDomain "github.com/allisson/syncbridge/internal/webhook/domain"
)

func TestExternalReferenceEncode(t *testing.T) {
	ref := ExternalReference{SourceKind: webhookDomain.EntityQuote, SourceID: "1042"}
	assert.Equal(t, "quote:1042", ref.Encode())

	ref = ExternalReference{SourceKind: webhookDomain.EntityWorkOrder, SourceID: "77"}
	assert.Equal(t, "work_order:77", ref.Encode())
}

func TestParseExternalRef(t *testing.T) {
	t.Run("Quote", func(t *testing.T) {
		kind, id, err := ParseExternalRef("quote:1042")
		require.NoError(t, err)
		assert.Equal(t, webhookDomain.EntityQuote, kind)
		assert.Equal(t, "1042", id)
	})

	t.Run("WorkOrder", func(t *testing.T) {
		kind, id, err := ParseExternalRef("work_order:77")
		require.NoError(t, err)
		assert.Equal(t, webhookDomain.EntityWorkOrder, kind)
		assert.Equal(t, "77", id)
	})

	t.Run("IDWithColon", func(t *testing.T) {
		// Only the first separator splits; ids may contain colons.
		kind, id, err := ParseExternalRef("quote:a:b")
		require.NoError(t, err)
		assert.Equal(t, webhookDomain.EntityQuote, kind)
		assert.Equal(t, "a:b", id)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		ref := ExternalReference{SourceKind: webhookDomain.EntityQuote, SourceID: "1042"}
		kind, id, err := ParseExternalRef(ref.Encode())
		require.NoError(t, err)
		assert.Equal(t, ref.SourceKind, kind)
		assert.Equal(t, ref.SourceID, id)
	})

	t.Run("Empty", func(t *testing.T) {
		_, _, err := ParseExternalRef("")
		assert.ErrorIs(t, err, ErrNoReference)
	})

	t.Run("NoSeparator", func(t *testing.T) {
		_, _, err := ParseExternalRef("quote1042")
		assert.ErrorIs(t, err, ErrNoReference)
	})

	t.Run("MissingID", func(t *testing.T) {
		_, _, err := ParseExternalRef("quote:")
		assert.ErrorIs(t, err, ErrNoReference)
	})

	t.Run("MissingKind", func(t *testing.T) {
		_, _, err := ParseExternalRef(":1042")
		assert.ErrorIs(t, err, ErrNoReference)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, _, err := ParseExternalRef("invoice:1042")
		assert.ErrorIs(t, err, webhookDomain.ErrUnknownEntityKind)
	})
}
