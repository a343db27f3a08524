package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuschat/internal/model"
)

func TestSaveIsUpsertAndLoadIsOrdered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := New()

	require.NoError(t, c.SaveMessage(ctx, model.Message{ID: "b", Seq: 2, Room: "general", Content: "second"}))
	require.NoError(t, c.SaveMessage(ctx, model.Message{ID: "a", Seq: 1, Room: "general", Content: "first"}))
	require.NoError(t, c.SaveMessage(ctx, model.Message{ID: "c", Seq: 3, Room: "events", Content: "other"}))
	require.NoError(t, c.SaveMessage(ctx, model.Message{ID: "a", Seq: 1, Room: "general", Content: "first, edited"}))

	msgs, err := c.LoadMessages(ctx, "general", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first, edited", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)

	tail, err := c.LoadMessages(ctx, "general", 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "b", tail[0].ID)

	none, err := c.LoadMessages(ctx, "nowhere", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
