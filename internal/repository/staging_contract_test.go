package repository

import (
	"context"
	"testing"
	"time"

	"educore_devlab/internal/entities"
	"educore_devlab/internal/interfaces"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleQuestions() []map[string]any {
	return []map[string]any{
		{
			"id":         "q-1",
			"title":      "Sum a list",
			"hints":      []any{"loop over the items"},
			"test_cases": []any{map[string]any{"input": "[1,2]", "expected_output": "3"}},
		},
		{
			"id":    "q-2",
			"title": "Reverse a string",
			"hints": []any{"slicing", "two pointers"},
		},
	}
}

// runStagingContract exercises the behavior every backend must share.
func runStagingContract(t *testing.T, store interfaces.StagingStore) {
	ctx := context.Background()

	t.Run("save then get returns pending batch", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Save(ctx, id, "content-studio", "generate-questions", sampleQuestions(), map[string]any{"topic_id": "t1"}))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, entities.StatusPending, got.Status)
		assert.Equal(t, "content-studio", got.RequesterService)
		assert.Equal(t, "generate-questions", got.Action)
		assert.Len(t, got.Questions, 2)
		assert.Len(t, got.Hints, 3)
		assert.Len(t, got.TestCases, 1)
		assert.Equal(t, "t1", got.Metadata["topic_id"])
	})

	t.Run("returned batch is isolated from the store", func(t *testing.T) {
		id := uuid.NewString()
		questions := []map[string]any{{"title": "orig"}}
		metadata := map[string]any{"topic_id": "t1"}
		require.NoError(t, store.Save(ctx, id, "content-studio", "generate-questions", questions, metadata))
		questions[0]["title"] = "changed after save"
		metadata["topic_id"] = "changed after save"

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		got.Questions[0]["title"] = "mutated"
		got.Metadata["topic_id"] = "mutated"

		again, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, again)
		assert.Equal(t, "orig", again.Questions[0]["title"])
		assert.Equal(t, "t1", again.Metadata["topic_id"])
	})

	t.Run("save is an upsert", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Save(ctx, id, "content-studio", "generate-questions", sampleQuestions(), nil))
		require.NoError(t, store.Save(ctx, id, "content-studio", "generate-questions", sampleQuestions()[:1], map[string]any{"retry": true}))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Len(t, got.Questions, 1)
		assert.Equal(t, true, got.Metadata["retry"])
	})

	t.Run("confirm removes the batch once", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Save(ctx, id, "content-studio", "generate-questions", sampleQuestions(), nil))

		ok, err := store.Confirm(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, got)

		ok, err = store.Confirm(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("confirm unknown id is not an error", func(t *testing.T) {
		ok, err := store.Confirm(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := store.Get(ctx, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("stats count pending batches per service", func(t *testing.T) {
		before, err := store.Stats(ctx)
		require.NoError(t, err)

		require.NoError(t, store.Save(ctx, uuid.NewString(), "assessment", "generate-questions", nil, nil))
		require.NoError(t, store.Save(ctx, uuid.NewString(), "assessment", "generate-questions", nil, nil))

		after, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, before["assessment"]+2, after["assessment"])
	})

	t.Run("purge leaves fresh batches alone", func(t *testing.T) {
		id := uuid.NewString()
		require.NoError(t, store.Save(ctx, id, "content-studio", "generate-questions", nil, nil))

		_, err := store.PurgeStale(ctx, time.Hour)
		require.NoError(t, err)

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}
