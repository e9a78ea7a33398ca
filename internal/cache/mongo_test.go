package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"mcq-autopilot/internal/mcq"
)

var mongoNow = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newMockMongoStore(mt *mtest.T) *MongoStore {
	mt.Helper()
	mt.AddMockResponses(mtest.CreateSuccessResponse())
	s, err := NewMongoStore(context.Background(), mt.Coll)
	require.NoError(mt, err)
	s.now = func() time.Time { return mongoNow }
	mt.ClearEvents()
	return s
}

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func TestMongoStore(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	ctx := context.Background()

	mt.Run("creates created_at index", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		_, err := NewMongoStore(ctx, mt.Coll)
		require.NoError(mt, err)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "createIndexes", evt.CommandName)
		assert.EqualValues(mt, 1, evt.Command.Lookup("indexes", "0", "key", "created_at").AsInt64())
	})

	mt.Run("index failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    13,
			Name:    "Unauthorized",
			Message: "not authorized",
		}))
		_, err := NewMongoStore(ctx, mt.Coll)
		assert.ErrorContains(mt, err, "created_at index")
	})

	mt.Run("put upserts with fresh timestamp", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(
			bson.E{Key: "n", Value: 1},
			bson.E{Key: "nModified", Value: 1},
		))

		require.NoError(mt, s.Put(ctx, "fp1", mcq.C))

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "update", evt.CommandName)
		upd := evt.Command.Lookup("updates", "0").Document()
		assert.True(mt, upd.Lookup("upsert").Boolean())
		assert.Equal(mt, "fp1", upd.Lookup("q", "_id").StringValue())
		assert.Equal(mt, "C", upd.Lookup("u", "answer").StringValue())
		assert.Equal(mt, mongoNow.UnixMilli(), upd.Lookup("u", "created_at").AsInt64())
	})

	mt.Run("put rejects invalid letter", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		assert.ErrorIs(mt, s.Put(ctx, "fp1", mcq.Letter("E")), ErrInvalidAnswer)
		assert.Nil(mt, mt.GetStartedEvent())
	})

	mt.Run("get hit", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		created := mongoNow.Add(-time.Hour)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "fp1"},
			{Key: "answer", Value: "B"},
			{Key: "created_at", Value: created.UnixMilli()},
		}))

		got, hit, err := s.Get(ctx, "fp1")
		require.NoError(mt, err)
		require.True(mt, hit)
		assert.Equal(mt, Fingerprint("fp1"), got.Fingerprint)
		assert.Equal(mt, mcq.B, got.Answer)
		assert.True(mt, created.Equal(got.CreatedAt))

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "find", evt.CommandName)
		assert.Equal(mt, "fp1", evt.Command.Lookup("filter", "_id").StringValue())
	})

	mt.Run("get miss", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, hit, err := s.Get(ctx, "missing")
		require.NoError(mt, err)
		assert.False(mt, hit)
	})

	mt.Run("get corrupt entry", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "fp1"},
			{Key: "answer", Value: "Z"},
			{Key: "created_at", Value: mongoNow.UnixMilli()},
		}))

		_, hit, err := s.Get(ctx, "fp1")
		assert.Error(mt, err)
		assert.False(mt, hit)
	})

	mt.Run("evict deletes strictly older entries", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 3}))

		n, err := s.EvictOlderThan(ctx, 24*time.Hour)
		require.NoError(mt, err)
		assert.Equal(mt, 3, n)

		evt := mt.GetStartedEvent()
		require.NotNil(mt, evt)
		assert.Equal(mt, "delete", evt.CommandName)
		cutoff := mongoNow.Add(-24 * time.Hour).UnixMilli()
		assert.Equal(mt, cutoff, evt.Command.Lookup("deletes", "0", "q", "created_at", "$lt").AsInt64())
	})

	mt.Run("evict error", func(mt *mtest.T) {
		s := newMockMongoStore(mt)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Name:    "BadValue",
			Message: "bad filter",
		}))

		_, err := s.EvictOlderThan(ctx, time.Hour)
		assert.ErrorContains(mt, err, "mongo evict failed")
	})
}
