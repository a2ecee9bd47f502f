package mongostore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// newLiveCollection connects to MONGO_URI and returns a collection in a
// throwaway database dropped when the test ends.
func newLiveCollection(t *testing.T) (docstore.Collection[gadget], *mongo.Collection) {
	t.Helper()

	uri := strings.TrimSpace(os.Getenv("MONGO_URI"))
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}

	client, err := mongo.Connect(options.Client().ApplyURI(uri).SetServerSelectionTimeout(5 * time.Second))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Ping(ctx, nil))

	database := client.Database(fmt.Sprintf("orgaccess_test_%d", time.Now().UnixNano()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = database.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	return New[gadget](database, "gadgets"), database.Collection("gadgets")
}

func TestLiveInsertAndFind(t *testing.T) {
	coll, raw := newLiveCollection(t)
	ctx := context.Background()

	doc := &gadget{Name: "acme", Members: []string{"u1"}}
	id, err := coll.Insert(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, int64(1), doc.Version)

	oid, err := bson.ObjectIDFromHex(id)
	require.NoError(t, err)
	stored, err := raw.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Raw()
	require.NoError(t, err)
	_, hasID := stored.Lookup("id").StringValueOK()
	assert.False(t, hasID)

	found, err := coll.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "acme", found.Name)
	assert.Equal(t, []string{"u1"}, found.Members)

	_, err = coll.FindByID(ctx, bson.NewObjectID().Hex())
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = coll.FindByID(ctx, "not-hex")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestLiveCompareAndUpdate(t *testing.T) {
	coll, _ := newLiveCollection(t)
	ctx := context.Background()

	id, err := coll.Insert(ctx, &gadget{Name: "acme", Members: []string{}})
	require.NoError(t, err)

	require.NoError(t, coll.CompareAndUpdate(ctx, id, 1, docstore.Fields{"members": []string{"u1"}}))

	found, err := coll.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.Version)
	assert.Equal(t, []string{"u1"}, found.Members)

	err = coll.CompareAndUpdate(ctx, id, 1, docstore.Fields{"members": []string{"u2"}})
	assert.ErrorIs(t, err, docstore.ErrConflict)

	err = coll.CompareAndUpdate(ctx, bson.NewObjectID().Hex(), 1, docstore.Fields{"members": []string{}})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, coll.UpdateFields(ctx, id, docstore.Fields{"name": "acme two", "version": 40}))
	found, err = coll.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "acme two", found.Name)
	assert.Equal(t, int64(3), found.Version)
	assert.Equal(t, []string{"u1"}, found.Members)
}

func TestLiveVersionlessDocument(t *testing.T) {
	coll, raw := newLiveCollection(t)
	ctx := context.Background()

	oid := bson.NewObjectID()
	_, err := raw.InsertOne(ctx, bson.D{{Key: "_id", Value: oid}, {Key: "name", Value: "legacy"}, {Key: "members", Value: bson.A{}}})
	require.NoError(t, err)

	require.NoError(t, coll.CompareAndUpdate(ctx, oid.Hex(), 0, docstore.Fields{"members": []string{"u1"}}))

	found, err := coll.FindByID(ctx, oid.Hex())
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Version)
}

func TestLiveFilterAndPage(t *testing.T) {
	coll, _ := newLiveCollection(t)
	ctx := context.Background()

	for _, name := range []string{"Alice", "alicia", "Bob", "MALICE", "ÉLISE", "a.c+"} {
		_, err := coll.Insert(ctx, &gadget{Name: name, Members: []string{}})
		require.NoError(t, err)
	}

	fold := docstore.Filter{Field: "name", Value: "ali", Match: docstore.MatchContainsFold}
	count, err := coll.Count(ctx, fold)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	page, err := coll.Find(ctx, fold, docstore.Page{Offset: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "alicia", page[0].Name)

	count, err = coll.Count(ctx, docstore.Filter{Field: "name", Value: "éli", Match: docstore.MatchContainsFold})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	docs, err := coll.Find(ctx, docstore.Filter{Field: "name", Value: "a.c+", Match: docstore.MatchContainsFold}, docstore.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.c+", docs[0].Name)

	count, err = coll.Count(ctx, docstore.Filter{Field: "name", Value: "alice", Match: docstore.MatchExact})
	require.NoError(t, err)
	assert.Zero(t, count)
}
