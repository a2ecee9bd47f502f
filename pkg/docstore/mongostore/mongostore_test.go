package mongostore

import (
	"testing"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

type gadget struct {
	ID      string   `bson:"-"`
	Name    string   `bson:"name"`
	Members []string `bson:"members"`
	Version int64    `bson:"version"`
}

func (g *gadget) DocumentID() string               { return g.ID }
func (g *gadget) SetDocumentID(id string)          { g.ID = id }
func (g *gadget) DocumentVersion() int64           { return g.Version }
func (g *gadget) SetDocumentVersion(version int64) { g.Version = version }

func TestEncodeDecodeKeepsIDOutsideBody(t *testing.T) {
	oid := bson.NewObjectID()
	doc := &gadget{ID: "ignored", Name: "acme", Members: []string{"u1"}, Version: 3}

	body, err := encodeDocument(oid, doc)
	require.NoError(t, err)
	require.NotEmpty(t, body)
	assert.Equal(t, "_id", body[0].Key)
	assert.Equal(t, oid, body[0].Value)

	raw, err := bson.Marshal(body)
	require.NoError(t, err)

	decoded, err := decodeDocument[gadget](raw)
	require.NoError(t, err)
	assert.Equal(t, oid.Hex(), decoded.ID)
	assert.Equal(t, "acme", decoded.Name)
	assert.Equal(t, []string{"u1"}, decoded.Members)
	assert.Equal(t, int64(3), decoded.Version)
}

func TestDecodeRequiresObjectID(t *testing.T) {
	raw, err := bson.Marshal(bson.D{{Key: "name", Value: "acme"}})
	require.NoError(t, err)

	_, err = decodeDocument[gadget](raw)
	assert.Error(t, err)
}

func TestFilterDocument(t *testing.T) {
	assert.Empty(t, filterDocument(docstore.Filter{}))

	exact := filterDocument(docstore.Filter{Field: "name", Value: "Acme", Match: docstore.MatchExact})
	assert.Equal(t, bson.D{{Key: "name", Value: "Acme"}}, exact)

	fold := filterDocument(docstore.Filter{Field: "name", Value: "a.c+", Match: docstore.MatchContainsFold})
	require.Len(t, fold, 1)
	assert.Equal(t, bson.Regex{Pattern: `a\.c\+`, Options: "i"}, fold[0].Value)
}

func TestUpdateDocumentOwnsVersion(t *testing.T) {
	update := updateDocument(docstore.Fields{"name": "acme", "version": 99, "_id": "x"})
	require.Len(t, update, 2)

	assert.Equal(t, "$set", update[0].Key)
	assert.Equal(t, bson.M{"name": "acme"}, update[0].Value)
	assert.Equal(t, "$inc", update[1].Key)
	assert.Equal(t, bson.D{{Key: "version", Value: 1}}, update[1].Value)

	onlyInc := updateDocument(docstore.Fields{})
	require.Len(t, onlyInc, 1)
	assert.Equal(t, "$inc", onlyInc[0].Key)
}

func TestVersionCondition(t *testing.T) {
	assert.Equal(t, bson.E{Key: "version", Value: int64(4)}, versionCondition(4))
	assert.Equal(t, bson.E{Key: "version", Value: bson.D{{Key: "$exists", Value: false}}}, versionCondition(0))
}
