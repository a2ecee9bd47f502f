// Package mongostore implements docstore collections on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/smallbiznis/orgaccess/pkg/docstore"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const idField = "_id"

type collection[T any, PT docstore.DocumentPtr[T]] struct {
	coll *mongo.Collection
}

// New returns a collection bound to db.Collection(name). Documents keep
// their id outside of the encoded body; it is stored as the ObjectID _id.
func New[T any, PT docstore.DocumentPtr[T]](db *mongo.Database, name string) docstore.Collection[T] {
	return &collection[T, PT]{coll: db.Collection(name)}
}

func (c *collection[T, PT]) Name() string { return c.coll.Name() }

func (c *collection[T, PT]) FindByID(ctx context.Context, id string) (*T, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return nil, docstore.ErrNotFound
	}

	raw, err := c.coll.FindOne(ctx, bson.D{{Key: idField, Value: oid}}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docstore.ErrNotFound
		}
		return nil, docstore.Wrap("find_by_id", c.Name(), err)
	}

	doc, err := decodeDocument[T, PT](raw)
	if err != nil {
		return nil, docstore.Wrap("find_by_id", c.Name(), err)
	}
	return doc, nil
}

func (c *collection[T, PT]) Find(ctx context.Context, filter docstore.Filter, page docstore.Page) ([]*T, error) {
	opts := options.Find().SetSort(bson.D{{Key: idField, Value: 1}})
	if page.Offset > 0 {
		opts.SetSkip(page.Offset)
	}
	if page.Limit > 0 {
		opts.SetLimit(page.Limit)
	}

	cur, err := c.coll.Find(ctx, filterDocument(filter), opts)
	if err != nil {
		return nil, docstore.Wrap("find", c.Name(), err)
	}
	defer cur.Close(ctx)

	docs := make([]*T, 0)
	for cur.Next(ctx) {
		doc, err := decodeDocument[T, PT](cur.Current)
		if err != nil {
			return nil, docstore.Wrap("find", c.Name(), err)
		}
		docs = append(docs, doc)
	}
	if err := cur.Err(); err != nil {
		return nil, docstore.Wrap("find", c.Name(), err)
	}
	return docs, nil
}

func (c *collection[T, PT]) Count(ctx context.Context, filter docstore.Filter) (int64, error) {
	count, err := c.coll.CountDocuments(ctx, filterDocument(filter))
	if err != nil {
		return 0, docstore.Wrap("count", c.Name(), err)
	}
	return count, nil
}

func (c *collection[T, PT]) Insert(ctx context.Context, doc *T) (string, error) {
	ptr := PT(doc)
	oid := bson.NewObjectID()
	ptr.SetDocumentVersion(1)

	body, err := encodeDocument(oid, doc)
	if err != nil {
		ptr.SetDocumentVersion(0)
		return "", docstore.Wrap("insert", c.Name(), err)
	}
	if _, err := c.coll.InsertOne(ctx, body); err != nil {
		ptr.SetDocumentVersion(0)
		return "", docstore.Wrap("insert", c.Name(), err)
	}

	ptr.SetDocumentID(oid.Hex())
	return oid.Hex(), nil
}

func (c *collection[T, PT]) UpdateFields(ctx context.Context, id string, fields docstore.Fields) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return docstore.ErrNotFound
	}

	res, err := c.coll.UpdateOne(ctx, bson.D{{Key: idField, Value: oid}}, updateDocument(fields))
	if err != nil {
		return docstore.Wrap("update_fields", c.Name(), err)
	}
	if res.MatchedCount == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

func (c *collection[T, PT]) CompareAndUpdate(ctx context.Context, id string, version int64, fields docstore.Fields) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return docstore.ErrNotFound
	}

	filter := bson.D{{Key: idField, Value: oid}, versionCondition(version)}
	res, err := c.coll.UpdateOne(ctx, filter, updateDocument(fields))
	if err != nil {
		return docstore.Wrap("compare_and_update", c.Name(), err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := c.coll.CountDocuments(ctx, bson.D{{Key: idField, Value: oid}})
	if err != nil {
		return docstore.Wrap("compare_and_update", c.Name(), err)
	}
	if count == 0 {
		return docstore.ErrNotFound
	}
	return docstore.ErrConflict
}

// versionCondition treats version 0 as a document written before
// versioning existed, i.e. one without the field.
func versionCondition(version int64) bson.E {
	if version == 0 {
		return bson.E{Key: docstore.VersionField, Value: bson.D{{Key: "$exists", Value: false}}}
	}
	return bson.E{Key: docstore.VersionField, Value: version}
}

func filterDocument(filter docstore.Filter) bson.D {
	if filter.IsZero() {
		return bson.D{}
	}
	if filter.Match == docstore.MatchContainsFold {
		return bson.D{{Key: filter.Field, Value: bson.Regex{Pattern: regexp.QuoteMeta(filter.Value), Options: "i"}}}
	}
	return bson.D{{Key: filter.Field, Value: filter.Value}}
}

func updateDocument(fields docstore.Fields) bson.D {
	set := bson.M{}
	for key, value := range fields {
		if key == docstore.VersionField || key == idField {
			continue
		}
		set[key] = value
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	return append(update, bson.E{Key: "$inc", Value: bson.D{{Key: docstore.VersionField, Value: 1}}})
}

func encodeDocument(oid bson.ObjectID, doc any) (bson.D, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var body bson.D
	if err := bson.Unmarshal(raw, &body); err != nil {
		return nil, err
	}

	out := make(bson.D, 0, len(body)+1)
	out = append(out, bson.E{Key: idField, Value: oid})
	for _, elem := range body {
		if elem.Key == idField {
			continue
		}
		out = append(out, elem)
	}
	return out, nil
}

func decodeDocument[T any, PT docstore.DocumentPtr[T]](raw bson.Raw) (*T, error) {
	doc := new(T)
	if err := bson.Unmarshal(raw, doc); err != nil {
		return nil, err
	}
	oid, ok := raw.Lookup(idField).ObjectIDOK()
	if !ok {
		return nil, fmt.Errorf("document has no object id")
	}
	PT(doc).SetDocumentID(oid.Hex())
	return doc, nil
}
