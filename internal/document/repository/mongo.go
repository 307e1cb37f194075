package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/copad/copad/internal/document"
)

// MongoRepo implements a MongoDB-backed repository for documents. Documents
// are stored with an "id" string field; versions are embedded in the
// document record since history is read and written together with the body.
type MongoRepo struct {
	col *mongo.Collection
}

func NewMongoRepo(col *mongo.Collection) *MongoRepo {
	// ensure an index on "id" for fast lookups (id is expected unique)
	idxModel := mongo.IndexModel{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)}
	col.Indexes().CreateOne(context.Background(), idxModel)
	return &MongoRepo{col: col}
}

func (m *MongoRepo) Create(doc *document.Document) (string, error) {
	now := time.Now()
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Versions == nil {
		doc.Versions = []document.Version{}
	}
	_, err := m.col.InsertOne(context.Background(), doc)
	if err != nil {
		return "", err
	}
	return doc.ID, nil
}

func (m *MongoRepo) Get(id string) (*document.Document, error) {
	var d document.Document
	err := m.col.FindOne(context.Background(), bson.M{"id": id}).Decode(&d)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (m *MongoRepo) List() ([]*document.Document, error) {
	cur, err := m.col.Find(context.Background(), bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(context.Background())
	out := []*document.Document{}
	for cur.Next(context.Background()) {
		var d document.Document
		if err := cur.Decode(&d); err != nil {
			return nil, err
		}
		out = append(out, &d)
	}
	return out, nil
}

func (m *MongoRepo) Update(id string, content string, editorID string, title *string) error {
	now := time.Now()
	set := bson.M{"content": content, "updatedAt": now}
	if title != nil {
		set["title"] = *title
	}
	ver := document.Version{ID: uuid.NewString(), Content: content, EditorID: editorID, CreatedAt: now}
	res, err := m.col.UpdateOne(context.Background(), bson.M{"id": id},
		bson.M{"$set": set, "$push": bson.M{"versions": ver}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *MongoRepo) Revert(id string, index int, editorID string) (*document.Document, error) {
	// Read-modify-write: the revert target is resolved from the fetched
	// version list, then appended like a normal save.
	d, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(d.Versions) {
		return nil, ErrBadIndex
	}
	restored := d.Versions[index].Content
	if err := m.Update(id, restored, editorID, nil); err != nil {
		return nil, err
	}
	return m.Get(id)
}

func (m *MongoRepo) Delete(id string) error {
	res, err := m.col.DeleteOne(context.Background(), bson.M{"id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}
