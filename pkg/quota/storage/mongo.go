package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// Collection name for quota records.
const colQuotaRecords = "quota_records"

// compile-time interface checks
var (
	_ Adapter = (*MemoryAdapter)(nil)
	_ Adapter = (*SQLiteAdapter)(nil)
	_ Adapter = (*RedisAdapter)(nil)
	_ Adapter = (*MongoAdapter)(nil)
)

// MongoAdapter implements Adapter using MongoDB, one document per identity.
// The record's version is a field on the document; compare-and-save is a
// ReplaceOne filtered on both _id and the expected version, so a lost race
// matches zero documents and surfaces as ErrVersionConflict.
type MongoAdapter struct {
	client *mongo.Client
	col    *mongo.Collection
}

// mongoRecord is the stored document shape.
type mongoRecord struct {
	ID          string           `bson:"_id"`
	Version     int64            `bson:"version"`
	Registered  bool             `bson:"registered"`
	Credits     int64            `bson:"credits"`
	LastResetAt time.Time        `bson:"last_reset_at"`
	Operations  []mongoOperation `bson:"operations"`
	UpdatedAt   time.Time        `bson:"updated_at"`
}

type mongoOperation struct {
	ID        string    `bson:"id"`
	Type      string    `bson:"type"`
	Cost      int64     `bson:"cost"`
	Timestamp time.Time `bson:"timestamp"`
}

// NewMongoAdapter creates a Mongo adapter on top of an existing client.
func NewMongoAdapter(client *mongo.Client, database string) *MongoAdapter {
	return &MongoAdapter{
		client: client,
		col:    client.Database(database).Collection(colQuotaRecords),
	}
}

// Migrate creates the indexes used by cleanup sweeps.
func (a *MongoAdapter) Migrate(ctx context.Context) error {
	_, err := a.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "updated_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("quota/mongo: migrate indexes: %w", err)
	}
	return nil
}

func toMongoRecord(identity string, version int64, rec *Record) *mongoRecord {
	ops := make([]mongoOperation, len(rec.Operations))
	for i, op := range rec.Operations {
		ops[i] = mongoOperation{
			ID:        op.ID,
			Type:      op.Type,
			Cost:      op.Cost,
			Timestamp: op.Timestamp,
		}
	}
	return &mongoRecord{
		ID:          identity,
		Version:     version,
		Registered:  rec.Registered,
		Credits:     rec.Credits,
		LastResetAt: rec.LastResetAt,
		Operations:  ops,
		UpdatedAt:   time.Now(),
	}
}

func fromMongoRecord(m *mongoRecord) *Record {
	ops := make([]OperationEntry, len(m.Operations))
	for i, op := range m.Operations {
		ops[i] = OperationEntry{
			ID:        op.ID,
			Type:      op.Type,
			Cost:      op.Cost,
			Timestamp: op.Timestamp,
		}
	}
	return &Record{
		Identity:    m.ID,
		Registered:  m.Registered,
		Credits:     m.Credits,
		LastResetAt: m.LastResetAt,
		Operations:  ops,
	}
}

// Load retrieves the record and its current version.
func (a *MongoAdapter) Load(ctx context.Context, identity string) (*Record, int64, error) {
	if identity == "" {
		return nil, 0, fmt.Errorf("identity cannot be empty")
	}

	var m mongoRecord
	err := a.col.FindOne(ctx, bson.M{"_id": identity}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: load: %v", ErrUnavailable, err)
	}
	return fromMongoRecord(&m), m.Version, nil
}

// Save persists the record unconditionally, bumping its version.
func (a *MongoAdapter) Save(ctx context.Context, identity string, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	m := toMongoRecord(identity, 0, rec)
	update := bson.M{
		"$set": bson.M{
			"registered":    m.Registered,
			"credits":       m.Credits,
			"last_reset_at": m.LastResetAt,
			"operations":    m.Operations,
			"updated_at":    m.UpdatedAt,
		},
		"$inc": bson.M{"version": int64(1)},
	}
	_, err := a.col.UpdateOne(ctx, bson.M{"_id": identity}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("%w: save: %v", ErrUnavailable, err)
	}
	return nil
}

// CompareAndSave persists the record only if the stored version still
// equals expectedVersion. expectedVersion 0 inserts a new document and
// fails with ErrVersionConflict if another writer inserted first.
func (a *MongoAdapter) CompareAndSave(ctx context.Context, identity string, expectedVersion int64, rec *Record) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}

	if expectedVersion == 0 {
		_, err := a.col.InsertOne(ctx, toMongoRecord(identity, 1, rec))
		if mongo.IsDuplicateKeyError(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
		}
		return nil
	}

	result, err := a.col.ReplaceOne(ctx,
		bson.M{"_id": identity, "version": expectedVersion},
		toMongoRecord(identity, expectedVersion+1, rec))
	if err != nil {
		return fmt.Errorf("%w: compare-and-save: %v", ErrUnavailable, err)
	}
	if result.MatchedCount == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Delete removes the record. No-op if it does not exist.
func (a *MongoAdapter) Delete(ctx context.Context, identity string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}
	if _, err := a.col.DeleteOne(ctx, bson.M{"_id": identity}); err != nil {
		return fmt.Errorf("%w: delete: %v", ErrUnavailable, err)
	}
	return nil
}

// Cleanup removes records idle since before olderThan.
func (a *MongoAdapter) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	result, err := a.col.DeleteMany(ctx, bson.M{"updated_at": bson.M{"$lt": olderThan}})
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", ErrUnavailable, err)
	}
	return int(result.DeletedCount), nil
}

// Ping probes database connectivity.
func (a *MongoAdapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close disconnects the underlying client.
func (a *MongoAdapter) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return a.client.Disconnect(ctx)
}
