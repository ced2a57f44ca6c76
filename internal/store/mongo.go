package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/scenegen/internal/config"
	"github.com/yourorg/scenegen/pkg/types"
)

const codeNamespaceExists = 48

type sceneDocument struct {
	ID    primitive.ObjectID `bson:"_id"`
	Scene types.Scene        `bson:",inline"`
}

// MongoStore keeps scenes in a MongoDB collection.
type MongoStore struct {
	coll   *mongo.Collection
	client *mongo.Client
	now    func() time.Time
}

// NewMongoStore wraps an existing collection. The caller owns the client.
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// OpenMongo connects to cfg.MongoURI, installs the collection validator and
// returns a store that owns the client.
func OpenMongo(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := options.Client().
		ApplyURI(cfg.MongoURI).
		SetServerSelectionTimeout(30 * time.Second).
		SetSocketTimeout(45 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(cfg.Database)
	if err := EnsureSchema(ctx, db, cfg.Collection); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("database connected", "driver", "mongo", "database", cfg.Database, "collection", cfg.Collection)
	s := NewMongoStore(db.Collection(cfg.Collection))
	s.client = client
	return s, nil
}

// EnsureSchema creates the collection with a $jsonSchema validator matching
// Validate. An existing collection is left untouched.
func EnsureSchema(ctx context.Context, db *mongo.Database, name string) error {
	statuses := make(bson.A, 0, len(types.Statuses))
	for _, s := range types.Statuses {
		statuses = append(statuses, string(s))
	}
	validator := bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"topic", "manimCode", "status"},
			"properties": bson.M{
				"topic":     bson.M{"bsonType": "string", "minLength": 1},
				"manimCode": bson.M{"bsonType": "string", "minLength": 1},
				"audioUrl":  bson.M{"bsonType": "string"},
				"videoUrl":  bson.M{"bsonType": "string"},
				"status":    bson.M{"enum": statuses},
				"createdAt": bson.M{"bsonType": "date"},
				"updatedAt": bson.M{"bsonType": "date"},
			},
		},
	}
	err := db.CreateCollection(ctx, name, options.CreateCollection().SetValidator(validator))
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code == codeNamespaceExists {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

func (s *MongoStore) Create(ctx context.Context, scene *types.Scene) (string, error) {
	rec, err := prepare(scene, s.now())
	if err != nil {
		return "", err
	}
	doc := sceneDocument{ID: primitive.NewObjectID(), Scene: rec}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("%w: insert scene: %v", types.ErrPersistence, err)
	}
	return doc.ID.Hex(), nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*types.Scene, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, types.ErrNotFound
	}
	var doc sceneDocument
	err = s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: oid}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find scene %s: %w", id, err)
	}
	out := doc.Scene
	out.ID = doc.ID.Hex()
	return &out, nil
}

func (s *MongoStore) List(ctx context.Context, limit int) ([]types.Scene, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(int64(clampLimit(limit)))
	cur, err := s.coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]types.Scene, 0)
	for cur.Next(ctx) {
		var doc sceneDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		sc := doc.Scene
		sc.ID = doc.ID.Hex()
		out = append(out, sc)
	}
	return out, cur.Err()
}

// Close disconnects the client when the store opened it itself.
func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
