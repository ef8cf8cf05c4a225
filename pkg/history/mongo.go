package history

import (
	"context"
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/comfyaudit/pkg/audit"
	"github.com/matzehuels/comfyaudit/pkg/errors"
)

// DefaultDatabase is used when config names a mongo URI but no database.
const DefaultDatabase = "comfyaudit"

const runsCollection = "runs"

// MongoStore persists runs in a MongoDB collection. The full result is
// stored as a JSON blob next to its summary fields so the version types
// keep their canonical string encoding without a bson codec.
type MongoStore struct {
	client *mongo.Client
	runs   *mongo.Collection
}

type mongoRun struct {
	Record `bson:",inline"`
	Result []byte `bson:"result"`
}

// NewMongoStore connects to uri and prepares the runs collection. The
// given context bounds the initial connect, ping, and index creation.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if database == "" {
		database = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "connecting to mongodb")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(errors.ErrCodeNetwork, err, "pinging mongodb")
	}

	runs := client.Database(database).Collection(runsCollection)
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "run_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "started_at", Value: -1}}},
	}
	if _, err := runs.Indexes().CreateMany(ctx, indexes); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "creating history indexes")
	}

	return &MongoStore{client: client, runs: runs}, nil
}

// Save upserts the run so re-saving an ID never duplicates it.
func (s *MongoStore) Save(ctx context.Context, result *audit.Result) error {
	if err := validateRunID(result.RunID); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	doc := mongoRun{Record: Summarize(result), Result: data}
	_, err = s.runs.ReplaceOne(ctx, bson.M{"run_id": result.RunID}, doc, options.Replace().SetUpsert(true))
	return err
}

// List returns run summaries newest first, projecting the result blobs
// away so listings stay cheap.
func (s *MongoStore) List(ctx context.Context, limit int) ([]Record, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetProjection(bson.M{"result": 0})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []Record
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Get returns the full stored result for runID.
func (s *MongoStore) Get(ctx context.Context, runID string) (*audit.Result, error) {
	if err := validateRunID(runID); err != nil {
		return nil, err
	}

	var doc mongoRun
	err := s.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, errors.New(errors.ErrCodeRunNotFound, "run %s not found", runID)
	}
	if err != nil {
		return nil, err
	}

	var result audit.Result
	if err := json.Unmarshal(doc.Result, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Prune removes all but the newest keep runs.
func (s *MongoStore) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetSkip(int64(keep)).
		SetProjection(bson.M{"run_id": 1})
	cursor, err := s.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var stale []struct {
		RunID string `bson:"run_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, len(stale))
	for i, doc := range stale {
		ids[i] = doc.RunID
	}
	res, err := s.runs.DeleteMany(ctx, bson.M{"run_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

// Close disconnects from the server.
func (s *MongoStore) Close() error {
	return s.client.Disconnect(context.Background())
}

var _ Store = (*MongoStore)(nil)
