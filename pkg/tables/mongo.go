package tables

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/matzehuels/nlink/pkg/cache"
	nlerrors "github.com/matzehuels/nlink/pkg/errors"
)

// RunsCollection holds run manifests.
const RunsCollection = "runs"

// MongoConfig configures a MongoSink.
type MongoConfig struct {
	URI      string
	Database string
}

// duplicateKey is the server code for a unique index violation.
const duplicateKey = 11000

// MongoSink writes each table to a collection of one database. Batches are
// unordered inserts; network failures are retried with backoff.
//
// Every row gets an _id of "<sink>/<table>/<seq>" before the first attempt,
// so a retry after a partly applied batch re-inserts the same ids and the
// duplicate-key errors it gets back are dropped.
type MongoSink struct {
	client *mongo.Client
	db     *mongo.Database

	prefix string
	mu     sync.Mutex
	seq    map[string]int64
}

// NewMongoSink connects and pings the server.
func NewMongoSink(ctx context.Context, cfg MongoConfig) (*MongoSink, error) {
	if err := nlerrors.ValidateURI(cfg.URI, "mongodb", "mongodb+srv"); err != nil {
		return nil, err
	}
	if cfg.Database == "" {
		return nil, nlerrors.New(nlerrors.ErrCodeInvalidInput, "mongo database name is required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &MongoSink{
		client: client,
		db:     client.Database(cfg.Database),
		prefix: uuid.NewString(),
		seq:    make(map[string]int64),
	}, nil
}

// WriteBatch inserts rows into the table's collection.
func (s *MongoSink) WriteBatch(ctx context.Context, table string, rows []any) error {
	s.mu.Lock()
	first := s.seq[table]
	s.seq[table] += int64(len(rows))
	s.mu.Unlock()

	docs, err := keyedDocuments(s.prefix+"/"+table, first, rows)
	if err != nil {
		return fmt.Errorf("encode %s rows: %w", table, err)
	}
	coll := s.db.Collection(table)
	opts := options.InsertMany().SetOrdered(false)
	attempt := 0
	return cache.RetryWithBackoff(ctx, func() error {
		attempt++
		_, err := coll.InsertMany(ctx, docs, opts)
		if attempt > 1 && onlyDuplicates(err) {
			return nil
		}
		return classify(err)
	})
}

// keyedDocuments encodes rows as documents whose first field is an _id of
// prefix and the row's sequence number.
func keyedDocuments(prefix string, first int64, rows []any) ([]any, error) {
	docs := make([]any, len(rows))
	for i, row := range rows {
		raw, err := bson.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", first+int64(i), err)
		}
		var fields bson.D
		if err := bson.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("row %d: %w", first+int64(i), err)
		}
		doc := make(bson.D, 0, len(fields)+1)
		doc = append(doc, bson.E{Key: "_id", Value: fmt.Sprintf("%s/%d", prefix, first+int64(i))})
		for _, f := range fields {
			if f.Key != "_id" {
				doc = append(doc, f)
			}
		}
		docs[i] = doc
	}
	return docs, nil
}

// onlyDuplicates reports whether err is a bulk write failure made up only of
// duplicate-key errors, i.e. every failed row was already stored.
func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if we.Code != duplicateKey {
			return false
		}
	}
	return true
}

// WriteManifest upserts the manifest into the runs collection.
func (s *MongoSink) WriteManifest(ctx context.Context, m Manifest) error {
	coll := s.db.Collection(RunsCollection)
	return cache.RetryWithBackoff(ctx, func() error {
		_, err := coll.ReplaceOne(ctx, map[string]any{"_id": m.RunID}, m,
			options.Replace().SetUpsert(true))
		return classify(err)
	})
}

// Close disconnects the client.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// classify marks transient driver errors retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return cache.Retryable(errors.Join(cache.ErrNetwork, err))
	}
	return err
}

var _ Sink = (*MongoSink)(nil)
