package persistence

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/synapse/pkg/api"
)

// MongoTraceStore is a TraceStore backed by MongoDB. It keeps one
// collection per record kind (runs, nodes, contexts) plus a counters
// collection that hands out record IDs.
type MongoTraceStore struct {
	client     *mongo.Client
	runs       *mongo.Collection
	nodes      *mongo.Collection
	contexts   *mongo.Collection
	counters   *mongo.Collection
	ownsClient bool
}

var _ TraceStore = (*MongoTraceStore)(nil)

// NewMongoTraceStore creates a Mongo-backed trace store and ensures its
// indexes. dbName defaults to "synapse" if empty.
func NewMongoTraceStore(ctx context.Context, client *mongo.Client, dbName string) (*MongoTraceStore, error) {
	if dbName == "" {
		dbName = "synapse"
	}
	db := client.Database(dbName)
	s := &MongoTraceStore{
		client:   client,
		runs:     db.Collection("runs"),
		nodes:    db.Collection("nodes"),
		contexts: db.Collection("contexts"),
		counters: db.Collection("counters"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		return nil, api.NewPersistenceError("init schema", err)
	}
	return s, nil
}

func (s *MongoTraceStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "started_at", Value: -1}, {Key: "seq", Value: -1}},
	}); err != nil {
		return err
	}
	if _, err := s.nodes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "ts", Value: 1}},
	}); err != nil {
		return err
	}
	_, err := s.contexts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "version", Value: 1}},
	})
	return err
}

type mongoRunDoc struct {
	ID          string `bson:"_id"`
	Seq         int64  `bson:"seq"`
	StartedAt   int64  `bson:"started_at"`
	WorkflowRef string `bson:"workflow_ref"`
}

type mongoAttemptDoc struct {
	ID         int64  `bson:"_id"`
	RunID      string `bson:"run_id"`
	AgentID    string `bson:"agent_id"`
	StepName   string `bson:"node_name"`
	Input      string `bson:"input"`
	Output     string `bson:"output"`
	DurationNs int64  `bson:"duration_ns"`
	Attempt    int    `bson:"attempt"`
	Error      string `bson:"error,omitempty"`
	TS         int64  `bson:"ts"`
	Model      string `bson:"model"`
}

type mongoContextDoc struct {
	ID       int64  `bson:"_id"`
	RunID    string `bson:"run_id"`
	Version  int    `bson:"version"`
	StepName string `bson:"node_name"`
	Snapshot string `bson:"snapshot"`
	TS       int64  `bson:"ts"`
}

// nextID atomically increments the named counter.
func (s *MongoTraceStore) nextID(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"value": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		return 0, err
	}
	return doc.Value, nil
}

func (s *MongoTraceStore) StartRun(ctx context.Context, run api.Run) error {
	seq, err := s.nextID(ctx, "runs")
	if err != nil {
		return api.NewPersistenceError("start run", err)
	}
	doc := mongoRunDoc{
		ID:          run.ID,
		Seq:         seq,
		StartedAt:   run.StartedAt.UnixNano(),
		WorkflowRef: run.WorkflowRef,
	}
	_, err = s.runs.ReplaceOne(ctx, bson.M{"_id": run.ID}, doc, options.Replace().SetUpsert(true))
	return api.NewPersistenceError("start run", err)
}

func (s *MongoTraceStore) RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error {
	input, err := EncodeContext(rec.Input)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	output, err := EncodeValue(rec.Output)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	errInfo, err := EncodeErrorInfo(rec.Error)
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}

	id, err := s.nextID(ctx, "nodes")
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}

	_, err = s.nodes.InsertOne(ctx, mongoAttemptDoc{
		ID:         id,
		RunID:      rec.RunID,
		AgentID:    rec.AgentID,
		StepName:   string(rec.StepName),
		Input:      input,
		Output:     output,
		DurationNs: rec.Duration.Nanoseconds(),
		Attempt:    rec.Attempt,
		Error:      errInfo,
		TS:         rec.Timestamp.UnixNano(),
		Model:      rec.Model,
	})
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	rec.ID = id
	return nil
}

func (s *MongoTraceStore) RecordContextVersion(ctx context.Context, v *api.ContextVersion) error {
	snapshot, err := EncodeContext(v.Snapshot)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	id, err := s.nextID(ctx, "contexts")
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	_, err = s.contexts.InsertOne(ctx, mongoContextDoc{
		ID:       id,
		RunID:    v.RunID,
		Version:  v.Version,
		StepName: string(v.StepName),
		Snapshot: snapshot,
		TS:       v.Timestamp.UnixNano(),
	})
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}
	v.ID = id
	return nil
}

func (s *MongoTraceStore) ListRuns(ctx context.Context, limit int) ([]api.Run, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}, {Key: "seq", Value: -1}}).
		SetLimit(int64(normalizeLimit(limit)))

	cur, err := s.runs.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, api.NewPersistenceError("list runs", err)
	}
	defer cur.Close(ctx)

	runs := []api.Run{}
	for cur.Next(ctx) {
		var doc mongoRunDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, api.NewPersistenceError("list runs", err)
		}
		runs = append(runs, api.Run{
			ID:          doc.ID,
			StartedAt:   time.Unix(0, doc.StartedAt),
			WorkflowRef: doc.WorkflowRef,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, api.NewPersistenceError("list runs", err)
	}
	return runs, nil
}

func (s *MongoTraceStore) ListStepAttempts(ctx context.Context, runID string) ([]api.StepAttempt, error) {
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.nodes.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, api.NewPersistenceError("list step attempts", err)
	}
	defer cur.Close(ctx)

	out := []api.StepAttempt{}
	for cur.Next(ctx) {
		var doc mongoAttemptDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		in, err := DecodeContext(doc.Input)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		output, err := DecodeValue(doc.Output)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		info, err := DecodeErrorInfo(doc.Error)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		out = append(out, api.StepAttempt{
			ID:        doc.ID,
			RunID:     doc.RunID,
			AgentID:   doc.AgentID,
			StepName:  api.StepName(doc.StepName),
			Input:     in,
			Output:    output,
			Duration:  time.Duration(doc.DurationNs),
			Attempt:   doc.Attempt,
			Error:     info,
			Timestamp: time.Unix(0, doc.TS),
			Model:     doc.Model,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, api.NewPersistenceError("list step attempts", err)
	}
	return out, nil
}

func (s *MongoTraceStore) ListContextVersions(ctx context.Context, runID string) ([]api.ContextVersion, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.contexts.Find(ctx, bson.M{"run_id": runID}, opts)
	if err != nil {
		return nil, api.NewPersistenceError("list context versions", err)
	}
	defer cur.Close(ctx)

	out := []api.ContextVersion{}
	for cur.Next(ctx) {
		var doc mongoContextDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, api.NewPersistenceError("list context versions", err)
		}
		snap, err := DecodeContext(doc.Snapshot)
		if err != nil {
			return nil, api.NewPersistenceError("list context versions", err)
		}
		out = append(out, api.ContextVersion{
			ID:        doc.ID,
			RunID:     doc.RunID,
			Version:   doc.Version,
			StepName:  api.StepName(doc.StepName),
			Snapshot:  snap,
			Timestamp: time.Unix(0, doc.TS),
		})
	}
	if err := cur.Err(); err != nil {
		return nil, api.NewPersistenceError("list context versions", err)
	}
	return out, nil
}

// Close disconnects the client if the store created it.
func (s *MongoTraceStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.client.Disconnect(ctx)
	if errors.Is(err, mongo.ErrClientDisconnected) {
		err = nil
	}
	return api.NewPersistenceError("close", err)
}
