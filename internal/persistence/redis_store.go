package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/synapse/pkg/api"
)

// RedisTraceStore is a TraceStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>run:<id>          => HASH with id, started_at, workflow_ref, seq
//	<prefix>runs              => ZSET of run IDs scored by start time (µs)
//	<prefix>nodes:<run id>    => LIST of JSON-encoded step attempts
//	<prefix>contexts:<run id> => LIST of JSON-encoded context versions
//	<prefix>seq               => counter for record IDs and run insertion order
type RedisTraceStore struct {
	client     *redis.Client
	prefix     string
	ownsClient bool
}

var _ TraceStore = (*RedisTraceStore)(nil)

// NewRedisTraceStore creates a RedisTraceStore.
// prefix is optional but recommended (e.g. "synapse:").
func NewRedisTraceStore(client *redis.Client, prefix string) *RedisTraceStore {
	if prefix == "" {
		prefix = "synapse:"
	}
	return &RedisTraceStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisTraceStore) keyRun(id string) string {
	return s.prefix + "run:" + id
}

func (s *RedisTraceStore) keyRuns() string {
	return s.prefix + "runs"
}

func (s *RedisTraceStore) keyNodes(runID string) string {
	return s.prefix + "nodes:" + runID
}

func (s *RedisTraceStore) keyContexts(runID string) string {
	return s.prefix + "contexts:" + runID
}

func (s *RedisTraceStore) keySeq() string {
	return s.prefix + "seq"
}

type redisAttemptPayload struct {
	ID         int64  `json:"id"`
	RunID      string `json:"run_id"`
	AgentID    string `json:"agent_id"`
	StepName   string `json:"node_name"`
	Input      string `json:"input"`
	Output     string `json:"output"`
	DurationNs int64  `json:"duration_ns"`
	Attempt    int    `json:"attempt"`
	Error      string `json:"error,omitempty"`
	TS         int64  `json:"ts"`
	Model      string `json:"model"`
}

type redisContextPayload struct {
	ID       int64  `json:"id"`
	RunID    string `json:"run_id"`
	Version  int    `json:"version"`
	StepName string `json:"node_name"`
	Snapshot string `json:"snapshot"`
	TS       int64  `json:"ts"`
}

func (s *RedisTraceStore) StartRun(ctx context.Context, run api.Run) error {
	seq, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return api.NewPersistenceError("start run", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.keyRun(run.ID),
			"id", run.ID,
			"started_at", run.StartedAt.UnixNano(),
			"workflow_ref", run.WorkflowRef,
			"seq", seq,
		)
		pipe.ZAdd(ctx, s.keyRuns(), redis.Z{
			Score:  float64(run.StartedAt.UnixMicro()),
			Member: run.ID,
		})
		return nil
	})
	return api.NewPersistenceError("start run", err)
}

func (s *RedisTraceStore) RecordStepAttempt(ctx context.Context, rec *api.StepAttempt) error {
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

	id, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}

	data, err := json.Marshal(redisAttemptPayload{
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
	if err := s.client.RPush(ctx, s.keyNodes(rec.RunID), data).Err(); err != nil {
		return api.NewPersistenceError("record step attempt", err)
	}
	rec.ID = id
	return nil
}

func (s *RedisTraceStore) RecordContextVersion(ctx context.Context, v *api.ContextVersion) error {
	snapshot, err := EncodeContext(v.Snapshot)
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	id, err := s.client.Incr(ctx, s.keySeq()).Result()
	if err != nil {
		return api.NewPersistenceError("record context version", err)
	}

	data, err := json.Marshal(redisContextPayload{
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
	if err := s.client.RPush(ctx, s.keyContexts(v.RunID), data).Err(); err != nil {
		return api.NewPersistenceError("record context version", err)
	}
	v.ID = id
	return nil
}

func (s *RedisTraceStore) ListRuns(ctx context.Context, limit int) ([]api.Run, error) {
	limit = normalizeLimit(limit)

	ids, err := s.candidateRunIDs(ctx, limit)
	if err != nil {
		return nil, api.NewPersistenceError("list runs", err)
	}
	if len(ids) == 0 {
		return []api.Run{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.keyRun(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, api.NewPersistenceError("list runs", err)
	}

	type seqRun struct {
		run api.Run
		seq int64
	}
	runs := make([]seqRun, 0, len(ids))
	for _, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil {
			return nil, api.NewPersistenceError("list runs", err)
		}
		if len(fields) == 0 {
			continue
		}
		startedAt, err := strconv.ParseInt(fields["started_at"], 10, 64)
		if err != nil {
			return nil, api.NewPersistenceError("list runs", err)
		}
		seq, _ := strconv.ParseInt(fields["seq"], 10, 64)
		runs = append(runs, seqRun{
			run: api.Run{
				ID:          fields["id"],
				StartedAt:   time.Unix(0, startedAt),
				WorkflowRef: fields["workflow_ref"],
			},
			seq: seq,
		})
	}

	// The ZSET orders equal scores lexicographically and truncates start
	// times to microseconds; restore nanosecond and insertion order.
	sort.SliceStable(runs, func(i, j int) bool {
		a, b := runs[i], runs[j]
		if !a.run.StartedAt.Equal(b.run.StartedAt) {
			return a.run.StartedAt.After(b.run.StartedAt)
		}
		return a.seq > b.seq
	})

	if len(runs) > limit {
		runs = runs[:limit]
	}
	out := make([]api.Run, len(runs))
	for i, r := range runs {
		out[i] = r.run
	}
	return out, nil
}

// candidateRunIDs returns the newest limit runs plus every run sharing the
// score of the last one. Scores are microseconds, so runs inside the same
// microsecond can only be ordered after their hashes are loaded.
func (s *RedisTraceStore) candidateRunIDs(ctx context.Context, limit int) ([]string, error) {
	edge, err := s.client.ZRevRangeWithScores(ctx, s.keyRuns(), int64(limit-1), int64(limit-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(edge) == 0 {
		// Fewer runs than limit.
		ids, err := s.client.ZRevRange(ctx, s.keyRuns(), 0, -1).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		return ids, nil
	}

	ids, err := s.client.ZRevRangeByScore(ctx, s.keyRuns(), &redis.ZRangeBy{
		Min: strconv.FormatFloat(edge[0].Score, 'f', -1, 64),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return ids, nil
}

func (s *RedisTraceStore) ListStepAttempts(ctx context.Context, runID string) ([]api.StepAttempt, error) {
	items, err := s.client.LRange(ctx, s.keyNodes(runID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, api.NewPersistenceError("list step attempts", err)
	}

	out := make([]api.StepAttempt, 0, len(items))
	for _, item := range items {
		var p redisAttemptPayload
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		in, err := DecodeContext(p.Input)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		output, err := DecodeValue(p.Output)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		info, err := DecodeErrorInfo(p.Error)
		if err != nil {
			return nil, api.NewPersistenceError("list step attempts", err)
		}
		out = append(out, api.StepAttempt{
			ID:        p.ID,
			RunID:     p.RunID,
			AgentID:   p.AgentID,
			StepName:  api.StepName(p.StepName),
			Input:     in,
			Output:    output,
			Duration:  time.Duration(p.DurationNs),
			Attempt:   p.Attempt,
			Error:     info,
			Timestamp: time.Unix(0, p.TS),
			Model:     p.Model,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *RedisTraceStore) ListContextVersions(ctx context.Context, runID string) ([]api.ContextVersion, error) {
	items, err := s.client.LRange(ctx, s.keyContexts(runID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, api.NewPersistenceError("list context versions", err)
	}

	out := make([]api.ContextVersion, 0, len(items))
	for _, item := range items {
		var p redisContextPayload
		if err := json.Unmarshal([]byte(item), &p); err != nil {
			return nil, api.NewPersistenceError("list context versions", err)
		}
		snap, err := DecodeContext(p.Snapshot)
		if err != nil {
			return nil, api.NewPersistenceError("list context versions", err)
		}
		out = append(out, api.ContextVersion{
			ID:        p.ID,
			RunID:     p.RunID,
			Version:   p.Version,
			StepName:  api.StepName(p.StepName),
			Snapshot:  snap,
			Timestamp: time.Unix(0, p.TS),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Version != out[j].Version {
			return out[i].Version < out[j].Version
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close closes the client if the store created it.
func (s *RedisTraceStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return api.NewPersistenceError("close", s.client.Close())
}
