package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tenantflow/engine/types"
)

const (
	workflowPrefix  = "workflow:"
	versionPrefix   = "version:"
	executionPrefix = "execution:"
	jobPrefix       = "job:"
	tenantPrefix    = "tenant:"
	execIndexPrefix = "executions:"
	jobIndexKey     = "jobs"
	workflowIndex   = "workflows"
)

// RedisStore is a Redis-backed implementation of the Store interface.
// Records are stored as JSON blobs under prefixed keys; tenant and
// execution listings go through set/list indexes maintained on save.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
}

// NewRedisStore creates a new RedisStore instance with configurable options.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return &RedisStore{client: client}, nil
}

// setJSON saves a value as a JSON blob under key.
func (s *RedisStore) setJSON(ctx context.Context, key string, value interface{}) error {
	return withContextError(ctx, func() error {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %v", key, err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %v", key, err)
		}
		return nil
	})
}

// getJSON retrieves and unmarshals a JSON blob stored under key.
func getJSON[T any](ctx context.Context, client *redis.Client, key string, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		var zero T
		data, err := client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%w: key=%s", errNotFound, key)
		} else if err != nil {
			return zero, fmt.Errorf("failed to get %s from Redis: %v", key, err)
		}

		var result T
		if err := json.Unmarshal(data, &result); err != nil {
			return zero, fmt.Errorf("failed to unmarshal %s: %v", key, err)
		}
		return result, nil
	})
}

// SaveWorkflow saves a workflow and maintains the tenant and global
// indexes.
func (s *RedisStore) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	if err := s.setJSON(ctx, workflowPrefix+wf.ID, wf); err != nil {
		return err
	}
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, tenantPrefix+wf.TenantID+":workflows", wf.ID)
	pipe.SAdd(ctx, workflowIndex, wf.ID)
	_, err := pipe.Exec(ctx)
	return err
}

// GetWorkflow retrieves a workflow from Redis.
func (s *RedisStore) GetWorkflow(ctx context.Context, id string) (types.Workflow, error) {
	return getJSON[types.Workflow](ctx, s.client, workflowPrefix+id, ErrWorkflowNotFound)
}

// DeleteWorkflow removes a workflow, its versions, its job and its index
// entries.
func (s *RedisStore) DeleteWorkflow(ctx context.Context, id string) error {
	return withContextError(ctx, func() error {
		wf, err := s.GetWorkflow(ctx, id)
		if err != nil {
			return err
		}

		keys, err := s.client.Keys(ctx, versionPrefix+id+":*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan version keys: %v", err)
		}

		pipe := s.client.Pipeline()
		pipe.Del(ctx, workflowPrefix+id, jobPrefix+id, execIndexPrefix+id)
		if len(keys) > 0 {
			pipe.Del(ctx, keys...)
		}
		pipe.SRem(ctx, tenantPrefix+wf.TenantID+":workflows", id)
		pipe.SRem(ctx, workflowIndex, id)
		pipe.SRem(ctx, jobIndexKey, id)
		_, err = pipe.Exec(ctx)
		return err
	})
}

// ListWorkflows lists a tenant's workflows via the tenant index, or all
// workflows via the global index when tenantID is empty.
func (s *RedisStore) ListWorkflows(ctx context.Context, tenantID string, f ListFilter) ([]types.Workflow, error) {
	return withContext(ctx, func() ([]types.Workflow, error) {
		indexKey := workflowIndex
		if tenantID != "" {
			indexKey = tenantPrefix + tenantID + ":workflows"
		}
		ids, err := s.client.SMembers(ctx, indexKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list tenant workflows: %v", err)
		}

		var out []types.Workflow
		for _, id := range ids {
			wf, err := s.GetWorkflow(ctx, id)
			if errors.Is(err, ErrWorkflowNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			if f.Status != "" && wf.Status != f.Status {
				continue
			}
			if f.Category != "" && wf.Category != f.Category {
				continue
			}
			out = append(out, wf)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

		if f.Skip > 0 {
			if f.Skip >= len(out) {
				return nil, nil
			}
			out = out[f.Skip:]
		}
		if f.Limit > 0 && f.Limit < len(out) {
			out = out[:f.Limit]
		}
		return out, nil
	})
}

func versionKey(workflowID string, version int) string {
	return fmt.Sprintf("%s%s:%d", versionPrefix, workflowID, version)
}

// SaveVersion appends a version snapshot.
func (s *RedisStore) SaveVersion(ctx context.Context, v types.WorkflowVersion) error {
	return s.setJSON(ctx, versionKey(v.WorkflowID, v.Version), v)
}

// GetVersion retrieves one version snapshot.
func (s *RedisStore) GetVersion(ctx context.Context, workflowID string, version int) (types.WorkflowVersion, error) {
	return getJSON[types.WorkflowVersion](ctx, s.client, versionKey(workflowID, version), ErrVersionNotFound)
}

// ListVersions lists version snapshots, oldest first.
func (s *RedisStore) ListVersions(ctx context.Context, workflowID string) ([]types.WorkflowVersion, error) {
	return withContext(ctx, func() ([]types.WorkflowVersion, error) {
		keys, err := s.client.Keys(ctx, versionPrefix+workflowID+":*").Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan version keys: %v", err)
		}

		var out []types.WorkflowVersion
		for _, key := range keys {
			v, err := getJSON[types.WorkflowVersion](ctx, s.client, key, ErrVersionNotFound)
			if errors.Is(err, ErrVersionNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
		return out, nil
	})
}

// SaveExecution saves an execution and pushes it onto the per-workflow
// index the first time it is seen.
func (s *RedisStore) SaveExecution(ctx context.Context, exec types.WorkflowExecution) error {
	key := fmt.Sprintf("%s%d", executionPrefix, exec.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check %s: %v", key, err)
	}
	if err := s.setJSON(ctx, key, exec); err != nil {
		return err
	}
	if exists == 0 {
		return s.client.LPush(ctx, execIndexPrefix+exec.WorkflowID, exec.ID).Err()
	}
	return nil
}

// GetExecution retrieves an execution from Redis.
func (s *RedisStore) GetExecution(ctx context.Context, id uint64) (types.WorkflowExecution, error) {
	return getJSON[types.WorkflowExecution](ctx, s.client, fmt.Sprintf("%s%d", executionPrefix, id), ErrExecutionNotFound)
}

// ListExecutions lists a workflow's executions, most recent first.
func (s *RedisStore) ListExecutions(ctx context.Context, workflowID string, limit int) ([]types.WorkflowExecution, error) {
	return withContext(ctx, func() ([]types.WorkflowExecution, error) {
		stop := int64(-1)
		if limit > 0 {
			stop = int64(limit) - 1
		}
		ids, err := s.client.LRange(ctx, execIndexPrefix+workflowID, 0, stop).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list executions: %v", err)
		}

		var out []types.WorkflowExecution
		for _, raw := range ids {
			exec, err := getJSON[types.WorkflowExecution](ctx, s.client, executionPrefix+raw, ErrExecutionNotFound)
			if errors.Is(err, ErrExecutionNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			out = append(out, exec)
		}
		return out, nil
	})
}

// SaveJob saves a scheduled job and maintains the job index.
func (s *RedisStore) SaveJob(ctx context.Context, job types.ScheduledJob) error {
	if err := s.setJSON(ctx, jobPrefix+job.WorkflowID, job); err != nil {
		return err
	}
	return s.client.SAdd(ctx, jobIndexKey, job.WorkflowID).Err()
}

// GetJob retrieves a scheduled job from Redis.
func (s *RedisStore) GetJob(ctx context.Context, workflowID string) (types.ScheduledJob, error) {
	return getJSON[types.ScheduledJob](ctx, s.client, jobPrefix+workflowID, ErrJobNotFound)
}

// DeleteJob removes a scheduled job.
func (s *RedisStore) DeleteJob(ctx context.Context, workflowID string) error {
	return withContextError(ctx, func() error {
		pipe := s.client.Pipeline()
		pipe.Del(ctx, jobPrefix+workflowID)
		pipe.SRem(ctx, jobIndexKey, workflowID)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// ListJobs lists all scheduled jobs.
func (s *RedisStore) ListJobs(ctx context.Context) ([]types.ScheduledJob, error) {
	return withContext(ctx, func() ([]types.ScheduledJob, error) {
		ids, err := s.client.SMembers(ctx, jobIndexKey).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list jobs: %v", err)
		}

		var out []types.ScheduledJob
		for _, id := range ids {
			job, err := s.GetJob(ctx, id)
			if errors.Is(err, ErrJobNotFound) {
				continue
			} else if err != nil {
				return nil, err
			}
			out = append(out, job)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
		return out, nil
	})
}

// ClearCompleted removes executions in a terminal state from Redis.
func (s *RedisStore) ClearCompleted(ctx context.Context) error {
	return withContextError(ctx, func() error {
		keys, err := s.client.Keys(ctx, executionPrefix+"*").Result()
		if err != nil {
			return fmt.Errorf("failed to scan execution keys: %v", err)
		}

		if len(keys) == 0 {
			return nil
		}

		pipe := s.client.Pipeline()
		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			} else if err != nil {
				return fmt.Errorf("failed to get %s: %v", key, err)
			}

			var exec types.WorkflowExecution
			if err := json.Unmarshal(data, &exec); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %v", key, err)
			}

			switch exec.Status {
			case types.ExecCompleted, types.ExecFailed, types.ExecCancelled:
				pipe.Del(ctx, key)
				pipe.LRem(ctx, execIndexPrefix+exec.WorkflowID, 0, exec.ID)
			}
		}

		_, err = pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to execute pipeline for deletion: %v", err)
		}
		return nil
	})
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
