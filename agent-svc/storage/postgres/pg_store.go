package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dockfleet/agent-svc/app/apperrors"
	"dockfleet/pkg/domains"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	agentColumns = `id, hostname, platform, version, capabilities, url, status, last_seen,
		registered_at, metrics, docker, metadata, created_at, updated_at`
	taskColumns = `id, agent_id, type, payload, status, result, error, created_at, updated_at`

	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// Store represents the Postgres storage implementation
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new Postgres store
// The database must already exist - creation should be handled at the infrastructure/deployment level
func NewStore(ctx context.Context, connString string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertAgent registers an agent or refreshes its identity fields
func (s *Store) UpsertAgent(ctx context.Context, reg domains.AgentRegistration, now time.Time) (*domains.Agent, error) {
	caps, err := json.Marshal(nonNilStrings(reg.Capabilities))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}

	query := `
		INSERT INTO agents (id, hostname, platform, version, capabilities, url, status, last_seen,
			registered_at, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, 'online', $7, $7, '{}'::jsonb, $7, $7)
		ON CONFLICT (id)
		DO UPDATE SET
			hostname = EXCLUDED.hostname,
			platform = EXCLUDED.platform,
			version = EXCLUDED.version,
			capabilities = EXCLUDED.capabilities,
			url = EXCLUDED.url,
			status = 'online',
			last_seen = GREATEST(agents.last_seen, EXCLUDED.last_seen),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + agentColumns

	row := s.pool.QueryRow(ctx, query, reg.ID, reg.Hostname, reg.Platform, reg.Version, string(caps), reg.URL, now)
	return scanAgent(row)
}

// GetAgent retrieves an agent by ID
func (s *Store) GetAgent(ctx context.Context, agentID string) (*domains.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, agentID)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return a, err
}

// ListAgents retrieves all agents in registration order
func (s *Store) ListAgents(ctx context.Context) ([]*domains.Agent, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	agents := make([]*domains.Agent, 0)
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// UpdateAgent merges the provided fields into an agent
func (s *Store) UpdateAgent(ctx context.Context, agentID string, upd domains.AgentUpdate, now time.Time) (*domains.Agent, error) {
	caps, err := jsonArg(upd.Capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capabilities: %w", err)
	}
	md, err := jsonArg(upd.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE agents SET
			hostname = COALESCE($2, hostname),
			platform = COALESCE($3, platform),
			version = COALESCE($4, version),
			capabilities = COALESCE($5::jsonb, capabilities),
			url = COALESCE($6, url),
			metadata = metadata || COALESCE($7::jsonb, '{}'::jsonb),
			updated_at = $8
		WHERE id = $1
		RETURNING ` + agentColumns

	row := s.pool.QueryRow(ctx, query, agentID, upd.Hostname, upd.Platform, upd.Version, caps, upd.URL, md, now)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return a, err
}

// RecordHeartbeat marks an agent online and stores its latest snapshots
func (s *Store) RecordHeartbeat(ctx context.Context, agentID string, hb domains.Heartbeat, now time.Time) (*domains.Agent, error) {
	metrics, err := jsonArg(hb.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metrics: %w", err)
	}
	docker, err := jsonArg(hb.Docker)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal docker info: %w", err)
	}
	md, err := jsonArg(hb.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE agents SET
			status = 'online',
			last_seen = GREATEST(last_seen, $2),
			metrics = COALESCE($3::jsonb, metrics),
			docker = COALESCE($4::jsonb, docker),
			metadata = metadata || COALESCE($5::jsonb, '{}'::jsonb),
			updated_at = $2
		WHERE id = $1
		RETURNING ` + agentColumns

	row := s.pool.QueryRow(ctx, query, agentID, now, metrics, docker, md)
	a, err := scanAgent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("agent", agentID)
	}
	return a, err
}

// DeleteAgent removes an agent and its finished tasks, refusing while work is outstanding
func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// row lock blocks concurrent task inserts, which take a key-share lock through the foreign key
	var exists int
	err = tx.QueryRow(ctx, `SELECT 1 FROM agents WHERE id = $1 FOR UPDATE`, agentID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("agent", agentID)
	}
	if err != nil {
		return err
	}

	var unfinished int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM tasks WHERE agent_id = $1 AND status IN ('pending', 'running')`, agentID,
	).Scan(&unfinished)
	if err != nil {
		return err
	}
	if unfinished > 0 {
		return apperrors.Conflict(fmt.Sprintf("agent %s has %d unfinished tasks", agentID, unfinished))
	}

	if _, err := tx.Exec(ctx, `DELETE FROM agents WHERE id = $1`, agentID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CreateTask inserts a new task
func (s *Store) CreateTask(ctx context.Context, task *domains.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO tasks (id, agent_id, type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
	`
	_, err = s.pool.Exec(ctx, query, task.ID, task.AgentID, string(task.Type), string(payload),
		string(task.Status), task.CreatedAt, task.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return apperrors.Validation(fmt.Sprintf("unknown agent: %s", task.AgentID))
		case pgUniqueViolation:
			return apperrors.Conflict(fmt.Sprintf("task %s already exists", task.ID))
		}
	}
	return err
}

// GetTask retrieves a task by ID
func (s *Store) GetTask(ctx context.Context, taskID string) (*domains.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("task", taskID)
	}
	return t, err
}

// ListTasksByAgent retrieves an agent's tasks in creation order
func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]*domains.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE agent_id = $1 ORDER BY seq ASC`, agentID)
}

// ListPendingTasks retrieves the oldest pending tasks for an agent
func (s *Store) ListPendingTasks(ctx context.Context, agentID string, limit int) ([]*domains.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT ` + taskColumns + `
		FROM tasks
		WHERE agent_id = $1 AND status = 'pending'
		ORDER BY seq ASC
		LIMIT $2
	`
	return s.queryTasks(ctx, query, agentID, limit)
}

// TransitionTask applies a state change unless the task is already terminal.
// The status predicate in the UPDATE makes the terminal check and the write one atomic step;
// a concurrent writer blocks on the row lock and then finds no matching row.
func (s *Store) TransitionTask(ctx context.Context, taskID string, tr domains.TaskTransition, now time.Time) (*domains.Task, error) {
	result, err := jsonArg(tr.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	query := `
		UPDATE tasks
		SET status = $2, result = $3::jsonb, error = $4, updated_at = $5
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING ` + taskColumns

	t, err := scanTask(s.pool.QueryRow(ctx, query, taskID, string(tr.Status), result, tr.Error, now))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, taskID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("task", taskID)
	}
	if err != nil {
		return nil, err
	}
	return nil, apperrors.Conflict(fmt.Sprintf("task %s is already %s", taskID, current))
}

// PurgeTerminalTasks deletes finished tasks older than cutoff; deployments cascade
func (s *Store) PurgeTerminalTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE status IN ('completed', 'failed') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateDeployment inserts a deployment record
func (s *Store) CreateDeployment(ctx context.Context, d *domains.Deployment) error {
	query := `
		INSERT INTO deployments (id, task_id, agent_id, stack_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query, d.ID, d.TaskID, d.AgentID, d.StackID, d.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return apperrors.Validation(fmt.Sprintf("unknown task: %s", d.TaskID))
	}
	return err
}

// ListDeployments retrieves an agent's deployments with status joined from their tasks
func (s *Store) ListDeployments(ctx context.Context, agentID string) ([]*domains.Deployment, error) {
	query := `
		SELECT d.id, d.task_id, d.agent_id, d.stack_id, d.created_at, t.status, t.error, t.updated_at
		FROM deployments d
		JOIN tasks t ON t.id = d.task_id
		WHERE d.agent_id = $1
		ORDER BY d.created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deployments := make([]*domains.Deployment, 0)
	for rows.Next() {
		var d domains.Deployment
		var status string
		if err := rows.Scan(&d.ID, &d.TaskID, &d.AgentID, &d.StackID, &d.CreatedAt, &status, &d.Error, &d.UpdatedAt); err != nil {
			return nil, err
		}
		d.Status = domains.TaskStatus(status)
		deployments = append(deployments, &d)
	}
	return deployments, rows.Err()
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...interface{}) ([]*domains.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]*domains.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanAgent(row pgx.Row) (*domains.Agent, error) {
	var (
		a                                 domains.Agent
		status                            string
		capsJSON, metricsJSON, dockerJSON []byte
		metadataJSON                      []byte
	)
	err := row.Scan(
		&a.ID, &a.Hostname, &a.Platform, &a.Version, &capsJSON, &a.URL, &status, &a.LastSeen,
		&a.RegisteredAt, &metricsJSON, &dockerJSON, &metadataJSON, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = domains.AgentStatus(status)

	if err := json.Unmarshal(capsJSON, &a.Capabilities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capabilities: %w", err)
	}
	if len(metricsJSON) > 0 {
		a.Metrics = &domains.AgentMetrics{}
		if err := json.Unmarshal(metricsJSON, a.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	if len(dockerJSON) > 0 {
		a.Docker = &domains.RuntimeInfo{}
		if err := json.Unmarshal(dockerJSON, a.Docker); err != nil {
			return nil, fmt.Errorf("failed to unmarshal docker info: %w", err)
		}
	}
	if err := json.Unmarshal(metadataJSON, &a.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return &a, nil
}

func scanTask(row pgx.Row) (*domains.Task, error) {
	var (
		t                       domains.Task
		taskType, status        string
		payloadJSON, resultJSON []byte
	)
	err := row.Scan(&t.ID, &t.AgentID, &taskType, &payloadJSON, &status, &resultJSON, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = domains.TaskType(taskType)
	t.Status = domains.TaskStatus(status)

	t.Payload, err = domains.DecodePayload(t.Type, payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &t.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return &t, nil
}

// jsonArg encodes v for a ::jsonb parameter, mapping nil values to SQL NULL.
func jsonArg(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if x == nil {
			return nil, nil
		}
	case map[string]interface{}:
		if x == nil {
			return nil, nil
		}
	case *domains.AgentMetrics:
		if x == nil {
			return nil, nil
		}
	case *domains.RuntimeInfo:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
