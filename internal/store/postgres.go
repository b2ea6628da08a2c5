package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store for multi-process deployments that
// front a shared Postgres instance. This is a persistence choice, not
// a clustering one: no leader election is layered on top, each process
// just durably reads/writes the same rows.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 20
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

var pgTables = map[string]string{
	"workers":     "id TEXT PRIMARY KEY, handle TEXT, swarm_id TEXT, status TEXT, created_at BIGINT, data JSONB NOT NULL",
	"spawn_items": "id TEXT PRIMARY KEY, status TEXT, created_at BIGINT, data JSONB NOT NULL",
	"swarms":      "id TEXT PRIMARY KEY, name TEXT, data JSONB NOT NULL",
	"messages":    "id TEXT PRIMARY KEY, swarm_id TEXT, created_at BIGINT, data JSONB NOT NULL",
	"workflows":   "id TEXT PRIMARY KEY, name TEXT, data JSONB NOT NULL",
	"executions":  "id TEXT PRIMARY KEY, workflow_id TEXT, status TEXT, data JSONB NOT NULL",
	"steps":       "id TEXT PRIMARY KEY, execution_id TEXT, data JSONB NOT NULL",
	"triggers":    "id TEXT PRIMARY KEY, workflow_id TEXT, is_enabled BOOLEAN, data JSONB NOT NULL",
	"checkpoints": "id TEXT PRIMARY KEY, data JSONB NOT NULL",
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for table, cols := range pgTables {
		if _, err := s.pool.Exec(ctx, "CREATE TABLE IF NOT EXISTS "+table+" ("+cols+")"); err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS idx_workers_handle_live ON workers(handle) WHERE status != 'stopped'`)
	return err
}

func pgPut(ctx context.Context, pool *pgxpool.Pool, table, id string, indexed map[string]any, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	cols := []string{"id"}
	args := []any{id}
	for k, v := range indexed {
		cols = append(cols, k)
		args = append(args, v)
	}
	cols = append(cols, "data")
	args = append(args, data)

	placeholders, setClause := "", ""
	for i, c := range cols {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "$" + strconv.Itoa(i+1)
		if c == "id" {
			continue
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += c + " = excluded." + c
	}
	query := "INSERT INTO " + table + " (" + joinCols(cols) + ") VALUES (" + placeholders + ") ON CONFLICT (id) DO UPDATE SET " + setClause
	_, err = pool.Exec(ctx, query, args...)
	return err
}

func pgGet[T any](ctx context.Context, pool *pgxpool.Pool, table, id string) (*T, error) {
	var data []byte
	err := pool.QueryRow(ctx, "SELECT data FROM "+table+" WHERE id = $1", id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func pgList[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]*T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveWorker(ctx context.Context, w *Worker) error {
	return pgPut(ctx, s.pool, "workers", w.ID, map[string]any{
		"handle": w.Handle, "swarm_id": w.SwarmID, "status": string(w.State), "created_at": w.SpawnedAt.UnixMilli(),
	}, w)
}
func (s *PostgresStore) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return pgGet[Worker](ctx, s.pool, "workers", id)
}
func (s *PostgresStore) GetWorkerByHandle(ctx context.Context, handle string) (*Worker, error) {
	rows, err := pgList[Worker](ctx, s.pool, "SELECT data FROM workers WHERE handle = $1 AND status != 'stopped' LIMIT 1", handle)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
func (s *PostgresStore) ListWorkers(ctx context.Context, swarmID string) ([]*Worker, error) {
	if swarmID == "" {
		return pgList[Worker](ctx, s.pool, "SELECT data FROM workers")
	}
	return pgList[Worker](ctx, s.pool, "SELECT data FROM workers WHERE swarm_id = $1", swarmID)
}
func (s *PostgresStore) DeleteWorker(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM workers WHERE id = $1", id)
	return err
}

func (s *PostgresStore) SaveSpawnItem(ctx context.Context, item *SpawnQueueItem) error {
	return pgPut(ctx, s.pool, "spawn_items", item.ID, map[string]any{
		"status": string(item.Status), "created_at": item.CreatedAt.UnixMilli(),
	}, item)
}
func (s *PostgresStore) GetSpawnItem(ctx context.Context, id string) (*SpawnQueueItem, error) {
	return pgGet[SpawnQueueItem](ctx, s.pool, "spawn_items", id)
}
func (s *PostgresStore) ListSpawnItems(ctx context.Context, status SpawnStatus) ([]*SpawnQueueItem, error) {
	if status == "" {
		return pgList[SpawnQueueItem](ctx, s.pool, "SELECT data FROM spawn_items ORDER BY created_at ASC")
	}
	return pgList[SpawnQueueItem](ctx, s.pool, "SELECT data FROM spawn_items WHERE status = $1 ORDER BY created_at ASC", string(status))
}
func (s *PostgresStore) DeleteSpawnItem(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM spawn_items WHERE id = $1", id)
	return err
}

func (s *PostgresStore) SaveSwarm(ctx context.Context, sw *Swarm) error {
	return pgPut(ctx, s.pool, "swarms", sw.ID, map[string]any{"name": sw.Name}, sw)
}
func (s *PostgresStore) GetSwarm(ctx context.Context, id string) (*Swarm, error) {
	return pgGet[Swarm](ctx, s.pool, "swarms", id)
}
func (s *PostgresStore) ListSwarms(ctx context.Context) ([]*Swarm, error) {
	return pgList[Swarm](ctx, s.pool, "SELECT data FROM swarms")
}

func (s *PostgresStore) SaveBlackboardMessage(ctx context.Context, m *BlackboardMessage) error {
	return pgPut(ctx, s.pool, "messages", m.ID, map[string]any{
		"swarm_id": m.SwarmID, "created_at": m.CreatedAt.UnixMilli(),
	}, m)
}
func (s *PostgresStore) GetBlackboardMessage(ctx context.Context, id string) (*BlackboardMessage, error) {
	return pgGet[BlackboardMessage](ctx, s.pool, "messages", id)
}
func (s *PostgresStore) ListBlackboardMessages(ctx context.Context, swarmID string) ([]*BlackboardMessage, error) {
	return pgList[BlackboardMessage](ctx, s.pool, "SELECT data FROM messages WHERE swarm_id = $1 ORDER BY created_at ASC", swarmID)
}

func (s *PostgresStore) SaveWorkflow(ctx context.Context, w *Workflow) error {
	return pgPut(ctx, s.pool, "workflows", w.ID, map[string]any{"name": w.Name}, w)
}
func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return pgGet[Workflow](ctx, s.pool, "workflows", id)
}
func (s *PostgresStore) GetWorkflowByName(ctx context.Context, name string) (*Workflow, error) {
	rows, err := pgList[Workflow](ctx, s.pool, "SELECT data FROM workflows WHERE name = $1 LIMIT 1", name)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	return pgList[Workflow](ctx, s.pool, "SELECT data FROM workflows")
}

func (s *PostgresStore) SaveExecution(ctx context.Context, e *WorkflowExecution) error {
	return pgPut(ctx, s.pool, "executions", e.ID, map[string]any{
		"workflow_id": e.WorkflowID, "status": string(e.Status),
	}, e)
}
func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	return pgGet[WorkflowExecution](ctx, s.pool, "executions", id)
}
func (s *PostgresStore) ListExecutions(ctx context.Context, status ExecutionStatus) ([]*WorkflowExecution, error) {
	if status == "" {
		return pgList[WorkflowExecution](ctx, s.pool, "SELECT data FROM executions")
	}
	return pgList[WorkflowExecution](ctx, s.pool, "SELECT data FROM executions WHERE status = $1", string(status))
}

func (s *PostgresStore) SaveStep(ctx context.Context, st *ExecutionStep) error {
	return pgPut(ctx, s.pool, "steps", st.ID, map[string]any{"execution_id": st.ExecutionID}, st)
}
func (s *PostgresStore) GetStep(ctx context.Context, id string) (*ExecutionStep, error) {
	return pgGet[ExecutionStep](ctx, s.pool, "steps", id)
}
func (s *PostgresStore) ListStepsByExecution(ctx context.Context, executionID string) ([]*ExecutionStep, error) {
	return pgList[ExecutionStep](ctx, s.pool, "SELECT data FROM steps WHERE execution_id = $1", executionID)
}

func (s *PostgresStore) SaveTrigger(ctx context.Context, t *Trigger) error {
	return pgPut(ctx, s.pool, "triggers", t.ID, map[string]any{
		"workflow_id": t.WorkflowID, "is_enabled": t.IsEnabled,
	}, t)
}
func (s *PostgresStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	return pgGet[Trigger](ctx, s.pool, "triggers", id)
}
func (s *PostgresStore) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*Trigger, error) {
	return pgList[Trigger](ctx, s.pool, "SELECT data FROM triggers WHERE workflow_id = $1", workflowID)
}
func (s *PostgresStore) ListEnabledTriggers(ctx context.Context) ([]*Trigger, error) {
	return pgList[Trigger](ctx, s.pool, "SELECT data FROM triggers WHERE is_enabled = true")
}
func (s *PostgresStore) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, "DELETE FROM triggers WHERE id = $1", id)
	return err
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	return pgPut(ctx, s.pool, "checkpoints", c.ID, nil, c)
}
func (s *PostgresStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	return pgGet[Checkpoint](ctx, s.pool, "checkpoints", id)
}
