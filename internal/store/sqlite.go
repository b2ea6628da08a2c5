package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default local embedded database adapter. It runs
// in WAL mode through a single *sql.DB capped at one open connection,
// so reads and writes are serialised through that connection; this
// gives write-ahead-log-style durability without needing a server
// process.
//
// Each entity family gets its own table, keyed by id, storing the
// marshalled row alongside plain columns (handle, swarm, status,
// created_at) needed for the query patterns the store interface
// exposes; only the live-worker handle column carries an index. This generalizes a per-column raw-SQL mapping style
// (workable for a handful of entities) to this repo's full entity set
// without hand-writing a column-by-column mapping per table; see
// DESIGN.md for the tradeoff.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // one connection serves both reads and writes.

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

var entityTables = map[string]string{
	"workers":    "id TEXT PRIMARY KEY, handle TEXT, swarm_id TEXT, status TEXT, created_at INTEGER, data BLOB",
	"spawn_items": "id TEXT PRIMARY KEY, status TEXT, created_at INTEGER, data BLOB",
	"swarms":     "id TEXT PRIMARY KEY, name TEXT, data BLOB",
	"messages":   "id TEXT PRIMARY KEY, swarm_id TEXT, created_at INTEGER, data BLOB",
	"workflows":  "id TEXT PRIMARY KEY, name TEXT, data BLOB",
	"executions": "id TEXT PRIMARY KEY, workflow_id TEXT, status TEXT, data BLOB",
	"steps":      "id TEXT PRIMARY KEY, execution_id TEXT, data BLOB",
	"triggers":   "id TEXT PRIMARY KEY, workflow_id TEXT, is_enabled INTEGER, data BLOB",
	"checkpoints": "id TEXT PRIMARY KEY, data BLOB",
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for table, cols := range entityTables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, cols)); err != nil {
			return fmt.Errorf("migrate %s: %w", table, err)
		}
	}
	_, err := s.db.ExecContext(ctx, "CREATE UNIQUE INDEX IF NOT EXISTS idx_workers_handle_live ON workers(handle) WHERE status != 'stopped'")
	return err
}

func putRow(ctx context.Context, db *sql.DB, table string, id string, indexed map[string]any, row any) error {
	data, err := json.Marshal(row)
	if err != nil {
		return err
	}
	cols := []string{"id"}
	placeholders := []string{"?"}
	args := []any{id}
	for k, v := range indexed {
		cols = append(cols, k)
		placeholders = append(placeholders, "?")
		args = append(args, v)
	}
	cols = append(cols, "data")
	placeholders = append(placeholders, "?")
	args = append(args, data)

	setClauses := ""
	for _, c := range cols {
		if c == "id" {
			continue
		}
		if setClauses != "" {
			setClauses += ", "
		}
		setClauses += fmt.Sprintf("%s = excluded.%s", c, c)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(id) DO UPDATE SET %s",
		table, joinCols(cols), joinCols(placeholders), setClauses,
	)
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func getRow[T any](ctx context.Context, db *sql.DB, table, id string) (*T, error) {
	var data []byte
	err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT data FROM %s WHERE id = ?", table), id).Scan(&data)
	if err == sql.ErrNoRows {
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

func listRows[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]*T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
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

func (s *SQLiteStore) SaveWorker(ctx context.Context, w *Worker) error {
	return putRow(ctx, s.db, "workers", w.ID, map[string]any{
		"handle": w.Handle, "swarm_id": w.SwarmID, "status": string(w.State), "created_at": w.SpawnedAt.UnixMilli(),
	}, w)
}
func (s *SQLiteStore) GetWorker(ctx context.Context, id string) (*Worker, error) {
	return getRow[Worker](ctx, s.db, "workers", id)
}
func (s *SQLiteStore) GetWorkerByHandle(ctx context.Context, handle string) (*Worker, error) {
	rows, err := listRows[Worker](ctx, s.db, "SELECT data FROM workers WHERE handle = ? AND status != 'stopped' LIMIT 1", handle)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
func (s *SQLiteStore) ListWorkers(ctx context.Context, swarmID string) ([]*Worker, error) {
	if swarmID == "" {
		rows, err := listRows[Worker](ctx, s.db, "SELECT data FROM workers")
		return rows, err
	}
	rows, err := listRows[Worker](ctx, s.db, "SELECT data FROM workers WHERE swarm_id = ?", swarmID)
	return rows, err
}
func (s *SQLiteStore) DeleteWorker(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM workers WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) SaveSpawnItem(ctx context.Context, item *SpawnQueueItem) error {
	return putRow(ctx, s.db, "spawn_items", item.ID, map[string]any{
		"status": string(item.Status), "created_at": item.CreatedAt.UnixMilli(),
	}, item)
}
func (s *SQLiteStore) GetSpawnItem(ctx context.Context, id string) (*SpawnQueueItem, error) {
	return getRow[SpawnQueueItem](ctx, s.db, "spawn_items", id)
}
func (s *SQLiteStore) ListSpawnItems(ctx context.Context, status SpawnStatus) ([]*SpawnQueueItem, error) {
	if status == "" {
		return listRows[SpawnQueueItem](ctx, s.db, "SELECT data FROM spawn_items ORDER BY created_at ASC")
	}
	return listRows[SpawnQueueItem](ctx, s.db, "SELECT data FROM spawn_items WHERE status = ? ORDER BY created_at ASC", string(status))
}
func (s *SQLiteStore) DeleteSpawnItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM spawn_items WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) SaveSwarm(ctx context.Context, sw *Swarm) error {
	return putRow(ctx, s.db, "swarms", sw.ID, map[string]any{"name": sw.Name}, sw)
}
func (s *SQLiteStore) GetSwarm(ctx context.Context, id string) (*Swarm, error) {
	return getRow[Swarm](ctx, s.db, "swarms", id)
}
func (s *SQLiteStore) ListSwarms(ctx context.Context) ([]*Swarm, error) {
	return listRows[Swarm](ctx, s.db, "SELECT data FROM swarms")
}

func (s *SQLiteStore) SaveBlackboardMessage(ctx context.Context, m *BlackboardMessage) error {
	return putRow(ctx, s.db, "messages", m.ID, map[string]any{
		"swarm_id": m.SwarmID, "created_at": m.CreatedAt.UnixMilli(),
	}, m)
}
func (s *SQLiteStore) GetBlackboardMessage(ctx context.Context, id string) (*BlackboardMessage, error) {
	return getRow[BlackboardMessage](ctx, s.db, "messages", id)
}
func (s *SQLiteStore) ListBlackboardMessages(ctx context.Context, swarmID string) ([]*BlackboardMessage, error) {
	return listRows[BlackboardMessage](ctx, s.db, "SELECT data FROM messages WHERE swarm_id = ? ORDER BY created_at ASC", swarmID)
}

func (s *SQLiteStore) SaveWorkflow(ctx context.Context, w *Workflow) error {
	return putRow(ctx, s.db, "workflows", w.ID, map[string]any{"name": w.Name}, w)
}
func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	return getRow[Workflow](ctx, s.db, "workflows", id)
}
func (s *SQLiteStore) GetWorkflowByName(ctx context.Context, name string) (*Workflow, error) {
	rows, err := listRows[Workflow](ctx, s.db, "SELECT data FROM workflows WHERE name = ? LIMIT 1", name)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]*Workflow, error) {
	return listRows[Workflow](ctx, s.db, "SELECT data FROM workflows")
}

func (s *SQLiteStore) SaveExecution(ctx context.Context, e *WorkflowExecution) error {
	return putRow(ctx, s.db, "executions", e.ID, map[string]any{
		"workflow_id": e.WorkflowID, "status": string(e.Status),
	}, e)
}
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*WorkflowExecution, error) {
	return getRow[WorkflowExecution](ctx, s.db, "executions", id)
}
func (s *SQLiteStore) ListExecutions(ctx context.Context, status ExecutionStatus) ([]*WorkflowExecution, error) {
	if status == "" {
		return listRows[WorkflowExecution](ctx, s.db, "SELECT data FROM executions")
	}
	return listRows[WorkflowExecution](ctx, s.db, "SELECT data FROM executions WHERE status = ?", string(status))
}

func (s *SQLiteStore) SaveStep(ctx context.Context, st *ExecutionStep) error {
	return putRow(ctx, s.db, "steps", st.ID, map[string]any{"execution_id": st.ExecutionID}, st)
}
func (s *SQLiteStore) GetStep(ctx context.Context, id string) (*ExecutionStep, error) {
	return getRow[ExecutionStep](ctx, s.db, "steps", id)
}
func (s *SQLiteStore) ListStepsByExecution(ctx context.Context, executionID string) ([]*ExecutionStep, error) {
	return listRows[ExecutionStep](ctx, s.db, "SELECT data FROM steps WHERE execution_id = ?", executionID)
}

func (s *SQLiteStore) SaveTrigger(ctx context.Context, t *Trigger) error {
	enabled := 0
	if t.IsEnabled {
		enabled = 1
	}
	return putRow(ctx, s.db, "triggers", t.ID, map[string]any{
		"workflow_id": t.WorkflowID, "is_enabled": enabled,
	}, t)
}
func (s *SQLiteStore) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	return getRow[Trigger](ctx, s.db, "triggers", id)
}
func (s *SQLiteStore) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*Trigger, error) {
	return listRows[Trigger](ctx, s.db, "SELECT data FROM triggers WHERE workflow_id = ?", workflowID)
}
func (s *SQLiteStore) ListEnabledTriggers(ctx context.Context) ([]*Trigger, error) {
	return listRows[Trigger](ctx, s.db, "SELECT data FROM triggers WHERE is_enabled = 1")
}
func (s *SQLiteStore) DeleteTrigger(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM triggers WHERE id = ?", id)
	return err
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, c *Checkpoint) error {
	return putRow(ctx, s.db, "checkpoints", c.ID, nil, c)
}
func (s *SQLiteStore) GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error) {
	return getRow[Checkpoint](ctx, s.db, "checkpoints", id)
}
