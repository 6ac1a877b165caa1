package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/arclabs-io/researchgraph/research"
)

// Dialect selects placeholder and upsert syntax for the database/sql
// backend. Statements are written with ? placeholders and rebound to $n for
// postgres.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectMySQL
	DialectPostgres
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting WithinTx reuse
// every statement unchanged.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore is a database/sql implementation of Store for sqlite and mysql.
// Tables are created on open; every write is an idempotent upsert keyed by
// the entity id.
type SQLStore struct {
	db      *sql.DB
	q       querier
	dialect Dialect

	mu     sync.RWMutex
	closed bool
}

// newSQLStore wraps an opened database handle and migrates the schema.
func newSQLStore(db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, q: db, dialect: dialect}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return s, nil
}

// migrate creates the five entity tables when absent. Timestamps are stored
// as RFC3339 UTC text at second resolution; structured columns are JSON.
func (s *SQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS objectives (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			query TEXT NOT NULL,
			status VARCHAR(20) NOT NULL,
			priority INTEGER NOT NULL,
			user_id VARCHAR(36),
			tags TEXT,
			metadata TEXT,
			created_at VARCHAR(40) NOT NULL,
			started_at VARCHAR(40),
			completed_at VARCHAR(40),
			result_summary TEXT,
			error_message TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			objective_id VARCHAR(36) NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			task_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			priority INTEGER NOT NULL,
			depends_on TEXT,
			created_at VARCHAR(40) NOT NULL,
			updated_at VARCHAR(40) NOT NULL,
			started_at VARCHAR(40),
			completed_at VARCHAR(40),
			result_summary TEXT,
			quality VARCHAR(20),
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			task_id VARCHAR(36) NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			step_type VARCHAR(20),
			status VARCHAR(20) NOT NULL,
			agent_name VARCHAR(64) NOT NULL,
			priority INTEGER NOT NULL,
			input_data TEXT,
			output_data TEXT,
			error_message TEXT,
			retry_count INTEGER NOT NULL,
			max_retries INTEGER NOT NULL,
			started_at VARCHAR(40),
			completed_at VARCHAR(40),
			quality VARCHAR(20),
			metadata TEXT,
			created_at VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS workflows (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			objective_id VARCHAR(36) NOT NULL,
			workflow_type VARCHAR(20) NOT NULL,
			status VARCHAR(20) NOT NULL,
			current_node VARCHAR(64),
			is_paused INTEGER NOT NULL,
			serialized_state TEXT,
			created_at VARCHAR(40) NOT NULL,
			started_at VARCHAR(40),
			completed_at VARCHAR(40)
		)`,
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			node_name VARCHAR(64) NOT NULL,
			state TEXT NOT NULL,
			created_at VARCHAR(40) NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	indexes := []string{
		`CREATE INDEX idx_tasks_objective ON tasks(objective_id)`,
		`CREATE INDEX idx_tasks_status ON tasks(status)`,
		`CREATE INDEX idx_steps_task ON steps(task_id)`,
		`CREATE INDEX idx_workflows_objective ON workflows(objective_id)`,
		`CREATE INDEX idx_checkpoints_workflow ON workflow_checkpoints(workflow_id)`,
	}
	for _, stmt := range indexes {
		if s.dialect == DialectSQLite {
			stmt = strings.Replace(stmt, "CREATE INDEX", "CREATE INDEX IF NOT EXISTS", 1)
		}
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			// mysql has no IF NOT EXISTS for indexes; a duplicate
			// index error on re-open is expected
			if s.dialect == DialectMySQL {
				continue
			}
			return err
		}
	}
	return nil
}

// bind rewrites ? placeholders to $1..$n for postgres; sqlite and mysql use
// ? natively.
func (s *SQLStore) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.bind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.bind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.bind(query), args...)
}

// upsertSuffix renders the dialect-specific "update on conflict" clause for
// the given key column and update columns.
func (s *SQLStore) upsertSuffix(key string, cols ...string) string {
	switch s.dialect {
	case DialectMySQL:
		out := " ON DUPLICATE KEY UPDATE "
		for i, c := range cols {
			if i > 0 {
				out += ", "
			}
			out += c + " = VALUES(" + c + ")"
		}
		return out
	default:
		out := " ON CONFLICT(" + key + ") DO UPDATE SET "
		for i, c := range cols {
			if i > 0 {
				out += ", "
			}
			out += c + " = excluded." + c
		}
		return out
	}
}

func (s *SQLStore) guard() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// JSON and timestamp helpers. Absent values round-trip as NULL.

func marshalJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal json column: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func unmarshalJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func fmtTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func fmtTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: fmtTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) UpsertObjective(ctx context.Context, o *research.Objective) error {
	if err := s.guard(); err != nil {
		return err
	}
	tags, err := marshalJSON(o.Tags)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(o.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO objectives
		(id, title, description, query, status, priority, user_id, tags, metadata,
		 created_at, started_at, completed_at, result_summary, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("id", "title", "description", "query", "status", "priority",
			"user_id", "tags", "metadata", "started_at", "completed_at",
			"result_summary", "error_message")
	_, err = s.exec(ctx, query,
		o.ID, o.Title, o.Description, o.Query, string(o.Status), o.Priority,
		o.UserID, tags, meta, fmtTime(o.CreatedAt), fmtTimePtr(o.StartedAt),
		fmtTimePtr(o.CompletedAt), o.ResultSummary, o.ErrorMessage)
	if err != nil {
		return fmt.Errorf("upsert objective: %w", err)
	}
	return nil
}

func (s *SQLStore) scanObjective(row *sql.Row) (*research.Objective, error) {
	var (
		o                             research.Objective
		status                        string
		tags, meta                    sql.NullString
		createdAt                     string
		startedAt, completedAt        sql.NullString
		desc, userID, summary, errMsg sql.NullString
	)
	err := row.Scan(&o.ID, &o.Title, &desc, &o.Query, &status, &o.Priority,
		&userID, &tags, &meta, &createdAt, &startedAt, &completedAt, &summary, &errMsg)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan objective: %w", err)
	}
	o.Status = research.ObjectiveStatus(status)
	o.Description = desc.String
	o.UserID = userID.String
	o.ResultSummary = summary.String
	o.ErrorMessage = errMsg.String
	if err := unmarshalJSON(tags, &o.Tags); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &o.Metadata); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if o.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

const objectiveCols = `id, title, description, query, status, priority, user_id,
	tags, metadata, created_at, started_at, completed_at, result_summary, error_message`

func (s *SQLStore) GetObjective(ctx context.Context, id string) (*research.Objective, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.queryRow(ctx, `SELECT `+objectiveCols+` FROM objectives WHERE id = ?`, id)
	o, err := s.scanObjective(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("objective %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if o.Tasks, err = s.ListTasks(ctx, id); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *SQLStore) UpdateObjectiveStatus(ctx context.Context, id string, status research.ObjectiveStatus, completedAt *time.Time) error {
	if err := s.guard(); err != nil {
		return err
	}
	var res sql.Result
	var err error
	if completedAt != nil {
		res, err = s.exec(ctx,
			`UPDATE objectives SET status = ?, completed_at = ? WHERE id = ?`,
			string(status), fmtTime(*completedAt), id)
	} else {
		res, err = s.exec(ctx,
			`UPDATE objectives SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update objective status: %w", err)
	}
	return requireRow(res, "objective", id)
}

// requireRow converts a zero-row UPDATE into ErrNotFound.
func requireRow(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil // driver without RowsAffected support; trust the update
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) UpsertTask(ctx context.Context, t *research.Task) error {
	if err := s.guard(); err != nil {
		return err
	}
	deps, err := marshalJSON(t.DependsOn)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(t.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO tasks
		(id, objective_id, title, description, task_type, status, priority, depends_on,
		 created_at, updated_at, started_at, completed_at, result_summary, quality, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("id", "title", "description", "task_type", "status", "priority",
			"depends_on", "updated_at", "started_at", "completed_at",
			"result_summary", "quality", "metadata")
	_, err = s.exec(ctx, query,
		t.ID, t.ObjectiveID, t.Title, t.Description, string(t.Type), string(t.Status),
		t.Priority, deps, fmtTime(t.CreatedAt), fmtTime(t.UpdatedAt),
		fmtTimePtr(t.StartedAt), fmtTimePtr(t.CompletedAt), t.ResultSummary,
		string(t.Quality), meta)
	if err != nil {
		return fmt.Errorf("upsert task: %w", err)
	}
	return nil
}

const taskCols = `id, objective_id, title, description, task_type, status, priority,
	depends_on, created_at, updated_at, started_at, completed_at, result_summary, quality, metadata`

func scanTask(scan func(dest ...any) error) (*research.Task, error) {
	var (
		t                      research.Task
		typ, status            string
		deps, meta             sql.NullString
		createdAt, updatedAt   string
		startedAt, completedAt sql.NullString
		desc, summary, quality sql.NullString
	)
	err := scan(&t.ID, &t.ObjectiveID, &t.Title, &desc, &typ, &status, &t.Priority,
		&deps, &createdAt, &updatedAt, &startedAt, &completedAt, &summary, &quality, &meta)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	t.Type = research.TaskType(typ)
	t.Status = research.TaskStatus(status)
	t.Description = desc.String
	t.ResultSummary = summary.String
	t.Quality = research.QualityLevel(quality.String)
	if err := unmarshalJSON(deps, &t.DependsOn); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &t.Metadata); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (*research.Task, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.queryRow(ctx, `SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row.Scan)
	if err != nil {
		if err == ErrNotFound {
			return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
		}
		return nil, err
	}
	if t.Steps, err = s.ListSteps(ctx, id); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *SQLStore) queryTasks(ctx context.Context, query string, args ...any) ([]*research.Task, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []*research.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLStore) ListTasks(ctx context.Context, objectiveID string) ([]*research.Task, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	tasks, err := s.queryTasks(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE objective_id = ? ORDER BY created_at, id`, objectiveID)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Steps, err = s.ListSteps(ctx, t.ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

func (s *SQLStore) ListTasksByStatus(ctx context.Context, status research.TaskStatus) ([]*research.Task, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.queryTasks(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE status = ? ORDER BY created_at, id`, string(status))
}

func (s *SQLStore) UpdateTaskStatus(ctx context.Context, id string, status research.TaskStatus, errMsg string) error {
	if err := s.guard(); err != nil {
		return err
	}
	now := fmtTime(research.Now())
	var res sql.Result
	var err error
	if errMsg != "" {
		res, err = s.exec(ctx,
			`UPDATE tasks SET status = ?, updated_at = ?, result_summary = ? WHERE id = ?`,
			string(status), now, errMsg, id)
	} else {
		res, err = s.exec(ctx,
			`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			string(status), now, id)
	}
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireRow(res, "task", id)
}

func (s *SQLStore) UpsertStep(ctx context.Context, st *research.Step) error {
	if err := s.guard(); err != nil {
		return err
	}
	input, err := marshalJSON(st.InputData)
	if err != nil {
		return err
	}
	output, err := marshalJSON(st.OutputData)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(st.Metadata)
	if err != nil {
		return err
	}
	query := `INSERT INTO steps
		(id, task_id, title, description, step_type, status, agent_name, priority,
		 input_data, output_data, error_message, retry_count, max_retries,
		 started_at, completed_at, quality, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("id", "title", "description", "step_type", "status", "agent_name",
			"priority", "input_data", "output_data", "error_message", "retry_count",
			"max_retries", "started_at", "completed_at", "quality", "metadata")
	_, err = s.exec(ctx, query,
		st.ID, st.TaskID, st.Title, st.Description, st.StepType, string(st.Status),
		st.AgentName, st.Priority, input, output, st.ErrorMessage, st.RetryCount,
		st.MaxRetries, fmtTimePtr(st.StartedAt), fmtTimePtr(st.CompletedAt),
		string(st.Quality), meta, fmtTime(st.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

const stepCols = `id, task_id, title, description, step_type, status, agent_name, priority,
	input_data, output_data, error_message, retry_count, max_retries,
	started_at, completed_at, quality, metadata, created_at`

func scanStep(scan func(dest ...any) error) (*research.Step, error) {
	var (
		st                         research.Step
		status                     string
		input, output, meta        sql.NullString
		startedAt, completedAt     sql.NullString
		desc, typ, errMsg, quality sql.NullString
		createdAt                  string
	)
	err := scan(&st.ID, &st.TaskID, &st.Title, &desc, &typ, &status, &st.AgentName,
		&st.Priority, &input, &output, &errMsg, &st.RetryCount, &st.MaxRetries,
		&startedAt, &completedAt, &quality, &meta, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}
	st.Status = research.StepStatus(status)
	st.Description = desc.String
	st.StepType = typ.String
	st.ErrorMessage = errMsg.String
	st.Quality = research.QualityLevel(quality.String)
	if err := unmarshalJSON(input, &st.InputData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(output, &st.OutputData); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &st.Metadata); err != nil {
		return nil, err
	}
	if st.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if st.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if st.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLStore) GetStep(ctx context.Context, id string) (*research.Step, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.queryRow(ctx, `SELECT `+stepCols+` FROM steps WHERE id = ?`, id)
	st, err := scanStep(row.Scan)
	if err == ErrNotFound {
		return nil, fmt.Errorf("step %s: %w", id, ErrNotFound)
	}
	return st, err
}

func (s *SQLStore) ListSteps(ctx context.Context, taskID string) ([]*research.Step, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT `+stepCols+` FROM steps WHERE task_id = ? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var steps []*research.Step
	for rows.Next() {
		st, err := scanStep(rows.Scan)
		if err != nil {
			return nil, err
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

func (s *SQLStore) UpdateStepStatus(ctx context.Context, id string, status research.StepStatus, errMsg string) error {
	if err := s.guard(); err != nil {
		return err
	}
	var res sql.Result
	var err error
	if errMsg != "" {
		res, err = s.exec(ctx,
			`UPDATE steps SET status = ?, error_message = ? WHERE id = ?`,
			string(status), errMsg, id)
	} else {
		res, err = s.exec(ctx,
			`UPDATE steps SET status = ? WHERE id = ?`, string(status), id)
	}
	if err != nil {
		return fmt.Errorf("update step status: %w", err)
	}
	return requireRow(res, "step", id)
}

func (s *SQLStore) CreateWorkflow(ctx context.Context, w *research.Workflow) error {
	if err := s.guard(); err != nil {
		return err
	}
	state, err := marshalJSON(w.SerializedState)
	if err != nil {
		return err
	}
	_, err = s.exec(ctx, `INSERT INTO workflows
		(id, objective_id, workflow_type, status, current_node, is_paused,
		 serialized_state, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ObjectiveID, string(w.Kind), string(w.Status), w.CurrentNode,
		boolInt(w.IsPaused), state, fmtTime(w.CreatedAt),
		fmtTimePtr(w.StartedAt), fmtTimePtr(w.CompletedAt))
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLStore) UpdateWorkflow(ctx context.Context, w *research.Workflow) error {
	if err := s.guard(); err != nil {
		return err
	}
	state, err := marshalJSON(w.SerializedState)
	if err != nil {
		return err
	}
	res, err := s.exec(ctx, `UPDATE workflows SET
		status = ?, current_node = ?, is_paused = ?, serialized_state = ?,
		started_at = ?, completed_at = ? WHERE id = ?`,
		string(w.Status), w.CurrentNode, boolInt(w.IsPaused), state,
		fmtTimePtr(w.StartedAt), fmtTimePtr(w.CompletedAt), w.ID)
	if err != nil {
		return fmt.Errorf("update workflow: %w", err)
	}
	return requireRow(res, "workflow", w.ID)
}

const workflowCols = `id, objective_id, workflow_type, status, current_node, is_paused,
	serialized_state, created_at, started_at, completed_at`

func scanWorkflow(scan func(dest ...any) error) (*research.Workflow, error) {
	var (
		w                      research.Workflow
		kind, status           string
		currentNode, state     sql.NullString
		isPaused               int
		createdAt              string
		startedAt, completedAt sql.NullString
	)
	err := scan(&w.ID, &w.ObjectiveID, &kind, &status, &currentNode, &isPaused,
		&state, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}
	w.Kind = research.GraphKind(kind)
	w.Status = research.WorkflowStatus(status)
	w.CurrentNode = currentNode.String
	w.IsPaused = isPaused != 0
	if state.Valid && state.String != "" && state.String != "null" {
		w.SerializedState = json.RawMessage(state.String)
	}
	if w.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if w.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if w.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *SQLStore) GetWorkflow(ctx context.Context, id string) (*research.Workflow, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	row := s.queryRow(ctx, `SELECT `+workflowCols+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row.Scan)
	if err == ErrNotFound {
		return nil, fmt.Errorf("workflow %s: %w", id, ErrNotFound)
	}
	return w, err
}

func (s *SQLStore) ListWorkflows(ctx context.Context, objectiveID string) ([]*research.Workflow, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT `+workflowCols+` FROM workflows WHERE objective_id = ? ORDER BY created_at, id`, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var wfs []*research.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows.Scan)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, w)
	}
	return wfs, rows.Err()
}

func (s *SQLStore) CreateCheckpoint(ctx context.Context, cp *research.Checkpoint) error {
	if err := s.guard(); err != nil {
		return err
	}
	_, err := s.exec(ctx, `INSERT INTO workflow_checkpoints
		(id, workflow_id, node_name, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		cp.ID, cp.WorkflowID, cp.NodeName, string(cp.State), fmtTime(cp.CreatedAt))
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	return nil
}

func (s *SQLStore) GetCheckpoint(ctx context.Context, id string) (*research.Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	var (
		cp        research.Checkpoint
		state     string
		createdAt string
	)
	err := s.queryRow(ctx,
		`SELECT id, workflow_id, node_name, state, created_at FROM workflow_checkpoints WHERE id = ?`,
		id).Scan(&cp.ID, &cp.WorkflowID, &cp.NodeName, &state, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("checkpoint %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan checkpoint: %w", err)
	}
	cp.State = json.RawMessage(state)
	if cp.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *SQLStore) ListCheckpoints(ctx context.Context, workflowID string) ([]*research.Checkpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	rows, err := s.query(ctx,
		`SELECT id, workflow_id, node_name, state, created_at
		 FROM workflow_checkpoints WHERE workflow_id = ? ORDER BY created_at, id`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*research.Checkpoint
	for rows.Next() {
		var (
			cp        research.Checkpoint
			state     string
			createdAt string
		)
		if err := rows.Scan(&cp.ID, &cp.WorkflowID, &cp.NodeName, &state, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cp.State = json.RawMessage(state)
		if cp.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		cps = append(cps, &cp)
	}
	return cps, rows.Err()
}

// WithinTx runs fn against a transaction-scoped view. Nested WithinTx joins
// the outer transaction.
func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error {
	if err := s.guard(); err != nil {
		return err
	}
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	txStore := &SQLStore{db: s.db, q: tx, dialect: s.dialect}
	if err := fn(ctx, txStore); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLStore) Ping(ctx context.Context) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.db.PingContext(ctx)
}

// Close closes the database. Double-close is a no-op.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
