package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowplan/pkg/schema"
)

// LibSQLStore implements Store using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/flowplan.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, storeErr(err, "open libsql %s", dbPath)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	if err := runMigrations(ctx, s.db); err != nil {
		return storeErr(err, "migrate")
	}
	return nil
}

// --- Plans ---

// SavePlan stores rec. Saving a digest that already exists is a no-op, so
// the first title and pattern ID recorded for a plan win.
func (s *LibSQLStore) SavePlan(ctx context.Context, rec *PlanRecord) error {
	if rec == nil || rec.Digest == "" || len(rec.Canonical) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "plan record needs a digest and canonical JSON")
	}
	if !rec.WorkflowKind.Valid() {
		return schema.NewErrorf(schema.ErrCodeValidation, "plan record has unknown workflow kind %q", rec.WorkflowKind)
	}
	rec.CreatedAt = timeOrNow(rec.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (digest, workflow_kind, canonical, title, pattern_id, node_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(digest) DO NOTHING`,
		rec.Digest, string(rec.WorkflowKind), string(rec.Canonical),
		nullStr(rec.Title), nullStr(rec.PatternID), rec.NodeCount, rec.CreatedAt,
	)
	if err != nil {
		return storeErr(err, "save plan %s", rec.Digest)
	}
	return nil
}

const planColumns = `digest, workflow_kind, canonical, title, pattern_id, node_count, created_at`

func (s *LibSQLStore) GetPlan(ctx context.Context, digest string) (*PlanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM plans WHERE digest = ?`, digest)
	rec, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("plan", digest)
	}
	if err != nil {
		return nil, storeErr(err, "get plan %s", digest)
	}
	return rec, nil
}

func (s *LibSQLStore) ListPlans(ctx context.Context, filter PlanFilter) ([]*PlanRecord, error) {
	var where []string
	var args []any

	if filter.WorkflowKind != "" {
		where = append(where, "workflow_kind = ?")
		args = append(args, string(filter.WorkflowKind))
	}
	if filter.PatternID != "" {
		where = append(where, "pattern_id = ?")
		args = append(args, filter.PatternID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT ` + planColumns + ` FROM plans`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, digest"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list plans")
	}
	defer rows.Close()

	plans := []*PlanRecord{}
	for rows.Next() {
		rec, err := scanPlan(rows)
		if err != nil {
			return nil, storeErr(err, "scan plan")
		}
		plans = append(plans, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list plans")
	}
	return plans, nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *schema.Run) error {
	if run == nil || run.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "run needs an ID")
	}
	status := run.Status
	if status == "" {
		status = schema.RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, plan_digest, status, max_parallel, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PlanDigest, string(status), run.MaxParallel, nullRaw(run.Error),
		timeOrNow(run.StartedAt), nullTime(run.CompletedAt),
	)
	if err != nil {
		return storeErr(err, "create run %s", run.ID)
	}
	return nil
}

// FinishRun sets the terminal status of a run and stamps completed_at.
func (s *LibSQLStore) FinishRun(ctx context.Context, runID string, status schema.RunStatus, runErr json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), nullRaw(runErr), time.Now().UTC(), runID,
	)
	if err != nil {
		return storeErr(err, "finish run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

const runColumns = `id, plan_digest, status, max_parallel, error, started_at, completed_at`

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*schema.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, storeErr(err, "get run %s", id)
	}
	return run, nil
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error) {
	var where []string
	var args []any

	if filter.PlanDigest != "" {
		where = append(where, "plan_digest = ?")
		args = append(args, filter.PlanDigest)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(err, "list runs")
	}
	defer rows.Close()

	runs := []*schema.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, storeErr(err, "scan run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list runs")
	}
	return runs, nil
}

// --- Step results ---

// RecordStep inserts or replaces the result of one node in a run.
func (s *LibSQLStore) RecordStep(ctx context.Context, r *schema.StepResult) error {
	if r == nil || r.RunID == "" || r.StepID == "" {
		return schema.NewError(schema.ErrCodeValidation, "step result needs a run ID and step ID")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO step_results (run_id, step_id, wave, status, input, output, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, step_id) DO UPDATE SET
		   wave=excluded.wave, status=excluded.status, input=excluded.input, output=excluded.output,
		   error=excluded.error, started_at=excluded.started_at, completed_at=excluded.completed_at,
		   duration_ms=excluded.duration_ms`,
		r.RunID, r.StepID, r.Wave, string(r.Status), nullRaw(r.Input), nullRaw(r.Output), nullRaw(r.Error),
		nullTime(r.StartedAt), nullTime(r.CompletedAt), r.DurationMs,
	)
	if err != nil {
		return storeErr(err, "record step %s", r.StepID).WithStep(r.StepID)
	}
	return nil
}

// ListStepResults returns a run's step results ordered by wave, then step ID.
func (s *LibSQLStore) ListStepResults(ctx context.Context, runID string) ([]*schema.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, step_id, wave, status, input, output, error, started_at, completed_at, duration_ms
		 FROM step_results WHERE run_id = ? ORDER BY wave, step_id`, runID,
	)
	if err != nil {
		return nil, storeErr(err, "list step results for run %s", runID)
	}
	defer rows.Close()

	results := []*schema.StepResult{}
	for rows.Next() {
		r := &schema.StepResult{}
		var (
			status                 string
			input, output, errJSON sql.NullString
			startedAt, completedAt sql.NullTime
		)
		if err := rows.Scan(&r.RunID, &r.StepID, &r.Wave, &status, &input, &output, &errJSON,
			&startedAt, &completedAt, &r.DurationMs); err != nil {
			return nil, storeErr(err, "scan step result")
		}
		r.Status = schema.StepStatus(status)
		r.Input = rawOrNil(input)
		r.Output = rawOrNil(output)
		r.Error = rawOrNil(errJSON)
		r.StartedAt = timeOrNil(startedAt)
		r.CompletedAt = timeOrNil(completedAt)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "list step results for run %s", runID)
	}
	return results, nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*PlanRecord, error) {
	rec := &PlanRecord{}
	var (
		kind, canonical  string
		title, patternID sql.NullString
	)
	if err := row.Scan(&rec.Digest, &kind, &canonical, &title, &patternID, &rec.NodeCount, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.WorkflowKind = schema.WorkflowKind(kind)
	rec.Canonical = json.RawMessage(canonical)
	rec.Title = title.String
	rec.PatternID = patternID.String
	return rec, nil
}

func scanRun(row scanner) (*schema.Run, error) {
	run := &schema.Run{}
	var (
		status      string
		errJSON     sql.NullString
		completedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.PlanDigest, &status, &run.MaxParallel, &errJSON,
		&run.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	run.Status = schema.RunStatus(status)
	run.Error = rawOrNil(errJSON)
	run.CompletedAt = timeOrNil(completedAt)
	return run, nil
}

func storeErr(err error, format string, args ...any) *schema.FlowplanError {
	return schema.NewErrorf(schema.ErrCodeStore, format, args...).WithCause(err)
}

func storeNotFound(resource, id string) *schema.FlowplanError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id).
		WithDetails(map[string]any{"resource": resource, "id": id})
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr(err, "rows affected for %s %s", resource, id)
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func timeOrNil(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
