// Package postgres is the production repository backed by a pgx pool.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/models"
	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, connectionString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.For(logger.ComponentStorage).Info("Connected to PostgreSQL")

	return &Store{pool: pool}, nil
}

// Migrate creates any missing tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// where accumulates positional conditions.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, value interface{}) {
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf(cond, len(w.args)))
}

func (w *where) raw(cond string) {
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// set accumulates positional assignments for UPDATE statements.
type set struct {
	cols []string
	args []interface{}
}

func (s *set) add(col string, value interface{}) {
	s.args = append(s.args, value)
	s.cols = append(s.cols, fmt.Sprintf("%s = $%d", col, len(s.args)))
}

func (s *set) update(table, id string) (string, []interface{}) {
	args := append(s.args, id)
	return fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d", table, strings.Join(s.cols, ", "), len(args)), args
}

func statusStrings(statuses []models.ActionStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func triggerStrings(triggers []models.Trigger) []string {
	out := make([]string, len(triggers))
	for i, t := range triggers {
		out[i] = string(t)
	}
	return out
}

func nullableJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func marshalNullable(v interface{}, isNil bool) ([]byte, error) {
	if isNil {
		return nil, nil
	}
	return json.Marshal(v)
}

// ===== [ACTIONS] =====

const actionColumns = `id, opportunity_id, action_type, action_data, status, tier, auto_executable,
	execution_attempts, last_attempt_at, execution_result, executed_at, rolled_back_at, created_at`

func scanAction(row pgx.Row) (*models.Action, error) {
	var (
		a      models.Action
		data   []byte
		status string
		tier   int
		result []byte
	)
	err := row.Scan(&a.ID, &a.OpportunityID, &a.ActionType, &data, &status, &tier, &a.AutoExecutable,
		&a.ExecutionAttempts, &a.LastAttemptAt, &result, &a.ExecutedAt, &a.RolledBackAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = models.ActionStatus(status)
	a.Tier = models.Tier(tier)
	if len(data) > 0 {
		a.ActionData = json.RawMessage(data)
	}
	if len(result) > 0 && string(result) != "null" {
		var outcome models.ExecutionOutcome
		if err := json.Unmarshal(result, &outcome); err != nil {
			return nil, fmt.Errorf("failed to decode execution result of %s: %w", a.ID, err)
		}
		a.ExecutionResult = &outcome
	}
	return &a, nil
}

func actionWhere(filter repository.ActionFilter) *where {
	w := &where{}
	if filter.OpportunityID != "" {
		w.add("opportunity_id = $%d", filter.OpportunityID)
	}
	if len(filter.Statuses) > 0 {
		w.add("status = ANY($%d)", statusStrings(filter.Statuses))
	}
	if len(filter.ExcludeStatuses) > 0 {
		w.add("NOT (status = ANY($%d))", statusStrings(filter.ExcludeStatuses))
	}
	if filter.Tier != 0 {
		w.add("tier = $%d", int(filter.Tier))
	}
	if filter.AutoExecutable != nil {
		w.add("auto_executable = $%d", *filter.AutoExecutable)
	}
	if filter.MaxAttempts > 0 {
		w.add("execution_attempts < $%d", filter.MaxAttempts)
	}
	if filter.NotExecuted {
		w.raw("executed_at IS NULL")
	}
	return w
}

func (s *Store) GetAction(ctx context.Context, id string) (*models.Action, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+actionColumns+" FROM actions WHERE id = $1", id)
	action, err := scanAction(row)
	if err != nil {
		return nil, notFound(err)
	}
	return action, nil
}

func (s *Store) ListActions(ctx context.Context, filter repository.ActionFilter) ([]*models.Action, error) {
	w := actionWhere(filter)
	query := "SELECT " + actionColumns + " FROM actions" + w.String() + " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	defer rows.Close()

	var actions []*models.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (s *Store) CountActions(ctx context.Context, filter repository.ActionFilter) (int, error) {
	w := actionWhere(filter)
	var count int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM actions"+w.String(), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count actions: %w", err)
	}
	return count, nil
}

func (s *Store) UpdateAction(ctx context.Context, id string, update repository.ActionUpdate) error {
	sets := &set{}
	if update.Status != nil {
		sets.add("status", string(*update.Status))
	}
	if update.ExecutionResult != nil {
		result, err := json.Marshal(update.ExecutionResult)
		if err != nil {
			return fmt.Errorf("failed to encode execution result: %w", err)
		}
		sets.add("execution_result", result)
	}
	if update.ExecutedAt != nil {
		sets.add("executed_at", *update.ExecutedAt)
	}
	if update.RolledBackAt != nil {
		sets.add("rolled_back_at", *update.RolledBackAt)
	}
	if len(sets.cols) == 0 {
		_, err := s.GetAction(ctx, id)
		return err
	}

	query, args := sets.update("actions", id)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update action %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) IncrementExecutionAttempts(ctx context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := s.pool.QueryRow(ctx,
		`UPDATE actions SET execution_attempts = execution_attempts + 1, last_attempt_at = $2
		 WHERE id = $1 RETURNING execution_attempts`, id, at).Scan(&attempts)
	if err != nil {
		return 0, notFound(err)
	}
	return attempts, nil
}

// CreateAction inserts an action. Actions are produced upstream; the
// executor only needs this for seeding and tests.
func (s *Store) CreateAction(ctx context.Context, a *models.Action) error {
	var result []byte
	if a.ExecutionResult != nil {
		encoded, err := json.Marshal(a.ExecutionResult)
		if err != nil {
			return fmt.Errorf("failed to encode execution result: %w", err)
		}
		result = encoded
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO actions (`+actionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.OpportunityID, a.ActionType, nullableJSON(a.ActionData), string(a.Status), int(a.Tier), a.AutoExecutable,
		a.ExecutionAttempts, a.LastAttemptAt, result, a.ExecutedAt, a.RolledBackAt, a.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

// ===== [OPPORTUNITIES] =====

func (s *Store) GetOpportunity(ctx context.Context, id string) (*models.Opportunity, error) {
	var (
		o      models.Opportunity
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, confidence, estimated_revenue_impact, content_id, status, implemented_at, created_at
		 FROM opportunities WHERE id = $1`, id).
		Scan(&o.ID, &o.Title, &o.Confidence, &o.EstimatedRevenueImpact, &o.ContentID, &status, &o.ImplementedAt, &o.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	o.Status = models.OpportunityStatus(status)
	return &o, nil
}

func (s *Store) UpdateOpportunity(ctx context.Context, id string, update repository.OpportunityUpdate) error {
	sets := &set{}
	if update.Status != nil {
		sets.add("status", string(*update.Status))
	}
	if update.ImplementedAt != nil {
		sets.add("implemented_at", *update.ImplementedAt)
	}
	if len(sets.cols) == 0 {
		_, err := s.GetOpportunity(ctx, id)
		return err
	}

	query, args := sets.update("opportunities", id)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ListOpportunities(ctx context.Context, filter repository.OpportunityFilter) ([]*models.Opportunity, error) {
	w := &where{}
	if filter.Status != "" {
		w.add("status = $%d", string(filter.Status))
	}
	if !filter.ImplementedSince.IsZero() {
		w.add("implemented_at >= $%d", filter.ImplementedSince)
	}
	query := `SELECT id, title, confidence, estimated_revenue_impact, content_id, status, implemented_at, created_at
		FROM opportunities` + w.String() + " ORDER BY estimated_revenue_impact DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list opportunities: %w", err)
	}
	defer rows.Close()

	var opportunities []*models.Opportunity
	for rows.Next() {
		var (
			o      models.Opportunity
			status string
		)
		if err := rows.Scan(&o.ID, &o.Title, &o.Confidence, &o.EstimatedRevenueImpact, &o.ContentID, &status, &o.ImplementedAt, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		o.Status = models.OpportunityStatus(status)
		opportunities = append(opportunities, &o)
	}
	return opportunities, rows.Err()
}

func (s *Store) CreateOpportunity(ctx context.Context, o *models.Opportunity) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO opportunities (id, title, confidence, estimated_revenue_impact, content_id, status, implemented_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.Title, o.Confidence, o.EstimatedRevenueImpact, o.ContentID, string(o.Status), o.ImplementedAt, o.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert opportunity: %w", err)
	}
	return nil
}

// ===== [EXECUTION LOGS] =====

const logColumns = `id, action_id, action_type, executed_by, input_data, output_data, success, error_message,
	duration_ms, rollback_data, rolled_back_at, rolled_back_by, rollback_reason, created_at`

func scanExecutionLog(row pgx.Row) (*models.ExecutionLog, error) {
	var (
		l          models.ExecutionLog
		executedBy string
		input      []byte
		output     []byte
		rollback   []byte
	)
	err := row.Scan(&l.ID, &l.ActionID, &l.ActionType, &executedBy, &input, &output, &l.Success, &l.ErrorMessage,
		&l.DurationMs, &rollback, &l.RolledBackAt, &l.RolledBackBy, &l.RollbackReason, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.ExecutedBy = models.Trigger(executedBy)
	if len(input) > 0 {
		l.InputData = json.RawMessage(input)
	}
	if len(output) > 0 {
		l.OutputData = json.RawMessage(output)
	}
	if len(rollback) > 0 && string(rollback) != "null" {
		var data models.RollbackData
		if err := json.Unmarshal(rollback, &data); err != nil {
			return nil, fmt.Errorf("failed to decode rollback data of %s: %w", l.ID, err)
		}
		l.RollbackData = &data
	}
	return &l, nil
}

func (s *Store) CreateExecutionLog(ctx context.Context, log *models.ExecutionLog) error {
	rollback, err := marshalNullable(log.RollbackData, log.RollbackData == nil)
	if err != nil {
		return fmt.Errorf("failed to encode rollback data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_logs (`+logColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		log.ID, log.ActionID, log.ActionType, string(log.ExecutedBy), nullableJSON(log.InputData), nullableJSON(log.OutputData),
		log.Success, log.ErrorMessage, log.DurationMs, rollback, log.RolledBackAt, log.RolledBackBy, log.RollbackReason, log.CreatedAt)
	if isUniqueViolation(err) {
		return repository.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to insert execution log: %w", err)
	}
	return nil
}

func (s *Store) GetExecutionLog(ctx context.Context, id string) (*models.ExecutionLog, error) {
	log, err := scanExecutionLog(s.pool.QueryRow(ctx, "SELECT "+logColumns+" FROM execution_logs WHERE id = $1", id))
	if err != nil {
		return nil, notFound(err)
	}
	return log, nil
}

func (s *Store) CountExecutionLogs(ctx context.Context, filter repository.ExecutionLogFilter) (int, error) {
	w := &where{}
	if len(filter.ExecutedBy) > 0 {
		w.add("executed_by = ANY($%d)", triggerStrings(filter.ExecutedBy))
	}
	if !filter.Since.IsZero() {
		w.add("created_at >= $%d", filter.Since)
	}
	if filter.Success != nil {
		w.add("success = $%d", *filter.Success)
	}
	if filter.RolledBack != nil {
		if *filter.RolledBack {
			w.raw("rolled_back_at IS NOT NULL")
		} else {
			w.raw("rolled_back_at IS NULL")
		}
	}
	if !filter.RolledBackSince.IsZero() {
		w.add("rolled_back_at >= $%d", filter.RolledBackSince)
	}

	var count int
	if err := s.pool.QueryRow(ctx, "SELECT count(*) FROM execution_logs"+w.String(), w.args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count execution logs: %w", err)
	}
	return count, nil
}

func (s *Store) ListRecentExecutionLogs(ctx context.Context, limit int) ([]*models.ExecutionLog, error) {
	query := "SELECT " + logColumns + " FROM execution_logs ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ExecutionLog
	for rows.Next() {
		log, err := scanExecutionLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) MarkExecutionLogRolledBack(ctx context.Context, id string, at time.Time, by string, reason string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE execution_logs SET rolled_back_at = $2, rolled_back_by = $3, rollback_reason = $4
		 WHERE id = $1 AND rolled_back_at IS NULL`, id, at, by, reason)
	if err != nil {
		return fmt.Errorf("failed to mark execution log %s rolled back: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM execution_logs WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check execution log %s: %w", id, err)
	}
	if !exists {
		return repository.ErrNotFound
	}
	return repository.ErrConflict
}
