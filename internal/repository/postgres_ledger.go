package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"FleetRiskAPI/internal/lock"
	"FleetRiskAPI/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const pqUniqueViolation = "23505"

type PostgresLedger struct {
	db       *sql.DB
	locker   lock.Locker
	timeout  time.Duration
	claimTTL time.Duration
}

func NewPostgresLedger(db *sql.DB, locker lock.Locker, timeout time.Duration) *PostgresLedger {
	if timeout <= 0 {
		timeout = DefaultLedgerTimeout
	}
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &PostgresLedger{
		db:       db,
		locker:   locker,
		timeout:  timeout,
		claimTTL: DefaultReceiptClaimTTL,
	}
}

func (l *PostgresLedger) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.timeout)
}

func (l *PostgresLedger) WithAssetLock(ctx context.Context, assetID string, fn func(ctx context.Context) error) error {
	return lock.Do(ctx, l.locker, assetID, l.timeout, fn)
}

const predictionColumns = `
	id, asset_id, failure_probability, confidence_score, risk_level,
	model_version, recommendations, advisory, policy_status, captured_at, created_at`

func scanPrediction(row interface{ Scan(...any) error }) (*models.Prediction, error) {
	p := &models.Prediction{}
	err := row.Scan(
		&p.ID, &p.AssetID, &p.FailureProbability, &p.ConfidenceScore, &p.RiskLevel,
		&p.ModelVersion, &p.Recommendations, &p.Advisory, &p.PolicyStatus,
		&p.CapturedAt, &p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (l *PostgresLedger) RecordPrediction(ctx context.Context, p *models.Prediction) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO predictions (` + predictionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := l.db.ExecContext(ctx, query,
		p.ID, p.AssetID, p.FailureProbability, p.ConfidenceScore, p.RiskLevel,
		p.ModelVersion, p.Recommendations, p.Advisory, p.PolicyStatus,
		p.CapturedAt, p.CreatedAt,
	)
	return models.NewLedgerWriteError("record prediction", err)
}

func (l *PostgresLedger) GetPrediction(ctx context.Context, id string) (*models.Prediction, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `SELECT ` + predictionColumns + ` FROM predictions WHERE id = $1`
	p, err := scanPrediction(l.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

func (l *PostgresLedger) LatestPrediction(ctx context.Context, assetID string) (*models.Prediction, error) {
	list, err := l.ListPredictions(ctx, assetID, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (l *PostgresLedger) ListPredictions(ctx context.Context, assetID string, limit int) ([]models.Prediction, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE asset_id = $1
		ORDER BY captured_at DESC, created_at DESC
		LIMIT $2
	`
	return l.queryPredictions(ctx, query, assetID, limit)
}

func (l *PostgresLedger) ListPendingPredictions(ctx context.Context, limit int) ([]models.Prediction, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT ` + predictionColumns + `
		FROM predictions
		WHERE policy_status = $1 AND NOT advisory
		ORDER BY captured_at ASC
		LIMIT $2
	`
	return l.queryPredictions(ctx, query, models.PolicyPending, limit)
}

func (l *PostgresLedger) queryPredictions(ctx context.Context, query string, args ...any) ([]models.Prediction, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query predictions: %w", err)
	}
	defer rows.Close()

	var out []models.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) SetPolicyStatus(ctx context.Context, predictionID string, status models.PolicyStatus) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `UPDATE predictions SET policy_status = $1 WHERE id = $2`, status, predictionID)
	if err != nil {
		return models.NewLedgerWriteError("set policy status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("prediction %s: %w", predictionID, models.ErrNotFound)
	}
	return nil
}

func (l *PostgresLedger) GetAssetState(ctx context.Context, assetID string) (*models.AssetPolicyState, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `
		SELECT asset_id, state, open_alert_id, last_applied_at, last_prediction_id, updated_at
		FROM asset_policy_state
		WHERE asset_id = $1
	`
	st := &models.AssetPolicyState{}
	var openAlertID sql.NullString
	err := l.db.QueryRowContext(ctx, query, assetID).Scan(
		&st.AssetID, &st.State, &openAlertID, &st.LastAppliedAt, &st.LastPredictionID, &st.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get asset state: %w", err)
	}
	if openAlertID.Valid {
		st.OpenAlertID = &openAlertID.String
	}
	return st, nil
}

// SaveAssetState never moves last_applied_at backwards. A write older than
// the stored state returns a StalePredictionError and changes nothing.
func (l *PostgresLedger) SaveAssetState(ctx context.Context, state *models.AssetPolicyState) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	state.UpdatedAt = time.Now().UTC()
	query := `
		INSERT INTO asset_policy_state (asset_id, state, open_alert_id, last_applied_at, last_prediction_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (asset_id) DO UPDATE SET
			state = EXCLUDED.state,
			open_alert_id = EXCLUDED.open_alert_id,
			last_applied_at = EXCLUDED.last_applied_at,
			last_prediction_id = EXCLUDED.last_prediction_id,
			updated_at = EXCLUDED.updated_at
		WHERE asset_policy_state.last_applied_at <= EXCLUDED.last_applied_at
	`
	res, err := l.db.ExecContext(ctx, query,
		state.AssetID, state.State, state.OpenAlertID, state.LastAppliedAt, state.LastPredictionID, state.UpdatedAt,
	)
	if err != nil {
		return models.NewLedgerWriteError("save asset state", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.NewLedgerWriteError("save asset state", err)
	}
	if n > 0 {
		return nil
	}

	stale := &models.StalePredictionError{AssetID: state.AssetID, CapturedAt: state.LastAppliedAt}
	if current, err := l.GetAssetState(ctx, state.AssetID); err == nil && current != nil {
		stale.AppliedAt = current.LastAppliedAt
	}
	return stale
}

const alertColumns = `
	id, asset_id, alert_type, prediction_id, severity, title, message,
	is_resolved, resolved_at, resolved_by, created_at, updated_at`

func scanAlert(row interface{ Scan(...any) error }) (*models.Alert, error) {
	a := &models.Alert{}
	var predictionID, resolvedBy sql.NullString
	var resolvedAt sql.NullTime
	err := row.Scan(
		&a.ID, &a.AssetID, &a.AlertType, &predictionID, &a.Severity, &a.Title, &a.Message,
		&a.IsResolved, &resolvedAt, &resolvedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if predictionID.Valid {
		a.PredictionID = &predictionID.String
	}
	if resolvedAt.Valid {
		a.ResolvedAt = &resolvedAt.Time
	}
	if resolvedBy.Valid {
		a.ResolvedBy = &resolvedBy.String
	}
	return a, nil
}

func (l *PostgresLedger) GetOpenAlert(ctx context.Context, assetID string, alertType models.AlertType) (*models.Alert, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `SELECT ` + alertColumns + ` FROM alerts WHERE asset_id = $1 AND alert_type = $2 AND NOT is_resolved`
	a, err := scanAlert(l.db.QueryRowContext(ctx, query, assetID, alertType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open alert: %w", err)
	}
	return a, nil
}

func (l *PostgresLedger) GetAlert(ctx context.Context, id string) (*models.Alert, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	a, err := scanAlert(l.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert by id: %w", err)
	}
	return a, nil
}

func (l *PostgresLedger) UpsertAlert(ctx context.Context, alert *models.Alert) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	now := time.Now().UTC()

	if alert.ID == "" {
		alert.ID = uuid.NewString()
		alert.IsResolved = false
		alert.CreatedAt = now
		alert.UpdatedAt = now

		query := `
			INSERT INTO alerts (
				id, asset_id, alert_type, prediction_id, severity, title, message,
				is_resolved, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)
		`
		_, err := l.db.ExecContext(ctx, query,
			alert.ID, alert.AssetID, alert.AlertType, alert.PredictionID, alert.Severity,
			alert.Title, alert.Message, alert.CreatedAt, alert.UpdatedAt,
		)
		if isUniqueViolation(err) {
			alert.ID = ""
			return fmt.Errorf("asset %s: %w", alert.AssetID, models.ErrOpenAlertExists)
		}
		if err != nil {
			alert.ID = ""
			return models.NewLedgerWriteError("create alert", err)
		}
		return nil
	}

	query := `
		UPDATE alerts
		SET severity = $1, title = $2, message = $3, prediction_id = $4, updated_at = $5
		WHERE id = $6 AND NOT is_resolved
		RETURNING ` + alertColumns
	updated, err := scanAlert(l.db.QueryRowContext(ctx, query,
		alert.Severity, alert.Title, alert.Message, alert.PredictionID, now, alert.ID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return l.missingOrResolved(ctx, alert.ID)
	}
	if err != nil {
		return models.NewLedgerWriteError("update alert", err)
	}
	*alert = *updated
	return nil
}

func (l *PostgresLedger) missingOrResolved(ctx context.Context, id string) error {
	var resolved bool
	err := l.db.QueryRowContext(ctx, `SELECT is_resolved FROM alerts WHERE id = $1`, id).Scan(&resolved)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("alert %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check alert: %w", err)
	}
	return fmt.Errorf("alert %s: %w", id, models.ErrAlreadyResolved)
}

func (l *PostgresLedger) ResolveAlert(ctx context.Context, id, resolvedBy string, at time.Time) (*models.Alert, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `
		UPDATE alerts
		SET is_resolved = TRUE, resolved_at = $1, resolved_by = $2, updated_at = $1
		WHERE id = $3 AND NOT is_resolved
		RETURNING ` + alertColumns
	a, err := scanAlert(l.db.QueryRowContext(ctx, query, at.UTC(), resolvedBy, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, l.missingOrResolved(ctx, id)
	}
	if err != nil {
		return nil, models.NewLedgerWriteError("resolve alert", err)
	}
	return a, nil
}

func (l *PostgresLedger) ListAlerts(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	var where []string
	var args []any
	if filter.AssetID != "" {
		args = append(args, filter.AssetID)
		where = append(where, fmt.Sprintf("asset_id = $%d", len(args)))
	}
	if filter.OnlyOpen {
		where = append(where, "NOT is_resolved")
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (l *PostgresLedger) AlertStatistics(ctx context.Context) (map[string]int, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `
		SELECT is_resolved, severity, COUNT(*)
		FROM alerts
		GROUP BY is_resolved, severity
	`
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert statistics: %w", err)
	}
	defer rows.Close()

	stats := map[string]int{"total": 0, "open": 0, "resolved": 0}
	for rows.Next() {
		var resolved bool
		var severity string
		var count int
		if err := rows.Scan(&resolved, &severity, &count); err != nil {
			return nil, err
		}
		stats["total"] += count
		if resolved {
			stats["resolved"] += count
		} else {
			stats["open"] += count
			stats["open_"+severity] += count
		}
	}
	return stats, rows.Err()
}

func (l *PostgresLedger) CreateWorkOrder(ctx context.Context, wo *models.WorkOrder) (bool, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	if wo.ID == "" {
		wo.ID = uuid.NewString()
	}
	if wo.Status == "" {
		wo.Status = models.WorkOrderStatusOpen
	}
	wo.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO work_orders (
			id, asset_id, work_order_type, priority, status, source_alert_id,
			title, description, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (asset_id, source_alert_id) WHERE status = 'OPEN' DO NOTHING
		RETURNING id
	`
	var id string
	err := l.db.QueryRowContext(ctx, query,
		wo.ID, wo.AssetID, wo.WorkOrderType, wo.Priority, wo.Status, wo.SourceAlertID,
		wo.Title, wo.Description, wo.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		// Already open for this alert: hand back the stored row.
		existing := l.db.QueryRowContext(ctx, `
			SELECT id, asset_id, work_order_type, priority, status, source_alert_id,
			       title, description, created_at
			FROM work_orders
			WHERE asset_id = $1 AND source_alert_id = $2 AND status = 'OPEN'
		`, wo.AssetID, wo.SourceAlertID)
		if err := existing.Scan(
			&wo.ID, &wo.AssetID, &wo.WorkOrderType, &wo.Priority, &wo.Status, &wo.SourceAlertID,
			&wo.Title, &wo.Description, &wo.CreatedAt,
		); err != nil {
			return false, models.NewLedgerWriteError("load existing work order", err)
		}
		return false, nil
	}
	if err != nil {
		return false, models.NewLedgerWriteError("create work order", err)
	}
	return true, nil
}

func (l *PostgresLedger) ListWorkOrders(ctx context.Context, assetID string) ([]models.WorkOrder, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `
		SELECT id, asset_id, work_order_type, priority, status, source_alert_id,
		       title, description, created_at
		FROM work_orders
		WHERE ($1::text = '' OR asset_id = $1)
		ORDER BY created_at DESC
	`
	rows, err := l.db.QueryContext(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work orders: %w", err)
	}
	defer rows.Close()

	var out []models.WorkOrder
	for rows.Next() {
		var wo models.WorkOrder
		if err := rows.Scan(
			&wo.ID, &wo.AssetID, &wo.WorkOrderType, &wo.Priority, &wo.Status, &wo.SourceAlertID,
			&wo.Title, &wo.Description, &wo.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan work order: %w", err)
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}

const receiptColumns = `id, alert_id, channel, recipient_id, status, error, attempted_at`

func scanReceipt(row interface{ Scan(...any) error }) (*models.NotificationReceipt, error) {
	r := &models.NotificationReceipt{}
	if err := row.Scan(&r.ID, &r.AlertID, &r.Channel, &r.RecipientID, &r.Status, &r.Error, &r.AttemptedAt); err != nil {
		return nil, err
	}
	return r, nil
}

func (l *PostgresLedger) ClaimReceipt(ctx context.Context, alertID, channel, recipientID string, at time.Time) (*models.NotificationReceipt, bool, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	at = at.UTC()
	query := `
		INSERT INTO notification_receipts (alert_id, channel, recipient_id, status, error, attempted_at)
		VALUES ($1, $2, $3, 'PENDING', '', $4)
		ON CONFLICT (alert_id, channel, recipient_id) DO UPDATE
		SET status = 'PENDING', error = '', attempted_at = EXCLUDED.attempted_at
		WHERE notification_receipts.status IN ('FAILED', 'SKIPPED')
		   OR (notification_receipts.status = 'PENDING' AND notification_receipts.attempted_at < $5)
		RETURNING ` + receiptColumns
	r, err := scanReceipt(l.db.QueryRowContext(ctx, query, alertID, channel, recipientID, at, at.Add(-l.claimTTL)))
	if err == nil {
		return r, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, models.NewLedgerWriteError("claim receipt", err)
	}

	existing, err := scanReceipt(l.db.QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM notification_receipts WHERE alert_id = $1 AND channel = $2 AND recipient_id = $3`,
		alertID, channel, recipientID,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing receipt: %w", err)
	}
	return existing, false, nil
}

func (l *PostgresLedger) CompleteReceipt(ctx context.Context, receipt *models.NotificationReceipt) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	query := `
		UPDATE notification_receipts
		SET status = $1, error = $2, attempted_at = $3
		WHERE alert_id = $4 AND channel = $5 AND recipient_id = $6
	`
	res, err := l.db.ExecContext(ctx, query,
		receipt.Status, receipt.Error, receipt.AttemptedAt.UTC(),
		receipt.AlertID, receipt.Channel, receipt.RecipientID,
	)
	if err != nil {
		return models.NewLedgerWriteError("complete receipt", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("receipt %s/%s/%s: %w", receipt.AlertID, receipt.Channel, receipt.RecipientID, models.ErrNotFound)
	}
	return nil
}

func (l *PostgresLedger) ListReceipts(ctx context.Context, alertID string) ([]models.NotificationReceipt, error) {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	rows, err := l.db.QueryContext(ctx,
		`SELECT `+receiptColumns+` FROM notification_receipts WHERE alert_id = $1 ORDER BY id`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var out []models.NotificationReceipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan receipt: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (l *PostgresLedger) Ping(ctx context.Context) error {
	ctx, cancel := l.bounded(ctx)
	defer cancel()

	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ledger ping failed: %w", err)
	}
	return l.locker.Ping(ctx)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
