package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"argus/core"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the storage boundary on an embedded SQLite
// database. Nested structures (conditions, templates, comments, audit log)
// are stored as JSON columns; queried columns are first-class.
type SQLiteStorage struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS events (
	event_id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL,
	trigger_count INTEGER NOT NULL DEFAULT 0,
	false_positive_count INTEGER NOT NULL DEFAULT 0,
	doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS correlation_rules (
	id TEXT PRIMARY KEY,
	enabled INTEGER NOT NULL,
	doc TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerts (
	alert_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	severity TEXT NOT NULL,
	rule_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	doc TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_fingerprint ON alerts(fingerprint, created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`

// NewSQLiteStorage opens (or creates) the database at path and prepares the
// schema. WAL mode allows concurrent readers alongside the single writer.
func NewSQLiteStorage(path string, logger *zap.SugaredLogger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, unavailable("configure sqlite", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, unavailable("create sqlite schema", err)
	}
	logger.Infow("SQLite storage ready", "path", path)
	return &SQLiteStorage{db: db, logger: logger}, nil
}

// InsertEvent stores an event.
func (s *SQLiteStorage) InsertEvent(ctx context.Context, event *core.Event) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, timestamp, doc) VALUES (?, ?, ?)`,
		event.EventID, event.Timestamp.UnixNano(), string(doc))
	return unavailable("insert event", err)
}

// GetEvent returns an event by ID.
func (s *SQLiteStorage) GetEvent(ctx context.Context, id string) (*core.Event, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM events WHERE event_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("event", id)
	}
	if err != nil {
		return nil, unavailable("get event", err)
	}
	var event core.Event
	if err := json.Unmarshal([]byte(doc), &event); err != nil {
		return nil, fmt.Errorf("unmarshal event %s: %w", id, err)
	}
	return &event, nil
}

// UpdateEvent replaces a stored event.
func (s *SQLiteStorage) UpdateEvent(ctx context.Context, event *core.Event) error {
	doc, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE events SET timestamp = ?, doc = ? WHERE event_id = ?`,
		event.Timestamp.UnixNano(), string(doc), event.EventID)
	if err != nil {
		return unavailable("update event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("event", event.EventID)
	}
	return nil
}

// GetEventsByTimeRange returns events with start <= timestamp < end.
func (s *SQLiteStorage) GetEventsByTimeRange(ctx context.Context, start, end time.Time) ([]*core.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM events WHERE timestamp >= ? AND timestamp < ? ORDER BY timestamp`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, unavailable("query events by time range", err)
	}
	defer rows.Close()
	var events []*core.Event
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan event", err)
		}
		var event core.Event
		if err := json.Unmarshal([]byte(doc), &event); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, &event)
	}
	return events, unavailable("iterate events", rows.Err())
}

// CreateRule stores a detection rule with its counters.
func (s *SQLiteStorage) CreateRule(ctx context.Context, rule *core.Rule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO rules (id, enabled, trigger_count, false_positive_count, doc) VALUES (?, ?, ?, ?, ?)`,
		rule.ID, boolToInt(rule.Enabled), rule.TriggerCount(), rule.FalsePositiveCount(), string(doc))
	return unavailable("insert rule", err)
}

// GetRule returns a detection rule by ID with counters restored.
func (s *SQLiteStorage) GetRule(ctx context.Context, id string) (*core.Rule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc, trigger_count, false_positive_count FROM rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("rule", id)
	}
	if err != nil {
		return nil, unavailable("get rule", err)
	}
	return rule, nil
}

// UpdateRule replaces a stored detection rule, persisting current counters.
func (s *SQLiteStorage) UpdateRule(ctx context.Context, rule *core.Rule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE rules SET enabled = ?, trigger_count = ?, false_positive_count = ?, doc = ? WHERE id = ?`,
		boolToInt(rule.Enabled), rule.TriggerCount(), rule.FalsePositiveCount(), string(doc), rule.ID)
	if err != nil {
		return unavailable("update rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("rule", rule.ID)
	}
	return nil
}

// ListRules returns detection rules ordered by ID with pagination.
func (s *SQLiteStorage) ListRules(ctx context.Context, limit, offset int) ([]*core.Rule, error) {
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, trigger_count, false_positive_count FROM rules ORDER BY id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, unavailable("list rules", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// GetEnabledRules returns all enabled detection rules.
func (s *SQLiteStorage) GetEnabledRules(ctx context.Context) ([]*core.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc, trigger_count, false_positive_count FROM rules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, unavailable("list enabled rules", err)
	}
	defer rows.Close()
	return collectRules(rows)
}

// CreateCorrelationRule stores a correlation rule.
func (s *SQLiteStorage) CreateCorrelationRule(ctx context.Context, rule *core.CorrelationRule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal correlation rule: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO correlation_rules (id, enabled, doc) VALUES (?, ?, ?)`,
		rule.ID, boolToInt(rule.Enabled), string(doc))
	return unavailable("insert correlation rule", err)
}

// GetCorrelationRule returns a correlation rule by ID.
func (s *SQLiteStorage) GetCorrelationRule(ctx context.Context, id string) (*core.CorrelationRule, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM correlation_rules WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("correlation rule", id)
	}
	if err != nil {
		return nil, unavailable("get correlation rule", err)
	}
	var rule core.CorrelationRule
	if err := json.Unmarshal([]byte(doc), &rule); err != nil {
		return nil, fmt.Errorf("unmarshal correlation rule %s: %w", id, err)
	}
	return &rule, nil
}

// UpdateCorrelationRule replaces a stored correlation rule.
func (s *SQLiteStorage) UpdateCorrelationRule(ctx context.Context, rule *core.CorrelationRule) error {
	doc, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal correlation rule: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE correlation_rules SET enabled = ?, doc = ? WHERE id = ?`,
		boolToInt(rule.Enabled), string(doc), rule.ID)
	if err != nil {
		return unavailable("update correlation rule", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("correlation rule", rule.ID)
	}
	return nil
}

// ListCorrelationRules returns correlation rules ordered by ID.
func (s *SQLiteStorage) ListCorrelationRules(ctx context.Context, limit, offset int) ([]*core.CorrelationRule, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM correlation_rules ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, unavailable("list correlation rules", err)
	}
	defer rows.Close()
	return collectCorrelationRules(rows)
}

// GetEnabledCorrelationRules returns all enabled correlation rules.
func (s *SQLiteStorage) GetEnabledCorrelationRules(ctx context.Context) ([]*core.CorrelationRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM correlation_rules WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, unavailable("list enabled correlation rules", err)
	}
	defer rows.Close()
	return collectCorrelationRules(rows)
}

// InsertAlert stores an alert.
func (s *SQLiteStorage) InsertAlert(ctx context.Context, alert *core.Alert) error {
	doc, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (alert_id, status, severity, rule_id, fingerprint, created_at, doc) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		alert.AlertID, string(alert.Status), string(alert.Severity), alert.RuleID,
		alert.Fingerprint, alert.CreatedAt.UnixNano(), string(doc))
	return unavailable("insert alert", err)
}

// GetAlert returns an alert by ID.
func (s *SQLiteStorage) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM alerts WHERE alert_id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("alert", id)
	}
	if err != nil {
		return nil, unavailable("get alert", err)
	}
	var alert core.Alert
	if err := json.Unmarshal([]byte(doc), &alert); err != nil {
		return nil, fmt.Errorf("unmarshal alert %s: %w", id, err)
	}
	return &alert, nil
}

// UpdateAlert replaces a stored alert.
func (s *SQLiteStorage) UpdateAlert(ctx context.Context, alert *core.Alert) error {
	doc, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, severity = ?, rule_id = ?, fingerprint = ?, created_at = ?, doc = ? WHERE alert_id = ?`,
		string(alert.Status), string(alert.Severity), alert.RuleID, alert.Fingerprint,
		alert.CreatedAt.UnixNano(), string(doc), alert.AlertID)
	if err != nil {
		return unavailable("update alert", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("alert", alert.AlertID)
	}
	return nil
}

// FindAlertsByFingerprint returns alerts carrying the fingerprint created at
// or after windowStart, in creation order.
func (s *SQLiteStorage) FindAlertsByFingerprint(ctx context.Context, fingerprint string, windowStart time.Time) ([]*core.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM alerts WHERE fingerprint = ? AND created_at >= ? ORDER BY created_at`,
		fingerprint, windowStart.UnixNano())
	if err != nil {
		return nil, unavailable("find alerts by fingerprint", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// ListAlerts returns filtered alerts in creation order plus the total count
// before pagination.
func (s *SQLiteStorage) ListAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, int64, error) {
	where := "1=1"
	args := []interface{}{}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Severity != "" {
		where += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.RuleID != "" {
		where += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, unavailable("count alerts", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit, filter.Offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM alerts WHERE `+where+` ORDER BY created_at LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, 0, unavailable("list alerts", err)
	}
	defer rows.Close()
	alerts, err := collectAlerts(rows)
	return alerts, total, err
}

// GetAlertsByTimeRange returns alerts created in [start, end).
func (s *SQLiteStorage) GetAlertsByTimeRange(ctx context.Context, start, end time.Time) ([]*core.Alert, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM alerts WHERE created_at >= ? AND created_at < ? ORDER BY created_at`,
		start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, unavailable("query alerts by time range", err)
	}
	defer rows.Close()
	return collectAlerts(rows)
}

// Close shuts down the database.
func (s *SQLiteStorage) Close(_ context.Context) error {
	return unavailable("close sqlite", s.db.Close())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*core.Rule, error) {
	var doc string
	var triggers, falsePositives int64
	if err := row.Scan(&doc, &triggers, &falsePositives); err != nil {
		return nil, err
	}
	var rule core.Rule
	if err := json.Unmarshal([]byte(doc), &rule); err != nil {
		return nil, fmt.Errorf("unmarshal rule: %w", err)
	}
	rule.SetCounters(triggers, falsePositives)
	return &rule, nil
}

func collectRules(rows *sql.Rows) ([]*core.Rule, error) {
	var rules []*core.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, unavailable("scan rule", err)
		}
		rules = append(rules, rule)
	}
	return rules, unavailable("iterate rules", rows.Err())
}

func collectCorrelationRules(rows *sql.Rows) ([]*core.CorrelationRule, error) {
	var rules []*core.CorrelationRule
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan correlation rule", err)
		}
		var rule core.CorrelationRule
		if err := json.Unmarshal([]byte(doc), &rule); err != nil {
			return nil, fmt.Errorf("unmarshal correlation rule: %w", err)
		}
		rules = append(rules, &rule)
	}
	return rules, unavailable("iterate correlation rules", rows.Err())
}

func collectAlerts(rows *sql.Rows) ([]*core.Alert, error) {
	var alerts []*core.Alert
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, unavailable("scan alert", err)
		}
		var alert core.Alert
		if err := json.Unmarshal([]byte(doc), &alert); err != nil {
			return nil, fmt.Errorf("unmarshal alert: %w", err)
		}
		alerts = append(alerts, &alert)
	}
	return alerts, unavailable("iterate alerts", rows.Err())
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
