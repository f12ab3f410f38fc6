package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// dialect holds the few statements that differ between SQLite and Postgres
type dialect struct {
	name      string
	driver    string
	serialID  string
	timestamp string
	numbered  bool
	preSchema []string
}

var (
	sqliteDialect = dialect{
		name:      "sqlite",
		driver:    "sqlite3",
		serialID:  "INTEGER PRIMARY KEY AUTOINCREMENT",
		timestamp: "TIMESTAMP",
		preSchema: []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"},
	}
	postgresDialect = dialect{
		name:      "postgres",
		driver:    "pgx",
		serialID:  "BIGSERIAL PRIMARY KEY",
		timestamp: "TIMESTAMPTZ",
		numbered:  true,
	}
)

// rebind turns ? placeholders into $n for Postgres
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (d dialect) schema() []string {
	ts := d.timestamp
	return append(append([]string(nil), d.preSchema...),
		`CREATE TABLE IF NOT EXISTS emails (
			id            TEXT PRIMARY KEY,
			owner_id      TEXT NOT NULL,
			sender        TEXT NOT NULL,
			recipients    TEXT NOT NULL DEFAULT '[]',
			subject       TEXT NOT NULL DEFAULT '',
			body          TEXT NOT NULL DEFAULT '',
			html_body     TEXT NOT NULL DEFAULT '',
			headers       TEXT NOT NULL DEFAULT '{}',
			urls          TEXT NOT NULL DEFAULT '[]',
			attachments   TEXT NOT NULL DEFAULT '[]',
			score         INTEGER NOT NULL DEFAULT 0,
			risk_level    TEXT NOT NULL DEFAULT '',
			flags         TEXT NOT NULL DEFAULT '[]',
			labels        TEXT NOT NULL DEFAULT '[]',
			status        TEXT NOT NULL,
			domain_info   TEXT,
			ip_info       TEXT,
			flagged       BOOLEAN NOT NULL DEFAULT FALSE,
			received_date `+ts+`,
			created_at    `+ts+` NOT NULL,
			analyzed_at   `+ts+`,
			reported_at   `+ts+`
		)`,
		`CREATE INDEX IF NOT EXISTS idx_emails_owner ON emails(owner_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS email_rules (
			id            `+d.serialID+`,
			owner_id      TEXT NOT NULL,
			name          TEXT NOT NULL,
			conditions    TEXT NOT NULL,
			actions       TEXT NOT NULL,
			enabled       BOOLEAN NOT NULL DEFAULT TRUE,
			priority      INTEGER NOT NULL DEFAULT 0,
			matched_count BIGINT NOT NULL DEFAULT 0,
			created_at    `+ts+` NOT NULL,
			updated_at    `+ts+` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rules_owner ON email_rules(owner_id, enabled)`,
		`CREATE TABLE IF NOT EXISTS rule_matches (
			rule_id    BIGINT NOT NULL,
			email_id   TEXT NOT NULL,
			matched_at `+ts+` NOT NULL,
			PRIMARY KEY (rule_id, email_id)
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			id              TEXT PRIMARY KEY,
			email_id        TEXT NOT NULL,
			rule_id         BIGINT,
			recipient_email TEXT NOT NULL,
			recipient_type  TEXT NOT NULL,
			language        TEXT NOT NULL DEFAULT '',
			subject         TEXT NOT NULL DEFAULT '',
			content         TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			created_at      `+ts+` NOT NULL,
			sent_at         `+ts+`,
			error_message   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reports_email ON reports(email_id)`,
		`CREATE TABLE IF NOT EXISTS user_preferences (
			owner_id        TEXT PRIMARY KEY,
			score_threshold INTEGER NOT NULL,
			auto_report     BOOLEAN NOT NULL DEFAULT FALSE,
			report_language TEXT NOT NULL DEFAULT '',
			blocked_senders TEXT NOT NULL DEFAULT '[]',
			trusted_domains TEXT NOT NULL DEFAULT '[]'
		)`,
	)
}

// sqlDB is the shared SQL implementation behind every repository
type sqlDB struct {
	db      *sql.DB
	dialect dialect
	logger  *zap.Logger
}

// NewSQLite opens (or creates) a SQLite database and returns its repositories
func NewSQLite(ctx context.Context, path string, logger *zap.Logger) (*Stores, error) {
	return openSQL(ctx, sqliteDialect, path, logger)
}

// NewPostgres connects to Postgres through the pgx driver and returns its repositories
func NewPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Stores, error) {
	return openSQL(ctx, postgresDialect, dsn, logger)
}

func openSQL(ctx context.Context, d dialect, dsn string, logger *zap.Logger) (*Stores, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", d.name, err)
	}
	if d.name == "sqlite" {
		// SQLite serializes writers anyway
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", d.name, err)
	}
	for _, stmt := range d.schema() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create %s schema: %w", d.name, err)
		}
	}
	logger.Info("Record store initialized", zap.String("backend", d.name))

	s := &sqlDB{db: db, dialect: d, logger: logger}
	return &Stores{
		Emails:      &SQLEmailStore{s},
		Rules:       &SQLRuleStore{s},
		Reports:     &SQLReportStore{s},
		Preferences: &SQLPreferenceStore{s},
		closer:      db,
	}, nil
}

func (s *sqlDB) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *sqlDB) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *sqlDB) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// nullableJSON stores nil pointers as SQL NULL
func nullableJSON[T any](v *T) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	s, err := toJSON(v)
	return sql.NullString{String: s, Valid: err == nil}, err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

type scanner interface {
	Scan(dest ...any) error
}

// SQLEmailStore is a SQL EmailRepository
type SQLEmailStore struct{ s *sqlDB }

const emailColumns = `id, owner_id, sender, recipients, subject, body, html_body, headers, urls,
	attachments, score, risk_level, flags, labels, status, domain_info, ip_info, flagged,
	received_date, created_at, analyzed_at, reported_at`

// Save implements core.EmailRepository
func (r *SQLEmailStore) Save(ctx context.Context, e *core.Email) error {
	var (
		jsonErr error
		enc     = func(v any) string {
			s, err := toJSON(v)
			if err != nil {
				jsonErr = err
			}
			return s
		}
	)
	to, headers, urls := enc(nonNil(e.To)), enc(e.Headers), enc(nonNil(e.URLs))
	attachments, flags, labels := enc(e.Attachments), enc(nonNil(e.Flags)), enc(nonNil(e.Labels))
	if e.Attachments == nil {
		attachments = "[]"
	}
	if e.Headers == nil {
		headers = "{}"
	}
	domainInfo, err := nullableJSON(e.DomainInfo)
	if err != nil {
		jsonErr = err
	}
	ipInfo, err := nullableJSON(e.IPInfo)
	if err != nil {
		jsonErr = err
	}
	if jsonErr != nil {
		return fmt.Errorf("failed to encode email %s: %w", e.ID, jsonErr)
	}

	var received sql.NullTime
	if !e.ReceivedDate.IsZero() {
		received = sql.NullTime{Time: e.ReceivedDate.UTC(), Valid: true}
	}
	_, err = r.s.exec(ctx, `
		INSERT INTO emails (`+emailColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = excluded.owner_id, sender = excluded.sender, recipients = excluded.recipients,
			subject = excluded.subject, body = excluded.body, html_body = excluded.html_body,
			headers = excluded.headers, urls = excluded.urls, attachments = excluded.attachments,
			score = excluded.score, risk_level = excluded.risk_level, flags = excluded.flags,
			labels = excluded.labels, status = excluded.status, domain_info = excluded.domain_info,
			ip_info = excluded.ip_info, flagged = excluded.flagged, received_date = excluded.received_date,
			analyzed_at = excluded.analyzed_at, reported_at = excluded.reported_at
	`, e.ID, e.OwnerID, e.From, to, e.Subject, e.Body, e.HTMLBody, headers, urls,
		attachments, e.Score, string(e.RiskLevel), flags, labels, string(e.Status), domainInfo, ipInfo, e.Flagged,
		received, e.CreatedAt.UTC(), nullTime(e.AnalyzedAt), nullTime(e.ReportedAt))
	if err != nil {
		return fmt.Errorf("failed to save email %s: %w", e.ID, err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func scanEmail(row scanner) (*core.Email, error) {
	var (
		e                                             core.Email
		to, headers, urls, attachments, flags, labels string
		riskLevel, status                             string
		domainInfo, ipInfo                            sql.NullString
		received, analyzed, reported                  sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.OwnerID, &e.From, &to, &e.Subject, &e.Body, &e.HTMLBody, &headers, &urls,
		&attachments, &e.Score, &riskLevel, &flags, &labels, &status, &domainInfo, &ipInfo, &e.Flagged,
		&received, &e.CreatedAt, &analyzed, &reported); err != nil {
		return nil, err
	}
	e.RiskLevel = core.RiskLevel(riskLevel)
	e.Status = core.EmailStatus(status)
	e.CreatedAt = e.CreatedAt.UTC()
	e.AnalyzedAt = timePtr(analyzed)
	e.ReportedAt = timePtr(reported)
	if received.Valid {
		e.ReceivedDate = received.Time.UTC()
	}

	decode := []struct {
		src string
		dst any
	}{
		{to, &e.To}, {headers, &e.Headers}, {urls, &e.URLs},
		{attachments, &e.Attachments}, {flags, &e.Flags}, {labels, &e.Labels},
	}
	for _, d := range decode {
		if err := json.Unmarshal([]byte(d.src), d.dst); err != nil {
			return nil, fmt.Errorf("failed to decode email %s: %w", e.ID, err)
		}
	}
	if domainInfo.Valid {
		e.DomainInfo = &core.DomainInfo{}
		if err := json.Unmarshal([]byte(domainInfo.String), e.DomainInfo); err != nil {
			return nil, fmt.Errorf("failed to decode domain info of %s: %w", e.ID, err)
		}
	}
	if ipInfo.Valid {
		e.IPInfo = &core.IPInfo{}
		if err := json.Unmarshal([]byte(ipInfo.String), e.IPInfo); err != nil {
			return nil, fmt.Errorf("failed to decode ip info of %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

// Get implements core.EmailRepository
func (r *SQLEmailStore) Get(ctx context.Context, id string) (*core.Email, error) {
	e, err := scanEmail(r.s.queryRow(ctx, `SELECT `+emailColumns+` FROM emails WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load email %s: %w", id, err)
	}
	return e, nil
}

// ListByOwner implements core.EmailRepository
func (r *SQLEmailStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.Email, error) {
	rows, err := r.s.query(ctx, `SELECT `+emailColumns+` FROM emails WHERE owner_id = ? ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()
	var out []*core.Email
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SQLRuleStore is a SQL RuleRepository
type SQLRuleStore struct{ s *sqlDB }

const ruleColumns = `id, owner_id, name, conditions, actions, enabled, priority, matched_count, created_at, updated_at`

// Save implements core.RuleRepository. matched_count is owned by
// IncrementMatchCount and never written here.
func (r *SQLRuleStore) Save(ctx context.Context, rule *core.EmailRule) error {
	conds, err := toJSON(rule.Conditions)
	if err != nil {
		return fmt.Errorf("failed to encode conditions: %w", err)
	}
	acts, err := toJSON(rule.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = now
	}

	if rule.ID == 0 {
		err := r.s.queryRow(ctx, `
			INSERT INTO email_rules (owner_id, name, conditions, actions, enabled, priority, matched_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			RETURNING id
		`, rule.OwnerID, rule.Name, conds, acts, rule.Enabled, rule.Priority, rule.MatchedCount,
			rule.CreatedAt.UTC(), rule.UpdatedAt.UTC()).Scan(&rule.ID)
		if err != nil {
			return fmt.Errorf("failed to insert rule: %w", err)
		}
		return nil
	}

	res, err := r.s.exec(ctx, `
		UPDATE email_rules SET owner_id = ?, name = ?, conditions = ?, actions = ?, enabled = ?,
			priority = ?, updated_at = ?
		WHERE id = ?
	`, rule.OwnerID, rule.Name, conds, acts, rule.Enabled, rule.Priority, rule.UpdatedAt.UTC(), rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule %d: %w", rule.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = r.s.exec(ctx, `
		INSERT INTO email_rules (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rule.ID, rule.OwnerID, rule.Name, conds, acts, rule.Enabled, rule.Priority, rule.MatchedCount,
		rule.CreatedAt.UTC(), rule.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert rule %d: %w", rule.ID, err)
	}
	return nil
}

func scanRule(row scanner) (*core.EmailRule, error) {
	var (
		rule        core.EmailRule
		conds, acts string
	)
	if err := row.Scan(&rule.ID, &rule.OwnerID, &rule.Name, &conds, &acts, &rule.Enabled,
		&rule.Priority, &rule.MatchedCount, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(conds), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to decode conditions of rule %d: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(acts), &rule.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of rule %d: %w", rule.ID, err)
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}

func (r *SQLRuleStore) list(ctx context.Context, query string, args ...any) ([]*core.EmailRule, error) {
	rows, err := r.s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()
	var out []*core.EmailRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// Get implements core.RuleRepository
func (r *SQLRuleStore) Get(ctx context.Context, id int64) (*core.EmailRule, error) {
	rule, err := scanRule(r.s.queryRow(ctx, `SELECT `+ruleColumns+` FROM email_rules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %d: %w", id, err)
	}
	return rule, nil
}

// ListEnabled implements core.RuleRepository
func (r *SQLRuleStore) ListEnabled(ctx context.Context, ownerID string) ([]*core.EmailRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM email_rules WHERE owner_id = ? AND enabled = ? ORDER BY id`, ownerID, true)
}

// ListByOwner implements core.RuleRepository
func (r *SQLRuleStore) ListByOwner(ctx context.Context, ownerID string) ([]*core.EmailRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM email_rules WHERE owner_id = ? ORDER BY id`, ownerID)
}

// IncrementMatchCount implements core.RuleRepository
func (r *SQLRuleStore) IncrementMatchCount(ctx context.Context, ruleID int64) error {
	res, err := r.s.exec(ctx, `UPDATE email_rules SET matched_count = matched_count + 1 WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to increment match count of rule %d: %w", ruleID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// RecordMatch implements core.RuleRepository
func (r *SQLRuleStore) RecordMatch(ctx context.Context, ruleID int64, emailID string) (bool, error) {
	res, err := r.s.exec(ctx, `
		INSERT INTO rule_matches (rule_id, email_id, matched_at) VALUES (?, ?, ?)
		ON CONFLICT (rule_id, email_id) DO NOTHING
	`, ruleID, emailID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record match of rule %d: %w", ruleID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record match of rule %d: %w", ruleID, err)
	}
	return n == 1, nil
}

// SQLReportStore is a SQL ReportRepository
type SQLReportStore struct{ s *sqlDB }

const reportColumns = `id, email_id, rule_id, recipient_email, recipient_type, language, subject, content,
	status, retry_count, created_at, sent_at, error_message`

// Save implements core.ReportRepository
func (r *SQLReportStore) Save(ctx context.Context, rep *core.Report) error {
	var ruleID sql.NullInt64
	if rep.RuleID != nil {
		ruleID = sql.NullInt64{Int64: *rep.RuleID, Valid: true}
	}
	_, err := r.s.exec(ctx, `
		INSERT INTO reports (`+reportColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			subject = excluded.subject, content = excluded.content, status = excluded.status,
			retry_count = excluded.retry_count, sent_at = excluded.sent_at, error_message = excluded.error_message
	`, rep.ID, rep.EmailID, ruleID, rep.RecipientEmail, string(rep.RecipientType), rep.Language, rep.Subject,
		rep.Content, string(rep.Status), rep.RetryCount, rep.CreatedAt.UTC(), nullTime(rep.SentAt), rep.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to save report %s: %w", rep.ID, err)
	}
	return nil
}

func scanReport(row scanner) (*core.Report, error) {
	var (
		rep                   core.Report
		ruleID                sql.NullInt64
		recipientType, status string
		sentAt                sql.NullTime
	)
	if err := row.Scan(&rep.ID, &rep.EmailID, &ruleID, &rep.RecipientEmail, &recipientType, &rep.Language,
		&rep.Subject, &rep.Content, &status, &rep.RetryCount, &rep.CreatedAt, &sentAt, &rep.ErrorMessage); err != nil {
		return nil, err
	}
	if ruleID.Valid {
		id := ruleID.Int64
		rep.RuleID = &id
	}
	rep.RecipientType = core.RecipientType(recipientType)
	rep.Status = core.ReportStatus(status)
	rep.CreatedAt = rep.CreatedAt.UTC()
	rep.SentAt = timePtr(sentAt)
	return &rep, nil
}

// Get implements core.ReportRepository
func (r *SQLReportStore) Get(ctx context.Context, id string) (*core.Report, error) {
	rep, err := scanReport(r.s.queryRow(ctx, `SELECT `+reportColumns+` FROM reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load report %s: %w", id, err)
	}
	return rep, nil
}

// ListByEmail implements core.ReportRepository
func (r *SQLReportStore) ListByEmail(ctx context.Context, emailID string) ([]*core.Report, error) {
	rows, err := r.s.query(ctx, `SELECT `+reportColumns+` FROM reports WHERE email_id = ? ORDER BY created_at, id`, emailID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()
	var out []*core.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// SQLPreferenceStore is a SQL PreferenceStore
type SQLPreferenceStore struct{ s *sqlDB }

// Get implements core.PreferenceStore
func (r *SQLPreferenceStore) Get(ctx context.Context, ownerID string) (*core.UserPreferences, error) {
	return r.get(ctx, r.s.db, ownerID)
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLPreferenceStore) get(ctx context.Context, q queryRower, ownerID string) (*core.UserPreferences, error) {
	var (
		p                core.UserPreferences
		blocked, trusted string
	)
	err := q.QueryRowContext(ctx, r.s.dialect.rebind(`
		SELECT owner_id, score_threshold, auto_report, report_language, blocked_senders, trusted_domains
		FROM user_preferences WHERE owner_id = ?
	`), ownerID).Scan(&p.OwnerID, &p.ScoreThreshold, &p.AutoReport, &p.ReportLanguage, &blocked, &trusted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences of %s: %w", ownerID, err)
	}
	if err := json.Unmarshal([]byte(blocked), &p.BlockedSenders); err != nil {
		return nil, fmt.Errorf("failed to decode blocked senders: %w", err)
	}
	if err := json.Unmarshal([]byte(trusted), &p.TrustedDomains); err != nil {
		return nil, fmt.Errorf("failed to decode trusted domains: %w", err)
	}
	return &p, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLPreferenceStore) save(ctx context.Context, x execer, p *core.UserPreferences) error {
	blocked, err := toJSON(nonNil(p.BlockedSenders))
	if err != nil {
		return err
	}
	trusted, err := toJSON(nonNil(p.TrustedDomains))
	if err != nil {
		return err
	}
	_, err = x.ExecContext(ctx, r.s.dialect.rebind(`
		INSERT INTO user_preferences (owner_id, score_threshold, auto_report, report_language, blocked_senders, trusted_domains)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			score_threshold = excluded.score_threshold, auto_report = excluded.auto_report,
			report_language = excluded.report_language, blocked_senders = excluded.blocked_senders,
			trusted_domains = excluded.trusted_domains
	`), p.OwnerID, p.ScoreThreshold, p.AutoReport, p.ReportLanguage, blocked, trusted)
	if err != nil {
		return fmt.Errorf("failed to save preferences of %s: %w", p.OwnerID, err)
	}
	return nil
}

// Save implements core.PreferenceStore
func (r *SQLPreferenceStore) Save(ctx context.Context, p *core.UserPreferences) error {
	return r.save(ctx, r.s.db, p)
}

// BlockSender implements core.PreferenceStore
func (r *SQLPreferenceStore) BlockSender(ctx context.Context, ownerID, sender string) error {
	return r.update(ctx, ownerID, func(p *core.UserPreferences) {
		p.BlockedSenders = appendUnique(p.BlockedSenders, strings.ToLower(sender))
	})
}

// TrustDomain implements core.PreferenceStore
func (r *SQLPreferenceStore) TrustDomain(ctx context.Context, ownerID, domain string) error {
	return r.update(ctx, ownerID, func(p *core.UserPreferences) {
		p.TrustedDomains = appendUnique(p.TrustedDomains, strings.ToLower(domain))
	})
}

// update applies fn to the stored preferences inside a transaction
func (r *SQLPreferenceStore) update(ctx context.Context, ownerID string, fn func(*core.UserPreferences)) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := r.get(ctx, tx, ownerID)
	if errors.Is(err, core.ErrNotFound) {
		p = core.DefaultPreferences(ownerID)
	} else if err != nil {
		return err
	}
	fn(p)
	if err := r.save(ctx, tx, p); err != nil {
		return err
	}
	return tx.Commit()
}
