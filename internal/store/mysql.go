package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/atikulmunna/warden/internal/model"
	"github.com/atikulmunna/warden/internal/settings"
)

// MySQL is a Sink over the access_log, modsec_alerts, url_registry and
// settings tables. The schema is managed elsewhere.
type MySQL struct {
	db *sql.DB
}

// OpenMySQL connects using a go-sql-driver DSN and verifies the connection.
func OpenMySQL(ctx context.Context, dsn string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql sink: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.Local
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql sink: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mysql sink: %w", err)
	}
	return NewMySQL(db), nil
}

// NewMySQL wraps an open handle.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

const (
	insertAccess = `INSERT INTO access_log (method, full_url, status_code, ip_address, access_time, blocked_by_modsec) VALUES (?, ?, ?, ?, ?, ?)`
	insertAlert  = `INSERT IGNORE INTO modsec_alerts (access_log_id, rule_id, msg, data, severity) VALUES (?, ?, ?, ?, ?)`
	selectURL    = `SELECT id, is_whitelisted FROM url_registry WHERE full_url = ?`
	insertURL    = `INSERT INTO url_registry (method, full_url, created_at, is_whitelisted, updated_at, attack_type) VALUES (?, ?, ?, ?, ?, ?)`
	whitelistURL = `UPDATE url_registry SET is_whitelisted = TRUE, updated_at = ? WHERE id = ?`
	selectAll    = `SELECT id, full_url, attack_type FROM url_registry`
	reclassify   = `UPDATE url_registry SET attack_type = ? WHERE id = ?`
	selectWL     = `SELECT whitelist_mode, whitelist_ip FROM settings WHERE id = 1`
)

func (s *MySQL) RecordAccess(ctx context.Context, rec AccessRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx, insertAccess,
		rec.Method, rec.URL, rec.Status, rec.IP, rec.Timestamp, rec.Blocked)
	if err != nil {
		return 0, fmt.Errorf("insert access_log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("access_log id: %w", err)
	}
	return id, nil
}

// RecordAlert relies on a unique key over (access_log_id, rule_id).
func (s *MySQL) RecordAlert(ctx context.Context, accessID int64, f model.Fragment) error {
	if _, err := s.db.ExecContext(ctx, insertAlert,
		accessID, f.RuleID, f.Message, f.Data, f.Severity); err != nil {
		return fmt.Errorf("insert modsec_alerts: %w", err)
	}
	return nil
}

func (s *MySQL) UpsertURL(ctx context.Context, e RegistryEntry) error {
	var (
		id          int64
		whitelisted bool
	)
	err := s.db.QueryRowContext(ctx, selectURL, e.URL).Scan(&id, &whitelisted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.ExecContext(ctx, insertURL,
			e.Method, e.URL, e.Timestamp, e.Whitelisted, e.Timestamp, e.Classification); err != nil {
			return fmt.Errorf("insert url_registry: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("select url_registry: %w", err)
	}
	if e.Whitelisted && !whitelisted {
		if _, err := s.db.ExecContext(ctx, whitelistURL, e.Timestamp, id); err != nil {
			return fmt.Errorf("whitelist url_registry: %w", err)
		}
	}
	return nil
}

// Reclassify rewrites attack_type for every registry row whose label changed
// and returns the number of rows updated. The schema keeps only the decoded
// URL, so rows reach classify without RawURL.
func (s *MySQL) Reclassify(ctx context.Context, classify func(RegistryEntry) string) (int, error) {
	rows, err := s.db.QueryContext(ctx, selectAll)
	if err != nil {
		return 0, fmt.Errorf("select url_registry: %w", err)
	}
	type change struct {
		id    int64
		label string
	}
	var changes []change
	for rows.Next() {
		var (
			id       int64
			url      string
			existing sql.NullString
		)
		if err := rows.Scan(&id, &url, &existing); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan url_registry: %w", err)
		}
		e := RegistryEntry{URL: url, Classification: existing.String}
		if label := classify(e); label != existing.String {
			changes = append(changes, change{id, label})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("scan url_registry: %w", err)
	}
	rows.Close()

	for i, c := range changes {
		if _, err := s.db.ExecContext(ctx, reclassify, c.label, c.id); err != nil {
			return i, fmt.Errorf("update url_registry: %w", err)
		}
	}
	return len(changes), nil
}

// WhitelistSettings reads the singleton settings row.
func (s *MySQL) WhitelistSettings(ctx context.Context) (settings.Whitelist, error) {
	var (
		mode bool
		ip   sql.NullString
	)
	if err := s.db.QueryRowContext(ctx, selectWL).Scan(&mode, &ip); err != nil {
		return settings.Whitelist{}, fmt.Errorf("select settings: %w", err)
	}
	return settings.Whitelist{Enabled: mode, IP: ip.String}, nil
}

func (s *MySQL) Close() error { return s.db.Close() }
