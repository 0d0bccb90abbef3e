package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/leadctl/internal/leadapi"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the local cache of scan snapshots, inbox snapshots and drafts.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) leadctl.db in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "leadctl.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection avoids "database is locked" and keeps :memory:
	// databases from being split across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded SQL migrations that have not been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Scan snapshots ---

// SaveScan records a scan result for its criteria and returns the snapshot id.
// Criteria are stored as given so a restored snapshot repeats the same request.
func (s *Store) SaveScan(criteria leadapi.ScanRequest, result leadapi.ScanResult) (int64, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("encoding scan result: %w", err)
	}
	res, err := s.db.Exec(`
		INSERT INTO scan_snapshots (state, city, strategy, result_json, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		criteria.State, criteria.City, criteria.Strategy,
		string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LatestScan returns the newest snapshot. When criteria is non-nil only
// snapshots for those criteria are considered.
func (s *Store) LatestScan(criteria *leadapi.ScanRequest) (ScanSnapshot, error) {
	query := `SELECT id, state, city, strategy, result_json, created_at FROM scan_snapshots`
	var args []any
	if criteria != nil {
		query += ` WHERE lower(trim(state)) = ? AND lower(trim(city)) = ? AND lower(trim(strategy)) = ?`
		args = append(args, normalize(criteria.State), normalize(criteria.City), normalize(criteria.Strategy))
	}
	query += ` ORDER BY id DESC LIMIT 1`

	var snap ScanSnapshot
	var resultJSON, createdAt string
	err := s.db.QueryRow(query, args...).Scan(
		&snap.ID, &snap.Criteria.State, &snap.Criteria.City, &snap.Criteria.Strategy, &resultJSON, &createdAt,
	)
	if err == sql.ErrNoRows {
		return ScanSnapshot{}, ErrNotFound
	}
	if err != nil {
		return ScanSnapshot{}, err
	}
	if err := json.Unmarshal([]byte(resultJSON), &snap.Result); err != nil {
		return ScanSnapshot{}, fmt.Errorf("decoding scan snapshot %d: %w", snap.ID, err)
	}
	if snap.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return ScanSnapshot{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return snap, nil
}

// PruneScans keeps only the newest keep snapshots.
func (s *Store) PruneScans(keep int) (int64, error) {
	res, err := s.db.Exec(`
		DELETE FROM scan_snapshots
		WHERE id NOT IN (SELECT id FROM scan_snapshots ORDER BY id DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// normalize makes criteria lookups case- and whitespace-insensitive.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// --- Inbox snapshots ---

// SaveInbox replaces the stored snapshot for the inbox's campaign.
func (s *Store) SaveInbox(in leadapi.Inbox) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding inbox: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO inbox_snapshots (campaign_id, campaign_name, inbox_json, fetched_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(campaign_id) DO UPDATE SET
			campaign_name = excluded.campaign_name,
			inbox_json = excluded.inbox_json,
			fetched_at = excluded.fetched_at`,
		in.CampaignID, in.CampaignName, string(data), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetInbox(campaignID int) (InboxSnapshot, error) {
	var inboxJSON, fetchedAt string
	err := s.db.QueryRow(`SELECT inbox_json, fetched_at FROM inbox_snapshots WHERE campaign_id = ?`, campaignID).
		Scan(&inboxJSON, &fetchedAt)
	if err == sql.ErrNoRows {
		return InboxSnapshot{}, ErrNotFound
	}
	if err != nil {
		return InboxSnapshot{}, err
	}
	var snap InboxSnapshot
	if err := json.Unmarshal([]byte(inboxJSON), &snap.Inbox); err != nil {
		return InboxSnapshot{}, fmt.Errorf("decoding inbox snapshot %d: %w", campaignID, err)
	}
	if snap.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
		return InboxSnapshot{}, fmt.Errorf("parsing fetched_at: %w", err)
	}
	return snap, nil
}

// ForgetCampaign removes the inbox snapshot and drafts of a deleted campaign.
func (s *Store) ForgetCampaign(campaignID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning forget transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM inbox_snapshots WHERE campaign_id = ?`, campaignID); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM drafts WHERE campaign_id = ?`, campaignID); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Drafts ---

func (s *Store) SaveDraft(d Draft) error {
	_, err := s.db.Exec(`
		INSERT INTO drafts (campaign_id, lead_id, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(campaign_id, lead_id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		d.CampaignID, d.LeadID, d.Body, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDraft(campaignID int, leadID string) (Draft, error) {
	d := Draft{CampaignID: campaignID, LeadID: leadID}
	var updatedAt string
	err := s.db.QueryRow(`SELECT body, updated_at FROM drafts WHERE campaign_id = ? AND lead_id = ?`, campaignID, leadID).
		Scan(&d.Body, &updatedAt)
	if err == sql.ErrNoRows {
		return Draft{}, ErrNotFound
	}
	if err != nil {
		return Draft{}, err
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Draft{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

func (s *Store) DeleteDraft(campaignID int, leadID string) error {
	res, err := s.db.Exec(`DELETE FROM drafts WHERE campaign_id = ? AND lead_id = ?`, campaignID, leadID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
