package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kirimapp/kirim/internal/models"
	"github.com/kirimapp/kirim/pkg/config"
)

// Older deployments stored social links as a JSON array inside a
// users.social_links text column. The migration moves those entries into the
// social_links table and rebuilds the users table without the column.

type socialLinksMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type socialLinkRecord struct {
	UserID int64
	Links  []legacySocialLink
}

type legacySocialLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type sqliteQueryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: social-links)")
	}

	switch args[0] {
	case "social-links":
		opts, err := parseSocialLinksMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runSocialLinksMigration(out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parseSocialLinksMigrationArgs(cfg *config.Config, args []string) (socialLinksMigrationOptions, error) {
	opts := socialLinksMigrationOptions{DatabasePath: cfg.DatabasePath}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown migration flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}

	return opts, nil
}

func runSocialLinksMigration(out io.Writer, opts socialLinksMigrationOptions) error {
	dbConn, err := sql.Open("sqlite3", opts.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer dbConn.Close()

	if err := dbConn.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if _, err := dbConn.Exec("BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	inTx := true
	defer func() {
		if inTx {
			_, _ = dbConn.Exec("ROLLBACK")
		}
	}()

	hasLegacy, err := usersTableHasSocialLinksColumn(dbConn)
	if err != nil {
		return fmt.Errorf("failed to inspect users schema: %w", err)
	}
	if !hasLegacy {
		if _, err := dbConn.Exec("COMMIT"); err != nil {
			return fmt.Errorf("failed to finish migration transaction: %w", err)
		}
		inTx = false
		fmt.Fprintln(out, "Social links migration: already migrated (no legacy social_links column).")
		return nil
	}

	records, userCount, linkCount, invalidUserIDs, err := loadLegacySocialLinkRecords(dbConn)
	if err != nil {
		return err
	}
	if len(invalidUserIDs) > 0 {
		sort.Slice(invalidUserIDs, func(i, j int) bool { return invalidUserIDs[i] < invalidUserIDs[j] })
		return fmt.Errorf("invalid social links JSON for user ids: %v", invalidUserIDs)
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would migrate %d users and %d social links.\n", userCount, linkCount)
		if _, err := dbConn.Exec("ROLLBACK"); err != nil {
			return fmt.Errorf("failed to finish dry-run rollback: %w", err)
		}
		inTx = false
		return nil
	}

	if err := rebuildUsersSchema(dbConn); err != nil {
		return err
	}

	if err := backfillSocialLinks(dbConn, records); err != nil {
		return err
	}

	if err := validateSocialLinksMigration(dbConn, linkCount); err != nil {
		return err
	}

	if _, err := dbConn.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	inTx = false

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Migrated %d users and %d social links.\n", userCount, linkCount)
	return nil
}

// legacySocialLinksPending reports whether the connected database still has
// the legacy JSON column. Used at startup to nag the operator.
func legacySocialLinksPending(dbConn *sql.DB) (bool, error) {
	return usersTableHasSocialLinksColumn(dbConn)
}

func usersTableHasSocialLinksColumn(q sqliteQueryer) (bool, error) {
	rows, err := q.Query("PRAGMA table_info(users)")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name string
		var columnType string
		var notNull int
		var defaultValue any
		var pk int
		if err := rows.Scan(&cid, &name, &columnType, &notNull, &defaultValue, &pk); err != nil {
			return false, err
		}
		if name == "social_links" {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	return false, nil
}

func loadLegacySocialLinkRecords(dbConn *sql.DB) ([]socialLinkRecord, int, int, []int64, error) {
	rows, err := dbConn.Query(`
		SELECT id, COALESCE(social_links, '')
		FROM users
		ORDER BY id
	`)
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("failed to read legacy users: %w", err)
	}
	defer rows.Close()

	records := make([]socialLinkRecord, 0)
	invalidUserIDs := make([]int64, 0)
	totalLinks := 0
	totalUsers := 0

	for rows.Next() {
		var userID int64
		var raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, 0, 0, nil, fmt.Errorf("failed to scan legacy user: %w", err)
		}
		totalUsers++

		links, err := parseLegacySocialLinks(raw)
		if err != nil {
			invalidUserIDs = append(invalidUserIDs, userID)
			continue
		}
		if len(links) == 0 {
			continue
		}

		records = append(records, socialLinkRecord{UserID: userID, Links: links})
		totalLinks += len(links)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, nil, fmt.Errorf("failed while reading legacy users: %w", err)
	}

	return records, totalUsers, totalLinks, invalidUserIDs, nil
}

func parseLegacySocialLinks(raw string) ([]legacySocialLink, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "[]" || trimmed == "null" {
		return nil, nil
	}

	var parsed []legacySocialLink
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return nil, fmt.Errorf("invalid social links JSON: %w", err)
	}

	links := make([]legacySocialLink, 0, len(parsed))
	for _, link := range parsed {
		name := strings.TrimSpace(link.Name)
		url := strings.TrimSpace(link.URL)
		if name == "" || url == "" {
			continue
		}
		links = append(links, legacySocialLink{Name: name, URL: url})
	}
	return links, nil
}

func rebuildUsersSchema(dbConn *sql.DB) error {
	// The rebuilt table must carry the same column defaults as db.migrate():
	// migrate() is CREATE TABLE IF NOT EXISTS, so whatever defaults are
	// written here stick for the lifetime of the database.
	if _, err := dbConn.Exec(`
		CREATE TABLE users_new (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT UNIQUE NOT NULL,
			email TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			profile_picture TEXT NOT NULL DEFAULT '` + models.DefaultProfilePicture + `',
			bio TEXT NOT NULL DEFAULT '',
			is_admin INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1,
			is_blocked INTEGER NOT NULL DEFAULT 0,
			last_seen TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("failed to create users_new table: %w", err)
	}

	if _, err := dbConn.Exec(`
		INSERT INTO users_new (id, username, email, password_hash, profile_picture, bio,
			is_admin, is_active, is_blocked, last_seen, created_at)
		SELECT id, username, email, password_hash, profile_picture, bio,
			is_admin, is_active, is_blocked, last_seen, created_at
		FROM users
	`); err != nil {
		return fmt.Errorf("failed to copy users data: %w", err)
	}

	if _, err := dbConn.Exec("DROP TABLE users"); err != nil {
		return fmt.Errorf("failed to drop legacy users table: %w", err)
	}

	if _, err := dbConn.Exec("ALTER TABLE users_new RENAME TO users"); err != nil {
		return fmt.Errorf("failed to rename users table: %w", err)
	}

	if _, err := dbConn.Exec("CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)"); err != nil {
		return fmt.Errorf("failed to create idx_users_username: %w", err)
	}

	if _, err := dbConn.Exec(`
		CREATE TABLE IF NOT EXISTS social_links (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			url TEXT NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		)
	`); err != nil {
		return fmt.Errorf("failed to create social_links table: %w", err)
	}

	if _, err := dbConn.Exec("CREATE INDEX IF NOT EXISTS idx_social_links_user_id ON social_links(user_id)"); err != nil {
		return fmt.Errorf("failed to create idx_social_links_user_id: %w", err)
	}

	if _, err := dbConn.Exec("DELETE FROM social_links"); err != nil {
		return fmt.Errorf("failed to reset social_links table: %w", err)
	}

	return nil
}

func backfillSocialLinks(dbConn *sql.DB, records []socialLinkRecord) error {
	stmt, err := dbConn.Prepare(`
		INSERT INTO social_links (user_id, position, name, url)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare backfill statement: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		for position, link := range record.Links {
			if _, err := stmt.Exec(record.UserID, position, link.Name, link.URL); err != nil {
				return fmt.Errorf("failed to insert social link for user %d: %w", record.UserID, err)
			}
		}
	}

	return nil
}

func validateSocialLinksMigration(dbConn *sql.DB, expectedLinkCount int) error {
	var linkCount int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM social_links").Scan(&linkCount); err != nil {
		return fmt.Errorf("failed to validate social links count: %w", err)
	}
	if linkCount != expectedLinkCount {
		return fmt.Errorf("social link count mismatch after migration: got %d want %d", linkCount, expectedLinkCount)
	}

	hasLegacy, err := usersTableHasSocialLinksColumn(dbConn)
	if err != nil {
		return fmt.Errorf("failed to validate users schema: %w", err)
	}
	if hasLegacy {
		return fmt.Errorf("legacy social_links column still exists after migration")
	}

	return nil
}
