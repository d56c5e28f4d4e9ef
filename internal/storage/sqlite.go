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

	"github.com/kalambet/lexi/internal/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for user profiles and
// interaction history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "lexi.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
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

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
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

	// Sort by filename to guarantee ascending order.
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

		// Check if already applied.
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

// --- Profiles ---

// GetProfile loads a user profile. The boolean is false when no profile
// exists for the user yet; that is not an error.
func (s *Store) GetProfile(userID string) (profile.Profile, bool, error) {
	var (
		p          profile.Profile
		attrsJSON  string
		topicsJSON string
		onboarded  int
		firstAt    string
		lastAt     string
	)
	err := s.db.QueryRow(`
		SELECT user_id, attributes, interaction_count, topic_history, onboarding_completed, first_interaction, last_interaction
		FROM profiles WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &attrsJSON, &p.InteractionCount, &topicsJSON, &onboarded, &firstAt, &lastAt)
	if err == sql.ErrNoRows {
		return profile.Profile{}, false, nil
	}
	if err != nil {
		return profile.Profile{}, false, err
	}

	if err := json.Unmarshal([]byte(attrsJSON), &p.Attributes); err != nil {
		return profile.Profile{}, false, fmt.Errorf("decoding attributes for %s: %w", userID, err)
	}
	if err := json.Unmarshal([]byte(topicsJSON), &p.TopicHistory); err != nil {
		return profile.Profile{}, false, fmt.Errorf("decoding topic history for %s: %w", userID, err)
	}
	p.OnboardingCompleted = onboarded != 0

	if p.FirstInteraction, err = time.Parse(time.RFC3339, firstAt); err != nil {
		return profile.Profile{}, false, fmt.Errorf("parsing first_interaction: %w", err)
	}
	if p.LastInteraction, err = time.Parse(time.RFC3339, lastAt); err != nil {
		return profile.Profile{}, false, fmt.Errorf("parsing last_interaction: %w", err)
	}
	return p, true, nil
}

// SaveProfile inserts or replaces the stored profile for p.UserID.
func (s *Store) SaveProfile(p profile.Profile) error {
	attrs := p.Attributes
	if attrs == nil {
		attrs = map[string]profile.Attribute{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("encoding attributes: %w", err)
	}
	topics := p.TopicHistory
	if topics == nil {
		topics = []string{}
	}
	topicsJSON, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("encoding topic history: %w", err)
	}
	onboarded := 0
	if p.OnboardingCompleted {
		onboarded = 1
	}

	_, err = s.db.Exec(`
		INSERT INTO profiles (user_id, attributes, interaction_count, topic_history, onboarding_completed, first_interaction, last_interaction)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			attributes = excluded.attributes,
			interaction_count = excluded.interaction_count,
			topic_history = excluded.topic_history,
			onboarding_completed = excluded.onboarding_completed,
			last_interaction = excluded.last_interaction`,
		p.UserID, string(attrsJSON), p.InteractionCount, string(topicsJSON), onboarded,
		p.FirstInteraction.UTC().Format(time.RFC3339), p.LastInteraction.UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteProfile removes a stored profile. Returns ErrNotFound when the
// user has no profile.
func (s *Store) DeleteProfile(userID string) error {
	res, err := s.db.Exec(`DELETE FROM profiles WHERE user_id = ?`, userID)
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

// CountProfiles returns the number of stored profiles.
func (s *Store) CountProfiles() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM profiles").Scan(&n)
	return n, err
}

// --- Interactions ---

func (s *Store) SaveInteraction(i Interaction) error {
	_, err := s.db.Exec(`
		INSERT INTO interactions (id, user_id, created_at, user_message, bot_message, intent, confidence, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.UserID, i.CreatedAt.UTC().Format(time.RFC3339), i.UserMessage,
		i.BotMessage, i.Intent, i.Confidence, i.State,
	)
	return err
}

func (s *Store) GetInteraction(id string) (Interaction, error) {
	var i Interaction
	var createdAt string
	err := s.db.QueryRow(`
		SELECT id, user_id, created_at, user_message, bot_message, intent, confidence, state
		FROM interactions WHERE id = ?`, id,
	).Scan(&i.ID, &i.UserID, &createdAt, &i.UserMessage, &i.BotMessage, &i.Intent, &i.Confidence, &i.State)
	if err == sql.ErrNoRows {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("parsing created_at: %w", err)
	}
	i.CreatedAt = t
	return i, nil
}

// GetRecentInteractions returns the newest interactions for a user,
// most recent first.
func (s *Store) GetRecentInteractions(userID string, limit int) ([]Interaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, created_at, user_message, bot_message, intent, confidence, state
		FROM interactions WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		var i Interaction
		var createdAt string
		if err := rows.Scan(&i.ID, &i.UserID, &createdAt, &i.UserMessage, &i.BotMessage, &i.Intent, &i.Confidence, &i.State); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		i.CreatedAt = t
		results = append(results, i)
	}
	return results, rows.Err()
}

// CountInteractions returns the total number of recorded interactions.
func (s *Store) CountInteractions() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM interactions").Scan(&n)
	return n, err
}
