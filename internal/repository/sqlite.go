package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"companion-service/internal/models"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteProfileRepository stores profiles in a local SQLite file.
type SQLiteProfileRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteProfileRepository opens dbPath and creates the schema if needed.
func NewSQLiteProfileRepository(dbPath string, logger *zap.Logger) (*SQLiteProfileRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	repo := &SQLiteProfileRepository{
		db:     db,
		logger: logger,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	logger.Info("Profile repository initialized", zap.String("db_path", dbPath))

	return repo, nil
}

func (r *SQLiteProfileRepository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS relationship_profiles (
		conversation_id TEXT PRIMARY KEY,
		bond_score REAL NOT NULL,
		mood_state TEXT NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		total_sessions INTEGER NOT NULL DEFAULT 0,
		last_seen DATETIME NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_last_seen ON relationship_profiles(last_seen);
	`

	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	return r.addMilestoneColumns()
}

var milestoneColumns = []struct{ name, ddl string }{
	{"first_flirt", "INTEGER NOT NULL DEFAULT 0"},
	{"supportive_moments", "INTEGER NOT NULL DEFAULT 0"},
	{"intimate_sharing", "INTEGER NOT NULL DEFAULT 0"},
	{"playful_interactions", "INTEGER NOT NULL DEFAULT 0"},
	{"emotional_points", "INTEGER NOT NULL DEFAULT 0"},
	{"last_milestone", "TEXT NOT NULL DEFAULT ''"},
}

// addMilestoneColumns upgrades files created before milestones existed.
func (r *SQLiteProfileRepository) addMilestoneColumns() error {
	rows, err := r.db.Query(`SELECT name FROM pragma_table_info('relationship_profiles')`)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		existing[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, col := range milestoneColumns {
		if existing[col.name] {
			continue
		}
		if _, err := r.db.Exec(fmt.Sprintf("ALTER TABLE relationship_profiles ADD COLUMN %s %s", col.name, col.ddl)); err != nil {
			return fmt.Errorf("failed to add column %s: %w", col.name, err)
		}
		r.logger.Info("Added profile column", zap.String("column", col.name))
	}
	return nil
}

// Get loads a profile.
func (r *SQLiteProfileRepository) Get(ctx context.Context, conversationID string) (*models.RelationshipProfile, error) {
	query := `
		SELECT conversation_id, bond_score, mood_state, total_messages, total_sessions, last_seen, created_at,
			first_flirt, supportive_moments, intimate_sharing, playful_interactions, emotional_points, last_milestone
		FROM relationship_profiles
		WHERE conversation_id = ?
	`

	var p models.RelationshipProfile
	err := r.db.QueryRowContext(ctx, query, conversationID).Scan(
		&p.ConversationID,
		&p.BondScore,
		&p.MoodState,
		&p.TotalMessages,
		&p.TotalSessions,
		&p.LastSeen,
		&p.CreatedAt,
		&p.FirstFlirt,
		&p.SupportiveMoments,
		&p.IntimateSharing,
		&p.PlayfulInteractions,
		&p.EmotionalPoints,
		&p.LastMilestone,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// Put inserts or replaces a profile.
func (r *SQLiteProfileRepository) Put(ctx context.Context, p *models.RelationshipProfile) error {
	query := `
		INSERT INTO relationship_profiles (
			conversation_id, bond_score, mood_state, total_messages, total_sessions, last_seen, created_at,
			first_flirt, supportive_moments, intimate_sharing, playful_interactions, emotional_points, last_milestone
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			bond_score = excluded.bond_score,
			mood_state = excluded.mood_state,
			total_messages = excluded.total_messages,
			total_sessions = excluded.total_sessions,
			last_seen = excluded.last_seen,
			first_flirt = excluded.first_flirt,
			supportive_moments = excluded.supportive_moments,
			intimate_sharing = excluded.intimate_sharing,
			playful_interactions = excluded.playful_interactions,
			emotional_points = excluded.emotional_points,
			last_milestone = excluded.last_milestone
	`

	_, err := r.db.ExecContext(ctx, query,
		p.ConversationID,
		p.BondScore,
		string(p.MoodState),
		p.TotalMessages,
		p.TotalSessions,
		p.LastSeen.UTC(),
		p.CreatedAt.UTC(),
		p.FirstFlirt,
		p.SupportiveMoments,
		p.IntimateSharing,
		p.PlayfulInteractions,
		p.EmotionalPoints,
		string(p.LastMilestone),
	)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *SQLiteProfileRepository) Close() error {
	return r.db.Close()
}
