package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"companion-service/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// ProfileRepository persists relationship profiles. Get returns nil, nil
// when the conversation has no profile yet.
type ProfileRepository interface {
	Get(ctx context.Context, conversationID string) (*models.RelationshipProfile, error)
	Put(ctx context.Context, profile *models.RelationshipProfile) error
}

type profileRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewProfileRepository returns the PostgreSQL-backed repository.
func NewProfileRepository(db *sqlx.DB, logger *zap.Logger) ProfileRepository {
	return &profileRepository{db: db, logger: logger}
}

func (r *profileRepository) Get(ctx context.Context, conversationID string) (*models.RelationshipProfile, error) {
	var profile models.RelationshipProfile
	query := `SELECT conversation_id, bond_score, mood_state, total_messages, total_sessions, last_seen, created_at,
	                 first_flirt, supportive_moments, intimate_sharing, playful_interactions, emotional_points, last_milestone
	          FROM relationship_profiles WHERE conversation_id = $1`
	err := r.db.GetContext(ctx, &profile, query, conversationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &profile, nil
}

func (r *profileRepository) Put(ctx context.Context, profile *models.RelationshipProfile) error {
	query := `INSERT INTO relationship_profiles (conversation_id, bond_score, mood_state, total_messages, total_sessions, last_seen, created_at,
	                                               first_flirt, supportive_moments, intimate_sharing, playful_interactions, emotional_points, last_milestone)
	          VALUES (:conversation_id, :bond_score, :mood_state, :total_messages, :total_sessions, :last_seen, :created_at,
	                  :first_flirt, :supportive_moments, :intimate_sharing, :playful_interactions, :emotional_points, :last_milestone)
	          ON CONFLICT (conversation_id) DO UPDATE SET
	              bond_score = EXCLUDED.bond_score,
	              mood_state = EXCLUDED.mood_state,
	              total_messages = EXCLUDED.total_messages,
	              total_sessions = EXCLUDED.total_sessions,
	              last_seen = EXCLUDED.last_seen,
	              first_flirt = EXCLUDED.first_flirt,
	              supportive_moments = EXCLUDED.supportive_moments,
	              intimate_sharing = EXCLUDED.intimate_sharing,
	              playful_interactions = EXCLUDED.playful_interactions,
	              emotional_points = EXCLUDED.emotional_points,
	              last_milestone = EXCLUDED.last_milestone`
	if _, err := r.db.NamedExecContext(ctx, query, profile); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}
