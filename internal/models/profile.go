package models

import "time"

// Milestone names a one-off step in a relationship's emotional history.
type Milestone string

const (
	MilestoneFirstFlirt       Milestone = "first_flirt"
	MilestoneCaringConnection Milestone = "caring_connection"
	MilestoneDeepIntimacy     Milestone = "deep_intimacy"
	MilestonePlayfulChemistry Milestone = "playful_chemistry"
)

// RelationshipProfile represents a row in the 'relationship_profiles' table.
type RelationshipProfile struct {
	ConversationID string       `db:"conversation_id" json:"conversation_id"`
	BondScore      float64      `db:"bond_score" json:"bond_score"`
	MoodState      EmotionLabel `db:"mood_state" json:"mood_state"`
	TotalMessages  int          `db:"total_messages" json:"total_messages"`
	TotalSessions  int          `db:"total_sessions" json:"total_sessions"`
	LastSeen       time.Time    `db:"last_seen" json:"last_seen"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`

	// milestone counters
	FirstFlirt          bool      `db:"first_flirt" json:"first_flirt"`
	SupportiveMoments   int       `db:"supportive_moments" json:"supportive_moments"`
	IntimateSharing     int       `db:"intimate_sharing" json:"intimate_sharing"`
	PlayfulInteractions int       `db:"playful_interactions" json:"playful_interactions"`
	EmotionalPoints     int       `db:"emotional_points" json:"emotional_points"`
	LastMilestone       Milestone `db:"last_milestone" json:"last_milestone,omitempty"`
}
