package repository

import (
	"context"
	"sync"

	"companion-service/internal/models"
)

// MemoryProfileRepository keeps profiles in process memory.
type MemoryProfileRepository struct {
	mu       sync.RWMutex
	profiles map[string]models.RelationshipProfile
}

func NewMemoryProfileRepository() *MemoryProfileRepository {
	return &MemoryProfileRepository{profiles: make(map[string]models.RelationshipProfile)}
}

func (r *MemoryProfileRepository) Get(_ context.Context, conversationID string) (*models.RelationshipProfile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[conversationID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryProfileRepository) Put(_ context.Context, p *models.RelationshipProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ConversationID] = *p
	return nil
}
