package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stratumhq/stratum/internal/domain"
)

// SessionService is the read path into tier 1. Lookups reinforce the
// session (access count and recency); listings do not.
type SessionService struct {
	store  domain.SessionStore
	logger *zap.Logger
}

func NewSessionService(store domain.SessionStore, logger *zap.Logger) *SessionService {
	return &SessionService{store: store, logger: logger}
}

// SessionView is a session annotated with its importance as of now,
// decay and reinforcement applied.
type SessionView struct {
	domain.Session
	CurrentImportance float64 `json:"current_importance"`
}

// Get returns one session and reinforces it.
func (s *SessionService) Get(ctx context.Context, id string) (*SessionView, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &SessionView{
		Session:           *sess,
		CurrentImportance: domain.SessionScore(sess, time.Now()),
	}, nil
}

// List returns all sessions with current importance, id order. Listing
// is not an access: it does not reinforce.
func (s *SessionService) List(ctx context.Context) ([]SessionView, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	views := make([]SessionView, len(sessions))
	for i := range sessions {
		views[i] = SessionView{
			Session:           sessions[i],
			CurrentImportance: domain.SessionScore(&sessions[i], now),
		}
	}
	return views, nil
}

// Len returns the tier-1 session count.
func (s *SessionService) Len(ctx context.Context) (int, error) {
	return s.store.Len(ctx)
}
