package memory

import (
	"context"
	"sort"
	"sync"

	"pubranker/internal/domain"
)

// Store is a transient map-backed storage.Store. It is the last fallback
// tier and the default store in tests.
type Store struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
	rounds  map[string]domain.Round
	teams   map[string]domain.Team
}

func NewStore() *Store {
	return &Store{
		quizzes: make(map[string]domain.Quiz),
		rounds:  make(map[string]domain.Round),
		teams:   make(map[string]domain.Team),
	}
}

// NewStoreFrom seeds a store with snap.
func NewStoreFrom(snap domain.Snapshot) *Store {
	s := NewStore()
	for _, q := range snap.Quizzes {
		s.quizzes[q.ID] = q.Clone()
	}
	for _, r := range snap.Rounds {
		s.rounds[r.ID] = r.Clone()
	}
	for _, t := range snap.Teams {
		s.teams[t.ID] = t.Clone()
	}
	return s
}

func (s *Store) Load(_ context.Context) (domain.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := domain.Snapshot{
		Quizzes: make([]domain.Quiz, 0, len(s.quizzes)),
		Rounds:  make([]domain.Round, 0, len(s.rounds)),
		Teams:   make([]domain.Team, 0, len(s.teams)),
	}
	for _, q := range s.quizzes {
		snap.Quizzes = append(snap.Quizzes, q.Clone())
	}
	for _, r := range s.rounds {
		snap.Rounds = append(snap.Rounds, r.Clone())
	}
	for _, t := range s.teams {
		snap.Teams = append(snap.Teams, t.Clone())
	}
	sort.Slice(snap.Quizzes, func(i, j int) bool { return snap.Quizzes[i].CreatedAt.Before(snap.Quizzes[j].CreatedAt) })
	sort.Slice(snap.Rounds, func(i, j int) bool {
		if snap.Rounds[i].QuizID != snap.Rounds[j].QuizID {
			return snap.Rounds[i].QuizID < snap.Rounds[j].QuizID
		}
		return snap.Rounds[i].Order < snap.Rounds[j].Order
	})
	sort.Slice(snap.Teams, func(i, j int) bool { return snap.Teams[i].CreatedAt.Before(snap.Teams[j].CreatedAt) })
	return snap, nil
}

func (s *Store) PutQuiz(_ context.Context, quiz domain.Quiz, rounds []domain.Round) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.rounds {
		if r.QuizID == quiz.ID {
			delete(s.rounds, id)
		}
	}
	for _, r := range rounds {
		s.rounds[r.ID] = r.Clone()
	}
	s.quizzes[quiz.ID] = quiz.Clone()
	return nil
}

func (s *Store) DeleteQuiz(_ context.Context, quizID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quizzes, quizID)
	for id, r := range s.rounds {
		if r.QuizID == quizID {
			delete(s.rounds, id)
		}
	}
	return nil
}

func (s *Store) PutTeam(_ context.Context, team domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.teams[team.ID] = team.Clone()
	return nil
}

func (s *Store) DeleteTeam(_ context.Context, teamID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.teams, teamID)
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
