package app

import (
	"sort"

	"pubranker/internal/domain"
	"pubranker/internal/metrics"
)

type recordKind int

const (
	quizRecord recordKind = iota
	teamRecord
)

type recordKey struct {
	kind recordKind
	id   string
}

// state is the in-memory index. Quizzes, rounds and teams reference each
// other by id only. It is touched exclusively from the owner goroutine.
type state struct {
	quizzes map[string]*domain.Quiz
	rounds  map[string]*domain.Round
	teams   map[string]*domain.Team
	caches  map[string]*ScoreCache

	// pending holds records changed in memory but not yet durable.
	// true means upsert, false means delete.
	pending map[recordKey]bool
	// inflight holds records taken by the running flush whose write has
	// not finished yet.
	inflight map[recordKey]bool

	// epoch advances after every flush. committed records the epoch at
	// which a record was written while a store load was running, so a
	// snapshot read before that write cannot replace it.
	epoch     uint64
	committed map[recordKey]uint64
	loading   int

	metrics *metrics.Metrics
}

func newState(m *metrics.Metrics) *state {
	return &state{
		quizzes: make(map[string]*domain.Quiz),
		rounds:  make(map[string]*domain.Round),
		teams:   make(map[string]*domain.Team),
		caches:  make(map[string]*ScoreCache),
		pending:   make(map[recordKey]bool),
		inflight:  make(map[recordKey]bool),
		committed: make(map[recordKey]uint64),
		metrics:   m,
	}
}

func (s *state) cache(quizID string) *ScoreCache {
	c, ok := s.caches[quizID]
	if !ok {
		c = NewScoreCache(func() []domain.Standing { return s.standings(quizID) }, s.metrics)
		s.caches[quizID] = c
	}
	return c
}

func (s *state) invalidate(quizIDs ...string) {
	for _, id := range quizIDs {
		if _, ok := s.quizzes[id]; ok {
			s.cache(id).Invalidate()
		}
	}
}

func (s *state) invalidateAll() {
	for id := range s.quizzes {
		s.cache(id).Invalidate()
	}
}

// standings sums every linked team's entries for rounds owned by the quiz.
func (s *state) standings(quizID string) []domain.Standing {
	q, ok := s.quizzes[quizID]
	if !ok {
		return nil
	}
	out := make([]domain.Standing, 0, len(q.TeamIDs))
	for _, teamID := range q.TeamIDs {
		t, ok := s.teams[teamID]
		if !ok {
			continue
		}
		total := 0
		for _, rs := range t.Scores {
			if r, ok := s.rounds[rs.RoundID]; ok && r.QuizID == quizID {
				total += rs.Points
			}
		}
		out = append(out, domain.Standing{TeamID: t.ID, TeamName: t.Name, Total: total})
	}
	return out
}

func (s *state) markQuiz(id string, upsert bool) {
	s.pending[recordKey{kind: quizRecord, id: id}] = upsert
}

func (s *state) markTeam(id string, upsert bool) {
	s.pending[recordKey{kind: teamRecord, id: id}] = upsert
}

func (s *state) isPending(kind recordKind, id string) bool {
	key := recordKey{kind: kind, id: id}
	if _, ok := s.pending[key]; ok {
		return true
	}
	_, ok := s.inflight[key]
	return ok
}

// keepLocal reports whether a snapshot read at epoch since must leave the
// record alone: it has unwritten changes, or it was written after since.
func (s *state) keepLocal(kind recordKind, id string, since uint64) bool {
	if s.isPending(kind, id) {
		return true
	}
	return s.committed[recordKey{kind: kind, id: id}] > since
}

// finishFlush settles the writes of one flush. Failed records become pending
// again unless a newer change already marked them.
func (s *state) finishFlush(done, failed []write) {
	s.epoch++
	for _, w := range done {
		delete(s.inflight, w.key)
		if s.loading > 0 {
			s.committed[w.key] = s.epoch
		}
	}
	for _, w := range failed {
		delete(s.inflight, w.key)
		if _, newer := s.pending[w.key]; !newer {
			s.pending[w.key] = w.upsert
		}
	}
}

func (s *state) beginLoad() uint64 {
	s.loading++
	return s.epoch
}

func (s *state) endLoad() {
	s.loading--
	if s.loading == 0 {
		s.committed = make(map[recordKey]uint64)
	}
}

// quizRounds returns the quiz's rounds in order.
func (s *state) quizRounds(q *domain.Quiz) []domain.Round {
	out := make([]domain.Round, 0, len(q.RoundIDs))
	for _, id := range q.RoundIDs {
		if r, ok := s.rounds[id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// renumber reassigns dense 0-based round order following RoundIDs.
func (s *state) renumber(q *domain.Quiz) {
	ids := q.RoundIDs[:0]
	for _, id := range q.RoundIDs {
		if r, ok := s.rounds[id]; ok {
			r.Order = len(ids)
			ids = append(ids, id)
		}
	}
	q.RoundIDs = ids
}

// dropScores removes every entry referencing one of roundIDs and marks the
// affected teams pending.
func (s *state) dropScores(roundIDs map[string]struct{}) {
	for _, t := range s.teams {
		var kept []domain.RoundScore
		for _, rs := range t.Scores {
			if _, drop := roundIDs[rs.RoundID]; !drop {
				kept = append(kept, rs)
			}
		}
		if len(kept) != len(t.Scores) {
			t.Scores = kept
			s.markTeam(t.ID, true)
		}
	}
}

func removeID(ids []string, id string) ([]string, bool) {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

func (s *state) sortedQuizzes() []domain.Quiz {
	out := make([]domain.Quiz, 0, len(s.quizzes))
	for _, q := range s.quizzes {
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *state) sortedTeams() []domain.Team {
	out := make([]domain.Team, 0, len(s.teams))
	for _, t := range s.teams {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// replace installs snap, read at epoch since, for every record that has no
// pending or newer local change, drops such records missing from snap and
// invalidates every cache.
func (s *state) replace(snap domain.Snapshot, since uint64) {
	remoteQuizzes := make(map[string]domain.Quiz, len(snap.Quizzes))
	for _, q := range snap.Quizzes {
		remoteQuizzes[q.ID] = q
	}
	remoteRounds := make(map[string][]domain.Round)
	for _, r := range snap.Rounds {
		remoteRounds[r.QuizID] = append(remoteRounds[r.QuizID], r)
	}
	remoteTeams := make(map[string]domain.Team, len(snap.Teams))
	for _, t := range snap.Teams {
		remoteTeams[t.ID] = t
	}

	for id, q := range s.quizzes {
		if s.keepLocal(quizRecord, id, since) {
			continue
		}
		if _, ok := remoteQuizzes[id]; !ok {
			for _, rid := range q.RoundIDs {
				delete(s.rounds, rid)
			}
			delete(s.quizzes, id)
			delete(s.caches, id)
		}
	}
	for id, q := range remoteQuizzes {
		if s.keepLocal(quizRecord, id, since) {
			continue
		}
		if old, ok := s.quizzes[id]; ok {
			for _, rid := range old.RoundIDs {
				delete(s.rounds, rid)
			}
		}
		rounds := remoteRounds[id]
		sort.SliceStable(rounds, func(i, j int) bool { return rounds[i].Order < rounds[j].Order })
		clone := q.Clone()
		clone.RoundIDs = clone.RoundIDs[:0]
		for _, r := range rounds {
			rc := r.Clone()
			rc.QuizID = id
			s.rounds[rc.ID] = &rc
			clone.RoundIDs = append(clone.RoundIDs, rc.ID)
		}
		s.quizzes[id] = &clone
		s.renumber(&clone)
	}

	for id := range s.teams {
		if s.keepLocal(teamRecord, id, since) {
			continue
		}
		if _, ok := remoteTeams[id]; !ok {
			delete(s.teams, id)
		}
	}
	for id, t := range remoteTeams {
		if s.keepLocal(teamRecord, id, since) {
			continue
		}
		clone := t.Clone()
		s.teams[id] = &clone
	}

	s.invalidateAll()
}
