package app

import (
	"context"

	"pubranker/internal/domain"
)

func validateQuiz(in QuizInput) (QuizInput, error) {
	name, err := domain.ValidateName("quiz name", in.Name)
	if err != nil {
		return in, err
	}
	in.Name = name
	return in, nil
}

func validateTeam(in TeamInput) (TeamInput, error) {
	name, err := domain.ValidateName("team name", in.Name)
	if err != nil {
		return in, err
	}
	email, err := domain.ValidateEmail(in.Email)
	if err != nil {
		return in, err
	}
	in.Name, in.Email = name, email
	return in, nil
}

func validateRound(in RoundInput) (RoundInput, error) {
	name, err := domain.ValidateName("round name", in.Name)
	if err != nil {
		return in, err
	}
	if err := domain.ValidateMaxPoints(in.MaxPoints); err != nil {
		return in, err
	}
	if in.MaxPoints != nil {
		v := *in.MaxPoints
		in.MaxPoints = &v
	}
	in.Name = name
	return in, nil
}

// CreateQuiz adds a planned quiz.
func (g *Gateway) CreateQuiz(ctx context.Context, in QuizInput) (domain.Quiz, error) {
	in, err := validateQuiz(in)
	if err != nil {
		return domain.Quiz{}, err
	}
	var created domain.Quiz
	err = g.mutate(ctx, "create_quiz", func(st *state) ([]string, error) {
		q := &domain.Quiz{
			ID:        g.newID(),
			Name:      in.Name,
			Venue:     in.Venue,
			Date:      in.Date,
			Status:    domain.QuizPlanned,
			CreatedAt: g.now(),
		}
		st.quizzes[q.ID] = q
		st.cache(q.ID)
		st.markQuiz(q.ID, true)
		created = q.Clone()
		return nil, nil
	})
	return created, err
}

// UpdateQuiz changes name, venue and date.
func (g *Gateway) UpdateQuiz(ctx context.Context, quizID string, in QuizInput) error {
	in, err := validateQuiz(in)
	if err != nil {
		return err
	}
	return g.mutate(ctx, "update_quiz", func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		q.Name, q.Venue, q.Date = in.Name, in.Venue, in.Date
		st.markQuiz(q.ID, true)
		return nil, nil
	})
}

// StartQuiz moves a planned quiz to active.
func (g *Gateway) StartQuiz(ctx context.Context, quizID string) error {
	return g.transition(ctx, "start_quiz", quizID, domain.QuizPlanned, domain.QuizActive)
}

// CompleteQuiz moves an active quiz to completed.
func (g *Gateway) CompleteQuiz(ctx context.Context, quizID string) error {
	return g.transition(ctx, "complete_quiz", quizID, domain.QuizActive, domain.QuizCompleted)
}

func (g *Gateway) transition(ctx context.Context, op, quizID string, from, to domain.QuizStatus) error {
	return g.mutate(ctx, op, func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		if q.Status != from {
			return nil, domain.ErrInvalidTransition
		}
		q.Status = to
		st.markQuiz(q.ID, true)
		return nil, nil
	})
}

// DeleteQuiz removes the quiz and its rounds, and every team's entries for
// those rounds. Linked teams persist.
func (g *Gateway) DeleteQuiz(ctx context.Context, quizID string) error {
	return g.mutate(ctx, "delete_quiz", func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		roundIDs := make(map[string]struct{}, len(q.RoundIDs))
		for _, id := range q.RoundIDs {
			roundIDs[id] = struct{}{}
			delete(st.rounds, id)
		}
		st.dropScores(roundIDs)
		for _, teamID := range q.TeamIDs {
			if t, ok := st.teams[teamID]; ok {
				if _, had := t.Confirmed[quizID]; had {
					delete(t.Confirmed, quizID)
					st.markTeam(t.ID, true)
				}
			}
		}
		st.cache(quizID).Invalidate()
		delete(st.caches, quizID)
		delete(st.quizzes, quizID)
		st.markQuiz(quizID, false)
		return nil, nil
	})
}

// CreateTeam adds a team that is not yet linked to any quiz.
func (g *Gateway) CreateTeam(ctx context.Context, in TeamInput) (domain.Team, error) {
	in, err := validateTeam(in)
	if err != nil {
		return domain.Team{}, err
	}
	var created domain.Team
	err = g.mutate(ctx, "create_team", func(st *state) ([]string, error) {
		t := &domain.Team{
			ID:            g.newID(),
			Name:          in.Name,
			Color:         in.Color,
			ImageURL:      in.ImageURL,
			ContactPerson: in.ContactPerson,
			Email:         in.Email,
			CreatedAt:     g.now(),
		}
		st.teams[t.ID] = t
		st.markTeam(t.ID, true)
		created = t.Clone()
		return nil, nil
	})
	return created, err
}

// UpdateTeam edits a team. Every quiz it belongs to is invalidated because
// rankings carry the team name.
func (g *Gateway) UpdateTeam(ctx context.Context, teamID string, in TeamInput) error {
	in, err := validateTeam(in)
	if err != nil {
		return err
	}
	return g.mutate(ctx, "update_team", func(st *state) ([]string, error) {
		t, ok := st.teams[teamID]
		if !ok {
			return nil, domain.ErrTeamNotFound
		}
		t.Name, t.Color, t.ImageURL, t.ContactPerson, t.Email = in.Name, in.Color, in.ImageURL, in.ContactPerson, in.Email
		st.markTeam(t.ID, true)
		touched := st.quizzesOf(teamID)
		st.invalidate(touched...)
		return touched, nil
	})
}

// DeleteTeam removes the team globally, unlinking it from every quiz.
func (g *Gateway) DeleteTeam(ctx context.Context, teamID string) error {
	return g.mutate(ctx, "delete_team", func(st *state) ([]string, error) {
		if _, ok := st.teams[teamID]; !ok {
			return nil, domain.ErrTeamNotFound
		}
		touched := st.quizzesOf(teamID)
		for _, quizID := range touched {
			q := st.quizzes[quizID]
			q.TeamIDs, _ = removeID(q.TeamIDs, teamID)
			st.markQuiz(quizID, true)
		}
		delete(st.teams, teamID)
		st.markTeam(teamID, false)
		st.invalidate(touched...)
		return touched, nil
	})
}

// AddTeam links a team to a quiz. Linking twice fails with domain.ErrConflict.
func (g *Gateway) AddTeam(ctx context.Context, quizID, teamID string) error {
	return g.mutate(ctx, "add_team", func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		if _, ok := st.teams[teamID]; !ok {
			return nil, domain.ErrTeamNotFound
		}
		if q.HasTeam(teamID) {
			return nil, domain.ErrConflict
		}
		q.TeamIDs = append(q.TeamIDs, teamID)
		st.markQuiz(quizID, true)
		st.invalidate(quizID)
		return []string{quizID}, nil
	})
}

// RemoveTeamFromQuiz unlinks the team from the quiz and drops the team's
// entries and confirmation for that quiz. The team itself and its data for
// other quizzes are untouched.
func (g *Gateway) RemoveTeamFromQuiz(ctx context.Context, quizID, teamID string) error {
	return g.mutate(ctx, "remove_team", func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		t, ok := st.teams[teamID]
		if !ok {
			return nil, domain.ErrTeamNotFound
		}
		ids, removed := removeID(q.TeamIDs, teamID)
		if !removed {
			return nil, domain.ErrTeamNotInQuiz
		}
		q.TeamIDs = ids
		st.markQuiz(quizID, true)

		var kept []domain.RoundScore
		for _, rs := range t.Scores {
			if r, ok := st.rounds[rs.RoundID]; ok && r.QuizID == quizID {
				continue
			}
			kept = append(kept, rs)
		}
		t.Scores = kept
		delete(t.Confirmed, quizID)
		st.markTeam(teamID, true)

		st.invalidate(quizID)
		return []string{quizID}, nil
	})
}

// SetConfirmed records whether the team confirmed participation in the quiz.
// Scores are unaffected so the cache stays valid.
func (g *Gateway) SetConfirmed(ctx context.Context, quizID, teamID string, confirmed bool) error {
	return g.mutate(ctx, "set_confirmed", func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		t, ok := st.teams[teamID]
		if !ok {
			return nil, domain.ErrTeamNotFound
		}
		if !q.HasTeam(teamID) {
			return nil, domain.ErrTeamNotInQuiz
		}
		if t.Confirmed == nil {
			t.Confirmed = make(map[string]bool)
		}
		t.Confirmed[quizID] = confirmed
		st.markTeam(teamID, true)
		return nil, nil
	})
}

// AddRound appends a round to the quiz.
func (g *Gateway) AddRound(ctx context.Context, quizID string, in RoundInput) (domain.Round, error) {
	in, err := validateRound(in)
	if err != nil {
		return domain.Round{}, err
	}
	var created domain.Round
	err = g.mutate(ctx, "add_round", func(st *state) ([]string, error) {
		q, ok := st.quizzes[quizID]
		if !ok {
			return nil, domain.ErrQuizNotFound
		}
		r := &domain.Round{
			ID:        g.newID(),
			QuizID:    quizID,
			Name:      in.Name,
			MaxPoints: in.MaxPoints,
			Order:     len(q.RoundIDs),
		}
		st.rounds[r.ID] = r
		q.RoundIDs = append(q.RoundIDs, r.ID)
		st.markQuiz(quizID, true)
		st.invalidate(quizID)
		created = r.Clone()
		return []string{quizID}, nil
	})
	return created, err
}

// UpdateRound renames a round or changes its cap. Existing entries keep
// their round name snapshot and are not re-validated against the cap.
func (g *Gateway) UpdateRound(ctx context.Context, roundID string, in RoundInput) error {
	in, err := validateRound(in)
	if err != nil {
		return err
	}
	return g.mutate(ctx, "update_round", func(st *state) ([]string, error) {
		r, ok := st.rounds[roundID]
		if !ok {
			return nil, domain.ErrRoundNotFound
		}
		r.Name, r.MaxPoints = in.Name, in.MaxPoints
		st.markQuiz(r.QuizID, true)
		st.invalidate(r.QuizID)
		return []string{r.QuizID}, nil
	})
}

// SetRoundCompleted toggles the round's completed flag.
func (g *Gateway) SetRoundCompleted(ctx context.Context, roundID string, completed bool) error {
	return g.mutate(ctx, "set_round_completed", func(st *state) ([]string, error) {
		r, ok := st.rounds[roundID]
		if !ok {
			return nil, domain.ErrRoundNotFound
		}
		r.Completed = completed
		st.markQuiz(r.QuizID, true)
		st.invalidate(r.QuizID)
		return []string{r.QuizID}, nil
	})
}

// DeleteRound removes the round and every entry referencing it, then
// renumbers the remaining rounds 0..n-1.
func (g *Gateway) DeleteRound(ctx context.Context, roundID string) error {
	return g.mutate(ctx, "delete_round", func(st *state) ([]string, error) {
		r, ok := st.rounds[roundID]
		if !ok {
			return nil, domain.ErrRoundNotFound
		}
		q := st.quizzes[r.QuizID]
		delete(st.rounds, roundID)
		st.dropScores(map[string]struct{}{roundID: {}})
		if q != nil {
			q.RoundIDs, _ = removeID(q.RoundIDs, roundID)
			st.renumber(q)
			st.markQuiz(q.ID, true)
		}
		st.invalidate(r.QuizID)
		return []string{r.QuizID}, nil
	})
}

// SetScore upserts the team's entry for the round. The round cap is not
// enforced here; only negative points are rejected.
func (g *Gateway) SetScore(ctx context.Context, teamID, roundID string, points int) error {
	if err := domain.ValidatePoints(points); err != nil {
		return err
	}
	return g.mutate(ctx, "set_score", func(st *state) ([]string, error) {
		t, r, err := st.scoreTarget(teamID, roundID)
		if err != nil {
			return nil, err
		}
		entry := domain.RoundScore{RoundID: r.ID, RoundName: r.Name, Points: points}
		replaced := false
		for i := range t.Scores {
			if t.Scores[i].RoundID == r.ID {
				t.Scores[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			t.Scores = append(t.Scores, entry)
		}
		st.markTeam(teamID, true)
		st.invalidate(r.QuizID)
		return []string{r.QuizID}, nil
	})
}

// ClearScore removes the team's entry for the round. A missing entry is not an error.
func (g *Gateway) ClearScore(ctx context.Context, teamID, roundID string) error {
	return g.mutate(ctx, "clear_score", func(st *state) ([]string, error) {
		t, r, err := st.scoreTarget(teamID, roundID)
		if err != nil {
			return nil, err
		}
		for i := range t.Scores {
			if t.Scores[i].RoundID == r.ID {
				t.Scores = append(t.Scores[:i:i], t.Scores[i+1:]...)
				st.markTeam(teamID, true)
				break
			}
		}
		st.invalidate(r.QuizID)
		return []string{r.QuizID}, nil
	})
}

func (s *state) scoreTarget(teamID, roundID string) (*domain.Team, *domain.Round, error) {
	r, ok := s.rounds[roundID]
	if !ok {
		return nil, nil, domain.ErrRoundNotFound
	}
	t, ok := s.teams[teamID]
	if !ok {
		return nil, nil, domain.ErrTeamNotFound
	}
	q, ok := s.quizzes[r.QuizID]
	if !ok {
		return nil, nil, domain.ErrQuizNotFound
	}
	if !q.HasTeam(teamID) {
		return nil, nil, domain.ErrTeamNotInQuiz
	}
	return t, r, nil
}

func (s *state) quizzesOf(teamID string) []string {
	var out []string
	for id, q := range s.quizzes {
		if q.HasTeam(teamID) {
			out = append(out, id)
		}
	}
	return out
}
