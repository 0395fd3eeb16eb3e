package app

import (
	"context"

	"pubranker/internal/domain"
)

// Quiz returns a copy of one quiz.
func (g *Gateway) Quiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var (
		out domain.Quiz
		err error
	)
	if doErr := g.owner.do(ctx, func() {
		q, ok := g.st.quizzes[quizID]
		if !ok {
			err = domain.ErrQuizNotFound
			return
		}
		out = q.Clone()
	}); doErr != nil {
		return domain.Quiz{}, doErr
	}
	return out, err
}

// Quizzes lists every quiz in creation order.
func (g *Gateway) Quizzes(ctx context.Context) ([]domain.Quiz, error) {
	var out []domain.Quiz
	err := g.owner.do(ctx, func() { out = g.st.sortedQuizzes() })
	return out, err
}

// Team returns a copy of one team.
func (g *Gateway) Team(ctx context.Context, teamID string) (domain.Team, error) {
	var (
		out domain.Team
		err error
	)
	if doErr := g.owner.do(ctx, func() {
		t, ok := g.st.teams[teamID]
		if !ok {
			err = domain.ErrTeamNotFound
			return
		}
		out = t.Clone()
	}); doErr != nil {
		return domain.Team{}, doErr
	}
	return out, err
}

// Teams lists every team in creation order.
func (g *Gateway) Teams(ctx context.Context) ([]domain.Team, error) {
	var out []domain.Team
	err := g.owner.do(ctx, func() { out = g.st.sortedTeams() })
	return out, err
}

// QuizTeams lists the teams linked to quizID in link order.
func (g *Gateway) QuizTeams(ctx context.Context, quizID string) ([]domain.Team, error) {
	var (
		out []domain.Team
		err error
	)
	if doErr := g.owner.do(ctx, func() {
		q, ok := g.st.quizzes[quizID]
		if !ok {
			err = domain.ErrQuizNotFound
			return
		}
		for _, id := range q.TeamIDs {
			if t, ok := g.st.teams[id]; ok {
				out = append(out, t.Clone())
			}
		}
	}); doErr != nil {
		return nil, doErr
	}
	return out, err
}

// Rounds lists the rounds of quizID in order.
func (g *Gateway) Rounds(ctx context.Context, quizID string) ([]domain.Round, error) {
	var (
		out []domain.Round
		err error
	)
	if doErr := g.owner.do(ctx, func() {
		q, ok := g.st.quizzes[quizID]
		if !ok {
			err = domain.ErrQuizNotFound
			return
		}
		out = g.st.quizRounds(q)
	}); doErr != nil {
		return nil, doErr
	}
	return out, err
}

// TotalScore returns the team's cached total for the quiz. Unlinked teams total 0.
func (g *Gateway) TotalScore(ctx context.Context, quizID, teamID string) (int, error) {
	var (
		total int
		err   error
	)
	if doErr := g.owner.do(ctx, func() {
		if _, ok := g.st.quizzes[quizID]; !ok {
			err = domain.ErrQuizNotFound
			return
		}
		total = g.st.cache(quizID).TotalScore(teamID)
	}); doErr != nil {
		return 0, doErr
	}
	return total, err
}

// Ranking returns the ordered scoreboard of the quiz, recomputing it only if
// the cache was invalidated.
func (g *Gateway) Ranking(ctx context.Context, quizID string) (domain.Ranking, error) {
	var (
		out domain.Ranking
		err error
	)
	if doErr := g.owner.do(ctx, func() {
		if _, ok := g.st.quizzes[quizID]; !ok {
			err = domain.ErrQuizNotFound
			return
		}
		out = domain.Ranking{
			QuizID:    quizID,
			Entries:   g.st.cache(quizID).Ranking(),
			UpdatedAt: g.now(),
		}
	}); doErr != nil {
		return domain.Ranking{}, doErr
	}
	return out, err
}

// CacheValid reports whether the quiz's cached totals are current.
func (g *Gateway) CacheValid(ctx context.Context, quizID string) (bool, error) {
	var valid bool
	err := g.owner.do(ctx, func() {
		if c, ok := g.st.caches[quizID]; ok {
			valid = c.Valid()
		}
	})
	return valid, err
}
