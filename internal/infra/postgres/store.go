package postgres

import (
	"context"
	"fmt"

	"pubranker/internal/domain"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Store is the remote-backed tier. Every write runs in one transaction so
// replicas never observe half a record.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Open migrates the schema, connects and pings the database at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewStore(pool), nil
}

func (s *Store) Load(ctx context.Context) (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		quizzes, index, err := loadQuizzes(ctx, tx)
		if err != nil {
			return err
		}
		rounds, err := loadRounds(ctx, tx, quizzes, index)
		if err != nil {
			return err
		}
		if err := loadLinks(ctx, tx, quizzes, index); err != nil {
			return err
		}
		teams, err := loadTeams(ctx, tx)
		if err != nil {
			return err
		}
		snap = domain.Snapshot{Quizzes: quizzes, Rounds: rounds, Teams: teams}
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	return snap, nil
}

func loadQuizzes(ctx context.Context, tx pgx.Tx) ([]domain.Quiz, map[string]int, error) {
	rows, err := tx.Query(ctx, `SELECT id, name, venue, date, status, created_at FROM quizzes ORDER BY created_at, id`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var quizzes []domain.Quiz
	index := make(map[string]int)
	for rows.Next() {
		var q domain.Quiz
		var status string
		if err := rows.Scan(&q.ID, &q.Name, &q.Venue, &q.Date, &status, &q.CreatedAt); err != nil {
			return nil, nil, err
		}
		q.Status = domain.QuizStatus(status)
		index[q.ID] = len(quizzes)
		quizzes = append(quizzes, q)
	}
	return quizzes, index, rows.Err()
}

func loadRounds(ctx context.Context, tx pgx.Tx, quizzes []domain.Quiz, index map[string]int) ([]domain.Round, error) {
	rows, err := tx.Query(ctx, `SELECT id, quiz_id, name, max_points, position, completed FROM rounds ORDER BY quiz_id, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rounds []domain.Round
	for rows.Next() {
		var r domain.Round
		if err := rows.Scan(&r.ID, &r.QuizID, &r.Name, &r.MaxPoints, &r.Order, &r.Completed); err != nil {
			return nil, err
		}
		if i, ok := index[r.QuizID]; ok {
			quizzes[i].RoundIDs = append(quizzes[i].RoundIDs, r.ID)
		}
		rounds = append(rounds, r)
	}
	return rounds, rows.Err()
}

func loadLinks(ctx context.Context, tx pgx.Tx, quizzes []domain.Quiz, index map[string]int) error {
	rows, err := tx.Query(ctx, `SELECT quiz_id, team_id FROM quiz_teams ORDER BY quiz_id, position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var quizID, teamID string
		if err := rows.Scan(&quizID, &teamID); err != nil {
			return err
		}
		if i, ok := index[quizID]; ok {
			quizzes[i].TeamIDs = append(quizzes[i].TeamIDs, teamID)
		}
	}
	return rows.Err()
}

func loadTeams(ctx context.Context, tx pgx.Tx) ([]domain.Team, error) {
	rows, err := tx.Query(ctx, `SELECT id, name, color, image_url, contact_person, email, created_at FROM teams ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	var teams []domain.Team
	index := make(map[string]int)
	for rows.Next() {
		var t domain.Team
		if err := rows.Scan(&t.ID, &t.Name, &t.Color, &t.ImageURL, &t.ContactPerson, &t.Email, &t.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		index[t.ID] = len(teams)
		teams = append(teams, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	scoreRows, err := tx.Query(ctx, `SELECT team_id, round_id, round_name, points FROM round_scores ORDER BY team_id, round_id`)
	if err != nil {
		return nil, err
	}
	for scoreRows.Next() {
		var teamID string
		var rs domain.RoundScore
		if err := scoreRows.Scan(&teamID, &rs.RoundID, &rs.RoundName, &rs.Points); err != nil {
			scoreRows.Close()
			return nil, err
		}
		if i, ok := index[teamID]; ok {
			teams[i].Scores = append(teams[i].Scores, rs)
		}
	}
	scoreRows.Close()
	if err := scoreRows.Err(); err != nil {
		return nil, err
	}

	confRows, err := tx.Query(ctx, `SELECT team_id, quiz_id, confirmed FROM team_confirmations`)
	if err != nil {
		return nil, err
	}
	defer confRows.Close()
	for confRows.Next() {
		var teamID, quizID string
		var confirmed bool
		if err := confRows.Scan(&teamID, &quizID, &confirmed); err != nil {
			return nil, err
		}
		if i, ok := index[teamID]; ok {
			if teams[i].Confirmed == nil {
				teams[i].Confirmed = make(map[string]bool)
			}
			teams[i].Confirmed[quizID] = confirmed
		}
	}
	return teams, confRows.Err()
}

func (s *Store) PutQuiz(ctx context.Context, quiz domain.Quiz, rounds []domain.Round) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quizzes (id, name, venue, date, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, venue = EXCLUDED.venue,
				date = EXCLUDED.date, status = EXCLUDED.status`,
			quiz.ID, quiz.Name, quiz.Venue, quiz.Date, string(quiz.Status), quiz.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert quiz: %w", err)
		}

		keep := make([]string, 0, len(rounds))
		for _, r := range rounds {
			keep = append(keep, r.ID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM rounds WHERE quiz_id = $1 AND NOT (id = ANY($2))`, quiz.ID, keep); err != nil {
			return fmt.Errorf("prune rounds: %w", err)
		}
		for _, r := range rounds {
			_, err := tx.Exec(ctx, `
				INSERT INTO rounds (id, quiz_id, name, max_points, position, completed)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, max_points = EXCLUDED.max_points,
					position = EXCLUDED.position, completed = EXCLUDED.completed`,
				r.ID, quiz.ID, r.Name, r.MaxPoints, r.Order, r.Completed)
			if err != nil {
				return fmt.Errorf("upsert round %s: %w", r.ID, err)
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM quiz_teams WHERE quiz_id = $1`, quiz.ID); err != nil {
			return fmt.Errorf("clear links: %w", err)
		}
		for pos, teamID := range quiz.TeamIDs {
			if _, err := tx.Exec(ctx, `INSERT INTO quiz_teams (quiz_id, team_id, position) VALUES ($1, $2, $3)`, quiz.ID, teamID, pos); err != nil {
				return fmt.Errorf("link team %s: %w", teamID, err)
			}
		}
		return nil
	})
}

func (s *Store) DeleteQuiz(ctx context.Context, quizID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM quizzes WHERE id = $1`, quizID); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	return nil
}

func (s *Store) PutTeam(ctx context.Context, team domain.Team) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO teams (id, name, color, image_url, contact_person, email, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, color = EXCLUDED.color,
				image_url = EXCLUDED.image_url, contact_person = EXCLUDED.contact_person, email = EXCLUDED.email`,
			team.ID, team.Name, team.Color, team.ImageURL, team.ContactPerson, team.Email, team.CreatedAt)
		if err != nil {
			return fmt.Errorf("upsert team: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM round_scores WHERE team_id = $1`, team.ID); err != nil {
			return fmt.Errorf("clear scores: %w", err)
		}
		batch := &pgx.Batch{}
		for _, rs := range team.Scores {
			batch.Queue(`INSERT INTO round_scores (team_id, round_id, round_name, points) VALUES ($1, $2, $3, $4)`,
				team.ID, rs.RoundID, rs.RoundName, rs.Points)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM team_confirmations WHERE team_id = $1`, team.ID); err != nil {
			return fmt.Errorf("clear confirmations: %w", err)
		}
		for quizID, confirmed := range team.Confirmed {
			batch.Queue(`INSERT INTO team_confirmations (team_id, quiz_id, confirmed) VALUES ($1, $2, $3)`,
				team.ID, quizID, confirmed)
		}

		if batch.Len() == 0 {
			return nil
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("write team children: %w", err)
			}
		}
		return results.Close()
	})
}

func (s *Store) DeleteTeam(ctx context.Context, teamID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM teams WHERE id = $1`, teamID); err != nil {
		return fmt.Errorf("delete team: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
