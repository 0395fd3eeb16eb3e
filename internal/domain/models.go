package domain

import "time"

// QuizStatus is the lifecycle stage of a quiz. A quiz is exactly one of
// planned, active or completed.
type QuizStatus string

const (
	QuizPlanned   QuizStatus = "planned"
	QuizActive    QuizStatus = "active"
	QuizCompleted QuizStatus = "completed"
)

// Quiz is one scored event. Rounds are owned by the quiz; teams are linked
// by id and may belong to many quizzes.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Name      string     `json:"name" yaml:"name"`
	Venue     string     `json:"venue" yaml:"venue"`
	Date      time.Time  `json:"date" yaml:"date"`
	Status    QuizStatus `json:"status" yaml:"status"`
	RoundIDs  []string   `json:"roundIds" yaml:"roundIds"`
	TeamIDs   []string   `json:"teamIds" yaml:"teamIds"` // link order
	CreatedAt time.Time  `json:"createdAt" yaml:"createdAt"`
}

// IsActive reports whether the quiz is currently being played.
func (q Quiz) IsActive() bool { return q.Status == QuizActive }

// IsCompleted reports whether the quiz has finished.
func (q Quiz) IsCompleted() bool { return q.Status == QuizCompleted }

// HasTeam reports whether teamID is linked to the quiz.
func (q Quiz) HasTeam(teamID string) bool {
	for _, id := range q.TeamIDs {
		if id == teamID {
			return true
		}
	}
	return false
}

// Round is one scoring segment of a quiz. MaxPoints nil means unlimited.
type Round struct {
	ID        string `json:"id" yaml:"id"`
	QuizID    string `json:"quizId" yaml:"quizId"`
	Name      string `json:"name" yaml:"name"`
	MaxPoints *int   `json:"maxPoints,omitempty" yaml:"maxPoints,omitempty"`
	Order     int    `json:"order" yaml:"order"`
	Completed bool   `json:"completed" yaml:"completed"`
}

// RoundScore is a team's points for one round. RoundName is a snapshot taken
// when the score was written.
type RoundScore struct {
	RoundID   string `json:"roundId" yaml:"roundId"`
	RoundName string `json:"roundName" yaml:"roundName"`
	Points    int    `json:"points" yaml:"points"`
}

// Team is a participating team. Teams exist globally; quizzes only link them.
type Team struct {
	ID            string          `json:"id" yaml:"id"`
	Name          string          `json:"name" yaml:"name"`
	Color         string          `json:"color" yaml:"color"`
	ImageURL      string          `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	ContactPerson string          `json:"contactPerson,omitempty" yaml:"contactPerson,omitempty"`
	Email         string          `json:"email,omitempty" yaml:"email,omitempty"`
	Confirmed     map[string]bool `json:"confirmed,omitempty" yaml:"confirmed,omitempty"` // by quiz id
	Scores        []RoundScore    `json:"scores,omitempty" yaml:"scores,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" yaml:"createdAt"`
}

// Score returns the entry for roundID, if any.
func (t Team) Score(roundID string) (RoundScore, bool) {
	for _, s := range t.Scores {
		if s.RoundID == roundID {
			return s, true
		}
	}
	return RoundScore{}, false
}

// Clone returns a deep copy so callers cannot alias owner state.
func (t Team) Clone() Team {
	out := t
	if t.Confirmed != nil {
		out.Confirmed = make(map[string]bool, len(t.Confirmed))
		for k, v := range t.Confirmed {
			out.Confirmed[k] = v
		}
	}
	out.Scores = append([]RoundScore(nil), t.Scores...)
	return out
}

// Clone returns a deep copy of the quiz.
func (q Quiz) Clone() Quiz {
	out := q
	out.RoundIDs = append([]string(nil), q.RoundIDs...)
	out.TeamIDs = append([]string(nil), q.TeamIDs...)
	return out
}

// Clone returns a deep copy of the round.
func (r Round) Clone() Round {
	out := r
	if r.MaxPoints != nil {
		v := *r.MaxPoints
		out.MaxPoints = &v
	}
	return out
}

// Standing is a team's aggregated total for one quiz.
type Standing struct {
	TeamID   string `json:"teamId"`
	TeamName string `json:"teamName"`
	Total    int    `json:"total"`
}

// RankedTeam is a standing with its 1-based place.
type RankedTeam struct {
	Standing
	Rank int `json:"rank"`
}

// Ranking is the ordered scoreboard of a quiz.
type Ranking struct {
	QuizID    string       `json:"quizId"`
	Entries   []RankedTeam `json:"entries"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// Snapshot is the logical persisted schema shared by every store tier.
type Snapshot struct {
	Quizzes []Quiz  `json:"quizzes" yaml:"quizzes"`
	Rounds  []Round `json:"rounds" yaml:"rounds"`
	Teams   []Team  `json:"teams" yaml:"teams"`
}

// ChangeKind classifies inbound replication signals.
type ChangeKind string

const (
	// RemoteChanged means another replica committed data.
	RemoteChanged ChangeKind = "remote_changed"
	// LocalExported means a local change reached the remote tier.
	LocalExported ChangeKind = "local_exported"
)

// ChangeEvent is delivered by the replication collaborator.
type ChangeEvent struct {
	Kind     ChangeKind `json:"kind"`
	Origin   string     `json:"origin"`
	QuizID   string     `json:"quizId,omitempty"`
	Received time.Time  `json:"-"`
}
