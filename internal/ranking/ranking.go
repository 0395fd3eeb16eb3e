// Package ranking turns per-team totals into an ordered scoreboard.
//
// Every function here is pure: the same input always yields the same output
// and inputs are never modified.
package ranking

import (
	"sort"

	"pubranker/internal/domain"
)

// Rank orders standings by total, highest first. Equal totals keep their
// input order, so callers pass standings in quiz link order. Places are
// strictly sequential (1, 2, 3, ...) even for equal totals.
func Rank(standings []domain.Standing) []domain.RankedTeam {
	ordered := make([]domain.Standing, len(standings))
	copy(ordered, standings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Total > ordered[j].Total
	})

	out := make([]domain.RankedTeam, len(ordered))
	for i, s := range ordered {
		out[i] = domain.RankedTeam{Standing: s, Rank: i + 1}
	}
	return out
}

// Podium returns at most n leading entries.
func Podium(ranked []domain.RankedTeam, n int) []domain.RankedTeam {
	if n <= 0 {
		return nil
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]domain.RankedTeam, n)
	copy(out, ranked[:n])
	return out
}

// Leader returns the first place, if any team is ranked.
func Leader(ranked []domain.RankedTeam) (domain.RankedTeam, bool) {
	if len(ranked) == 0 {
		return domain.RankedTeam{}, false
	}
	return ranked[0], true
}

// Gap is the distance of one ranked team to the leader and to the place above.
type Gap struct {
	TeamID       string `json:"teamId"`
	BehindLeader int    `json:"behindLeader"`
	BehindNext   int    `json:"behindNext"`
}

// Gaps computes point distances for an already ranked list.
func Gaps(ranked []domain.RankedTeam) []Gap {
	out := make([]Gap, len(ranked))
	for i, r := range ranked {
		g := Gap{TeamID: r.TeamID}
		if i > 0 {
			g.BehindLeader = ranked[0].Total - r.Total
			g.BehindNext = ranked[i-1].Total - r.Total
		}
		out[i] = g
	}
	return out
}
