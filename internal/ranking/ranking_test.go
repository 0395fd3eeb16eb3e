package ranking_test

import (
	"testing"

	"pubranker/internal/domain"
	"pubranker/internal/ranking"

	"github.com/smartystreets/goconvey/convey"
)

func standings() []domain.Standing {
	return []domain.Standing{
		{TeamID: "a", TeamName: "A", Total: 30},
		{TeamID: "b", TeamName: "B", Total: 30},
		{TeamID: "c", TeamName: "C", Total: 20},
	}
}

func TestRank(t *testing.T) {
	convey.Convey("Given teams A=30, B=30, C=20 in link order", t, func() {
		input := standings()

		convey.Convey("When ranked", func() {
			ranked := ranking.Rank(input)

			convey.Convey("Then places are sequential and ties keep link order", func() {
				convey.So(ranked, convey.ShouldHaveLength, 3)
				convey.So(ranked[0].TeamID, convey.ShouldEqual, "a")
				convey.So(ranked[0].Rank, convey.ShouldEqual, 1)
				convey.So(ranked[1].TeamID, convey.ShouldEqual, "b")
				convey.So(ranked[1].Rank, convey.ShouldEqual, 2)
				convey.So(ranked[2].TeamID, convey.ShouldEqual, "c")
				convey.So(ranked[2].Rank, convey.ShouldEqual, 3)
			})
		})

		convey.Convey("When ranked twice", func() {
			first := ranking.Rank(input)
			second := ranking.Rank(input)

			convey.Convey("Then both results are identical", func() {
				convey.So(second, convey.ShouldResemble, first)
			})
		})

		convey.Convey("When the input is reordered before ranking", func() {
			input[0], input[2] = input[2], input[0]
			ranked := ranking.Rank(input)

			convey.Convey("Then the tied teams follow the new input order", func() {
				convey.So(ranked[0].TeamID, convey.ShouldEqual, "b")
				convey.So(ranked[1].TeamID, convey.ShouldEqual, "a")
			})
		})

		convey.Convey("Then ranking never mutates its input", func() {
			before := standings()
			reversed := []domain.Standing{before[2], before[1], before[0]}
			_ = ranking.Rank(reversed)
			convey.So(reversed[0].TeamID, convey.ShouldEqual, "c")
		})
	})

	convey.Convey("Given no teams", t, func() {
		convey.So(ranking.Rank(nil), convey.ShouldBeEmpty)
		_, ok := ranking.Leader(nil)
		convey.So(ok, convey.ShouldBeFalse)
	})
}

func TestPodiumAndGaps(t *testing.T) {
	convey.Convey("Given a ranked list", t, func() {
		ranked := ranking.Rank(append(standings(), domain.Standing{TeamID: "d", Total: 5}))

		convey.Convey("Podium is capped by the list length", func() {
			convey.So(ranking.Podium(ranked, 3), convey.ShouldHaveLength, 3)
			convey.So(ranking.Podium(ranked, 10), convey.ShouldHaveLength, 4)
			convey.So(ranking.Podium(ranked, 0), convey.ShouldBeEmpty)
		})

		convey.Convey("Leader is the first place", func() {
			leader, ok := ranking.Leader(ranked)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(leader.TeamID, convey.ShouldEqual, "a")
		})

		convey.Convey("Gaps measure distance to the leader and the place above", func() {
			gaps := ranking.Gaps(ranked)
			convey.So(gaps[0], convey.ShouldResemble, ranking.Gap{TeamID: "a"})
			convey.So(gaps[1], convey.ShouldResemble, ranking.Gap{TeamID: "b"})
			convey.So(gaps[2], convey.ShouldResemble, ranking.Gap{TeamID: "c", BehindLeader: 10, BehindNext: 10})
			convey.So(gaps[3], convey.ShouldResemble, ranking.Gap{TeamID: "d", BehindLeader: 25, BehindNext: 15})
		})
	})
}
