// End-to-end scenarios through the full engine stack: import, snapshot
// construction, query, validation.
package rewind

import (
	"context"
	"encoding/json"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/contestops/rewind/internal/store"
)

func scenarioEngine(dump *ContestDump) (*Engine, context.Context) {
	data := NewDataStore(store.NewMemory())
	engine := New(data, Options{})
	if dump != nil {
		if _, err := engine.ImportDump(context.Background(), dump); err != nil {
			panic(err)
		}
	}
	return engine, context.Background()
}

func contestant(id int64, handle, problem string, verdict Verdict, t int64) Submission {
	return Submission{
		ID: id, ProblemIndex: problem, Handle: handle,
		ParticipantType: ParticipantContestant,
		Verdict:         verdict, RelativeTimeSeconds: t,
	}
}

func TestScenario_SingleAccept(t *testing.T) {
	Convey("Given one participant with a single accepted submission", t, func() {
		engine, ctx := scenarioEngine(&ContestDump{
			Contest:     Contest{ID: 1, Name: "S1", DurationSeconds: 7200},
			Problems:    []Problem{{Index: "A", Points: fpoints(500)}},
			Submissions: []Submission{contestant(1, "alice", "A", VerdictOK, 600)},
		})

		Convey("the standings at the solve time hold one ranked row", func() {
			out, err := engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 600, RankFrom: 1})
			So(err, ShouldBeNil)
			So(out.Rows, ShouldHaveLength, 1)

			row := out.Rows[0]
			So(row.Party.Members[0].Handle, ShouldEqual, "alice")
			So(row.Rank, ShouldEqual, 1)
			So(row.Points, ShouldEqual, 500)
			So(row.Penalty, ShouldEqual, 10)

			cell := row.ProblemResults[0]
			So(cell.ProblemIndex, ShouldEqual, "A")
			So(cell.Points, ShouldEqual, 500)
			So(cell.RejectedAttemptCount, ShouldEqual, 0)
			So(*cell.BestSubmissionTimeSeconds, ShouldEqual, 600)
		})
	})
}

func TestScenario_PenaltyFromRejects(t *testing.T) {
	Convey("Given two rejects before the accept", t, func() {
		engine, ctx := scenarioEngine(&ContestDump{
			Contest:  Contest{ID: 1, Name: "S2", DurationSeconds: 7200},
			Problems: []Problem{{Index: "A", Points: fpoints(500)}},
			Submissions: []Submission{
				contestant(1, "alice", "A", VerdictWrongAnswer, 100),
				contestant(2, "alice", "A", VerdictWrongAnswer, 200),
				contestant(3, "alice", "A", VerdictOK, 300),
			},
		})

		Convey("each reject charges 20 minutes on top of the solve minutes", func() {
			out, err := engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 300, RankFrom: 1})
			So(err, ShouldBeNil)
			So(out.Rows[0].Points, ShouldEqual, 500)
			So(out.Rows[0].Penalty, ShouldEqual, 2*20+300/60)
			So(out.Rows[0].ProblemResults[0].RejectedAttemptCount, ShouldEqual, 2)
		})
	})
}

func TestScenario_PenaltyTieBreak(t *testing.T) {
	Convey("Given equal points and different penalties", t, func() {
		engine, ctx := scenarioEngine(&ContestDump{
			Contest:  Contest{ID: 1, Name: "S3", DurationSeconds: 7200},
			Problems: []Problem{{Index: "A", Points: fpoints(500)}},
			Submissions: []Submission{
				contestant(1, "early", "A", VerdictOK, 300),
				contestant(2, "late", "A", VerdictOK, 600),
			},
		})

		Convey("the earlier solver ranks first on penalty", func() {
			out, err := engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 600, RankFrom: 1})
			So(err, ShouldBeNil)
			So(out.Rows[0].Party.Members[0].Handle, ShouldEqual, "early")
			So(out.Rows[0].Rank, ShouldEqual, 1)
			So(out.Rows[0].Penalty, ShouldEqual, 5)
			So(out.Rows[1].Party.Members[0].Handle, ShouldEqual, "late")
			So(out.Rows[1].Rank, ShouldEqual, 2)
			So(out.Rows[1].Penalty, ShouldEqual, 10)
		})
	})
}

func TestScenario_FullTieSharesRank(t *testing.T) {
	Convey("Given identical points, penalty and lastAcTime", t, func() {
		engine, ctx := scenarioEngine(&ContestDump{
			Contest: Contest{ID: 1, Name: "S4", DurationSeconds: 7200},
			Problems: []Problem{
				{Index: "A", Points: fpoints(500)},
				{Index: "B", Points: fpoints(500)},
			},
			Submissions: []Submission{
				contestant(1, "alice", "A", VerdictOK, 120),
				contestant(2, "bob", "B", VerdictOK, 120),
			},
		})

		Convey("both share rank 1", func() {
			out, err := engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 120, RankFrom: 1})
			So(err, ShouldBeNil)
			So(out.Rows, ShouldHaveLength, 2)
			So(out.Rows[0].Rank, ShouldEqual, 1)
			So(out.Rows[1].Rank, ShouldEqual, 1)
		})
	})
}

func TestScenario_UnofficialFilter(t *testing.T) {
	Convey("Given a contestant and a virtual participant with equal results", t, func() {
		vsub := contestant(2, "vbob", "A", VerdictOK, 600)
		vsub.ParticipantType = ParticipantVirtual
		engine, ctx := scenarioEngine(&ContestDump{
			Contest:  Contest{ID: 1, Name: "S5", DurationSeconds: 7200},
			Problems: []Problem{{Index: "A", Points: fpoints(500)}},
			Submissions: []Submission{
				contestant(1, "alice", "A", VerdictOK, 600),
				vsub,
			},
		})

		Convey("the official view hides the virtual", func() {
			out, err := engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 600, RankFrom: 1})
			So(err, ShouldBeNil)
			So(out.Rows, ShouldHaveLength, 1)
			So(out.Rows[0].Party.Members[0].Handle, ShouldEqual, "alice")
		})

		Convey("the unofficial view shows both", func() {
			out, err := engine.StandingsAt(ctx, StandingsQuery{ContestID: 1, T: 600, RankFrom: 1, IncludeUnofficial: true})
			So(err, ShouldBeNil)
			So(out.Rows, ShouldHaveLength, 2)
		})
	})
}

func TestScenario_SnapshotFidelityGrid(t *testing.T) {
	Convey("Given snapshots on the default cadence over [0, 240]", t, func() {
		engine, ctx := scenarioEngine(manyParticipantsDump(20))
		report, err := engine.CreateSnapshotsBulk(ctx, 1, 0, 240, 120, 10)
		So(err, ShouldBeNil)
		So(report.Errors, ShouldBeEmpty)

		reference, _ := scenarioEngine(manyParticipantsDump(20))

		Convey("every grid point reconstructs exactly what a full replay yields", func() {
			for tm := int64(0); tm <= 240; tm += 10 {
				q := StandingsQuery{ContestID: 1, T: tm, RankFrom: 1, IncludeUnofficial: true}
				got, err := engine.StandingsAt(ctx, q)
				So(err, ShouldBeNil)
				want, err := reference.StandingsAt(ctx, q)
				So(err, ShouldBeNil)

				gotJSON, _ := json.Marshal(got)
				wantJSON, _ := json.Marshal(want)
				So(string(gotJSON), ShouldEqual, string(wantJSON))
			}
		})

		Convey("the validator agrees at the terminal time", func() {
			vr, err := engine.Validate(ctx, 1, 240)
			So(err, ShouldBeNil)
			So(vr.OK(), ShouldBeTrue)
		})
	})
}
