// Purpose: Move contest dump files in and out of the data store.
// Exports: ContestDump, ImportSummary, ReadDump, WriteDump and the Engine
// methods ImportDump and ExportDump.
// Role: The offline ingestion seam; everything downstream reads the store.
package rewind

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// ContestDump is the import file shape: one contest with its catalogue,
// submission stream and optional hacks. Child records may omit contestId;
// it is filled from the contest header.
type ContestDump struct {
	Contest     Contest      `json:"contest"`
	Problems    []Problem    `json:"problems"`
	Submissions []Submission `json:"submissions"`
	Hacks       []Hack       `json:"hacks,omitempty"`
}

// ImportSummary reports what an import wrote.
type ImportSummary struct {
	ContestID   int64 `json:"contestId"`
	Problems    int   `json:"problems"`
	Submissions int   `json:"submissions"`
	Hacks       int   `json:"hacks"`
}

// ReadDump decodes a dump from r and validates its identity fields.
func ReadDump(r io.Reader) (*ContestDump, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	var dump ContestDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return nil, inputErrf("bad-dump", "dump is not valid JSON: %v", err)
	}
	if err := dump.normalize(); err != nil {
		return nil, err
	}
	return &dump, nil
}

func (d *ContestDump) normalize() error {
	if d.Contest.ID <= 0 {
		return inputErrf("bad-dump", "dump contest.id must be positive, got %d", d.Contest.ID)
	}
	id := d.Contest.ID
	for i := range d.Problems {
		if err := adoptContestID(&d.Problems[i].ContestID, id, "problem", d.Problems[i].Index); err != nil {
			return err
		}
		if d.Problems[i].Index == "" {
			return inputErrf("bad-dump", "problem %d has an empty index", i)
		}
	}
	for i := range d.Submissions {
		if err := adoptContestID(&d.Submissions[i].ContestID, id, "submission", fmt.Sprint(d.Submissions[i].ID)); err != nil {
			return err
		}
		if d.Submissions[i].ID == 0 {
			return inputErrf("bad-dump", "submission %d has no id", i)
		}
	}
	for i := range d.Hacks {
		if err := adoptContestID(&d.Hacks[i].ContestID, id, "hack", fmt.Sprint(d.Hacks[i].ID)); err != nil {
			return err
		}
		if d.Hacks[i].ID == 0 {
			return inputErrf("bad-dump", "hack %d has no id", i)
		}
	}
	return nil
}

func adoptContestID(field *int64, contestID int64, kind, name string) error {
	if *field == 0 {
		*field = contestID
		return nil
	}
	if *field != contestID {
		return inputErrf("bad-dump", "%s %s belongs to contest %d, dump is for %d",
			kind, name, *field, contestID)
	}
	return nil
}

// ImportDump upserts the dump's records. Re-importing the same dump is
// idempotent; a changed dump overwrites record by record.
func (e *Engine) ImportDump(ctx context.Context, dump *ContestDump) (*ImportSummary, error) {
	if err := dump.normalize(); err != nil {
		return nil, err
	}
	if err := e.data.PutContest(ctx, dump.Contest); err != nil {
		return nil, err
	}
	sum := &ImportSummary{ContestID: dump.Contest.ID}

	var err error
	if sum.Problems, err = e.data.PutProblems(ctx, dump.Problems); err != nil {
		return nil, err
	}
	if sum.Submissions, err = e.data.PutSubmissions(ctx, dump.Submissions); err != nil {
		return nil, err
	}
	if sum.Hacks, err = e.data.PutHacks(ctx, dump.Hacks); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.DocsImported.WithLabelValues("contests").Add(1)
		e.metrics.DocsImported.WithLabelValues("problems").Add(float64(sum.Problems))
		e.metrics.DocsImported.WithLabelValues("submissions").Add(float64(sum.Submissions))
		e.metrics.DocsImported.WithLabelValues("hacks").Add(float64(sum.Hacks))
	}
	e.log.Info("contest dump imported",
		"contestId", sum.ContestID,
		"problems", sum.Problems,
		"submissions", sum.Submissions,
		"hacks", sum.Hacks)
	return sum, nil
}

// ExportDump reassembles a dump from the store. The result round-trips
// through ImportDump: exporting and re-importing reproduces the records.
func (e *Engine) ExportDump(ctx context.Context, contestID int64) (*ContestDump, error) {
	if contestID <= 0 {
		return nil, inputErrf("bad-contest", "contestId must be positive, got %d", contestID)
	}
	contest, err := e.data.Contest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if contest == nil {
		return nil, dataErrf("no-contest", "contest %d has no record on this backend", contestID)
	}
	dump := &ContestDump{Contest: *contest}
	if dump.Problems, err = e.data.Problems(ctx, contestID); err != nil {
		return nil, err
	}
	if dump.Submissions, err = e.data.Submissions(ctx, contestID); err != nil {
		return nil, err
	}
	if dump.Hacks, err = e.data.Hacks(ctx, contestID); err != nil {
		return nil, err
	}
	return dump, nil
}

// WriteDump encodes a dump as indented JSON, the same shape ReadDump reads.
func WriteDump(w io.Writer, dump *ContestDump) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(dump); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return nil
}
