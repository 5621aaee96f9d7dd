package pipeline

import (
	"context"
	"sort"

	"cip-pipeline/internal/model"

	"golang.org/x/sync/errgroup"
)

const secondsPerDay = 86400.0

// Group is the chronologically ordered cycles of one entity.
type Group struct {
	Key     model.EntityKey
	Records []model.CleanedRecord
}

// GroupByEntity buckets records by EntityKey. Groups are returned in key
// order and keep input order inside each group.
func GroupByEntity(records []model.CleanedRecord) []Group {
	index := make(map[model.EntityKey]int)
	var groups []Group
	for _, rec := range records {
		i, ok := index[rec.Entity]
		if !ok {
			i = len(groups)
			index[rec.Entity] = i
			groups = append(groups, Group{Key: rec.Entity})
		}
		groups[i].Records = append(groups[i].Records, rec)
	}
	sort.Slice(groups, func(a, b int) bool { return groups[a].Key.Less(groups[b].Key) })
	return groups
}

// SortByStart orders records by start timestamp ascending with unparsed
// starts last. Ties keep their input order.
func SortByStart(records []model.CleanedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i].Start, records[j].Start
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
}

// ComputeGaps assigns time_gap_days to each record of an ordered group from
// its end to the next record's start. The last record, and any pair with an
// unknown boundary, gets nil. Negative gaps are kept and flagged.
func ComputeGaps(records []model.CleanedRecord) {
	for i := range records {
		records[i].TimeGapDays = nil
		records[i].Flags &^= model.FlagNegativeGap
		if i+1 == len(records) {
			continue
		}
		cur, next := records[i], records[i+1]
		if cur.End == nil || next.Start == nil {
			continue
		}
		gap := next.Start.Sub(*cur.End).Seconds() / secondsPerDay
		records[i].TimeGapDays = &gap
		if gap < 0 {
			records[i].Flags |= model.FlagNegativeGap
		}
	}
}

// Sequence groups, orders and gap-annotates records. Groups are processed on
// up to workers goroutines; each goroutine owns exactly one group's slice.
// It fails only when ctx is canceled before every group is done.
func Sequence(ctx context.Context, records []model.CleanedRecord, workers int) ([]Group, error) {
	groups := GroupByEntity(records)
	if workers <= 0 {
		workers = model.DefaultGapWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range groups {
		recs := groups[i].Records
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			SortByStart(recs)
			ComputeGaps(recs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return groups, nil
}

// Flatten concatenates groups in order.
func Flatten(groups []Group) []model.CleanedRecord {
	n := 0
	for _, g := range groups {
		n += len(g.Records)
	}
	out := make([]model.CleanedRecord, 0, n)
	for _, g := range groups {
		out = append(out, g.Records...)
	}
	return out
}
