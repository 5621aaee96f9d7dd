package pipeline

import (
	"context"
	"fmt"
	"testing"

	"cip-pipeline/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cleanedSample(t *testing.T) []model.CleanedRecord {
	t.Helper()
	valid, _ := Partition(rawRecords(sample...))
	return Normalize(valid)
}

func TestGroupByEntity(t *testing.T) {
	groups := GroupByEntity(cleanedSample(t))
	require.Len(t, groups, 3)
	assert.Equal(t, "L1/C1/D1", groups[0].Key.String())
	assert.Equal(t, "L1/C1/D2", groups[1].Key.String())
	assert.Equal(t, "L2/C9/D7", groups[2].Key.String())

	// input order inside the group until sorted
	assert.Equal(t, 0, groups[0].Records[0].Row)
	assert.Equal(t, 1, groups[0].Records[1].Row)
}

func TestSequenceComputesGap(t *testing.T) {
	groups := sequence(t, cleanedSample(t), 2)
	require.Len(t, groups, 3)

	d1 := groups[0].Records
	require.Len(t, d1, 2)
	assert.Equal(t, 1, d1[0].Row, "earliest cycle first")
	require.NotNil(t, d1[0].TimeGapDays)
	assert.InDelta(t, 4.0833, *d1[0].TimeGapDays, 1e-4)
	assert.Nil(t, d1[1].TimeGapDays)

	// the single remaining D2 cycle and the lone L2 cycle have no successor
	assert.Nil(t, groups[1].Records[0].TimeGapDays)
	assert.Nil(t, groups[2].Records[0].TimeGapDays)
}

func TestSortByStartNullsLast(t *testing.T) {
	c := sample[1]
	records := Normalize([]model.RawRecord{
		withStart(c, "garbage").raw(0),
		withStart(c, "3/3/24 07:00").raw(1),
		withStart(c, "").raw(2),
		withStart(c, "1/3/24 07:00").raw(3),
		withStart(c, "3/3/24 07:00").raw(4),
	})
	SortByStart(records)

	rows := make([]int, len(records))
	for i, r := range records {
		rows[i] = r.Row
	}
	assert.Equal(t, []int{3, 1, 4, 0, 2}, rows)
}

func withStart(c cycle, start string) cycle {
	c.start = start
	return c
}

func TestComputeGapsNegative(t *testing.T) {
	overlap := []cycle{
		{"L1", "C1", "D1", "1/3/24 07:00", "1/3/24 09:00", "0:31", "0:15", "12"},
		{"L1", "C1", "D1", "1/3/24 08:00", "1/3/24 10:00", "0:31", "0:15", "12"},
	}
	groups := sequence(t, Normalize(rawRecords(overlap...)), 1)
	recs := groups[0].Records

	require.NotNil(t, recs[0].TimeGapDays)
	assert.InDelta(t, -1.0/24, *recs[0].TimeGapDays, 1e-9)
	assert.True(t, recs[0].Flags.Has(model.FlagNegativeGap))
	assert.False(t, recs[1].Flags.Has(model.FlagNegativeGap))

	stats := Aggregate(groups, model.DefaultCompliance())
	assert.Equal(t, 1, stats[0].NegativeGapCount)
	assert.Equal(t, 1, stats[0].GapCompliantCount)
}

func TestComputeGapsUnknownBoundary(t *testing.T) {
	cycles := []cycle{
		{"L1", "C1", "D1", "1/3/24 07:00", "bad", "0:31", "0:15", "12"},
		{"L1", "C1", "D1", "2/3/24 07:00", "2/3/24 08:00", "0:31", "0:15", "12"},
		{"L1", "C1", "D1", "4/3/24 07:00", "4/3/24 08:00", "0:31", "0:15", "12"},
	}
	recs := Normalize(rawRecords(cycles...))
	ComputeGaps(recs)

	assert.Nil(t, recs[0].TimeGapDays)
	require.NotNil(t, recs[1].TimeGapDays)
	assert.InDelta(t, 47.0/24, *recs[1].TimeGapDays, 1e-9)
	assert.Nil(t, recs[2].TimeGapDays)
}

func TestSequenceParallelMatchesSerial(t *testing.T) {
	var cycles []cycle
	for d := 0; d < 12; d++ {
		for day := 9; day >= 1; day -= 2 {
			cycles = append(cycles, cycle{
				"L1", "C1", fmt.Sprintf("D%02d", d),
				fmt.Sprintf("%d/3/24 0%d:00", day, d%6+1), fmt.Sprintf("%d/3/24 0%d:30", day, d%6+1),
				"0:31", "0:15", "12",
			})
		}
	}
	raw := rawRecords(cycles...)

	serial := Flatten(sequence(t, Normalize(raw), 1))
	parallel := Flatten(sequence(t, Normalize(raw), 8))
	assert.Equal(t, serial, parallel)
	assert.Len(t, serial, len(raw))
}

func TestSequenceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	groups, err := Sequence(ctx, cleanedSample(t), 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, groups)
}

func TestFlatten(t *testing.T) {
	assert.Empty(t, Flatten(nil))
	groups := sequence(t, cleanedSample(t), 1)
	flat := Flatten(groups)
	rows := make([]int, len(flat))
	for i, r := range flat {
		rows[i] = r.Row
	}
	assert.Equal(t, []int{1, 0, 2, 4}, rows)
}
