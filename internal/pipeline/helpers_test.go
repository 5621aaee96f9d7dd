package pipeline

import (
	"context"
	"strings"
	"testing"

	"cip-pipeline/internal/model"

	"github.com/stretchr/testify/require"
)

// cycle is the subset of a CIP log row the tests vary.
type cycle struct {
	line, circuit, device string
	start, end            string
	alkali, hotwater      string
	flow                  string
}

func (c cycle) csvRow() string {
	cells := []string{
		c.line, c.circuit, c.device, "P1", c.flow,
		c.start, c.end, c.alkali, c.hotwater,
		"80", "78", "1.9",
		"85", "82", c.start, c.end,
	}
	for i, cell := range cells {
		if strings.Contains(cell, ",") {
			cells[i] = `"` + cell + `"`
		}
	}
	return strings.Join(cells, ",")
}

func (c cycle) raw(row int) model.RawRecord {
	return model.RawRecord{
		Row:                row,
		Line:               c.line,
		Circuit:            c.circuit,
		Device:             c.device,
		Program:            "P1",
		StartTime:          c.start,
		EndTime:            c.end,
		AlkaliStartTime:    c.start,
		AlkaliEndTime:      c.end,
		AlkaliDuration:     c.alkali,
		HotwaterDuration:   c.hotwater,
		AlkaliStartTemp:    "80",
		AlkaliEndTemp:      "78",
		AlkaliConductivity: "1.9",
		HotwaterStartTemp:  "85",
		HotwaterEndTemp:    "82",
		ReturnFlowRate:     c.flow,
	}
}

func csvInput(cycles ...cycle) string {
	var b strings.Builder
	b.WriteString(strings.Join(model.RequiredColumns, ","))
	b.WriteByte('\n')
	for _, c := range cycles {
		b.WriteString(c.csvRow())
		b.WriteByte('\n')
	}
	return b.String()
}

func rawRecords(cycles ...cycle) []model.RawRecord {
	out := make([]model.RawRecord, len(cycles))
	for i, c := range cycles {
		out[i] = c.raw(i)
	}
	return out
}

func dataset(t *testing.T, cycles ...cycle) *Dataset {
	t.Helper()
	ds, err := ReadCSV(strings.NewReader(csvInput(cycles...)), "test.csv", nil)
	require.NoError(t, err)
	return ds
}

// sample is a two-device log with one outlier and a 4.0833 day gap on L1/C1/D1.
var sample = []cycle{
	{"L1", "C1", "D1", "5/3/24 10:00", "5/3/24 11:00", "0:35", "0:20", "12.5"},
	{"L1", "C1", "D1", "1/3/24 07:00", "1/3/24 08:00", "0:31", "0:15", "12.0"},
	{"L1", "C1", "D2", "2/3/24 09:00", "2/3/24 10:00", "0:25", "0:10", "11.0"},
	{"L1", "C1", "D2", "3/3/24 09:00", "3/3/24 10:00", "0:00", "0:10", "11.0"},
	{"L2", "C9", "D7", "4/3/24 06:00", "4/3/24 07:30", "1:05", "0:30", "9,5"},
}

func sequence(t *testing.T, records []model.CleanedRecord, workers int) []Group {
	t.Helper()
	groups, err := Sequence(context.Background(), records, workers)
	require.NoError(t, err)
	return groups
}

func process(t *testing.T, ds *Dataset, opts Options) *model.Report {
	t.Helper()
	report, err := Process(context.Background(), ds, opts)
	require.NoError(t, err)
	return report
}

func ptr(v float64) *float64 { return &v }
