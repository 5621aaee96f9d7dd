package pipeline

import (
	"math"
	"sort"

	"cip-pipeline/internal/model"
	"cip-pipeline/pkg/utils"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Aggregate reduces each device-level group to EntityStats. Inputs are not
// modified.
func Aggregate(groups []Group, cfg model.ComplianceConfig) []model.EntityStats {
	out := make([]model.EntityStats, 0, len(groups))
	for _, g := range groups {
		out = append(out, entityStats(g.Key, model.LevelDevice, g.Records, cfg))
	}
	return out
}

// AggregateAt reduces already sequenced records at a coarser level, for
// sources where device granularity is not meaningful. Gaps are those
// computed per device; they are never recomputed across devices.
func AggregateAt(records []model.CleanedRecord, level model.GroupLevel, cfg model.ComplianceConfig) []model.EntityStats {
	index := make(map[model.EntityKey]int)
	var keys []model.EntityKey
	var buckets [][]model.CleanedRecord
	for _, rec := range records {
		k := rec.Entity.At(level)
		i, ok := index[k]
		if !ok {
			i = len(keys)
			index[k] = i
			keys = append(keys, k)
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], rec)
	}

	order := make([]int, len(keys))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return keys[order[a]].Less(keys[order[b]]) })

	out := make([]model.EntityStats, 0, len(keys))
	for _, i := range order {
		out = append(out, entityStats(keys[i], level, buckets[i], cfg))
	}
	return out
}

func entityStats(key model.EntityKey, level model.GroupLevel, records []model.CleanedRecord, cfg model.ComplianceConfig) model.EntityStats {
	s := model.EntityStats{Entity: key, Level: level, CycleCount: len(records)}

	var gaps, totals, alkali, hotwater, alkaliDelta, hotwaterDelta, cond, flow []float64
	for _, rec := range records {
		if rec.TimeGapDays != nil {
			gap := *rec.TimeGapDays
			gaps = append(gaps, gap)
			if gap <= cfg.MaxGapDays {
				s.GapCompliantCount++
			}
			if gap < 0 {
				s.NegativeGapCount++
			}
		}
		if rec.Flags.Has(model.FlagDurationInvalid) {
			s.DurationInvalidCount++
		} else if rec.TotalMinutes != nil {
			totals = append(totals, *rec.TotalMinutes)
		}
		if rec.AlkaliStatus == model.DurationOK {
			alkali = append(alkali, rec.AlkaliMinutes)
			if rec.AlkaliMinutes >= cfg.MinAlkaliMinutes {
				s.AlkaliCompliantCount++
			}
		}
		if rec.HotwaterStatus == model.DurationOK {
			hotwater = append(hotwater, rec.HotwaterMinutes)
		}
		if d := delta(rec.AlkaliStartTempC, rec.AlkaliEndTempC); d != nil {
			alkaliDelta = append(alkaliDelta, *d)
		}
		if d := delta(rec.HotwaterStartTempC, rec.HotwaterEndTempC); d != nil {
			hotwaterDelta = append(hotwaterDelta, *d)
		}
		if rec.AlkaliCond != nil {
			cond = append(cond, *rec.AlkaliCond)
		}
		if rec.ReturnFlow != nil {
			flow = append(flow, *rec.ReturnFlow)
		}
	}

	s.GapDays = Summarize(gaps)
	s.GapComplianceRate = Rate(s.GapCompliantCount, len(gaps), cfg.Precision)
	s.TotalMinutes = Summarize(totals)
	s.AlkaliMinutes = Summarize(alkali)
	s.AlkaliComplianceRate = Rate(s.AlkaliCompliantCount, len(alkali), cfg.Precision)
	s.HotwaterMinutes = Summarize(hotwater)
	s.AlkaliTempDelta = Summarize(alkaliDelta)
	s.HotwaterTempDelta = Summarize(hotwaterDelta)
	s.AlkaliConductivity = Summarize(cond)
	s.ReturnFlow = Summarize(flow)
	return s
}

func delta(start, end *float64) *float64 {
	if start == nil || end == nil {
		return nil
	}
	return utils.Float(*end - *start)
}

// Summarize computes count/mean/min/max/stddev over values. Standard
// deviation is the sample estimate and is nil below two samples.
func Summarize(values []float64) model.Summary {
	s := model.Summary{Count: len(values)}
	if len(values) == 0 {
		return s
	}
	s.Mean = utils.Float(stat.Mean(values, nil))
	s.Min = utils.Float(floats.Min(values))
	s.Max = utils.Float(floats.Max(values))
	if len(values) >= 2 {
		s.StdDev = utils.Float(stat.StdDev(values, nil))
	}
	return s
}

// Rate is compliant/total as a percentage rounded to precision places, or
// nil when total is zero.
func Rate(compliant, total, precision int) *float64 {
	if total == 0 {
		return nil
	}
	return utils.Float(utils.Round(float64(compliant)/float64(total)*100, precision))
}

// profileParameter extracts one numeric parameter from a record.
type profileParameter struct {
	name  string
	value func(model.CleanedRecord) *float64
}

func minutesIfOK(minutes float64, status model.DurationStatus) *float64 {
	if status != model.DurationOK {
		return nil
	}
	return utils.Float(minutes)
}

// ProfileParameters are the CIP parameters described per line.
var profileParameters = []profileParameter{
	{"alkali_duration_minutes", func(r model.CleanedRecord) *float64 { return minutesIfOK(r.AlkaliMinutes, r.AlkaliStatus) }},
	{"alkali_start_temp", func(r model.CleanedRecord) *float64 { return r.AlkaliStartTempC }},
	{"alkali_end_temp", func(r model.CleanedRecord) *float64 { return r.AlkaliEndTempC }},
	{"alkali_conductivity", func(r model.CleanedRecord) *float64 { return r.AlkaliCond }},
	{"hotwater_duration_minutes", func(r model.CleanedRecord) *float64 { return minutesIfOK(r.HotwaterMinutes, r.HotwaterStatus) }},
	{"hotwater_start_temp", func(r model.CleanedRecord) *float64 { return r.HotwaterStartTempC }},
	{"hotwater_end_temp", func(r model.CleanedRecord) *float64 { return r.HotwaterEndTempC }},
	{"return_flow_rate", func(r model.CleanedRecord) *float64 { return r.ReturnFlow }},
}

// ProfileParameterNames lists the parameters covered by line profiles.
func ProfileParameterNames() []string {
	names := make([]string, len(profileParameters))
	for i, p := range profileParameters {
		names[i] = p.name
	}
	return names
}

// Profiles builds one LineProfile per production line, in line order.
func Profiles(records []model.CleanedRecord) []model.LineProfile {
	byLine := make(map[string][]model.CleanedRecord)
	var lines []string
	for _, rec := range records {
		if _, ok := byLine[rec.Line]; !ok {
			lines = append(lines, rec.Line)
		}
		byLine[rec.Line] = append(byLine[rec.Line], rec)
	}
	sort.Strings(lines)

	out := make([]model.LineProfile, 0, len(lines))
	for _, line := range lines {
		out = append(out, lineProfile(line, byLine[line]))
	}
	return out
}

func lineProfile(line string, records []model.CleanedRecord) model.LineProfile {
	cols := make([][]*float64, len(profileParameters))
	for i, p := range profileParameters {
		cols[i] = make([]*float64, len(records))
		for j, rec := range records {
			cols[i][j] = p.value(rec)
		}
	}

	lp := model.LineProfile{
		Line:        line,
		Correlation: model.Correlation{Parameters: ProfileParameterNames()},
	}
	for i, p := range profileParameters {
		lp.Distributions = append(lp.Distributions, Describe(p.name, present(cols[i])))
	}
	lp.Correlation.Values = make([][]*float64, len(cols))
	for i := range cols {
		lp.Correlation.Values[i] = make([]*float64, len(cols))
		for j := range cols {
			lp.Correlation.Values[i][j] = Pearson(cols[i], cols[j])
		}
	}
	return lp
}

func present(values []*float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

// Describe returns count, mean, std, min, quartiles and max of values.
func Describe(name string, values []float64) model.Distribution {
	d := model.Distribution{Parameter: name, Count: len(values)}
	if len(values) == 0 {
		return d
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	d.Mean = utils.Float(stat.Mean(sorted, nil))
	if len(sorted) >= 2 {
		d.StdDev = utils.Float(stat.StdDev(sorted, nil))
	}
	d.Min = utils.Float(sorted[0])
	d.P25 = utils.Float(stat.Quantile(0.25, stat.Empirical, sorted, nil))
	d.P50 = utils.Float(stat.Quantile(0.50, stat.Empirical, sorted, nil))
	d.P75 = utils.Float(stat.Quantile(0.75, stat.Empirical, sorted, nil))
	d.Max = utils.Float(sorted[len(sorted)-1])
	return d
}

// Pearson correlates x and y over the positions where both are present.
// Returns nil for fewer than two pairs or zero variance.
func Pearson(x, y []*float64) *float64 {
	var xs, ys []float64
	for i := range x {
		if i < len(y) && x[i] != nil && y[i] != nil {
			xs = append(xs, *x[i])
			ys = append(ys, *y[i])
		}
	}
	if len(xs) < 2 {
		return nil
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return nil
	}
	return utils.Float(r)
}
