package pipeline

import (
	"cip-pipeline/internal/model"
	"cip-pipeline/pkg/utils"
)

// Partition splits records into valid records and outliers. A record is an
// outlier when its return flow is zero or either step duration encodes zero
// elapsed time. Input order is preserved within both outputs.
func Partition(records []model.RawRecord) ([]model.RawRecord, []model.OutlierRecord) {
	valid := make([]model.RawRecord, 0, len(records))
	outliers := make([]model.OutlierRecord, 0)

	for _, rec := range records {
		if reasons := outlierReasons(rec); len(reasons) > 0 {
			outliers = append(outliers, model.OutlierRecord{RawRecord: rec, Reasons: reasons})
			continue
		}
		valid = append(valid, rec)
	}
	return valid, outliers
}

// outlierReasons applies the validity predicate. An empty or unparseable
// return flow is not zero and does not make a record an outlier.
func outlierReasons(rec model.RawRecord) []string {
	var reasons []string
	if flow := utils.ParseFloat(rec.ReturnFlowRate); flow != nil && *flow == 0 {
		reasons = append(reasons, model.ReasonZeroReturnFlow)
	}
	if _, status := ParseStepDuration(rec.AlkaliDuration); status == model.DurationZero {
		reasons = append(reasons, model.ReasonZeroAlkaliDuration)
	}
	if _, status := ParseStepDuration(rec.HotwaterDuration); status == model.DurationZero {
		reasons = append(reasons, model.ReasonZeroHotwaterDuration)
	}
	return reasons
}
