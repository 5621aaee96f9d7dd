package pipeline

import "cip-pipeline/internal/model"

// Assemble builds the Report for one run from the sequenced groups and the
// outliers. The cleaned table is ordered by entity, then start, then input
// row; the outlier table keeps input order.
func Assemble(ds *Dataset, outliers []model.OutlierRecord, groups []Group, cfg model.ComplianceConfig) *model.Report {
	records := Flatten(groups)
	if outliers == nil {
		outliers = []model.OutlierRecord{}
	}

	report := &model.Report{
		TotalCount:   len(ds.Records),
		ValidCount:   len(records),
		OutlierCount: len(outliers),
		Compliance:   cfg,
		ExtraColumns: ds.ExtraColumns,
		EntityStats:  Aggregate(groups, cfg),
		GroupStats:   []model.EntityStats{},
		Profiles:     Profiles(records),
		Records:      records,
		Outliers:     outliers,
	}
	if cfg.GroupBy != "" && cfg.GroupBy != model.LevelDevice {
		report.GroupStats = AggregateAt(records, cfg.GroupBy, cfg)
	}
	return report
}
