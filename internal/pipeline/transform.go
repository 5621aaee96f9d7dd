package pipeline

import (
	"strconv"
	"strings"
	"time"

	"cip-pipeline/internal/model"
	"cip-pipeline/pkg/utils"
)

// Source-system text formats.
const (
	// TimestampLayout is day/month/2-digit-year hour:minute.
	TimestampLayout = "2/1/06 15:04"
	// ZeroDurationToken is the literal the source logs for a step that did not run.
	ZeroDurationToken = "0:00"
)

var timestampLayouts = []string{TimestampLayout, "2/1/06 15:04:05"}

// ParseTimestamp parses source timestamp text as UTC. It returns nil when the
// text does not match the layout.
func ParseTimestamp(text string) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return &t
		}
	}
	return nil
}

// ParseStepDuration converts "h:mm" elapsed-time text into minutes.
// Empty, zero and malformed text all yield 0 minutes; the status tells them apart.
func ParseStepDuration(text string) (float64, model.DurationStatus) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, model.DurationUnmeasured
	}
	if text == ZeroDurationToken {
		return 0, model.DurationZero
	}

	parts := strings.Split(text, ":")
	if len(parts) != 2 {
		return 0, model.DurationInvalid
	}
	hours, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || hours < 0 {
		return 0, model.DurationInvalid
	}
	minutes, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || minutes < 0 || minutes > 59 {
		return 0, model.DurationInvalid
	}

	total := float64(hours*60 + minutes)
	if total == 0 {
		return 0, model.DurationZero
	}
	return total, model.DurationOK
}

// Normalize parses the text fields of valid records. Parse failures never
// reject a record; they surface as nil values and flags.
func Normalize(valid []model.RawRecord) []model.CleanedRecord {
	out := make([]model.CleanedRecord, len(valid))
	for i, rec := range valid {
		out[i] = normalizeRecord(rec)
	}
	return out
}

func normalizeRecord(rec model.RawRecord) model.CleanedRecord {
	c := model.CleanedRecord{
		RawRecord:   rec,
		Entity:      rec.Key(),
		Start:       ParseTimestamp(rec.StartTime),
		End:         ParseTimestamp(rec.EndTime),
		AlkaliStart: ParseTimestamp(rec.AlkaliStartTime),
		AlkaliEnd:   ParseTimestamp(rec.AlkaliEndTime),

		ReturnFlow:         utils.ParseFloat(rec.ReturnFlowRate),
		AlkaliStartTempC:   utils.ParseFloat(rec.AlkaliStartTemp),
		AlkaliEndTempC:     utils.ParseFloat(rec.AlkaliEndTemp),
		AlkaliCond:         utils.ParseFloat(rec.AlkaliConductivity),
		HotwaterStartTempC: utils.ParseFloat(rec.HotwaterStartTemp),
		HotwaterEndTempC:   utils.ParseFloat(rec.HotwaterEndTemp),
	}

	c.AlkaliMinutes, c.AlkaliStatus = ParseStepDuration(rec.AlkaliDuration)
	c.HotwaterMinutes, c.HotwaterStatus = ParseStepDuration(rec.HotwaterDuration)

	switch c.AlkaliStatus {
	case model.DurationUnmeasured:
		c.Flags |= model.FlagAlkaliDurationUnmeasured
	case model.DurationInvalid:
		c.Flags |= model.FlagAlkaliDurationInvalid
	}
	switch c.HotwaterStatus {
	case model.DurationUnmeasured:
		c.Flags |= model.FlagHotwaterDurationUnmeasured
	case model.DurationInvalid:
		c.Flags |= model.FlagHotwaterDurationInvalid
	}

	if c.Start == nil {
		c.Flags |= model.FlagStartUnparsed
	}
	if c.End == nil {
		c.Flags |= model.FlagEndUnparsed
	}
	if c.Start != nil && c.End != nil {
		total := c.End.Sub(*c.Start).Minutes()
		c.TotalMinutes = &total
		if total < 0 {
			c.Flags |= model.FlagDurationInvalid
		}
	}
	return c
}
