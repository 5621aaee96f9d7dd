package model

import (
	"encoding/json"
	"strings"
	"time"
)

// Canonical input column names. Headers are matched against these after
// cleaning (see pipeline.CanonicalHeader) or through configured aliases.
const (
	ColLine               = "line"
	ColCircuit            = "circuit"
	ColDevice             = "device"
	ColProgram            = "program"
	ColReturnFlowRate     = "return_flow_rate"
	ColAlkaliStartTime    = "alkali_start_time"
	ColAlkaliEndTime      = "alkali_end_time"
	ColAlkaliDuration     = "alkali_duration"
	ColHotwaterDuration   = "hotwater_duration"
	ColAlkaliStartTemp    = "alkali_start_temp"
	ColAlkaliEndTemp      = "alkali_end_temp"
	ColAlkaliConductivity = "alkali_conductivity"
	ColHotwaterStartTemp  = "hotwater_start_temp"
	ColHotwaterEndTemp    = "hotwater_end_temp"
	ColStartTime          = "start_time"
	ColEndTime            = "end_time"
)

// RequiredColumns lists every column a source must provide, in output order.
var RequiredColumns = []string{
	ColLine, ColCircuit, ColDevice, ColProgram, ColReturnFlowRate,
	ColAlkaliStartTime, ColAlkaliEndTime, ColAlkaliDuration, ColHotwaterDuration,
	ColAlkaliStartTemp, ColAlkaliEndTemp, ColAlkaliConductivity,
	ColHotwaterStartTemp, ColHotwaterEndTemp, ColStartTime, ColEndTime,
}

// Field is one non-required column carried through for output.
type Field struct {
	Name  string `json:"name" msgpack:"name"`
	Value string `json:"value" msgpack:"value"`
}

// RawRecord is one logged wash cycle exactly as read from the source.
type RawRecord struct {
	Row                int     `json:"row" msgpack:"row"` // 0-based data row in the source
	Line               string  `json:"line" msgpack:"line"`
	Circuit            string  `json:"circuit" msgpack:"circuit"`
	Device             string  `json:"device" msgpack:"device"`
	Program            string  `json:"program" msgpack:"program"`
	StartTime          string  `json:"start_time" msgpack:"start_time"`
	EndTime            string  `json:"end_time" msgpack:"end_time"`
	AlkaliStartTime    string  `json:"alkali_start_time" msgpack:"alkali_start_time"`
	AlkaliEndTime      string  `json:"alkali_end_time" msgpack:"alkali_end_time"`
	AlkaliDuration     string  `json:"alkali_duration" msgpack:"alkali_duration"`
	HotwaterDuration   string  `json:"hotwater_duration" msgpack:"hotwater_duration"`
	AlkaliStartTemp    string  `json:"alkali_start_temp" msgpack:"alkali_start_temp"`
	AlkaliEndTemp      string  `json:"alkali_end_temp" msgpack:"alkali_end_temp"`
	AlkaliConductivity string  `json:"alkali_conductivity" msgpack:"alkali_conductivity"`
	HotwaterStartTemp  string  `json:"hotwater_start_temp" msgpack:"hotwater_start_temp"`
	HotwaterEndTemp    string  `json:"hotwater_end_temp" msgpack:"hotwater_end_temp"`
	ReturnFlowRate     string  `json:"return_flow_rate" msgpack:"return_flow_rate"`
	Extra              []Field `json:"extra,omitempty" msgpack:"extra,omitempty"`
}

// Key derives the physical circuit identity of the record.
func (r RawRecord) Key() EntityKey {
	return EntityKey{Line: r.Line, Circuit: r.Circuit, Device: r.Device}
}

// Values returns the required column values in RequiredColumns order.
func (r RawRecord) Values() []string {
	return []string{
		r.Line, r.Circuit, r.Device, r.Program, r.ReturnFlowRate,
		r.AlkaliStartTime, r.AlkaliEndTime, r.AlkaliDuration, r.HotwaterDuration,
		r.AlkaliStartTemp, r.AlkaliEndTemp, r.AlkaliConductivity,
		r.HotwaterStartTemp, r.HotwaterEndTemp, r.StartTime, r.EndTime,
	}
}

// GroupLevel selects how coarse an aggregation key is.
type GroupLevel string

const (
	LevelDevice  GroupLevel = "device"
	LevelCircuit GroupLevel = "circuit"
	LevelLine    GroupLevel = "line"
)

// Valid reports whether l is a known level.
func (l GroupLevel) Valid() bool {
	switch l {
	case LevelDevice, LevelCircuit, LevelLine:
		return true
	}
	return false
}

// EntityKey identifies one physical wash circuit.
type EntityKey struct {
	Line    string `json:"line" msgpack:"line"`
	Circuit string `json:"circuit" msgpack:"circuit"`
	Device  string `json:"device" msgpack:"device"`
}

func (k EntityKey) String() string {
	return k.Line + "/" + k.Circuit + "/" + k.Device
}

// Less orders keys by line, then circuit, then device.
func (k EntityKey) Less(o EntityKey) bool {
	if k.Line != o.Line {
		return k.Line < o.Line
	}
	if k.Circuit != o.Circuit {
		return k.Circuit < o.Circuit
	}
	return k.Device < o.Device
}

// At truncates the key to the given level; finer parts are blanked.
func (k EntityKey) At(level GroupLevel) EntityKey {
	switch level {
	case LevelLine:
		return EntityKey{Line: k.Line}
	case LevelCircuit:
		return EntityKey{Line: k.Line, Circuit: k.Circuit}
	}
	return k
}

// Matches reports whether k satisfies a filter where empty parts match anything.
func (k EntityKey) Matches(filter EntityKey) bool {
	return (filter.Line == "" || filter.Line == k.Line) &&
		(filter.Circuit == "" || filter.Circuit == k.Circuit) &&
		(filter.Device == "" || filter.Device == k.Device)
}

// DurationStatus describes how a step-duration text was resolved.
type DurationStatus string

const (
	DurationOK         DurationStatus = "ok"
	DurationZero       DurationStatus = "zero"       // parsed to exactly zero minutes
	DurationUnmeasured DurationStatus = "unmeasured" // empty text
	DurationInvalid    DurationStatus = "invalid"    // malformed text
)

// Flags is the set of data-quality flags raised on a cleaned record.
type Flags uint16

const (
	FlagStartUnparsed Flags = 1 << iota
	FlagEndUnparsed
	FlagDurationInvalid
	FlagNegativeGap
	FlagAlkaliDurationUnmeasured
	FlagAlkaliDurationInvalid
	FlagHotwaterDurationUnmeasured
	FlagHotwaterDurationInvalid
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagStartUnparsed, "start_unparsed"},
	{FlagEndUnparsed, "end_unparsed"},
	{FlagDurationInvalid, "duration_invalid"},
	{FlagNegativeGap, "negative_gap"},
	{FlagAlkaliDurationUnmeasured, "alkali_duration_unmeasured"},
	{FlagAlkaliDurationInvalid, "alkali_duration_invalid"},
	{FlagHotwaterDurationUnmeasured, "hotwater_duration_unmeasured"},
	{FlagHotwaterDurationInvalid, "hotwater_duration_invalid"},
}

// Has reports whether every bit of f2 is set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

// Names returns the flag names in declaration order.
func (f Flags) Names() []string {
	names := make([]string, 0, len(flagNames))
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	return strings.Join(f.Names(), "|")
}

func (f Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Names())
}

func (f *Flags) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*f = 0
	for _, n := range names {
		for _, fn := range flagNames {
			if fn.name == n {
				*f |= fn.flag
			}
		}
	}
	return nil
}

// CleanedRecord is a valid RawRecord enriched with parsed and derived fields.
// Pointer fields are nil when the value is unknown.
type CleanedRecord struct {
	RawRecord
	Entity EntityKey `json:"entity" msgpack:"entity"`

	Start       *time.Time `json:"start" msgpack:"start"`
	End         *time.Time `json:"end" msgpack:"end"`
	AlkaliStart *time.Time `json:"alkali_start" msgpack:"alkali_start"`
	AlkaliEnd   *time.Time `json:"alkali_end" msgpack:"alkali_end"`

	AlkaliMinutes   float64        `json:"alkali_duration_minutes" msgpack:"alkali_duration_minutes"`
	AlkaliStatus    DurationStatus `json:"alkali_duration_status" msgpack:"alkali_duration_status"`
	HotwaterMinutes float64        `json:"hotwater_duration_minutes" msgpack:"hotwater_duration_minutes"`
	HotwaterStatus  DurationStatus `json:"hotwater_duration_status" msgpack:"hotwater_duration_status"`
	TotalMinutes    *float64       `json:"total_duration_minutes" msgpack:"total_duration_minutes"`
	TimeGapDays     *float64       `json:"time_gap_days" msgpack:"time_gap_days"`

	ReturnFlow         *float64 `json:"return_flow" msgpack:"return_flow"`
	AlkaliStartTempC   *float64 `json:"alkali_start_temp_c" msgpack:"alkali_start_temp_c"`
	AlkaliEndTempC     *float64 `json:"alkali_end_temp_c" msgpack:"alkali_end_temp_c"`
	AlkaliCond         *float64 `json:"alkali_conductivity_value" msgpack:"alkali_conductivity_value"`
	HotwaterStartTempC *float64 `json:"hotwater_start_temp_c" msgpack:"hotwater_start_temp_c"`
	HotwaterEndTempC   *float64 `json:"hotwater_end_temp_c" msgpack:"hotwater_end_temp_c"`

	Flags Flags `json:"flags" msgpack:"flags"`
}

// OutlierRecord is a raw record that failed the validity predicate.
type OutlierRecord struct {
	RawRecord
	Reasons []string `json:"reasons" msgpack:"reasons"`
}

// Outlier reasons.
const (
	ReasonZeroReturnFlow       = "zero_return_flow"
	ReasonZeroAlkaliDuration   = "zero_alkali_duration"
	ReasonZeroHotwaterDuration = "zero_hotwater_duration"
)
