package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"

	"cip-pipeline/internal/model"
	"cip-pipeline/pkg/utils"

	"go.uber.org/zap"
)

// Dataset is the flat table delivered by a source.
type Dataset struct {
	Records      []model.RawRecord
	ExtraColumns []string // non-required columns, source order
}

// CanonicalHeader cleans a header cell: trims whitespace, strips quotes and a
// byte-order mark, lower-cases, and maps spaces/hyphens/dots to underscores.
func CanonicalHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ReplaceAll(h, `"`, "")
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/':
			return '_'
		}
		return r
	}, h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

// columnMap resolves canonical column names to header positions.
type columnMap struct {
	index  map[string]int
	extras []int
}

// resolveColumns matches headers against the required columns. aliases maps a
// canonical name to the source header that carries it.
func resolveColumns(source string, headers []string, aliases map[string]string) (*columnMap, error) {
	canon := make([]string, len(headers))
	pos := make(map[string]int, len(headers))
	for i, h := range headers {
		canon[i] = CanonicalHeader(h)
		if _, dup := pos[canon[i]]; !dup {
			pos[canon[i]] = i
		}
	}

	cm := &columnMap{index: make(map[string]int, len(model.RequiredColumns))}
	used := make(map[int]bool)
	var missing []string
	for _, col := range model.RequiredColumns {
		name := col
		if alias, ok := aliases[col]; ok && alias != "" {
			name = CanonicalHeader(alias)
		}
		i, ok := pos[name]
		if !ok {
			missing = append(missing, col)
			continue
		}
		cm.index[col] = i
		used[i] = true
	}
	if len(missing) > 0 {
		return nil, &StructuralError{Source: source, Missing: missing}
	}
	for i := range headers {
		if !used[i] && canon[i] != "" {
			cm.extras = append(cm.extras, i)
		}
	}
	return cm, nil
}

func (cm *columnMap) record(row int, cells []string, headers []string) model.RawRecord {
	get := func(col string) string {
		i := cm.index[col]
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}
	rec := model.RawRecord{
		Row:                row,
		Line:               get(model.ColLine),
		Circuit:            get(model.ColCircuit),
		Device:             get(model.ColDevice),
		Program:            get(model.ColProgram),
		StartTime:          get(model.ColStartTime),
		EndTime:            get(model.ColEndTime),
		AlkaliStartTime:    get(model.ColAlkaliStartTime),
		AlkaliEndTime:      get(model.ColAlkaliEndTime),
		AlkaliDuration:     get(model.ColAlkaliDuration),
		HotwaterDuration:   get(model.ColHotwaterDuration),
		AlkaliStartTemp:    get(model.ColAlkaliStartTemp),
		AlkaliEndTemp:      get(model.ColAlkaliEndTemp),
		AlkaliConductivity: get(model.ColAlkaliConductivity),
		HotwaterStartTemp:  get(model.ColHotwaterStartTemp),
		HotwaterEndTemp:    get(model.ColHotwaterEndTemp),
		ReturnFlowRate:     get(model.ColReturnFlowRate),
	}
	for _, i := range cm.extras {
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		rec.Extra = append(rec.Extra, model.Field{Name: strings.TrimSpace(strings.ReplaceAll(headers[i], `"`, "")), Value: v})
	}
	return rec
}

func (cm *columnMap) extraNames(headers []string) []string {
	names := make([]string, 0, len(cm.extras))
	for _, i := range cm.extras {
		names = append(names, strings.TrimSpace(strings.ReplaceAll(headers[i], `"`, "")))
	}
	return names
}

// ReadCSV reads a CSV table with a header row.
func ReadCSV(r io.Reader, source string, aliases map[string]string) (*Dataset, error) {
	csvReader := csv.NewReader(r)
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	headers, err := csvReader.Read()
	if err == io.EOF {
		return nil, &StructuralError{Source: source, Err: errors.New("empty input: no header row")}
	}
	if err != nil {
		return nil, &StructuralError{Source: source, Err: fmt.Errorf("failed to read CSV header: %w", err)}
	}

	cm, err := resolveColumns(source, headers, aliases)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{ExtraColumns: cm.extraNames(headers)}
	for row := 0; ; {
		cells, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &StructuralError{Source: source, Err: fmt.Errorf("CSV read error: %w", err)}
		}
		if isBlankRow(cells) {
			continue
		}
		ds.Records = append(ds.Records, cm.record(row, cells, headers))
		row++
	}
	return ds, nil
}

// ReadJSON reads a JSON array of flat objects. The first object's keys define
// the columns; extra keys are emitted in sorted order.
func ReadJSON(r io.Reader, source string, aliases map[string]string) (*Dataset, error) {
	var items []map[string]interface{}
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, &StructuralError{Source: source, Err: fmt.Errorf("expected a JSON array of objects: %w", err)}
	}
	if len(items) == 0 {
		return nil, &StructuralError{Source: source, Err: errors.New("empty input: no objects")}
	}

	headers := make([]string, 0, len(items[0]))
	for k := range items[0] {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	cm, err := resolveColumns(source, headers, aliases)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{ExtraColumns: cm.extraNames(headers)}
	for row, item := range items {
		cells := make([]string, len(headers))
		for i, h := range headers {
			cells[i] = utils.Stringify(item[h])
		}
		ds.Records = append(ds.Records, cm.record(row, cells, headers))
	}
	return ds, nil
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Ingest loads the dataset for source. Remote sources are fetched with retry.
func Ingest(ctx context.Context, source model.Source, aliases map[string]string, retry model.RetryConfig, logger *zap.Logger) (*Dataset, error) {
	logger.Info("starting ingestion", zap.String("source", source.URL), zap.String("type", source.Type))

	body, err := openSource(ctx, source.URL, retry, logger)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var ds *Dataset
	switch strings.ToLower(source.Type) {
	case "", "csv":
		ds, err = ReadCSV(body, source.URL, aliases)
	case "json":
		ds, err = ReadJSON(body, source.URL, aliases)
	default:
		return nil, fmt.Errorf("unknown source type: %s", source.Type)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("ingestion done", zap.String("source", source.URL), zap.Int("records", len(ds.Records)))
	return ds, nil
}

func openSource(ctx context.Context, pathOrURL string, retry model.RetryConfig, logger *zap.Logger) (io.ReadCloser, error) {
	if !strings.HasPrefix(pathOrURL, "http://") && !strings.HasPrefix(pathOrURL, "https://") {
		file, err := os.Open(pathOrURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open source file: %w", err)
		}
		return file, nil
	}

	var body io.ReadCloser
	err := withRetry(ctx, retry, logger, "fetch "+pathOrURL, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pathOrURL, nil)
		if err != nil {
			return permanent(err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			err := fmt.Errorf("GET %s: unexpected status %s", pathOrURL, resp.Status)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return permanent(err)
		}
		body = resp.Body
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source: %w", err)
	}
	return body, nil
}
