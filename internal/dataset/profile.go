package dataset

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hirameki/internal/fingerprint"
	"github.com/ashita-ai/hirameki/internal/model"
)

// Column type names used in profiles. The static planner matches
// agents against these.
const (
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeBool      = "bool"
	TypeTimestamp = "timestamp"
	TypeString    = "string"
)

// profileSampleRows bounds type inference work on large datasets. Row
// and null counts still cover the whole file.
const profileSampleRows = 10_000

// Profile inspects raw dataset bytes and returns their structural
// summary. Format is detected from the content: a JSON array of
// objects, otherwise CSV with a header row.
func Profile(name string, data []byte) (model.DatasetSummary, error) {
	summary := model.DatasetSummary{
		Digest:    fingerprint.Digest(data),
		Name:      name,
		SizeBytes: int64(len(data)),
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		summary.Format = "json"
		return profileJSON(summary, trimmed)
	}
	summary.Format = "csv"
	return profileCSV(summary, data)
}

func profileCSV(summary model.DatasetSummary, data []byte) (model.DatasetSummary, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return model.DatasetSummary{}, fmt.Errorf("dataset: read csv header: %w", err)
	}

	cols := make([]*columnAccumulator, len(header))
	for i, name := range header {
		cols[i] = &columnAccumulator{name: strings.TrimSpace(name)}
	}

	var rows int64
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.DatasetSummary{}, fmt.Errorf("dataset: read csv row %d: %w", rows+2, err)
		}
		rows++
		for i, value := range record {
			if i >= len(cols) {
				break
			}
			cols[i].observe(value, rows <= profileSampleRows)
		}
	}

	summary.RowCount = rows
	summary.Columns = make([]model.ColumnProfile, len(cols))
	for i, col := range cols {
		summary.Columns[i] = col.profile()
	}
	return summary, nil
}

func profileJSON(summary model.DatasetSummary, data []byte) (model.DatasetSummary, error) {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return model.DatasetSummary{}, fmt.Errorf("dataset: parse json array: %w", err)
	}

	byName := make(map[string]*columnAccumulator)
	for i, record := range records {
		for key, value := range record {
			col, ok := byName[key]
			if !ok {
				col = &columnAccumulator{name: key}
				byName[key] = col
			}
			col.observeJSON(value, i < profileSampleRows)
		}
	}

	// A field absent from a record counts as null for that record.
	for _, col := range byName {
		col.nulls = int64(len(records)) - col.seen
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	summary.RowCount = int64(len(records))
	summary.Columns = make([]model.ColumnProfile, len(names))
	for i, name := range names {
		summary.Columns[i] = byName[name].profile()
	}
	return summary, nil
}

// columnAccumulator folds observed values into a column profile. Type
// inference starts at the narrowest type and widens as values disagree.
type columnAccumulator struct {
	name  string
	nulls int64
	seen  int64

	hasType  bool
	inferred string
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func (c *columnAccumulator) observe(raw string, sample bool) {
	value := strings.TrimSpace(raw)
	if value == "" || strings.EqualFold(value, "null") || strings.EqualFold(value, "na") {
		c.nulls++
		return
	}
	c.seen++
	if !sample {
		return
	}
	c.widen(inferType(value))
}

func (c *columnAccumulator) observeJSON(value any, sample bool) {
	if value == nil {
		c.nulls++
		return
	}
	c.seen++
	if !sample {
		return
	}
	switch v := value.(type) {
	case bool:
		c.widen(TypeBool)
	case float64:
		if v == float64(int64(v)) {
			c.widen(TypeInteger)
		} else {
			c.widen(TypeFloat)
		}
	case string:
		c.widen(inferType(v))
	default:
		c.widen(TypeString)
	}
}

// widen merges a newly observed value type into the running inference.
func (c *columnAccumulator) widen(t string) {
	if !c.hasType {
		c.hasType = true
		c.inferred = t
		return
	}
	if c.inferred == t {
		return
	}
	// Integers widen to float when mixed with floats; anything else
	// mixed degrades to string.
	if (c.inferred == TypeInteger && t == TypeFloat) || (c.inferred == TypeFloat && t == TypeInteger) {
		c.inferred = TypeFloat
		return
	}
	c.inferred = TypeString
}

func (c *columnAccumulator) profile() model.ColumnProfile {
	colType := TypeString
	if c.hasType {
		colType = c.inferred
	}
	return model.ColumnProfile{
		Name:      c.name,
		Type:      colType,
		NullCount: c.nulls,
	}
}

func inferType(value string) string {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return TypeInteger
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return TypeFloat
	}
	if strings.EqualFold(value, "true") || strings.EqualFold(value, "false") {
		return TypeBool
	}
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return TypeTimestamp
		}
	}
	return TypeString
}
