package runner

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/model"
)

// LocalRunner computes the built-in analyses directly from the dataset
// spool. It serves the agents tagged "local" in the catalog and is the
// execution path of self-contained deployments.
type LocalRunner struct {
	spool *dataset.Spool
}

// NewLocalRunner creates a runner over the given spool.
func NewLocalRunner(spool *dataset.Spool) *LocalRunner {
	return &LocalRunner{spool: spool}
}

// Run dispatches to the agent's built-in analysis.
func (r *LocalRunner) Run(ctx context.Context, agent model.AgentDescriptor, ds model.DatasetRef, _ string) (model.AgentPayload, error) {
	if err := ctx.Err(); err != nil {
		return model.AgentPayload{}, err
	}

	data, err := r.spool.Get(ds.Digest)
	if err != nil {
		return model.AgentPayload{}, &Error{
			Category: model.FailureExecution,
			Message:  fmt.Sprintf("dataset %s not available locally", ds.Digest),
			Err:      err,
		}
	}

	tbl, err := loadTable(data)
	if err != nil {
		return model.AgentPayload{}, &Error{
			Category: model.FailureExecution,
			Message:  "dataset could not be parsed",
			Err:      err,
		}
	}

	switch agent.ID {
	case "schema-profile":
		return schemaProfile(data)
	case "summary-stats":
		return summaryStats(tbl)
	case "data-quality":
		return dataQuality(tbl)
	case "outlier-scanner":
		return outlierScan(tbl)
	default:
		return model.AgentPayload{}, &Error{
			Category: model.FailureExecution,
			Message:  fmt.Sprintf("agent %s has no local implementation", agent.ID),
		}
	}
}

// table is the row-major string form both builtin analyses and the
// profiler-agnostic quality checks work from.
type table struct {
	headers []string
	rows    [][]string
}

func loadTable(data []byte) (table, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return loadJSONTable(trimmed)
	}
	return loadCSVTable(data)
}

func loadCSVTable(data []byte) (table, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	headers, err := r.Read()
	if err != nil {
		return table{}, fmt.Errorf("read csv header: %w", err)
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(headers[i])
	}

	var rows [][]string
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return table{}, fmt.Errorf("read csv row: %w", err)
		}
		// Pad short records so every row has one cell per header.
		for len(record) < len(headers) {
			record = append(record, "")
		}
		rows = append(rows, record[:len(headers)])
	}
	return table{headers: headers, rows: rows}, nil
}

func loadJSONTable(data []byte) (table, error) {
	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return table{}, fmt.Errorf("parse json array: %w", err)
	}

	seen := make(map[string]bool)
	var headers []string
	for _, rec := range records {
		for key := range rec {
			if !seen[key] {
				seen[key] = true
				headers = append(headers, key)
			}
		}
	}
	sort.Strings(headers)

	rows := make([][]string, len(records))
	for i, rec := range records {
		row := make([]string, len(headers))
		for j, key := range headers {
			value, ok := rec[key]
			if !ok || value == nil {
				continue
			}
			switch v := value.(type) {
			case string:
				row[j] = v
			case float64:
				row[j] = strconv.FormatFloat(v, 'g', -1, 64)
			case bool:
				row[j] = strconv.FormatBool(v)
			default:
				encoded, _ := json.Marshal(v)
				row[j] = string(encoded)
			}
		}
		rows[i] = row
	}
	return table{headers: headers, rows: rows}, nil
}

func schemaProfile(data []byte) (model.AgentPayload, error) {
	summary, err := dataset.Profile("", data)
	if err != nil {
		return model.AgentPayload{}, &Error{
			Category: model.FailureExecution,
			Message:  "dataset could not be profiled",
			Err:      err,
		}
	}

	var numeric, timeLike int
	columns := make([]map[string]any, len(summary.Columns))
	for i, col := range summary.Columns {
		switch col.Type {
		case dataset.TypeInteger, dataset.TypeFloat:
			numeric++
		case dataset.TypeTimestamp:
			timeLike++
		}
		columns[i] = map[string]any{
			"name":       col.Name,
			"type":       col.Type,
			"null_count": col.NullCount,
		}
	}

	narrative := fmt.Sprintf("%d rows across %d columns: %d numeric, %d time-like.",
		summary.RowCount, len(summary.Columns), numeric, timeLike)
	return model.AgentPayload{
		Narrative: narrative,
		Data: map[string]any{
			"format":    summary.Format,
			"row_count": summary.RowCount,
			"columns":   columns,
		},
	}, nil
}

func summaryStats(tbl table) (model.AgentPayload, error) {
	stats := make(map[string]any)
	var described []string
	for i, name := range tbl.headers {
		values := numericColumn(tbl, i)
		if len(values) == 0 {
			continue
		}
		described = append(described, name)
		stats[name] = map[string]any{
			"count":  len(values),
			"min":    values[0],
			"max":    values[len(values)-1],
			"mean":   mean(values),
			"stddev": stddev(values),
		}
	}

	if len(described) == 0 {
		return model.AgentPayload{
			Narrative: "No numeric columns found; nothing to summarise.",
			Data:      map[string]any{"columns": stats},
		}, nil
	}
	return model.AgentPayload{
		Narrative: fmt.Sprintf("Computed min, max, mean, and spread for %d numeric columns: %s.",
			len(described), strings.Join(described, ", ")),
		Data: map[string]any{"columns": stats},
	}, nil
}

func dataQuality(tbl table) (model.AgentPayload, error) {
	nullCounts := make([]int, len(tbl.headers))
	mixed := make([]string, 0)
	for i, name := range tbl.headers {
		var sawNumeric, sawOther bool
		for _, row := range tbl.rows {
			cell := strings.TrimSpace(row[i])
			if cell == "" || strings.EqualFold(cell, "null") {
				nullCounts[i]++
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err == nil {
				sawNumeric = true
			} else {
				sawOther = true
			}
		}
		if sawNumeric && sawOther {
			mixed = append(mixed, name)
		}
	}

	dupes := duplicateRows(tbl)

	columns := make(map[string]any, len(tbl.headers))
	for i, name := range tbl.headers {
		rate := 0.0
		if len(tbl.rows) > 0 {
			rate = float64(nullCounts[i]) / float64(len(tbl.rows))
		}
		columns[name] = map[string]any{
			"null_count": nullCounts[i],
			"null_rate":  rate,
		}
	}

	narrative := fmt.Sprintf("%d duplicate rows and %d columns with mixed types.", dupes, len(mixed))
	return model.AgentPayload{
		Narrative: narrative,
		Data: map[string]any{
			"duplicate_rows":     dupes,
			"mixed_type_columns": mixed,
			"columns":            columns,
		},
	}, nil
}

func outlierScan(tbl table) (model.AgentPayload, error) {
	outliers := make(map[string]any)
	total := 0
	for i, name := range tbl.headers {
		values := numericColumn(tbl, i)
		if len(values) < 4 {
			continue
		}
		q1 := quantile(values, 0.25)
		q3 := quantile(values, 0.75)
		iqr := q3 - q1
		lo, hi := q1-1.5*iqr, q3+1.5*iqr

		count := 0
		for _, v := range values {
			if v < lo || v > hi {
				count++
			}
		}
		if count > 0 {
			outliers[name] = map[string]any{
				"count": count,
				"lower": lo,
				"upper": hi,
			}
			total += count
		}
	}

	narrative := fmt.Sprintf("Found %d values outside 1.5x the interquartile range across %d columns.",
		total, len(outliers))
	if total == 0 {
		narrative = "No values fell outside 1.5x the interquartile range."
	}
	return model.AgentPayload{
		Narrative: narrative,
		Data:      map[string]any{"columns": outliers},
	}, nil
}

// numericColumn returns the sorted numeric values of column i, skipping
// blanks and non-numeric cells.
func numericColumn(tbl table, i int) []float64 {
	var values []float64
	for _, row := range tbl.rows {
		cell := strings.TrimSpace(row[i])
		if cell == "" {
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return nil
		}
		values = append(values, v)
	}
	sort.Float64s(values)
	return values
}

func duplicateRows(tbl table) int {
	seen := make(map[string]bool, len(tbl.rows))
	dupes := 0
	for _, row := range tbl.rows {
		key := strings.Join(row, "\x1f")
		if seen[key] {
			dupes++
		}
		seen[key] = true
	}
	return dupes
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// quantile interpolates linearly over sorted values.
func quantile(sorted []float64, q float64) float64 {
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
