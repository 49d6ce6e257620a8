package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hirameki/internal/dataset"
	"github.com/ashita-ai/hirameki/internal/model"
)

const salesCSV = "ts,region,revenue\n" +
	"2024-01-01,emea,10\n" +
	"2024-01-02,apac,12\n" +
	"2024-01-03,emea,11\n" +
	"2024-01-03,emea,11\n" +
	"2024-01-04,amer,500\n" +
	"2024-01-05,apac,\n"

func newLocalRunner(t *testing.T, data string) (*LocalRunner, model.DatasetRef) {
	t.Helper()
	spool, err := dataset.NewSpool(t.TempDir())
	require.NoError(t, err)
	digest, err := spool.Put([]byte(data))
	require.NoError(t, err)
	return NewLocalRunner(spool), model.DatasetRef{Digest: digest}
}

func TestLocalRunnerSchemaProfile(t *testing.T) {
	r, ds := newLocalRunner(t, salesCSV)

	payload, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "schema-profile"}, ds, "")
	require.NoError(t, err)
	assert.Contains(t, payload.Narrative, "6 rows across 3 columns")
	assert.Equal(t, "csv", payload.Data["format"])
}

func TestLocalRunnerSummaryStats(t *testing.T) {
	r, ds := newLocalRunner(t, salesCSV)

	payload, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "summary-stats"}, ds, "")
	require.NoError(t, err)
	assert.Contains(t, payload.Narrative, "revenue")

	columns := payload.Data["columns"].(map[string]any)
	revenue := columns["revenue"].(map[string]any)
	assert.Equal(t, 10.0, revenue["min"])
	assert.Equal(t, 500.0, revenue["max"])
	assert.Equal(t, 5, revenue["count"], "blank cell is skipped")
}

func TestLocalRunnerDataQuality(t *testing.T) {
	r, ds := newLocalRunner(t, salesCSV)

	payload, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "data-quality"}, ds, "")
	require.NoError(t, err)
	assert.Equal(t, 1, payload.Data["duplicate_rows"])

	columns := payload.Data["columns"].(map[string]any)
	revenue := columns["revenue"].(map[string]any)
	assert.Equal(t, 1, revenue["null_count"])
}

func TestLocalRunnerOutlierScanner(t *testing.T) {
	r, ds := newLocalRunner(t, salesCSV)

	payload, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "outlier-scanner"}, ds, "")
	require.NoError(t, err)

	columns := payload.Data["columns"].(map[string]any)
	revenue, ok := columns["revenue"].(map[string]any)
	require.True(t, ok, "the 500 revenue row is far outside the IQR")
	assert.Equal(t, 1, revenue["count"])
}

func TestLocalRunnerJSONDataset(t *testing.T) {
	r, ds := newLocalRunner(t, `[{"v": 1}, {"v": 2}, {"v": 3}, {"v": 100}]`)

	payload, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "summary-stats"}, ds, "")
	require.NoError(t, err)

	columns := payload.Data["columns"].(map[string]any)
	v := columns["v"].(map[string]any)
	assert.Equal(t, 1.0, v["min"])
	assert.Equal(t, 100.0, v["max"])
}

func TestLocalRunnerUnknownAgent(t *testing.T) {
	r, ds := newLocalRunner(t, salesCSV)

	_, err := r.Run(context.Background(),
		model.AgentDescriptor{ID: "trend-detector"}, ds, "")
	require.Error(t, err)
	assert.Equal(t, model.FailureExecution, Categorize(err))
	assert.Contains(t, err.Error(), "no local implementation")
}

func TestLocalRunnerMissingDataset(t *testing.T) {
	spool, err := dataset.NewSpool(t.TempDir())
	require.NoError(t, err)
	r := NewLocalRunner(spool)

	_, err = r.Run(context.Background(), model.AgentDescriptor{ID: "schema-profile"},
		model.DatasetRef{Digest: "3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855b"}, "")
	require.Error(t, err)
	assert.Equal(t, model.FailureExecution, Categorize(err))
}
