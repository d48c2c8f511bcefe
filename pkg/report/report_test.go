package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zerfoo/zort/pkg/converter"
	"github.com/zerfoo/zort/pkg/inspector"
)

func sampleResult() *converter.Result {
	return &converter.Result{
		RunID:      "6f1c2b1e-7d0c-4f57-9d1b-3a7c0c6f2a10",
		InputPath:  "nine_pebbles.onnx",
		OutputPath: "nine_pebbles.ort",
		Level:      converter.LevelExtended,
		Size:       48213,
		SHA256:     "ab12",
		Duration:   1500 * time.Millisecond,
	}
}

func TestWriteRead(t *testing.T) {
	at := time.Date(2025, 3, 4, 5, 6, 7, 0, time.FixedZone("CET", 3600))
	summary := &inspector.ONNXSummary{
		IRVersion:    8,
		ProducerName: "tf2onnx",
		Opsets:       []inspector.Opset{{Domain: "ai.onnx.ml", Version: 2}, {Version: 15}},
		NodeCount:    12,
		Inputs:       []string{"input_1"},
		Outputs:      []string{"value_output", "policy_output"},
	}
	rep := New("zort dev", at, sampleResult(), summary)

	path := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, Write(path, rep))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "optimization_level: extended")
	assert.Contains(t, string(raw), "duration_ms: 1500")

	got, err := Read(path)
	require.NoError(t, err)
	assert.Equal(t, rep.RunID, got.RunID)
	assert.True(t, got.ConvertedAt.Equal(at))
	assert.Equal(t, int64(15), got.Input.Opset)
	assert.Equal(t, []string{"value_output", "policy_output"}, got.Input.Outputs)
	assert.Equal(t, rep.Output, got.Output)
}

func TestNew_WithoutSummary(t *testing.T) {
	rep := New("zort dev", time.Now(), sampleResult(), nil)
	assert.Equal(t, "nine_pebbles.onnx", rep.Input.Path)
	assert.Zero(t, rep.Input.IRVersion)
	assert.Equal(t, int64(48213), rep.Output.Bytes)
}

func TestWrite_BadPath(t *testing.T) {
	err := Write(filepath.Join(t.TempDir(), "missing", "report.yaml"), New("zort", time.Now(), sampleResult(), nil))
	assert.Error(t, err)
}
