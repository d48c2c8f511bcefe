// Package report records what a conversion produced as a YAML document.
package report

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zerfoo/zort/pkg/converter"
	"github.com/zerfoo/zort/pkg/inspector"
)

// Report is the YAML layout of a conversion report.
type Report struct {
	RunID       string    `yaml:"run_id"`
	Tool        string    `yaml:"tool"`
	ConvertedAt time.Time `yaml:"converted_at"`
	Input       Input     `yaml:"input"`
	Output      Output    `yaml:"output"`
}

// Input describes the source model.
type Input struct {
	Path      string   `yaml:"path"`
	IRVersion int64    `yaml:"ir_version,omitempty"`
	Producer  string   `yaml:"producer,omitempty"`
	Opset     int64    `yaml:"opset,omitempty"`
	Nodes     int      `yaml:"nodes,omitempty"`
	Inputs    []string `yaml:"inputs,omitempty"`
	Outputs   []string `yaml:"outputs,omitempty"`
}

// Output describes the optimized model.
type Output struct {
	Path              string `yaml:"path"`
	OptimizationLevel string `yaml:"optimization_level"`
	Bytes             int64  `yaml:"bytes"`
	SHA256            string `yaml:"sha256"`
	DurationMillis    int64  `yaml:"duration_ms"`
}

// New builds a report from a conversion result. summary may be nil when the
// input could not be inspected.
func New(tool string, at time.Time, res *converter.Result, summary *inspector.ONNXSummary) *Report {
	r := &Report{
		RunID:       res.RunID,
		Tool:        tool,
		ConvertedAt: at.UTC(),
		Input:       Input{Path: res.InputPath},
		Output: Output{
			Path:              res.OutputPath,
			OptimizationLevel: res.Level.String(),
			Bytes:             res.Size,
			SHA256:            res.SHA256,
			DurationMillis:    res.Duration.Milliseconds(),
		},
	}
	if summary != nil {
		r.Input.IRVersion = summary.IRVersion
		r.Input.Producer = summary.ProducerName
		r.Input.Opset = summary.DefaultOpset()
		r.Input.Nodes = summary.NodeCount
		r.Input.Inputs = summary.Inputs
		r.Input.Outputs = summary.Outputs
	}
	return r
}

// Write stores r at path as YAML.
func Write(path string, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "failed to encode report")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write report %s", path)
	}
	return nil
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read report %s", path)
	}
	r := &Report{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, errors.Wrapf(err, "failed to decode report %s", path)
	}
	return r, nil
}
