package inspector

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// Model file types the inspector understands.
const (
	TypeONNX = "onnx"
	TypeORT  = "ort"
)

var (
	// ErrNotONNX is returned for files that do not decode as an ONNX ModelProto.
	ErrNotONNX = errors.New("not an ONNX model")
	// ErrNotORT is returned for files without the ORT flatbuffer identifier.
	ErrNotORT = errors.New("not an ORT model")
	// ErrUnknownType is returned when the model type cannot be determined.
	ErrUnknownType = errors.New("unknown model type")
)

// ortIdentifier is the flatbuffer file identifier of ORT format models. It
// follows the 4-byte root table offset.
var ortIdentifier = []byte("ORTM")

// Opset is one entry of a model's opset_import list.
type Opset struct {
	Domain  string
	Version int64
}

// ONNXSummary is what InspectONNX extracts from a ModelProto.
type ONNXSummary struct {
	Path             string
	IRVersion        int64
	ProducerName     string
	ProducerVersion  string
	Domain           string
	ModelVersion     int64
	Opsets           []Opset
	GraphName        string
	NodeCount        int
	OpTypes          map[string]int
	InitializerCount int
	Inputs           []string
	Outputs          []string

	hasGraph bool
}

// DefaultOpset returns the version imported for the default ("ai.onnx")
// domain, or 0 if the model imports none.
func (s *ONNXSummary) DefaultOpset() int64 {
	for _, op := range s.Opsets {
		if op.Domain == "" || op.Domain == "ai.onnx" {
			return op.Version
		}
	}
	return 0
}

// ORTSummary is what InspectORT extracts from an ORT format file.
type ORTSummary struct {
	Path string
	Size int64
}

// TensorInfo describes one graph input or output as the runtime reports it.
type TensorInfo struct {
	Name     string
	DataType string
	Shape    []int64
}

// IOSummary lists a model's inputs and outputs as the runtime sees them.
type IOSummary struct {
	Inputs  []TensorInfo
	Outputs []TensorInfo
}

// IOReader asks a runtime for the inputs and outputs of a model file.
type IOReader interface {
	ReadIO(path string) (*IOSummary, error)
}

// DetectType returns override if set, otherwise infers the type from the
// file extension.
func DetectType(path, override string) (string, error) {
	t := strings.ToLower(override)
	if t == "" {
		t = strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	}
	switch t {
	case TypeONNX, TypeORT:
		return t, nil
	}
	if override != "" {
		return "", errors.Wrapf(ErrUnknownType, "%q (must be onnx or ort)", override)
	}
	return "", errors.Wrapf(ErrUnknownType, "cannot infer type from extension %q, specify --type", filepath.Ext(path))
}

// InspectONNX decodes the header and graph outline of an ONNX model.
func InspectONNX(path string) (*ONNXSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read ONNX file")
	}
	s := &ONNXSummary{Path: path, OpTypes: make(map[string]int)}
	if err := decodeModel(data, s); err != nil {
		return nil, errors.Wrapf(ErrNotONNX, "%s: %v", path, err)
	}
	if s.IRVersion <= 0 || !s.hasGraph {
		return nil, errors.Wrapf(ErrNotONNX, "%s: missing ir_version or graph", path)
	}
	return s, nil
}

// InspectORT checks the ORT file identifier and reports the file size.
func InspectORT(path string) (*ORTSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ORT file")
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, errors.Wrapf(ErrNotORT, "%s: %v", path, err)
	}
	if !bytes.Equal(header[4:8], ortIdentifier) {
		return nil, errors.Wrapf(ErrNotORT, "%s: file identifier %q", path, header[4:8])
	}
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "failed to stat ORT file")
	}
	return &ORTSummary{Path: path, Size: info.Size()}, nil
}

// PrintONNX writes a human readable summary of s.
func PrintONNX(w io.Writer, s *ONNXSummary) {
	fmt.Fprintf(w, "Inspecting ONNX model from: %s\n", s.Path)
	fmt.Fprintf(w, "IR version: %d\n", s.IRVersion)
	if s.ProducerName != "" {
		fmt.Fprintf(w, "Producer: %s %s\n", s.ProducerName, s.ProducerVersion)
	}
	for _, op := range s.Opsets {
		domain := op.Domain
		if domain == "" {
			domain = "ai.onnx"
		}
		fmt.Fprintf(w, "Opset %s: %d\n", domain, op.Version)
	}
	if s.GraphName != "" {
		fmt.Fprintf(w, "Graph: %s\n", s.GraphName)
	}
	fmt.Fprintf(w, "Graph has %d nodes and %d initializers.\n", s.NodeCount, s.InitializerCount)
	fmt.Fprintf(w, "Inputs: %s\n", strings.Join(s.Inputs, ", "))
	fmt.Fprintf(w, "Outputs: %s\n", strings.Join(s.Outputs, ", "))

	ops := make([]string, 0, len(s.OpTypes))
	for op := range s.OpTypes {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(w, "  - %s x%d\n", op, s.OpTypes[op])
	}
}

// PrintORT writes a human readable summary of s.
func PrintORT(w io.Writer, s *ORTSummary) {
	fmt.Fprintf(w, "Inspecting ORT model from: %s\n", s.Path)
	fmt.Fprintf(w, "Size: %d bytes\n", s.Size)
}

// PrintIO writes the runtime's view of the model's inputs and outputs.
func PrintIO(w io.Writer, s *IOSummary) {
	fmt.Fprintln(w, "Runtime inputs:")
	for _, t := range s.Inputs {
		fmt.Fprintf(w, "  - Name: %s, Type: %s, Shape: %v\n", t.Name, t.DataType, t.Shape)
	}
	fmt.Fprintln(w, "Runtime outputs:")
	for _, t := range s.Outputs {
		fmt.Fprintf(w, "  - Name: %s, Type: %s, Shape: %v\n", t.Name, t.DataType, t.Shape)
	}
}
