package inspector

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto.
const (
	modelIRVersion       protowire.Number = 1
	modelProducerName    protowire.Number = 2
	modelProducerVersion protowire.Number = 3
	modelDomain          protowire.Number = 4
	modelVersion         protowire.Number = 5
	modelGraph           protowire.Number = 7
	modelOpsetImport     protowire.Number = 8

	graphNode        protowire.Number = 1
	graphName        protowire.Number = 2
	graphInitializer protowire.Number = 5
	graphInput       protowire.Number = 11
	graphOutput      protowire.Number = 12

	nodeOpType protowire.Number = 4

	valueInfoName protowire.Number = 1

	opsetDomain  protowire.Number = 1
	opsetVersion protowire.Number = 2
)

// walk calls fn for every field of the message encoded in b. fn returns the
// number of bytes of the field value it consumed, or 0 to have it skipped.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) int) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		n = fn(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}

func decodeModel(b []byte, s *ONNXSummary) error {
	var graph []byte
	var nested error
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == modelIRVersion && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			s.IRVersion = int64(x)
			return n
		case num == modelVersion && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			s.ModelVersion = int64(x)
			return n
		case num == modelProducerName && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.ProducerName = x
			return n
		case num == modelProducerVersion && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.ProducerVersion = x
			return n
		case num == modelDomain && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			s.Domain = x
			return n
		case num == modelGraph && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(v)
			graph = x
			s.hasGraph = n > 0
			return n
		case num == modelOpsetImport && typ == protowire.BytesType:
			x, n := protowire.ConsumeBytes(v)
			if n > 0 {
				var op Opset
				if err := decodeOpset(x, &op); err != nil && nested == nil {
					nested = err
				}
				s.Opsets = append(s.Opsets, op)
			}
			return n
		}
		return 0
	})
	if err != nil {
		return err
	}
	if nested != nil {
		return nested
	}
	if graph != nil {
		return decodeGraph(graph, s)
	}
	return nil
}

func decodeGraph(b []byte, s *ONNXSummary) error {
	var nested error
	note := func(err error) {
		if err != nil && nested == nil {
			nested = err
		}
	}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if typ != protowire.BytesType {
			return 0
		}
		x, n := protowire.ConsumeBytes(v)
		if n < 0 {
			return n
		}
		switch num {
		case graphName:
			s.GraphName = string(x)
		case graphNode:
			opType, err := decodeString(x, nodeOpType)
			note(err)
			s.NodeCount++
			s.OpTypes[opType]++
		case graphInitializer:
			s.InitializerCount++
		case graphInput:
			name, err := decodeString(x, valueInfoName)
			note(err)
			s.Inputs = append(s.Inputs, name)
		case graphOutput:
			name, err := decodeString(x, valueInfoName)
			note(err)
			s.Outputs = append(s.Outputs, name)
		default:
			return 0
		}
		return n
	})
	if err != nil {
		return err
	}
	return nested
}

func decodeOpset(b []byte, op *Opset) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		switch {
		case num == opsetDomain && typ == protowire.BytesType:
			x, n := protowire.ConsumeString(v)
			op.Domain = x
			return n
		case num == opsetVersion && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			op.Version = int64(x)
			return n
		}
		return 0
	})
}

// decodeString returns the last occurrence of string field want in b.
func decodeString(b []byte, want protowire.Number) (string, error) {
	var out string
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) int {
		if num != want || typ != protowire.BytesType {
			return 0
		}
		x, n := protowire.ConsumeString(v)
		out = x
		return n
	})
	return out, err
}
