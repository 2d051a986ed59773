package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/golang/snappy"

	"github.com/matzehuels/nlink/pkg/basin"
	"github.com/matzehuels/nlink/pkg/trace"
)

// Cached results are JSON compressed with snappy. Basin maps are mostly
// runs of small integers and shrink several times over.

func encodeCycles(cycles []trace.Cycle) ([]byte, error) {
	return encode(cycles)
}

func decodeCycles(data []byte) ([]trace.Cycle, error) {
	var cycles []trace.Cycle
	err := decode(data, &cycles)
	return cycles, err
}

func encodeBasin(res *basin.Result) ([]byte, error) {
	return encode(res)
}

func decodeBasin(data []byte) (*basin.Result, error) {
	var res basin.Result
	if err := decode(data, &res); err != nil {
		return nil, err
	}
	if len(res.Cycle) == 0 || res.TotalNodes != len(res.Assignments) {
		return nil, fmt.Errorf("corrupt cached basin")
	}
	return &res, nil
}

func encode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, raw), nil
}

func decode(data []byte, v any) error {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return json.Unmarshal(raw, v)
}
