package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang/snappy"

	"github.com/mbd888/riskwatch/internal/metrics"
)

// CorruptField is the only field of the placeholder record that Scan and
// BatchGet return for a stored value that cannot be decoded. It holds the
// decode error.
const CorruptField = "__corrupt__"

// ErrCorrupt marks a stored value that could not be decoded.
var ErrCorrupt = errors.New("kvstore: corrupt record")

func corruptRecord(set string, err error) Record {
	metrics.StoreCorruptRecords.WithLabelValues(set).Inc()
	return Record{CorruptField: err.Error()}
}

// Corrupt returns an error wrapping ErrCorrupt if rec is the placeholder for
// an undecodable value, and nil otherwise.
func Corrupt(rec Record) error {
	msg, ok := rec[CorruptField].(string)
	if !ok {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrCorrupt, msg)
}

// Clean returns a copy of rec with nil values removed at every nesting
// level. Backends reject null bins, so this runs before every write.
func Clean(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		if cv, ok := cleanValue(v); ok {
			out[k] = cv
		}
	}
	return out
}

func cleanValue(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case Record:
		return map[string]any(Clean(t)), true
	case map[string]any:
		return map[string]any(Clean(Record(t))), true
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			if cv, ok := cleanValue(item); ok {
				out = append(out, cv)
			}
		}
		return out, true
	default:
		return v, true
	}
}

// encodeJSON serializes a cleaned record.
func encodeJSON(rec Record) ([]byte, error) {
	data, err := json.Marshal(Clean(rec))
	if err != nil {
		return nil, fmt.Errorf("kvstore: encode record: %w", err)
	}
	return data, nil
}

func decodeJSON(data []byte) (Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("kvstore: decode record: %w", err)
	}
	if rec == nil {
		rec = Record{}
	}
	return rec, nil
}

// encodeCompressed is the wire format of the Redis backend: snappy(JSON).
func encodeCompressed(rec Record) ([]byte, error) {
	data, err := encodeJSON(rec)
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, data), nil
}

func decodeCompressed(data []byte) (Record, error) {
	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("kvstore: snappy decompress failed: %w", err)
	}
	return decodeJSON(raw)
}
