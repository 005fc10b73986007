package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mbd888/riskwatch/internal/kvstore"
)

// Field readers used when decoding records produced by ingestion. They never
// fail: a missing or mistyped value reads as the zero value.

func asMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case kvstore.Record:
		return t
	default:
		return nil
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func asFloat(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		f, _ = t.Float64()
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func asInt(v any) int {
	return int(asFloat(v))
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func asDecimal(v any) decimal.Decimal {
	switch t := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return decimal.Zero
		}
		return d
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	default:
		return decimal.NewFromFloat(asFloat(v))
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// asTime accepts RFC 3339 strings, a few common layouts, and unix seconds.
func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), true
			}
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil && secs > 0 {
			return unixTime(secs), true
		}
		return time.Time{}, false
	case float64, int, int64, json.Number:
		secs := asFloat(t)
		if secs <= 0 {
			return time.Time{}, false
		}
		return unixTime(secs), true
	default:
		return time.Time{}, false
	}
}

func unixTime(secs float64) time.Time {
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

// ToRecord converts a tagged struct into a store record.
func ToRecord(v any) (kvstore.Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("entity: encode %T: %w", v, err)
	}
	var rec kvstore.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("entity: encode %T: %w", v, err)
	}
	return rec, nil
}

// FromRecord decodes a store record into a tagged struct. Fields absent from
// the record keep their zero value.
func FromRecord(rec kvstore.Record, v any) error {
	if err := kvstore.Corrupt(rec); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("entity: decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("entity: decode %T: %w", v, err)
	}
	return nil
}
