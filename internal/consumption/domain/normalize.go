package consumption

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// whThreshold separates Wh from kWh for every value key, kwh and wh included.
const whThreshold = 100.0

var (
	listKeys      = []string{"data", "consumption", "hourly"}
	valueKeys     = []string{"consumption", "energy", "kwh", "wh"}
	timestampKeys = []string{"timestamp", "date", "time", "dateTime"}

	timestampLayouts = []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}
)

// Normalize converts an upstream consumption payload into kWh readings.
func Normalize(raw json.RawMessage) (Summary, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Summary{}, ErrNoData
	}

	entries, list, err := extractEntries(trimmed)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Raw: list, Readings: []Reading{}}
	for _, entry := range entries {
		var fields map[string]any
		if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
			continue
		}
		kwh, ok := entryKWh(fields)
		if !ok {
			continue
		}
		stamp := firstTruthy(fields, timestampKeys)
		summary.Readings = append(summary.Readings, Reading{
			Timestamp: stamp,
			At:        parseTimestamp(stamp),
			KWh:       kwh,
		})
		summary.TotalKWh += kwh
	}
	return summary, nil
}

// extractEntries returns the entry list and its raw form.
func extractEntries(payload []byte) ([]json.RawMessage, json.RawMessage, error) {
	switch payload[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(payload, &entries); err != nil {
			return nil, nil, err
		}
		return entries, json.RawMessage(payload), nil
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, nil, err
		}
		value, ok := firstTruthyRaw(obj, listKeys)
		if !ok {
			return nil, json.RawMessage("[]"), nil
		}
		if value[0] == '[' {
			var entries []json.RawMessage
			if err := json.Unmarshal(value, &entries); err != nil {
				return nil, nil, err
			}
			return entries, value, nil
		}
		// A non-list value under a list key means the object is itself one entry.
		wrapped := append(append([]byte{'['}, payload...), ']')
		return []json.RawMessage{json.RawMessage(payload)}, json.RawMessage(wrapped), nil
	default:
		return nil, json.RawMessage(payload), nil
	}
}

// firstTruthyRaw returns the first value under keys that is not null, false,
// zero, an empty string, an empty list or an empty object.
func firstTruthyRaw(obj map[string]json.RawMessage, keys []string) (json.RawMessage, bool) {
	for _, key := range keys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var value any
		if err := json.Unmarshal(raw, &value); err != nil || !truthy(value) {
			continue
		}
		return bytes.TrimSpace(raw), true
	}
	return nil, false
}

// entryKWh takes the first truthy value key. Values above whThreshold are Wh.
func entryKWh(fields map[string]any) (float64, bool) {
	amount := toFloat(firstTruthy(fields, valueKeys))
	if amount <= 0 {
		return 0, false
	}
	if amount > whThreshold {
		return amount / 1000.0, true
	}
	return amount, true
}

func firstTruthy(fields map[string]any, keys []string) any {
	for _, key := range keys {
		if value, ok := fields[key]; ok && truthy(value) {
			return value
		}
	}
	return nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case float64:
		return v
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return parsed
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func parseTimestamp(value any) time.Time {
	s, ok := value.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
