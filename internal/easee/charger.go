package easee

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Charger is the subset of charger fields the invoicing flow needs.
type Charger struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	SiteID string `json:"-"`
}

// DecodeChargers extracts charger ids and names from a raw charger list.
// Site ids arrive as numbers or strings depending on the endpoint.
func DecodeChargers(raw json.RawMessage) ([]Charger, error) {
	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("easee: decode chargers: %w", err)
	}
	chargers := make([]Charger, 0, len(items))
	for _, item := range items {
		id := stringField(item["id"])
		if id == "" {
			continue
		}
		chargers = append(chargers, Charger{
			ID:     id,
			Name:   stringField(item["name"]),
			SiteID: stringField(item["siteId"]),
		})
	}
	return chargers, nil
}

func stringField(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
