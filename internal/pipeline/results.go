package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/labelscan/internal/fields"
)

// LabeledResult pairs a Result with the file (and page) it came from.
type LabeledResult struct {
	Source  string         `json:"source"`
	Page    int            `json:"page,omitempty"`
	Result  *Result        `json:"result,omitempty"`
	Outcome fields.Outcome `json:"outcome"`
	Error   string         `json:"error,omitempty"`
}

// ToJSON renders results as indented JSON.
func ToJSON(results []LabeledResult) (string, error) {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var textFieldOrder = []string{"tracking_id", "order_id", "sort_code", "district", "buyer_name", "buyer_address", "weight"}

// ToText renders results as a human readable block per label.
func ToText(results []LabeledResult) string {
	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		name := r.Source
		if r.Page > 0 {
			name = fmt.Sprintf("%s (page %d)", r.Source, r.Page)
		}
		fmt.Fprintf(&sb, "# %s\n", name)
		if r.Error != "" {
			fmt.Fprintf(&sb, "error: %s\n", r.Error)
			continue
		}
		if r.Result == nil || r.Result.Fields == nil {
			continue
		}
		fs := r.Result.Fields
		fmt.Fprintf(&sb, "outcome: %s (%s)\n", r.Outcome.Kind, r.Outcome.Message)
		fmt.Fprintf(&sb, "alignment: %s\n", r.Result.Alignment.Method)
		for _, k := range textFieldOrder {
			v, ok := fs.Get(k)
			if !ok {
				v = "-"
			}
			fmt.Fprintf(&sb, "%-14s %s\n", k+":", v)
		}
		q := "-"
		if fs.Quantity != nil {
			q = fmt.Sprint(*fs.Quantity)
		}
		fmt.Fprintf(&sb, "%-14s %s\n", "quantity:", q)
		fmt.Fprintf(&sb, "%-14s %.2f (%s)\n", "confidence:", fs.Confidence, fs.Source)
	}
	return sb.String()
}
