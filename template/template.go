// Package template handles the parameter documents that accompany lab stack
// templates, including placeholder substitution. A parameter document
// pre-declares typed placeholder entries whose values are literal sentinel
// tokens; substitution fills them by value identity at launch time.
package template

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Parameter is one ordered entry in a stack parameter document. Field names
// match the CloudFormation parameter JSON shape.
type Parameter struct {
	ParameterKey   string `json:"ParameterKey"`
	ParameterValue string `json:"ParameterValue"`
}

// ParseParameters decodes an ordered parameter document.
func ParseParameters(doc []byte) ([]Parameter, error) {
	var params []Parameter
	if err := json.Unmarshal(doc, &params); err != nil {
		return nil, fmt.Errorf("failed to parse parameter document: %w", err)
	}
	return params, nil
}

// Substitute returns a copy of params with, for each placeholder, the first
// entry whose value equals the literal placeholder token replaced by the
// mapped value. Matching is on value, not key. Placeholders with no matching
// entry are skipped: templates may legitimately omit optional placeholders.
// Order and length of the input are preserved.
func Substitute(params []Parameter, replacements map[string]string) []Parameter {
	out := make([]Parameter, len(params))
	copy(out, params)

	for placeholder, value := range replacements {
		for i := range out {
			if out[i].ParameterValue == placeholder {
				out[i].ParameterValue = value
				break
			}
		}
	}
	return out
}
