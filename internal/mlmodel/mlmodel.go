// Package mlmodel describes the analysis models the compute server runs and
// how to pull display values out of their otherwise opaque result payloads.
package mlmodel

import (
	"encoding/json"
	"errors"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/kiranshivaraju/agripay/pkg/models"
)

var ErrUnknownModel = errors.New("unknown model")

// Field is one summary value, located in the payload by a JMESPath expression.
type Field struct {
	Key   string
	Label string
	Expr  string
}

// Model describes one analysis model.
type Model struct {
	ID     string
	Name   string
	Fields []Field
}

var registry = map[string]Model{
	models.DefaultModelID: {
		ID:   models.DefaultModelID,
		Name: "Wheat plant counter",
		Fields: []Field{
			{Key: "total_count", Label: "Plants", Expr: "total_count"},
			{Key: "average_size", Label: "Avg size (px)", Expr: "average_size"},
			{Key: "processing_time_seconds", Label: "Time (s)", Expr: "processing_time_seconds"},
		},
	},
}

func init() {
	for _, m := range registry {
		for _, f := range m.Fields {
			if _, err := jmespath.Compile(f.Expr); err != nil {
				panic(fmt.Sprintf("mlmodel: bad expression %q for %s: %v", f.Expr, m.ID, err))
			}
		}
	}
}

// Lookup returns the model registered under id. An empty id selects the default.
func Lookup(id string) (Model, error) {
	if id == "" {
		id = models.DefaultModelID
	}
	m, ok := registry[id]
	if !ok {
		return Model{}, fmt.Errorf("%w: %s", ErrUnknownModel, id)
	}
	return m, nil
}

// Summarize evaluates every field of the model against raw. Fields missing
// from the payload map to nil.
func (m Model) Summarize(raw json.RawMessage) (map[string]any, error) {
	var data any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode result payload: %w", err)
		}
	}

	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		if data == nil {
			out[f.Key] = nil
			continue
		}
		v, err := jmespath.Search(f.Expr, data)
		if err != nil {
			return nil, fmt.Errorf("evaluate %s: %w", f.Key, err)
		}
		out[f.Key] = v
	}
	return out, nil
}
