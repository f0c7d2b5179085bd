package cucumber

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
)

// Expand replaces every ${expr} in text. An expression is a source followed
// by optional "| pipe" stages. Sources are:
//
//	name            a scenario variable
//	"text"          the literal text
//	uuid            a fresh random UUID
//	response.<jq>   a gojq query against the last JSON response body
//
// The sha256 pipe hex-encodes the digest, which is how assets are named.
func (s *Scenario) Expand(text string) (string, error) {
	var firstErr error
	out := os.Expand(text, func(expr string) string {
		v, err := s.Resolve(expr)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return v
	})
	return out, firstErr
}

// Resolve evaluates one expression as described on Expand.
func (s *Scenario) Resolve(expr string) (string, error) {
	stages := strings.Split(expr, "|")
	v, err := s.source(strings.TrimSpace(stages[0]))
	if err != nil {
		return "", err
	}
	for _, stage := range stages[1:] {
		fn, ok := pipes[strings.TrimSpace(stage)]
		if !ok {
			return "", fmt.Errorf("unknown pipe %q in ${%s}", strings.TrimSpace(stage), expr)
		}
		v = fn(v)
	}
	return v, nil
}

var pipes = map[string]func(string) string{
	"sha256": func(v string) string {
		sum := sha256.Sum256([]byte(v))
		return hex.EncodeToString(sum[:])
	},
}

func (s *Scenario) source(name string) (string, error) {
	switch {
	case len(name) >= 2 && name[0] == '"' && name[len(name)-1] == '"':
		return name[1 : len(name)-1], nil
	case name == "uuid":
		return uuid.NewString(), nil
	case name == "response", strings.HasPrefix(name, "response."), strings.HasPrefix(name, "response["):
		return s.query("." + strings.TrimPrefix(strings.TrimPrefix(name, "response"), "."))
	}
	v, ok := s.Variables[name]
	if !ok {
		return "", fmt.Errorf("variable ${%s} is not set", name)
	}
	return v, nil
}

// query runs a gojq expression against the last response body. A string
// result is returned as is, anything else as compact JSON.
func (s *Scenario) query(expr string) (string, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return "", fmt.Errorf("response query %q: %w", expr, err)
	}
	doc, err := s.responseJSON()
	if err != nil {
		return "", err
	}
	v, ok := q.Run(doc).Next()
	if !ok {
		return "", fmt.Errorf("response query %q matched nothing in:\n%s", expr, s.body)
	}
	if err, ok := v.(error); ok {
		return "", fmt.Errorf("response query %q: %w", expr, err)
	}
	if str, ok := v.(string); ok {
		return str, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *Scenario) responseJSON() (any, error) {
	if s.doc != nil {
		return s.doc, nil
	}
	if s.resp == nil {
		return nil, fmt.Errorf("no response yet")
	}
	if err := json.Unmarshal(s.body, &s.doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w\n%s", err, s.body)
	}
	return s.doc, nil
}
