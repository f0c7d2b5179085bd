package cucumber

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// JSONMustContain checks that actual holds every field of expected, which is
// expanded first. Objects may carry extra keys; arrays must have the same
// length.
func (s *Scenario) JSONMustContain(actual, expected string) error {
	var got any
	if err := json.Unmarshal([]byte(actual), &got); err != nil {
		return fmt.Errorf("actual is not JSON: %w\n%s", err, actual)
	}
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	var want any
	if err := json.Unmarshal([]byte(expanded), &want); err != nil {
		return fmt.Errorf("expected is not JSON: %w\n%s", err, expanded)
	}
	if err := subset(want, got, "$"); err != nil {
		return fmt.Errorf("%w\n%s", err, diff(indentJSON(want), indentJSON(got)))
	}
	return nil
}

// TextMustMatch compares actual with expanded expected and reports a
// unified diff.
func (s *Scenario) TextMustMatch(actual, expected string) error {
	expanded, err := s.Expand(expected)
	if err != nil {
		return err
	}
	if expanded != actual {
		return fmt.Errorf("text does not match:\n%s", diff(expanded, actual))
	}
	return nil
}

func subset(want, got any, at string) error {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: want an object, got %T", at, got)
		}
		for k, wv := range w {
			gv, ok := g[k]
			if !ok {
				return fmt.Errorf("%s: missing key %q", at, k)
			}
			if err := subset(wv, gv, at+"."+k); err != nil {
				return err
			}
		}
	case []any:
		g, ok := got.([]any)
		if !ok {
			return fmt.Errorf("%s: want an array, got %T", at, got)
		}
		if len(w) != len(g) {
			return fmt.Errorf("%s: want %d elements, got %d", at, len(w), len(g))
		}
		for i := range w {
			if err := subset(w[i], g[i], fmt.Sprintf("%s[%d]", at, i)); err != nil {
				return err
			}
		}
	default:
		if !reflect.DeepEqual(want, got) {
			return fmt.Errorf("%s: want %v, got %v", at, want, got)
		}
	}
	return nil
}

func indentJSON(v any) string {
	data, _ := json.MarshalIndent(v, "", "  ")
	return string(data)
}

func diff(expected, actual string) string {
	out, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(strings.TrimSuffix(expected, "\n") + "\n"),
		B:        difflib.SplitLines(strings.TrimSuffix(actual, "\n") + "\n"),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  1,
	})
	return out
}
