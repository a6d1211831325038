// Package testutils holds assertion helpers and BLE fakes shared by tests.
package testutils

import (
	"bufio"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// PresencePlaceholder in expected JSON matches any actual value, as long as
// the key is present.
const PresencePlaceholder = "<<PRESENCE>>"

// TestingT is the part of testing.T the asserters need.
type TestingT interface {
	Errorf(format string, args ...interface{})
}

type JSONAssertOptions struct {
	IgnoreExtraKeys  bool     `default:"true"`
	IgnoreArrayOrder bool     `default:"false"`
	IgnoredFields    []string `default:""`
}

type Option func(*JSONAssertOptions)

func WithIgnoreExtraKeys(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreExtraKeys = ignore }
}

func WithIgnoreArrayOrder(ignore bool) Option {
	return func(o *JSONAssertOptions) { o.IgnoreArrayOrder = ignore }
}

// WithIgnoredFields drops the named keys at every depth before comparing.
func WithIgnoredFields(fields ...string) Option {
	return func(o *JSONAssertOptions) { o.IgnoredFields = fields }
}

// JSONAsserter compares JSON documents structurally and reports an ASCII diff.
type JSONAsserter struct {
	t       TestingT
	options JSONAssertOptions
}

func NewJSONAsserter(t TestingT) *JSONAsserter {
	opts := JSONAssertOptions{}
	defaults.SetDefaults(&opts)
	return &JSONAsserter{t: t, options: opts}
}

func (ja *JSONAsserter) WithOptions(opts ...Option) *JSONAsserter {
	for _, opt := range opts {
		opt(&ja.options)
	}
	return ja
}

// Assert compares actualJSON against expectedJSON.
func (ja *JSONAsserter) Assert(actualJSON, expectedJSON string) bool {
	if diff := ja.diff(actualJSON, expectedJSON); diff != "" {
		ja.t.Errorf("JSON assertion failed:\n%s", diff)
		return false
	}
	return true
}

// AssertLines compares newline-delimited JSON output against an expected
// JSON array, one element per line.
func (ja *JSONAsserter) AssertLines(actualLines, expectedArray string) bool {
	var docs []json.RawMessage
	sc := bufio.NewScanner(strings.NewReader(actualLines))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		docs = append(docs, json.RawMessage(line))
	}
	if docs == nil {
		docs = []json.RawMessage{}
	}
	joined, err := json.Marshal(docs)
	if err != nil {
		ja.t.Errorf("invalid JSON lines: %v\n%s", err, actualLines)
		return false
	}
	return ja.Assert(string(joined), expectedArray)
}

func (ja *JSONAsserter) diff(actualJSON, expectedJSON string) string {
	var want, got interface{}
	if err := json.Unmarshal([]byte(expectedJSON), &want); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actualJSON), &got); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff only compares objects at the root.
	_, wantList := want.([]interface{})
	_, gotList := got.([]interface{})
	if wantList || gotList {
		want = map[string]interface{}{"items": want}
		got = map[string]interface{}{"items": got}
	}

	ja.normalize(want, got)

	wantBytes, _ := json.Marshal(want)
	gotBytes, _ := json.Marshal(got)
	d, err := gojsondiff.New().Compare(wantBytes, gotBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !d.Modified() {
		return ""
	}

	out, err := formatter.NewAsciiFormatter(want, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(d)
	if err != nil {
		return fmt.Sprintf("JSON diff formatting failed: %v", err)
	}
	return out
}

// normalize rewrites both documents in place according to the options.
// Ignored fields are dropped before sorting; extra keys are pruned last since
// pairing follows array positions.
func (ja *JSONAsserter) normalize(want, got interface{}) {
	if fields := ja.options.IgnoredFields; len(fields) > 0 {
		drop := func(m map[string]interface{}) {
			for _, f := range fields {
				delete(m, f)
			}
		}
		walk(want, drop, nil)
		walk(got, drop, nil)
	}

	pairs(want, got, func(w, g map[string]interface{}) {
		for k, v := range w {
			if v == PresencePlaceholder {
				if gv, ok := g[k]; ok {
					w[k] = gv
				}
			}
		}
	})

	if ja.options.IgnoreArrayOrder {
		walk(want, nil, sortList)
		walk(got, nil, sortList)
	}

	if ja.options.IgnoreExtraKeys {
		pairs(want, got, func(w, g map[string]interface{}) {
			for k := range g {
				if _, ok := w[k]; !ok {
					delete(g, k)
				}
			}
		})
	}
}

// walk visits every object and array under v, children first.
func walk(v interface{}, onObject func(map[string]interface{}), onList func([]interface{})) {
	switch node := v.(type) {
	case map[string]interface{}:
		for _, child := range node {
			walk(child, onObject, onList)
		}
		if onObject != nil {
			onObject(node)
		}
	case []interface{}:
		for _, child := range node {
			walk(child, onObject, onList)
		}
		if onList != nil {
			onList(node)
		}
	}
}

// pairs visits objects found at the same path in both documents.
func pairs(want, got interface{}, fn func(w, g map[string]interface{})) {
	switch w := want.(type) {
	case map[string]interface{}:
		g, ok := got.(map[string]interface{})
		if !ok {
			return
		}
		fn(w, g)
		for k, child := range w {
			pairs(child, g[k], fn)
		}
	case []interface{}:
		g, ok := got.([]interface{})
		if !ok {
			return
		}
		for i := 0; i < len(w) && i < len(g); i++ {
			pairs(w[i], g[i], fn)
		}
	}
}

func sortList(list []interface{}) {
	keys := make([]string, len(list))
	for i, v := range list {
		b, _ := json.Marshal(v)
		keys[i] = string(b)
	}
	idx := make([]int, len(list))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	sorted := make([]interface{}, len(list))
	for i, j := range idx {
		sorted[i] = list[j]
	}
	copy(list, sorted)
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
