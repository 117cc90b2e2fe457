package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/ggonzalez94/bridgectl/internal/config"
	"github.com/ggonzalez94/bridgectl/internal/model"
)

func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := env.Data
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.ResultsOnly {
		if settings.OutputMode == "json" {
			return encodeJSON(w, data)
		}
		return renderPlain(w, normalizeValue(data))
	}

	if settings.OutputMode == "json" {
		env.Data = data
		return encodeJSON(w, env)
	}

	if err := renderPlain(w, normalizeValue(data)); err != nil {
		return err
	}
	if env.Error != nil {
		if _, err := fmt.Fprintf(w, "error code=%d type=%s message=%q\n", env.Error.Code, env.Error.Type, env.Error.Message); err != nil {
			return err
		}
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning %s\n", warning); err != nil {
			return err
		}
	}
	return nil
}

func encodeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderPlain prints one line per record. Nested lists of records, such as
// route steps or batch operations, follow their parent indented by two
// spaces.
func renderPlain(w io.Writer, data any) error {
	switch t := data.(type) {
	case nil:
		_, err := fmt.Fprintln(w, "null")
		return err
	case []any:
		if len(t) == 0 {
			_, err := fmt.Fprintln(w, "[]")
			return err
		}
		for _, item := range t {
			if err := renderRecord(w, item, ""); err != nil {
				return err
			}
		}
		return nil
	default:
		return renderRecord(w, t, "")
	}
}

func renderRecord(w io.Writer, v any, indent string) error {
	m, ok := v.(map[string]any)
	if !ok {
		_, err := fmt.Fprintln(w, indent+formatScalar(v))
		return err
	}
	scalars := make(map[string]any, len(m))
	var nested []string
	for k, val := range m {
		if isRecordList(val) {
			nested = append(nested, k)
			continue
		}
		scalars[k] = val
	}
	if _, err := fmt.Fprintln(w, indent+toLine(scalars)); err != nil {
		return err
	}
	sort.Strings(nested)
	for _, k := range nested {
		for i, item := range m[k].([]any) {
			if _, err := fmt.Fprintf(w, "%s  %s[%d]\n", indent, k, i); err != nil {
				return err
			}
			if err := renderRecord(w, item, indent+"    "); err != nil {
				return err
			}
		}
	}
	return nil
}

func isRecordList(v any) bool {
	items, ok := v.([]any)
	if !ok || len(items) == 0 {
		return false
	}
	_, ok = items[0].(map[string]any)
	return ok
}

func toLine(m map[string]any) string {
	keys := make([]string, 0, len(m))
	for k, v := range m {
		if v == nil {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatScalar(m[k]))
	}
	return strings.Join(parts, " ")
}

func formatScalar(v any) string {
	switch t := v.(type) {
	case string:
		if strings.ContainsAny(t, " \t") {
			return strconv.Quote(t)
		}
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		buf, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(buf)
	}
}

// project keeps only the selected fields. A dotted field such as
// "intent.amount" reaches into nested objects and keeps the nesting.
func project(data any, fields []string) any {
	n := normalizeValue(data)
	switch t := n.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, projectMap(m, fields))
		}
		return out
	case map[string]any:
		return projectMap(t, fields)
	default:
		return n
	}
}

func projectMap(m map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		path := strings.Split(f, ".")
		v, ok := lookup(m, path)
		if !ok {
			continue
		}
		assign(out, path, v)
	}
	return out
}

func lookup(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func assign(m map[string]any, path []string, v any) {
	for _, key := range path[:len(path)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[key] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

func normalizeValue(v any) any {
	buf, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(buf, &out); err != nil {
		return v
	}
	return out
}
