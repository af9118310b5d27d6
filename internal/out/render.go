package out

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/ggonzalez94/mercata-mcp/internal/config"
	"github.com/ggonzalez94/mercata-mcp/internal/model"
)

// Render writes env in the configured output mode. --select keeps the listed
// fields of each record; dotted paths reach into nested objects.
func Render(w io.Writer, env model.Envelope, settings config.Settings) error {
	data := normalize(env.Data)
	if len(settings.SelectFields) > 0 {
		data = project(data, settings.SelectFields)
	}

	if settings.OutputMode == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if settings.ResultsOnly {
			return enc.Encode(data)
		}
		env.Data = data
		return enc.Encode(env)
	}

	if settings.ResultsOnly {
		return renderPlain(w, data)
	}
	if env.Error != nil {
		_, err := fmt.Fprintf(w, "error: [%s] %s\n", env.Error.Type, env.Error.Message)
		return err
	}
	for _, warning := range env.Warnings {
		if _, err := fmt.Fprintf(w, "warning: %s\n", warning); err != nil {
			return err
		}
	}
	return renderPlain(w, data)
}

func renderPlain(w io.Writer, data any) error {
	items, ok := data.([]any)
	if !ok {
		_, err := fmt.Fprintln(w, line(data))
		return err
	}
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "[]")
		return err
	}
	for _, item := range items {
		if _, err := fmt.Fprintln(w, line(item)); err != nil {
			return err
		}
	}
	return nil
}

// line renders one record as sorted key=value pairs with nested keys flattened.
func line(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		buf, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(buf)
	}
	flat := map[string]string{}
	flatten("", m, flat)
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+flat[k])
	}
	return strings.Join(parts, " ")
}

func flatten(prefix string, m map[string]any, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			flatten(key, t, out)
		case []any:
			buf, _ := json.Marshal(t)
			out[key] = string(buf)
		case nil:
			out[key] = "null"
		default:
			out[key] = fmt.Sprint(t)
		}
	}
}

func project(data any, fields []string) any {
	switch t := data.(type) {
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, project(item, fields))
		}
		return out
	case map[string]any:
		out := map[string]any{}
		for _, f := range fields {
			if v, ok := lookup(t, strings.Split(f, ".")); ok {
				out[f] = v
			}
		}
		return out
	default:
		return data
	}
}

func lookup(m map[string]any, path []string) (any, bool) {
	v, ok := m[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return v, true
	}
	switch t := v.(type) {
	case map[string]any:
		return lookup(t, path[1:])
	case []any:
		vals := make([]any, 0, len(t))
		for _, item := range t {
			if im, ok := item.(map[string]any); ok {
				if iv, ok := lookup(im, path[1:]); ok {
					vals = append(vals, iv)
				}
			}
		}
		return vals, true
	default:
		return nil, false
	}
}

// normalize round-trips typed records through JSON so projection and plain
// rendering only deal with maps, slices and scalars.
func normalize(v any) any {
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
