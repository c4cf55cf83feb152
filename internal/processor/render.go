package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"documerge/internal/models"
)

// RenderValue turns one record field value into the text that replaces a
// placeholder. Attachments render as their URLs; lists are comma separated,
// or one item per line for line-item mappings when the template enables
// line items.
func RenderValue(v any, mapping models.FieldMapping, settings models.TemplateSettings) string {
	sep := ", "
	if mapping.IsLineItem && settings.EnableLineItems {
		sep = "\n"
	}
	return renderValue(v, sep)
}

func renderValue(v any, sep string) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case []string:
		return strings.Join(val, sep)
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := renderValue(item, ", "); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, sep)
	case map[string]any:
		return renderObject(val)
	default:
		return fmt.Sprint(val)
	}
}

// renderObject handles attachments, collaborators and lookup objects.
func renderObject(obj map[string]any) string {
	for _, key := range []string{"url", "name", "email", "text", "id"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	raw, err := json.Marshal(obj)
	if err != nil {
		return ""
	}
	return string(raw)
}

// BuildSubstitutions resolves every mapping of the template against the
// record. Mappings without a target field and placeholders listed in extra
// that have no mapping resolve to the empty string.
func BuildSubstitutions(t *models.Template, record *models.Record, extra []string) map[string]string {
	values := make(map[string]string, len(t.FieldMappings)+len(extra))
	for _, p := range extra {
		values[p] = ""
	}
	for _, m := range t.FieldMappings {
		if !m.IsMapped() {
			values[m.DocPlaceholder] = ""
			continue
		}
		values[m.DocPlaceholder] = RenderValue(record.Fields[m.TargetField], m, t.Settings)
	}
	return values
}
