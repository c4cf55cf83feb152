package processor

import (
	"strings"

	"documerge/internal/models"
)

type autoMapOptions struct {
	normalize bool
}

type AutoMapOption func(*autoMapOptions)

// WithNormalizedNames folds underscores, hyphens and whitespace runs to a
// single space on both sides before comparing, so {{customer_name}} also
// matches "Customer Name".
func WithNormalizedNames() AutoMapOption {
	return func(o *autoMapOptions) { o.normalize = true }
}

var placeholderDelimiters = strings.NewReplacer("{", "", "}", "", "[", "", "]", "", "$", "")

// AutoMap proposes one mapping per placeholder, in placeholder order. An
// existing mapping for the same placeholder wins; otherwise the first field
// whose lower-cased name contains the cleaned placeholder is chosen.
// The result never aliases existing.
func AutoMap(placeholders []string, fields []models.ExternalField, existing []models.FieldMapping, opts ...AutoMapOption) []models.FieldMapping {
	var o autoMapOptions
	for _, opt := range opts {
		opt(&o)
	}

	byPlaceholder := make(map[string]models.FieldMapping, len(existing))
	for _, m := range existing {
		if _, dup := byPlaceholder[m.DocPlaceholder]; !dup {
			byPlaceholder[m.DocPlaceholder] = m
		}
	}

	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = o.key(f.Name)
	}

	out := make([]models.FieldMapping, 0, len(placeholders))
	for _, p := range placeholders {
		if m, ok := byPlaceholder[p]; ok {
			out = append(out, m)
			continue
		}

		mapping := models.FieldMapping{DocPlaceholder: p, FieldType: models.FieldTypeText}
		clean := o.key(placeholderDelimiters.Replace(p))
		for i, name := range names {
			if strings.Contains(name, clean) {
				mapping.TargetField = fields[i].Name
				if fields[i].Type.IsValid() {
					mapping.FieldType = fields[i].Type
				}
				break
			}
		}
		out = append(out, mapping)
	}
	return out
}

func (o autoMapOptions) key(s string) string {
	s = strings.ToLower(s)
	if !o.normalize {
		return s
	}
	s = strings.Map(func(r rune) rune {
		if r == '_' || r == '-' {
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
