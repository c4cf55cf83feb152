package processor

import (
	"encoding/json"
	"reflect"
	"regexp"
	"unicode/utf8"

	"documerge/internal/models"
)

var (
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	urlPattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)
	dateTimePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}`)
	datePattern     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

const multilineThreshold = 100

// ClassifyValue infers the field type of one sample value. Rules are
// checked in order and the first match wins.
func ClassifyValue(v any) models.FieldType {
	switch val := v.(type) {
	case nil:
		return models.FieldTypeText
	case bool:
		return models.FieldTypeCheckbox
	case json.Number:
		return models.FieldTypeNumber
	case string:
		return classifyString(val)
	case []any:
		return classifyList(val)
	case []string:
		return models.FieldTypeMultipleSelect
	case []map[string]any:
		items := make([]any, len(val))
		for i := range val {
			items[i] = val[i]
		}
		return classifyList(items)
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return models.FieldTypeNumber
	}
	return models.FieldTypeText
}

func classifyString(s string) models.FieldType {
	switch {
	case emailPattern.MatchString(s):
		return models.FieldTypeEmail
	case urlPattern.MatchString(s):
		return models.FieldTypeURL
	case dateTimePattern.MatchString(s):
		return models.FieldTypeDateTime
	case datePattern.MatchString(s):
		return models.FieldTypeDate
	case utf8.RuneCountInString(s) > multilineThreshold:
		return models.FieldTypeMultilineText
	default:
		return models.FieldTypeText
	}
}

func classifyList(items []any) models.FieldType {
	if len(items) > 0 && allAttachments(items) {
		return models.FieldTypeMultipleAttachments
	}
	for _, item := range items {
		if _, ok := item.(string); !ok {
			return models.FieldTypeMultipleRecordLinks
		}
	}
	return models.FieldTypeMultipleSelect
}

func allAttachments(items []any) bool {
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if u, ok := obj["url"].(string); !ok || u == "" {
			return false
		}
	}
	return true
}
