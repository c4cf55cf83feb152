package models

// FieldType is the semantic type inferred for an Airtable field value.
type FieldType string

const (
	FieldTypeText                FieldType = "text"
	FieldTypeMultilineText       FieldType = "multilineText"
	FieldTypeNumber              FieldType = "number"
	FieldTypeCheckbox            FieldType = "checkbox"
	FieldTypeDate                FieldType = "date"
	FieldTypeDateTime            FieldType = "dateTime"
	FieldTypeEmail               FieldType = "email"
	FieldTypeURL                 FieldType = "url"
	FieldTypeMultipleSelect      FieldType = "multipleSelect"
	FieldTypeMultipleAttachments FieldType = "multipleAttachments"
	FieldTypeMultipleRecordLinks FieldType = "multipleRecordLinks"
)

var fieldTypes = map[FieldType]bool{
	FieldTypeText:                true,
	FieldTypeMultilineText:       true,
	FieldTypeNumber:              true,
	FieldTypeCheckbox:            true,
	FieldTypeDate:                true,
	FieldTypeDateTime:            true,
	FieldTypeEmail:               true,
	FieldTypeURL:                 true,
	FieldTypeMultipleSelect:      true,
	FieldTypeMultipleAttachments: true,
	FieldTypeMultipleRecordLinks: true,
}

func (t FieldType) IsValid() bool {
	return fieldTypes[t]
}

func (t FieldType) String() string {
	return string(t)
}

// ExternalField is a read-only projection of one column of the Airtable
// table. It lives for one mapping or generation session and is never stored.
type ExternalField struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
}

// Record is one row of the Airtable table.
type Record struct {
	ID          string         `json:"id"`
	CreatedTime string         `json:"created_time,omitempty"`
	Fields      map[string]any `json:"fields"`
}

// TableInfo summarises a successful connection test.
type TableInfo struct {
	Name        string `json:"name"`
	RecordCount int    `json:"record_count"`
	FieldCount  int    `json:"field_count"`
}
