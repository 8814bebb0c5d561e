package simulation

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ValueKind enumerates the closed set of value shapes a snapshot cell may
// hold. Keeping the set closed makes the restore coercion exhaustive instead
// of defensive.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindStringList
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindStringList:
		return "string-list"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Value is a tagged union over the snapshot cell shapes. Numbers keep their
// JSON literal text so round-trips never lose precision.
type Value struct {
	Kind   ValueKind
	Bool   bool
	Number string
	Str    string
	List   []string
	Object map[string]Value
}

// Null is the zero Value.
var Null = Value{Kind: KindNull}

func BoolValue(b bool) Value               { return Value{Kind: KindBool, Bool: b} }
func NumberValue(lit string) Value         { return Value{Kind: KindNumber, Number: lit} }
func StringValue(s string) Value           { return Value{Kind: KindString, Str: s} }
func ListValue(xs []string) Value          { return Value{Kind: KindStringList, List: xs} }
func ObjectValue(m map[string]Value) Value { return Value{Kind: KindObject, Object: m} }

// IsNull reports whether the value is the JSON null.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// IsEmpty reports whether the value is null or an empty string. Empty
// strings in timestamp or numeric columns are restored as NULL.
func (v Value) IsEmpty() bool {
	return v.Kind == KindNull || (v.Kind == KindString && v.Str == "")
}

// AsString renders a scalar value as its text form. Lists and objects render
// as their JSON encoding.
func (v Value) AsString() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindNumber:
		return v.Number
	case KindString:
		return v.Str
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// MarshalJSON renders the union as plain JSON.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.Bool)
	case KindNumber:
		return []byte(v.Number), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindStringList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case KindObject:
		if v.Object == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.Object)
	}
	return nil, fmt.Errorf("marshal value: unknown kind %d", v.Kind)
}

// UnmarshalJSON classifies arbitrary JSON into the union. Numbers keep the
// raw literal; arrays must be arrays of strings (mixed arrays are rejected
// so a malformed snapshot fails at decode time, not mid-restore).
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw json.RawMessage = data
	trimmed := string(raw)
	if trimmed == "null" {
		*v = Null
		return nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
	case '[':
		var xs []string
		if err := json.Unmarshal(raw, &xs); err != nil {
			return fmt.Errorf("snapshot arrays must be string arrays: %w", err)
		}
		*v = ListValue(xs)
	case '{':
		var m map[string]Value
		if err := json.Unmarshal(raw, &m); err != nil {
			return err
		}
		*v = ObjectValue(m)
	default:
		var num json.Number
		if err := json.Unmarshal(raw, &num); err != nil {
			return err
		}
		*v = NumberValue(num.String())
	}
	return nil
}

// Row is one serialized table row, a flat column-to-value map. Every row in
// a snapshot carries an "id" column whose value is the old identifier; it is
// never written to the destination as a live key.
type Row map[string]Value

// ID returns the row's old identifier, or "" when absent.
func (r Row) ID() string {
	v, ok := r["id"]
	if !ok {
		return ""
	}
	return v.AsString()
}

// Metadata records who captured a snapshot, when, and from which tenant.
type Metadata struct {
	CapturedAt   time.Time `json:"captured_at"`
	CapturedBy   string    `json:"captured_by"`
	SourceTenant string    `json:"source_tenant"`
}

// Document is a full tenant snapshot: one section per clinical table plus
// capture metadata. Sections are always present, possibly empty; consumers
// check length, never nil.
type Document struct {
	Metadata Metadata
	Tables   map[string][]Row
}

// NewDocument returns a Document with an empty section for every table in
// the clone set.
func NewDocument(meta Metadata) *Document {
	doc := &Document{Metadata: meta, Tables: make(map[string][]Row, len(CloneSet))}
	for _, t := range CloneSet {
		doc.Tables[t.Name] = []Row{}
	}
	return doc
}

// Section returns the rows for a table, never nil.
func (d *Document) Section(table string) []Row {
	rows := d.Tables[table]
	if rows == nil {
		return []Row{}
	}
	return rows
}

// RowCount returns the total number of rows across all sections.
func (d *Document) RowCount() int {
	n := 0
	for _, rows := range d.Tables {
		n += len(rows)
	}
	return n
}

// MarshalJSON flattens the document: metadata plus one top-level key per
// table section.
func (d *Document) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Tables)+1)

	meta, err := json.Marshal(d.Metadata)
	if err != nil {
		return nil, err
	}
	out["metadata"] = meta

	names := make([]string, 0, len(d.Tables))
	for name := range d.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rows := d.Tables[name]
		if rows == nil {
			rows = []Row{}
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return nil, fmt.Errorf("marshal section %s: %w", name, err)
		}
		out[name] = b
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the flattened form produced by MarshalJSON.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	d.Tables = make(map[string][]Row, len(raw))
	for name, b := range raw {
		if name == "metadata" {
			if err := json.Unmarshal(b, &d.Metadata); err != nil {
				return fmt.Errorf("unmarshal snapshot metadata: %w", err)
			}
			continue
		}
		var rows []Row
		if err := json.Unmarshal(b, &rows); err != nil {
			return fmt.Errorf("unmarshal section %s: %w", name, err)
		}
		if rows == nil {
			rows = []Row{}
		}
		d.Tables[name] = rows
	}
	return nil
}
