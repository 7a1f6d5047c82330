// Package document implements the schemaless documents exchanged between
// cluster nodes: handshake payloads and database configurations. A document is
// streamed as a protobuf Struct.
package document

import (
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/golang/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Document is an ordered-insensitive set of named fields. Values may be
// string, bool, numbers, []byte, time.Time, []string, []interface{},
// map[string]interface{} or *Document.
type Document struct {
	fields map[string]interface{}
}

func New() *Document {
	return &Document{fields: make(map[string]interface{})}
}

// Set stores a field and returns the document for chaining.
func (d *Document) Set(name string, value interface{}) *Document {
	d.fields[name] = value
	return d
}

// Names returns the field names in order. A nil document has none.
func (d *Document) Names() []string {
	if d == nil {
		return nil
	}
	names := make([]string, 0, len(d.fields))
	for name := range d.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.fields)
}

func (d *Document) String(name string) string {
	s, _ := d.fields[name].(string)
	return s
}

// Bytes returns a []byte field. After a round trip the value arrives base64
// encoded, which is decoded here.
func (d *Document) Bytes(name string) []byte {
	switch v := d.fields[name].(type) {
	case []byte:
		return v
	case string:
		raw, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil
		}
		return raw
	}
	return nil
}

func (d *Document) Time(name string) time.Time {
	switch v := d.fields[name].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	}
	return time.Time{}
}

func (d *Document) Int(name string) int64 {
	switch v := d.fields[name].(type) {
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

func (d *Document) Strings(name string) []string {
	switch v := d.fields[name].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Document returns an embedded document, or nil when the field is absent or
// not a document.
func (d *Document) Document(name string) *Document {
	switch v := d.fields[name].(type) {
	case *Document:
		return v
	case map[string]interface{}:
		return &Document{fields: v}
	}
	return nil
}

// ToStream serializes the document.
func (d *Document) ToStream() ([]byte, error) {
	st, err := structpb.NewStruct(d.plain())
	if err != nil {
		return nil, fmt.Errorf("document: %w", err)
	}

	b, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("document: marshal: %w", err)
	}
	return b, nil
}

// FromStream parses a document written by ToStream. Numbers come back as
// float64, bytes and times as strings; the typed getters undo that.
func FromStream(b []byte) (*Document, error) {
	st := &structpb.Struct{}
	if err := proto.Unmarshal(b, st); err != nil {
		return nil, fmt.Errorf("document: unmarshal: %w", err)
	}
	return &Document{fields: st.AsMap()}, nil
}

func (d *Document) plain() map[string]interface{} {
	out := make(map[string]interface{}, len(d.fields))
	for k, v := range d.fields {
		out[k] = plainValue(v)
	}
	return out
}

// plainValue maps values structpb cannot take onto ones it can.
func plainValue(v interface{}) interface{} {
	switch v := v.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *Document:
		return v.plain()
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = plainValue(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			out[k] = plainValue(item)
		}
		return out
	}
	return v
}
