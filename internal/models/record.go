package models

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Record is an entity in kind-agnostic form: the shared Base fields plus the
// complete flat JSON object of the entity. Storage and the wire protocol
// operate on records so they never need to know the typed shape.
//
// Base is authoritative: when a record is marshalled, its Base fields are
// written over the corresponding keys of Data.
type Record struct {
	Kind Kind `json:"-"`
	Base
	Data json.RawMessage `json:"-"`
}

// FromEntity converts a typed entity into a record.
func FromEntity(e Entity) (Record, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Record{}, fmt.Errorf("failed to encode %s: %w", e.Kind(), err)
	}
	return Record{Kind: e.Kind(), Base: *e.Meta(), Data: data}, nil
}

// Entity decodes the record into its typed entity.
func (r Record) Entity() (Entity, error) {
	e, err := r.Kind.New()
	if err != nil {
		return nil, err
	}
	data, err := r.Payload()
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, fmt.Errorf("failed to decode %s %q: %w", r.Kind, r.ID, err)
	}
	return e, nil
}

// Validate decodes the record and runs the entity rules.
func (r Record) Validate() error {
	if !r.Kind.Valid() {
		return &ValidationError{Kind: r.Kind, ID: r.ID, Fields: []FieldError{{Field: "type", Message: "unknown entity kind"}}}
	}
	e, err := r.Entity()
	if err != nil {
		return &ValidationError{Kind: r.Kind, ID: r.ID, Fields: []FieldError{{Field: "payload", Message: err.Error()}}}
	}
	return e.Validate()
}

// Stamp sets the ordering timestamp.
func (r *Record) Stamp(updatedAt int64) {
	r.UpdatedAt = updatedAt
}

// Payload returns the flat JSON object with Base fields applied.
func (r Record) Payload() (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &fields); err != nil {
			return nil, fmt.Errorf("payload of %s %q is not an object: %w", r.Kind, r.ID, err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}

	set := func(k string, v any) {
		b, _ := json.Marshal(v)
		fields[k] = b
	}
	set("id", r.ID)
	set("created_at", r.CreatedAt)
	set("updated_at", r.UpdatedAt)
	set("deleted", r.Deleted)
	if r.ClientID != "" {
		set("client_id", r.ClientID)
	} else {
		delete(fields, "client_id")
	}

	return json.Marshal(fields)
}

func (r Record) MarshalJSON() ([]byte, error) {
	return r.Payload()
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var base Base
	if err := json.Unmarshal(b, &base); err != nil {
		return err
	}
	r.Base = base
	r.Data = append(json.RawMessage(nil), b...)
	return nil
}

// Batch groups records by kind. It is the shape of both the push and the
// pull side of a sync exchange.
type Batch map[Kind][]Record

func (b *Batch) UnmarshalJSON(data []byte) error {
	raw := map[Kind][]Record{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for k, recs := range raw {
		for i := range recs {
			recs[i].Kind = k
		}
	}
	*b = raw
	return nil
}

// Add appends r under its own kind.
func (b Batch) Add(r Record) {
	b[r.Kind] = append(b[r.Kind], r)
}

// Len counts records across all kinds.
func (b Batch) Len() int {
	n := 0
	for _, recs := range b {
		n += len(recs)
	}
	return n
}

// Records flattens the batch: known kinds in dependency order, then any
// unknown kinds sorted by name.
func (b Batch) Records() []Record {
	out := make([]Record, 0, b.Len())
	seen := make(map[Kind]bool, len(b))
	for _, k := range Kinds() {
		out = append(out, b[k]...)
		seen[k] = true
	}

	var rest []Kind
	for k := range b {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	for _, k := range rest {
		out = append(out, b[k]...)
	}
	return out
}
