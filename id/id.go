// Package id provides the identifier types for jobs and workers.
//
// Identifiers are TypeIDs: a short prefix naming the entity kind joined
// to a UUIDv7 suffix, rendered as "job_01k3...". The UUIDv7 base makes
// them K-sortable, so two jobs created in sequence compare in creation
// order as plain strings. The stores rely on that when breaking
// scheduling ties.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the entity kind an ID belongs to.
type Prefix string

const (
	PrefixJob    Prefix = "job"
	PrefixWorker Prefix = "wkr"
)

// ID is a prefix-qualified, globally unique, sortable identifier.
// The zero value is Nil and renders as the empty string.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// JobID identifies a job record (prefix "job").
type JobID = ID

// WorkerID identifies a worker claiming leases (prefix "wkr").
type WorkerID = ID

// Nil is the zero ID.
var Nil ID

// New mints a fresh ID under the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// NewJobID mints a job ID.
func NewJobID() ID { return New(PrefixJob) }

// NewWorkerID mints a worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// Parse decodes a TypeID string of any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix decodes a TypeID string and rejects it unless its
// prefix matches want, so a worker ID cannot slip in where a job ID is
// expected.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: parse %q: prefix %q, want %q", s, got, want)
	}
	return parsed, nil
}

// ParseJobID decodes a job ID, rejecting other prefixes.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ParseWorkerID decodes a worker ID, rejecting other prefixes.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// String renders the ID as "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix reports the entity kind, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether the ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler. Nil marshals to the
// empty string so optional JSON fields stay empty.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as SQL NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner, accepting TEXT columns and NULL.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
