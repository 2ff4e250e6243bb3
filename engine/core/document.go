package core

import (
	"encoding/json"
	"math"
	"time"
)

const (
	FieldID          = "idc_id"
	FieldVersion     = "idc_version"
	FieldFromVersion = "from_idc_version"
	FieldCreatedAt   = "createdAt"
	FieldUpdatedAt   = "updatedAt"
)

// Document is a stored record. Every document carries idc_id, idc_version,
// from_idc_version, createdAt and updatedAt.
type Document map[string]any

func (d Document) ID() string {
	id, _ := d[FieldID].(string)
	return id
}

func (d Document) Version() int64 {
	return AsInt64(d[FieldVersion])
}

func (d Document) FromVersion() int64 {
	return AsInt64(d[FieldFromVersion])
}

func (d Document) Collection() string {
	collection, err := CollectionFromID(d.ID())
	if err != nil {
		return ""
	}
	return collection
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(DeepCopyMap(d))
}

// Stamp sets the version bookkeeping fields.
func (d Document) Stamp(version, from int64, updatedAt time.Time) {
	d[FieldVersion] = version
	d[FieldFromVersion] = from
	d[FieldUpdatedAt] = updatedAt.UTC().Format(time.RFC3339Nano)
}

// AsInt64 converts the numeric representations produced by JSON decoding and
// Go code into an int64. Non-numeric values yield 0.
func AsInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int64:
		return n
	case uint32:
		return int64(n)
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0
			}
			return int64(f)
		}
		return i
	default:
		return 0
	}
}

// VersionRecord is an immutable snapshot of a document at one version.
type VersionRecord struct {
	IDCID          string    `json:"idc_id"           db:"idc_id"`
	DocumentIDCID  string    `json:"document_idc_id"  db:"document_idc_id"`
	IDCVersion     int64     `json:"idc_version"      db:"idc_version"`
	FromIDCVersion int64     `json:"from_idc_version" db:"from_idc_version"`
	ActionIDCID    string    `json:"action_idc_id"    db:"action_idc_id"`
	Document       Document  `json:"document"         db:"document"`
	CreatedAt      time.Time `json:"createdAt"        db:"created_at"`
}

// ActionRecord is the persisted log entry for one action invocation.
type ActionRecord struct {
	IDCID            string         `json:"idc_id"`
	ActionDefinition map[string]any `json:"action_definition"`
	ActionMetrics    map[string]any `json:"action_metrics"`
	TasksMetrics     map[string]any `json:"tasks_metrics"`
	CreatedAt        time.Time      `json:"created_at"`
}
