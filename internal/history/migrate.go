package history

import (
	"encoding/json"
	"fmt"

	"github.com/kaptinlin/jsonschema"
)

// SchemaVersion is the record shape the migration pipeline produces.
//
//	v1: {id, timestamp, thumbnail, genome} flat history entries (no images array)
//	v2: {id, timestamp, images: [{id, thumbnail, genome}]} sessions
//
// v1 entries are not upcast: they fail validation and are dropped.
const SchemaVersion = 2

// sessionSchema is the v2 record contract.
const sessionSchema = `{
	"type": "object",
	"required": ["id", "timestamp", "images"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"timestamp": {"type": "integer"},
		"images": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "thumbnail"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"thumbnail": {"type": "string"}
				}
			}
		}
	}
}`

// Step is one stage of the migration pipeline. A step may drop records or
// rewrite them in place; it must not reorder them.
type Step interface {
	Name() string
	Apply(records []json.RawMessage) []json.RawMessage
}

// MigrationResult is the outcome of running the pipeline over stored records.
type MigrationResult struct {
	Sessions []Session

	// Dropped counts discarded records per step name.
	Dropped map[string]int
}

// Dirty reports whether any record was discarded, meaning the stored
// payload no longer matches Sessions and must be rewritten.
func (r MigrationResult) Dirty() bool {
	for _, n := range r.Dropped {
		if n > 0 {
			return true
		}
	}
	return false
}

// Migrator validates stored records and discards the ones it cannot use.
// Records are never repaired.
type Migrator struct {
	schema *jsonschema.Schema
}

// NewMigrator compiles the session schema.
func NewMigrator() (*Migrator, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile([]byte(sessionSchema))
	if err != nil {
		return nil, fmt.Errorf("compile session schema: %w", err)
	}
	return &Migrator{schema: schema}, nil
}

// Run applies validate-schema, then prune-empty, then decodes. reserved
// exempts ids from prune-empty (sessions created empty in this process).
func (m *Migrator) Run(records []json.RawMessage, reserved func(id string) bool) MigrationResult {
	steps := []Step{
		validateSchema{schema: m.schema},
		pruneEmpty{reserved: reserved},
	}

	result := MigrationResult{Dropped: make(map[string]int)}
	for _, step := range steps {
		before := len(records)
		records = step.Apply(records)
		if dropped := before - len(records); dropped > 0 {
			result.Dropped[step.Name()] += dropped
		}
	}

	result.Sessions = make([]Session, 0, len(records))
	for _, rec := range records {
		var s Session
		if err := json.Unmarshal(rec, &s); err != nil {
			result.Dropped["decode"]++
			continue
		}
		if s.Images == nil {
			s.Images = []Image{}
		}
		result.Sessions = append(result.Sessions, s)
	}
	return result
}

type validateSchema struct {
	schema *jsonschema.Schema
}

func (validateSchema) Name() string { return "validate-schema" }

func (v validateSchema) Apply(records []json.RawMessage) []json.RawMessage {
	kept := records[:0]
	for _, rec := range records {
		if v.schema.ValidateJSON(rec).IsValid() {
			kept = append(kept, rec)
		}
	}
	return kept
}

type pruneEmpty struct {
	reserved func(id string) bool
}

func (pruneEmpty) Name() string { return "prune-empty" }

func (p pruneEmpty) Apply(records []json.RawMessage) []json.RawMessage {
	kept := records[:0]
	for _, rec := range records {
		var probe struct {
			ID     string            `json:"id"`
			Images []json.RawMessage `json:"images"`
		}
		if err := json.Unmarshal(rec, &probe); err != nil {
			continue
		}
		if len(probe.Images) == 0 && (p.reserved == nil || !p.reserved(probe.ID)) {
			continue
		}
		kept = append(kept, rec)
	}
	return kept
}
