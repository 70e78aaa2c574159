// Package delta classifies raw change-feed messages into typed row deltas.
//
// A message names one table, an operation and up to two row images. Rows are
// validated against a fixed JSON Schema per table before they are decoded, so
// a Delta handed to the state store always carries a non-empty id.
package delta

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/hearthboard/internal/model"
)

var ErrMalformed = errors.New("malformed delta")

type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Message is the wire shape of one change-feed notification.
type Message struct {
	Table     string          `json:"table"`
	EventType Operation       `json:"eventType"`
	Old       json.RawMessage `json:"old"`
	New       json.RawMessage `json:"new"`
}

type Delta struct {
	Entity model.EntityType
	Op     Operation
	Before model.Row
	After  model.Row
}

// ID returns the id of the row the delta addresses.
func (d Delta) ID() string {
	if d.After != nil {
		return d.After.RowID()
	}
	if d.Before != nil {
		return d.Before.RowID()
	}
	return ""
}

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBaseURL = "https://hearthboard.local/schemas/"

type Decoder struct {
	rows map[model.EntityType]*jsonschema.Schema
	key  *jsonschema.Schema
}

func NewDecoder() (*Decoder, error) {
	compiler := jsonschema.NewCompiler()
	names := []string{"key"}
	for _, entity := range model.EntityTypes {
		names = append(names, string(entity))
	}
	for _, name := range names {
		data, err := schemaFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBaseURL+name+".json", doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	d := &Decoder{rows: map[model.EntityType]*jsonschema.Schema{}}
	key, err := compiler.Compile(schemaBaseURL + "key.json")
	if err != nil {
		return nil, fmt.Errorf("compile key schema: %w", err)
	}
	d.key = key
	for _, entity := range model.EntityTypes {
		schema, err := compiler.Compile(schemaBaseURL + string(entity) + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", entity, err)
		}
		d.rows[entity] = schema
	}
	return d, nil
}

// Decode parses raw and decodes it. ok is false, with a nil error, for
// messages about tables the display does not track.
func (d *Decoder) Decode(raw []byte) (Delta, bool, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Delta{}, false, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return d.DecodeMessage(msg)
}

func (d *Decoder) DecodeMessage(msg Message) (Delta, bool, error) {
	entity := model.EntityType(strings.TrimSpace(msg.Table))
	if !entity.Valid() {
		return Delta{}, false, nil
	}
	op := Operation(strings.ToUpper(strings.TrimSpace(string(msg.EventType))))
	out := Delta{Entity: entity, Op: op}
	var err error
	switch op {
	case OpInsert:
		out.After, err = d.decodeRow(entity, msg.New, d.rows[entity])
	case OpUpdate:
		out.After, err = d.decodeRow(entity, msg.New, d.rows[entity])
		if err == nil {
			out.Before = d.keyImage(entity, msg.Old)
		}
	case OpDelete:
		out.Before, err = d.decodeRow(entity, msg.Old, d.key)
	default:
		return Delta{}, false, fmt.Errorf("%w: %s: unknown operation %q", ErrMalformed, entity, msg.EventType)
	}
	if err != nil {
		return Delta{}, false, fmt.Errorf("%w: %s %s: %w", ErrMalformed, entity, op, err)
	}
	return out, true, nil
}

func (d *Decoder) decodeRow(entity model.EntityType, raw json.RawMessage, schema *jsonschema.Schema) (model.Row, error) {
	if !present(raw) {
		return nil, model.ErrMissingID
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(inst); err != nil {
		if obj, ok := inst.(map[string]any); ok {
			if id, _ := obj["id"].(string); id == "" {
				return nil, model.ErrMissingID
			}
		}
		return nil, err
	}
	var row model.Row
	switch entity {
	case model.EntityEvents:
		var ev model.CalendarEvent
		err = json.Unmarshal(raw, &ev)
		row = ev
	case model.EntityCalendarSources:
		var src model.CalendarSource
		err = json.Unmarshal(raw, &src)
		row = src
	case model.EntityChoreAssignments:
		var a model.ChoreAssignment
		err = json.Unmarshal(raw, &a)
		row = a
	}
	if err != nil {
		return nil, err
	}
	if row.RowID() == "" {
		return nil, model.ErrMissingID
	}
	return row, nil
}

// keyImage decodes an UPDATE before-image. Feeds without full replica
// identity send it empty or id-less; then Before stays nil.
func (d *Decoder) keyImage(entity model.EntityType, raw json.RawMessage) model.Row {
	if !present(raw) {
		return nil
	}
	row, err := d.decodeRow(entity, raw, d.key)
	if err != nil {
		return nil
	}
	return row
}

func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
