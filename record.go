package beacon

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance.
var validate = validator.New()

// Record is the wire form of a selection as read by a Link or a Persister.
// Identifiers are printable ASCII without spaces, at most 128 bytes.
//
//	{"id": "store-42"}   selects store-42
//	{"id": ""} or {}     clears the selection
type Record struct {
	ID string `json:"id" yaml:"id" validate:"omitempty,max=128,printascii,excludesall= "`
}

// RecordOf converts a Choice to its wire form.
func RecordOf(c Choice) Record {
	if !c.Valid {
		return Record{}
	}
	return Record{ID: c.ID}
}

// Choice converts the record to a selection.
func (r Record) Choice() Choice {
	if r.ID == "" {
		return None()
	}
	return Some(r.ID)
}

// Validate checks the record's struct tags.
func (r Record) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	return nil
}

// DecodeRecord parses and validates a JSON record. Persisters backed by a
// remote store use it so that every backend accepts the same format.
func DecodeRecord(data []byte) (Choice, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return None(), fmt.Errorf("failed to decode record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return None(), err
	}
	return rec.Choice(), nil
}

// EncodeRecord returns the JSON record for c.
func EncodeRecord(c Choice) ([]byte, error) {
	data, err := json.Marshal(RecordOf(c))
	if err != nil {
		return nil, fmt.Errorf("failed to encode selection: %w", err)
	}
	return data, nil
}
