package schema

import (
	"fmt"

	"github.com/danmuck/binlink/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Record kinds carried as TLV payloads.
const (
	KindTransferDescriptor uint32 = 1
	KindAttribute          uint32 = 2
)

// Transfer descriptor field IDs.
const (
	FieldType        uint16 = 1
	FieldID          uint16 = 2
	FieldSender      uint16 = 3
	FieldRecipient   uint16 = 4
	FieldSessionID   uint16 = 5
	FieldDescription uint16 = 6
	FieldSize        uint16 = 7
	FieldCompressed  uint16 = 8
	FieldAttribute   uint16 = 9
)

// Attribute field IDs, nested inside FieldAttribute values.
const (
	FieldAttrKey   uint16 = 1
	FieldAttrValue uint16 = 2
)

type Requirement struct {
	ID       uint16
	Type     uint8
	Optional bool
}

type ValidationError struct {
	Kind    uint32
	FieldID uint16
	Reason  string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: kind=%d: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("schema: kind=%d field=%d: %s", e.Kind, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	KindTransferDescriptor: {
		{ID: FieldType, Type: tlv.TypeString},
		{ID: FieldID, Type: tlv.TypeString, Optional: true},
		{ID: FieldSender, Type: tlv.TypeString, Optional: true},
		{ID: FieldRecipient, Type: tlv.TypeString, Optional: true},
		{ID: FieldSessionID, Type: tlv.TypeString, Optional: true},
		{ID: FieldDescription, Type: tlv.TypeString, Optional: true},
		{ID: FieldSize, Type: tlv.TypeU64, Optional: true},
		{ID: FieldCompressed, Type: tlv.TypeBool, Optional: true},
		{ID: FieldAttribute, Type: tlv.TypeBytes, Optional: true},
	},
	KindAttribute: {
		{ID: FieldAttrKey, Type: tlv.TypeString},
		{ID: FieldAttrValue, Type: tlv.TypeString},
	},
}

// Validate enforces required fields and the declared type of every known field.
// Unknown fields are ignored so newer peers can add attributes.
func Validate(kind uint32, fields []tlv.Field) error {
	reqs, ok := requirements[kind]
	if !ok {
		log.Error().Uint32("kind", kind).Msg("schema.Validate unknown kind")
		return ValidationError{Kind: kind, Reason: "unknown kind"}
	}
	for _, req := range reqs {
		matches := tlv.All(fields, req.ID)
		if len(matches) == 0 {
			if req.Optional {
				continue
			}
			log.Debug().Uint32("kind", kind).Uint16("field_id", req.ID).Msg("schema.Validate missing field")
			return ValidationError{Kind: kind, FieldID: req.ID, Reason: "missing required field"}
		}
		for _, f := range matches {
			if f.Type != req.Type {
				log.Debug().
					Uint32("kind", kind).
					Uint16("field_id", req.ID).
					Uint8("got", f.Type).
					Uint8("want", req.Type).
					Msg("schema.Validate type mismatch")
				return ValidationError{Kind: kind, FieldID: req.ID, Reason: "type mismatch"}
			}
		}
	}
	return nil
}
