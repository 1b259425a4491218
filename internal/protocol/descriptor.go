package protocol

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danmuck/binlink/internal/protocol/schema"
	"github.com/danmuck/binlink/internal/protocol/tlv"
)

// TransferType names the purpose of a transfer.
type TransferType string

const (
	TransferActivity TransferType = "activity"
	TransferFileList TransferType = "filelist"
	TransferArchive  TransferType = "archive"
	TransferResource TransferType = "resource"
)

// TransferDescriptor is the metadata sent ahead of a transfer's payload.
// The channel only moves its encoded bytes.
type TransferDescriptor struct {
	Type        TransferType
	ID          string
	Sender      string
	Recipient   string
	SessionID   string
	Description string
	Size        uint64
	Compressed  bool
	Attributes  map[string]string
}

func (d TransferDescriptor) Validate() error {
	if strings.TrimSpace(string(d.Type)) == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidDescriptor)
	}
	for k := range d.Attributes {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: empty attribute key", ErrInvalidDescriptor)
		}
	}
	return nil
}

// Attribute returns the named attribute, or "" when absent.
func (d TransferDescriptor) Attribute(key string) string {
	return d.Attributes[key]
}

// EncodeDescriptor returns the TLV byte form of d. Attributes are emitted in
// key order so equal descriptors encode identically.
func EncodeDescriptor(d TransferDescriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	fields := []tlv.Field{tlv.String(schema.FieldType, string(d.Type))}
	optional := []struct {
		id  uint16
		val string
	}{
		{schema.FieldID, d.ID},
		{schema.FieldSender, d.Sender},
		{schema.FieldRecipient, d.Recipient},
		{schema.FieldSessionID, d.SessionID},
		{schema.FieldDescription, d.Description},
	}
	for _, o := range optional {
		if o.val != "" {
			fields = append(fields, tlv.String(o.id, o.val))
		}
	}
	fields = append(fields, tlv.U64(schema.FieldSize, d.Size))
	if d.Compressed {
		fields = append(fields, tlv.Bool(schema.FieldCompressed, true))
	}

	keys := make([]string, 0, len(d.Attributes))
	for k := range d.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attr := tlv.EncodeFields([]tlv.Field{
			tlv.String(schema.FieldAttrKey, k),
			tlv.String(schema.FieldAttrValue, d.Attributes[k]),
		})
		fields = append(fields, tlv.Bytes(schema.FieldAttribute, attr))
	}
	return tlv.EncodeFields(fields), nil
}

// DecodeDescriptor rebuilds a descriptor from its TLV byte form.
func DecodeDescriptor(b []byte) (TransferDescriptor, error) {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return TransferDescriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}
	if err := schema.Validate(schema.KindTransferDescriptor, fields); err != nil {
		return TransferDescriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
	}

	var d TransferDescriptor
	strs := map[uint16]*string{
		schema.FieldID:          &d.ID,
		schema.FieldSender:      &d.Sender,
		schema.FieldRecipient:   &d.Recipient,
		schema.FieldSessionID:   &d.SessionID,
		schema.FieldDescription: &d.Description,
	}
	for _, f := range fields {
		switch f.ID {
		case schema.FieldType:
			d.Type = TransferType(f.Value)
		case schema.FieldSize:
			if d.Size, err = f.AsU64(); err != nil {
				return TransferDescriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
			}
		case schema.FieldCompressed:
			if d.Compressed, err = f.AsBool(); err != nil {
				return TransferDescriptor{}, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
			}
		case schema.FieldAttribute:
			k, v, err := decodeAttribute(f.Value)
			if err != nil {
				return TransferDescriptor{}, err
			}
			if d.Attributes == nil {
				d.Attributes = make(map[string]string)
			}
			d.Attributes[k] = v
		default:
			if dst, ok := strs[f.ID]; ok {
				*dst = string(f.Value)
			}
		}
	}
	return d, nil
}

func decodeAttribute(b []byte) (string, string, error) {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return "", "", fmt.Errorf("%w: attribute: %w", ErrInvalidDescriptor, err)
	}
	if err := schema.Validate(schema.KindAttribute, fields); err != nil {
		return "", "", fmt.Errorf("%w: attribute: %w", ErrInvalidDescriptor, err)
	}
	k, _ := tlv.GetField(fields, schema.FieldAttrKey)
	v, _ := tlv.GetField(fields, schema.FieldAttrValue)
	return string(k.Value), string(v.Value), nil
}
