package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrMalformedID is returned when a value cannot be read as an identifier.
var ErrMalformedID = errors.New("malformed identifier")

// ID is the canonical identifier used for every stored entity. Records written by
// older code paths may hold the hex string instead of the binary ObjectID; both
// decode into the same ID and compare equal.
type ID struct {
	oid primitive.ObjectID
}

// NilID is the zero identifier.
var NilID ID

// NewID allocates a fresh identifier.
func NewID() ID {
	return ID{oid: primitive.NewObjectID()}
}

// ParseID is the only way to turn external input into an ID.
func ParseID(raw string) (ID, error) {
	raw = strings.TrimSpace(raw)
	oid, err := primitive.ObjectIDFromHex(raw)
	if err != nil {
		return NilID, fmt.Errorf("%w: %q", ErrMalformedID, raw)
	}
	return ID{oid: oid}, nil
}

// MustParseID panics on malformed input. Intended for tests and constants.
func MustParseID(raw string) ID {
	id, err := ParseID(raw)
	if err != nil {
		panic(err)
	}
	return id
}

// IDFromObjectID wraps a driver ObjectID.
func IDFromObjectID(oid primitive.ObjectID) ID {
	return ID{oid: oid}
}

// ObjectID exposes the underlying driver value.
func (id ID) ObjectID() primitive.ObjectID {
	return id.oid
}

// Hex returns the canonical string form.
func (id ID) Hex() string {
	if id.IsZero() {
		return ""
	}
	return id.oid.Hex()
}

func (id ID) String() string {
	return id.Hex()
}

func (id ID) IsZero() bool {
	return id.oid.IsZero()
}

func (id ID) Equal(other ID) bool {
	return id.oid == other.oid
}

// Variants lists every stored encoding of the identifier, for filters that must
// match both legacy string ids and ObjectIDs.
func (id ID) Variants() []interface{} {
	return []interface{}{id.oid, id.oid.Hex()}
}

// MarshalBSONValue always persists the binary ObjectID form.
func (id ID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if id.IsZero() {
		return bsontype.Null, nil, nil
	}
	return bson.MarshalValue(id.oid)
}

// UnmarshalBSONValue accepts ObjectIDs and their hex strings.
func (id *ID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bsontype.ObjectID:
		oid, ok := raw.ObjectIDOK()
		if !ok {
			return ErrMalformedID
		}
		id.oid = oid
	case bsontype.String:
		s, ok := raw.StringValueOK()
		if !ok {
			return ErrMalformedID
		}
		if s == "" {
			*id = NilID
			return nil
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
	case bsontype.Null, bsontype.Undefined:
		*id = NilID
	default:
		return fmt.Errorf("%w: unexpected bson type %s", ErrMalformedID, t)
	}
	return nil
}

func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.Hex())
}

func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedID, err)
	}
	if s == "" {
		*id = NilID
		return nil
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ContainsID reports whether ids holds id.
func ContainsID(ids []ID, id ID) bool {
	for _, candidate := range ids {
		if candidate.Equal(id) {
			return true
		}
	}
	return false
}

// HexIDs converts ids to their canonical strings.
func HexIDs(ids []ID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.Hex())
	}
	return out
}
