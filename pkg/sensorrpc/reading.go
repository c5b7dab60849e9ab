package sensorrpc

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Field names used in the Struct encoding of a reading. They match the JSON
// API so both surfaces return the same document.
const (
	FieldID         = "id"
	FieldWaterLevel = "waterLevel"
	FieldWaterFlow  = "waterFlow"
	FieldTimestamp  = "timestamp"
)

// Reading is the wire form of a stored reading.
type Reading struct {
	Timestamp  time.Time
	WaterLevel float64
	WaterFlow  float64
	ID         uint64
}

// ToStruct encodes r as a protobuf Struct.
func (r Reading) ToStruct() *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		FieldID:         structpb.NewNumberValue(float64(r.ID)),
		FieldWaterLevel: structpb.NewNumberValue(r.WaterLevel),
		FieldWaterFlow:  structpb.NewNumberValue(r.WaterFlow),
		FieldTimestamp:  structpb.NewStringValue(r.Timestamp.UTC().Format(time.RFC3339Nano)),
	}}
}

// FromStruct decodes a reading produced by ToStruct.
func FromStruct(s *structpb.Struct) (Reading, error) {
	if s == nil {
		return Reading{}, errors.New("nil reading")
	}
	f := s.GetFields()

	var r Reading
	for _, name := range []string{FieldID, FieldWaterLevel, FieldWaterFlow} {
		v, ok := f[name].GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return Reading{}, fmt.Errorf("field %q: expected number", name)
		}
		switch name {
		case FieldID:
			r.ID = uint64(v.NumberValue)
		case FieldWaterLevel:
			r.WaterLevel = v.NumberValue
		case FieldWaterFlow:
			r.WaterFlow = v.NumberValue
		}
	}

	ts, ok := f[FieldTimestamp].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return Reading{}, fmt.Errorf("field %q: expected string", FieldTimestamp)
	}
	t, err := time.Parse(time.RFC3339Nano, ts.StringValue)
	if err != nil {
		return Reading{}, fmt.Errorf("field %q: %w", FieldTimestamp, err)
	}
	r.Timestamp = t
	return r, nil
}

// ToList encodes readings, preserving order.
func ToList(readings []Reading) *structpb.ListValue {
	values := make([]*structpb.Value, len(readings))
	for i, r := range readings {
		values[i] = structpb.NewStructValue(r.ToStruct())
	}
	return &structpb.ListValue{Values: values}
}

// FromList decodes a list produced by ToList.
func FromList(l *structpb.ListValue) ([]Reading, error) {
	out := make([]Reading, 0, len(l.GetValues()))
	for i, v := range l.GetValues() {
		r, err := FromStruct(v.GetStructValue())
		if err != nil {
			return nil, fmt.Errorf("reading %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}
