// Package serialization converts event envelopes to and from their protobuf
// wire format. Payload codecs are registered per event type.
package serialization

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/NIRALUser/clusterpost/internal/domain/events"
)

// EncodeFunc converts a domain payload to a protobuf struct.
type EncodeFunc func(payload any) (*structpb.Struct, error)

// DecodeFunc rebuilds a domain payload. occurredAt is the envelope timestamp.
type DecodeFunc func(s *structpb.Struct, eventType events.EventType, occurredAt time.Time) (any, error)

type codec struct {
	encode EncodeFunc
	decode DecodeFunc
}

var registry = map[events.EventType]codec{}

// Register installs the codec for an event type.
func Register(eventType events.EventType, enc EncodeFunc, dec DecodeFunc) {
	registry[eventType] = codec{encode: enc, decode: dec}
}

// Registered reports whether an event type has a codec.
func Registered(eventType events.EventType) bool {
	_, ok := registry[eventType]
	return ok
}

// Envelope field names on the wire.
const (
	fieldType       = "type"
	fieldKey        = "key"
	fieldOccurredAt = "occurred_at"
	fieldHeaders    = "headers"
	fieldPayload    = "payload"
)

// Marshal encodes an envelope with its payload.
func Marshal(evt events.EventEnvelope) ([]byte, error) {
	c, ok := registry[evt.Type]
	if !ok {
		return nil, fmt.Errorf("no codec registered for eventType=%s", evt.Type)
	}

	payload, err := c.encode(evt.Payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", evt.Type, err)
	}

	ts := timestamppb.New(evt.Timestamp)
	if err := ts.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid event timestamp: %w", err)
	}

	headers := make(map[string]any, len(evt.Headers))
	for k, v := range evt.Headers {
		headers[k] = v
	}
	hs, err := structpb.NewStruct(headers)
	if err != nil {
		return nil, fmt.Errorf("encoding headers: %w", err)
	}

	envelope := &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldType:       structpb.NewStringValue(string(evt.Type)),
		fieldKey:        structpb.NewStringValue(evt.Key),
		fieldOccurredAt: structpb.NewStringValue(ts.AsTime().Format(time.RFC3339Nano)),
		fieldHeaders:    structpb.NewStructValue(hs),
		fieldPayload:    structpb.NewStructValue(payload),
	}}
	return proto.Marshal(envelope)
}

// Unmarshal decodes bytes produced by Marshal.
func Unmarshal(data []byte) (events.EventEnvelope, error) {
	var envelope structpb.Struct
	if err := proto.Unmarshal(data, &envelope); err != nil {
		return events.EventEnvelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	fields := envelope.GetFields()

	eventType := events.EventType(fields[fieldType].GetStringValue())
	c, ok := registry[eventType]
	if !ok {
		return events.EventEnvelope{}, fmt.Errorf("no codec registered for eventType=%s", eventType)
	}

	occurredAt, err := time.Parse(time.RFC3339Nano, fields[fieldOccurredAt].GetStringValue())
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("parsing event timestamp: %w", err)
	}

	var headers map[string]string
	if hs := fields[fieldHeaders].GetStructValue(); hs != nil && len(hs.GetFields()) > 0 {
		headers = make(map[string]string, len(hs.GetFields()))
		for k, v := range hs.GetFields() {
			headers[k] = v.GetStringValue()
		}
	}

	payload, err := c.decode(fields[fieldPayload].GetStructValue(), eventType, occurredAt)
	if err != nil {
		return events.EventEnvelope{}, fmt.Errorf("decoding %s payload: %w", eventType, err)
	}

	return events.EventEnvelope{
		Type:      eventType,
		Key:       fields[fieldKey].GetStringValue(),
		Headers:   headers,
		Timestamp: occurredAt,
		Payload:   payload,
	}, nil
}
