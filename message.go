package tincan

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// ChangeType is the kind of change a Message announces.
type ChangeType string

const (
	Create ChangeType = "create"
	Modify ChangeType = "modify"
	Delete ChangeType = "delete"
)

// ParseChangeType validates s as one of create, modify or delete.
func ParseChangeType(s string) (ChangeType, error) {
	switch ct := ChangeType(s); ct {
	case Create, Modify, Delete:
		return ct, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChangeType, s)
}

func (c ChangeType) String() string { return string(c) }

// UnmarshalJSON rejects unknown change types at decode time.
func (c *ChangeType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ct, err := ParseChangeType(s)
	if err != nil {
		return err
	}
	*c = ct
	return nil
}

// ObjectNamer lets published values choose their own object name instead of
// their Go type name.
type ObjectNamer interface {
	ObjectName() string
}

// Message is the change-event envelope stored once per publish.
// ObjectData is opaque to tincan; it travels as raw JSON.
type Message struct {
	ObjectName  string          `json:"object_name"`
	ChangeType  ChangeType      `json:"change_type"`
	ObjectData  json.RawMessage `json:"object_data"`
	PublishedAt time.Time       `json:"published_at"`
}

// NewMessage builds a validated Message. data is JSON-encoded unless it is
// already a json.RawMessage.
func NewMessage(objectName string, change ChangeType, data any, publishedAt time.Time) (*Message, error) {
	ct, err := ParseChangeType(string(change))
	if err != nil {
		return nil, err
	}
	raw, err := encodeObject(data)
	if err != nil {
		return nil, fmt.Errorf("tincan: encode object data: %w", err)
	}
	return &Message{
		ObjectName:  objectName,
		ChangeType:  ct,
		ObjectData:  raw,
		PublishedAt: publishedAt,
	}, nil
}

func encodeObject(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		if v == nil {
			return json.RawMessage("null"), nil
		}
		return v, nil
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v), nil
		}
	}
	return json.Marshal(data)
}

// ID is the message identifier: whole seconds since the epoch of PublishedAt.
// Two messages of the same channel published within one second share an id,
// and the later body overwrites the earlier one.
func (m *Message) ID() string {
	return strconv.FormatInt(m.PublishedAt.Unix(), 10)
}

// Channel is the lower-cased object name used in store keys.
func (m *Message) Channel() string {
	return strings.ToLower(m.ObjectName)
}

// Encode serializes the message to its wire JSON.
func (m *Message) Encode() ([]byte, error) {
	if _, err := ParseChangeType(string(m.ChangeType)); err != nil {
		return nil, err
	}
	if m.ObjectData == nil {
		cp := *m
		cp.ObjectData = json.RawMessage("null")
		return json.Marshal(&cp)
	}
	return json.Marshal(m)
}

// DecodeMessage parses wire JSON into a Message, validating the change type.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tincan: decode message: %w", err)
	}
	if m.ChangeType == "" {
		return nil, fmt.Errorf("tincan: decode message: %w: missing", ErrInvalidChangeType)
	}
	return &m, nil
}

// DecodeObject unmarshals msg.ObjectData into T.
func DecodeObject[T any](msg *Message) (T, error) {
	var v T
	if err := json.Unmarshal(msg.ObjectData, &v); err != nil {
		return v, err
	}
	return v, nil
}

// objectNameOf resolves the object name of a published value.
func objectNameOf(v any) string {
	if n, ok := v.(ObjectNamer); ok {
		return n.ObjectName()
	}
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}
