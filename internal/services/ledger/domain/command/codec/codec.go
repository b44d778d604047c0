// Package codec converts commands to and from their persisted text form.
//
// The text is a JSON envelope:
//
//	{"type":"wallet.asset.add","version":"v2","id":"...","causation_id":"...","payload":{...}}
//
// Each (type, version) pair has an explicit wire schema. Decoding rebuilds
// the command through its constructor, so decoded values carry the same
// guarantees as freshly built ones.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/louisbranch/ledger.space/internal/platform/errors"
	"github.com/louisbranch/ledger.space/internal/services/ledger/domain/command"
)

type envelope struct {
	Type        command.Type    `json:"type"`
	Version     command.Version `json:"version"`
	ID          string          `json:"id"`
	CausationID string          `json:"causation_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

type schemaKey struct {
	typ     command.Type
	version command.Version
}

type encodeFunc func(command.Command) (any, error)

type decodeFunc func(command.Meta, json.RawMessage) (command.Command, error)

// Codec holds the schema registry.
type Codec struct {
	encoders map[schemaKey]encodeFunc
	decoders map[schemaKey]decodeFunc
}

// New returns a codec with every ledger command schema registered.
func New() *Codec {
	c := &Codec{
		encoders: make(map[schemaKey]encodeFunc),
		decoders: make(map[schemaKey]decodeFunc),
	}
	registerPayment(c)
	registerWallet(c)
	registerSubscription(c)
	registerTransaction(c)
	return c
}

// register binds one (type, version) schema. encode may be nil for versions
// that are only read.
func register[W any, C command.Command](c *Codec, typ command.Type, version command.Version, encode func(C) W, decode func(command.Meta, W) (C, error)) {
	key := schemaKey{typ: typ, version: version}
	if _, exists := c.decoders[key]; exists {
		panic(fmt.Sprintf("codec: schema %s/%s registered twice", typ, version))
	}
	if encode != nil {
		c.encoders[key] = func(cmd command.Command) (any, error) {
			typed, ok := cmd.(C)
			if !ok {
				return nil, fmt.Errorf("unexpected command value %T", cmd)
			}
			return encode(typed), nil
		}
	}
	c.decoders[key] = func(meta command.Meta, raw json.RawMessage) (command.Command, error) {
		var wire W
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&wire); err != nil {
			return nil, err
		}
		return decode(meta, wire)
	}
}

// Encode returns the text form of cmd.
func (c *Codec) Encode(cmd command.Command) (string, error) {
	if cmd == nil {
		return "", apperrors.Serialization("command", fmt.Errorf("command is required"))
	}
	typeName := string(cmd.Type())
	encode, ok := c.encoders[schemaKey{typ: cmd.Type(), version: cmd.Version()}]
	if !ok {
		return "", apperrors.Serialization(typeName, fmt.Errorf("no schema for version %s", cmd.Version()))
	}
	payload, err := encode(cmd)
	if err != nil {
		return "", apperrors.Serialization(typeName, err)
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.Serialization(typeName, err)
	}
	text, err := json.Marshal(envelope{
		Type:        cmd.Type(),
		Version:     cmd.Version(),
		ID:          cmd.ID(),
		CausationID: cmd.CausationID(),
		Payload:     rawPayload,
	})
	if err != nil {
		return "", apperrors.Serialization(typeName, err)
	}
	return string(text), nil
}

// Decode parses text and requires it to hold a command of type expected.
func (c *Codec) Decode(text string, expected command.Type) (command.Command, error) {
	typeName := string(expected)
	env, err := parseEnvelope(text)
	if err != nil {
		return nil, apperrors.Serialization(typeName, err)
	}
	if env.Type != expected {
		return nil, apperrors.Serialization(typeName, fmt.Errorf("text holds %s", env.Type))
	}
	return c.decode(env)
}

// DecodeAny parses text holding a command of any registered type.
func (c *Codec) DecodeAny(text string) (command.Command, error) {
	env, err := parseEnvelope(text)
	if err != nil {
		return nil, apperrors.Serialization("command", err)
	}
	return c.decode(env)
}

func (c *Codec) decode(env envelope) (command.Command, error) {
	typeName := string(env.Type)
	decode, ok := c.decoders[schemaKey{typ: env.Type, version: env.Version}]
	if !ok {
		return nil, apperrors.Serialization(typeName, fmt.Errorf("unknown schema version %q", env.Version))
	}
	cmd, err := decode(command.Meta{ID: env.ID, CausationID: env.CausationID}, env.Payload)
	if err != nil {
		return nil, apperrors.Serialization(typeName, err)
	}
	return cmd, nil
}

func parseEnvelope(text string) (envelope, error) {
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return envelope{}, err
	}
	if strings.TrimSpace(string(env.Type)) == "" {
		return envelope{}, fmt.Errorf("type is missing")
	}
	if strings.TrimSpace(env.ID) == "" {
		return envelope{}, fmt.Errorf("id is missing")
	}
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return envelope{}, fmt.Errorf("payload is missing")
	}
	return env, nil
}
