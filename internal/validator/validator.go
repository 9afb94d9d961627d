// Package validator turns located envelope payloads into immutable canonical
// requests.
package validator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/rs/zerolog"

	common "github.com/example/sourcebridge/internal/adapters/common"
	"github.com/example/sourcebridge/internal/envelope"
)

// Request is implemented by pointers to canonical request types. Validate may
// normalize fields in place.
type Request[T any] interface {
	*T
	Validate() error
}

// Outcome is a successful validation. NoOp means upstream explicitly signalled
// that there is nothing to do; Request is the zero value in that case.
type Outcome[T any] struct {
	Request T
	NoOp    bool
}

// Option customises a Validator.
type Option func(*options)

type options struct {
	lenient bool
}

// WithUnknownFields accepts payload fields the request type does not declare.
func WithUnknownFields() Option {
	return func(o *options) { o.lenient = true }
}

// Validator decodes and validates payloads into T.
type Validator[T any, PT Request[T]] struct {
	logger zerolog.Logger
	strict bool
}

// New constructs a Validator. Unknown fields are rejected unless
// WithUnknownFields is supplied.
func New[T any, PT Request[T]](logger zerolog.Logger, opts ...Option) *Validator[T, PT] {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	o := &options{}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return &Validator[T, PT]{logger: logger, strict: !o.lenient}
}

// Validate decodes the located payload. Failures are canonical RequestInvalid
// errors; an explicit null yields a NoOp outcome.
func (v *Validator[T, PT]) Validate(loc envelope.Located) (Outcome[T], error) {
	payload := bytes.TrimSpace(loc.Payload)
	if loc.NoData || envelope.IsNull(payload) {
		return Outcome[T]{NoOp: true}, nil
	}
	if len(payload) == 0 {
		return Outcome[T]{}, common.RequestInvalid(errors.New("validator: payload is empty"))
	}

	if payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return Outcome[T]{}, common.RequestInvalid(fmt.Errorf("validator: decode string payload: %w", err))
		}
		payload = bytes.TrimSpace([]byte(inner))
		if envelope.IsNull(payload) {
			return Outcome[T]{NoOp: true}, nil
		}
		if len(payload) == 0 {
			return Outcome[T]{}, common.RequestInvalid(errors.New("validator: string payload is empty"))
		}
	}

	var req T
	dec := json.NewDecoder(bytes.NewReader(payload))
	if v.strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(&req); err != nil {
		return Outcome[T]{}, common.RequestInvalid(fmt.Errorf("validator: decode: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Outcome[T]{}, common.RequestInvalid(errors.New("validator: trailing data after payload"))
	}

	if err := PT(&req).Validate(); err != nil {
		v.logger.Debug().
			Str("shape", loc.Shape.String()).
			Err(err).
			Msg("validator: request rejected")
		return Outcome[T]{}, common.RequestInvalid(err)
	}
	return Outcome[T]{Request: req}, nil
}
