package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"unicode/utf8"
)

// ErrInvalidEnvelope is matched by every DecodeError.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// DecodeError reports why the codec rejected its input, either while parsing
// or while validating command parameters. It maps to INVALID_COMMAND.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "invalid envelope: " + e.Reason
}

// Is lets errors.Is match ErrInvalidEnvelope.
func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidEnvelope
}

// Code is the wire error code for a decode failure.
func (e *DecodeError) Code() ErrorCode {
	return ErrInvalidCommand
}

func decodeErr(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

type header struct {
	Kind Kind `json:"kind"`
}

type commandWire struct {
	Kind      Kind        `json:"kind"`
	Timestamp float64     `json:"timestamp"`
	Command   CommandType `json:"command"`
	Params    []string    `json:"params"`
}

type responseWire struct {
	Kind      Kind            `json:"kind"`
	Timestamp float64         `json:"timestamp"`
	Response  ResponseType    `json:"response"`
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	ErrorCode *ErrorCode      `json:"error_code"`
	Data      json.RawMessage `json:"data"`
}

type eventWire struct {
	Kind      Kind            `json:"kind"`
	Timestamp float64         `json:"timestamp"`
	Event     EventType       `json:"event"`
	Data      json.RawMessage `json:"data"`
}

// Encode renders env as one newline-terminated JSON line.
func Encode(env Envelope) ([]byte, error) {
	if env == nil {
		return nil, errors.New("encode: nil envelope")
	}
	if t := env.Time(); math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("encode %s: timestamp is not finite", env.Kind())
	}

	if err := checkUTF8(reflect.ValueOf(env), "envelope"); err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Kind(), err)
	}

	var wire any
	switch m := env.(type) {
	case Command:
		if !m.Type.Valid() {
			return nil, fmt.Errorf("encode: unknown command type %q", m.Type)
		}
		wire = commandWire{Kind: KindCommand, Timestamp: m.Timestamp, Command: m.Type, Params: m.Params}
	case Response:
		w, err := responseToWire(m)
		if err != nil {
			return nil, err
		}
		wire = w
	case Event:
		w, err := eventToWire(m)
		if err != nil {
			return nil, err
		}
		wire = w
	default:
		return nil, fmt.Errorf("encode: unsupported envelope %T", env)
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Kind(), err)
	}
	return append(data, '\n'), nil
}

func responseToWire(r Response) (responseWire, error) {
	if !r.Type.Valid() {
		return responseWire{}, fmt.Errorf("encode: unknown response type %q", r.Type)
	}
	if err := checkResponseData(r.Type, r.Data); err != nil {
		return responseWire{}, fmt.Errorf("encode: %w", err)
	}
	w := responseWire{
		Kind:      KindResponse,
		Timestamp: r.Timestamp,
		Response:  r.Type,
		Success:   r.Success,
		Message:   r.Message,
		Data:      json.RawMessage("null"),
	}
	if r.ErrorCode != "" {
		if !r.ErrorCode.Valid() {
			return responseWire{}, fmt.Errorf("encode: unknown error code %q", r.ErrorCode)
		}
		code := r.ErrorCode
		w.ErrorCode = &code
	}
	if r.Data != nil {
		raw, err := json.Marshal(r.Data)
		if err != nil {
			return responseWire{}, fmt.Errorf("encode response data: %w", err)
		}
		w.Data = raw
	}
	return w, nil
}

func eventToWire(e Event) (eventWire, error) {
	if !e.Type.Valid() {
		return eventWire{}, fmt.Errorf("encode: unknown event type %q", e.Type)
	}
	if err := checkEventData(e.Type, e.Data); err != nil {
		return eventWire{}, fmt.Errorf("encode: %w", err)
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return eventWire{}, fmt.Errorf("encode event data: %w", err)
	}
	return eventWire{Kind: KindEvent, Timestamp: e.Timestamp, Event: e.Type, Data: raw}, nil
}

// Decode parses one envelope. A single trailing newline is accepted.
// Every failure is a *DecodeError.
func Decode(data []byte) (Envelope, error) {
	data = bytes.TrimSuffix(data, []byte("\n"))
	data = bytes.TrimSuffix(data, []byte("\r"))
	if len(data) > MaxEnvelopeSize {
		return nil, decodeErr("envelope exceeds %d bytes", MaxEnvelopeSize)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, decodeErr("empty envelope")
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, decodeErr("malformed structure: %v", err)
	}

	var (
		env Envelope
		err error
	)
	switch h.Kind {
	case KindCommand:
		env, err = decodeCommand(data)
	case KindResponse:
		env, err = decodeResponse(data)
	case KindEvent:
		env, err = decodeEvent(data)
	case "":
		return nil, decodeErr("missing kind discriminator")
	default:
		return nil, decodeErr("unknown kind %q", h.Kind)
	}
	if err != nil {
		return nil, err
	}
	return env, nil
}

// DecodeCommand decodes data and requires it to be a command.
func DecodeCommand(data []byte) (Command, error) {
	env, err := Decode(data)
	if err != nil {
		return Command{}, err
	}
	cmd, ok := env.(Command)
	if !ok {
		return Command{}, decodeErr("expected command, got %s", env.Kind())
	}
	return cmd, nil
}

func decodeCommand(data []byte) (Command, error) {
	var w commandWire
	if err := strictUnmarshal(data, &w); err != nil {
		return Command{}, decodeErr("malformed command: %v", err)
	}
	if w.Command == "" {
		return Command{}, decodeErr("missing command type")
	}
	if !w.Command.Valid() {
		return Command{}, decodeErr("unknown command type %q", w.Command)
	}
	for i, p := range w.Params {
		if len(p) > MaxMessageLength {
			return Command{}, decodeErr("parameter %d exceeds %d bytes", i, MaxMessageLength)
		}
	}
	return Command{Type: w.Command, Params: w.Params, Timestamp: w.Timestamp}, nil
}

func decodeResponse(data []byte) (Response, error) {
	var w responseWire
	if err := strictUnmarshal(data, &w); err != nil {
		return Response{}, decodeErr("malformed response: %v", err)
	}
	if w.Response == "" {
		return Response{}, decodeErr("missing response type")
	}
	if !w.Response.Valid() {
		return Response{}, decodeErr("unknown response type %q", w.Response)
	}
	r := Response{Type: w.Response, Success: w.Success, Message: w.Message, Timestamp: w.Timestamp}
	if w.ErrorCode != nil {
		if !w.ErrorCode.Valid() {
			return Response{}, decodeErr("unknown error code %q", *w.ErrorCode)
		}
		r.ErrorCode = *w.ErrorCode
	}

	var err error
	switch w.Response {
	case ResponseSuccess:
		if !isNull(w.Data) {
			var d ResultData
			err = strictUnmarshal(w.Data, &d)
			r.Data = d
		}
	case ResponseError:
		if !isNull(w.Data) {
			err = errors.New("error responses carry no data")
		}
	case ResponseChannelList:
		var d ChannelListData
		if err = requireData(w.Data); err == nil {
			err = strictUnmarshal(w.Data, &d)
		}
		r.Data = d
	case ResponseHelpText:
		var d HelpData
		if err = requireData(w.Data); err == nil {
			err = strictUnmarshal(w.Data, &d)
		}
		r.Data = d
	}
	if err != nil {
		return Response{}, decodeErr("%s data: %v", w.Response, err)
	}
	return r, nil
}

func decodeEvent(data []byte) (Event, error) {
	var w eventWire
	if err := strictUnmarshal(data, &w); err != nil {
		return Event{}, decodeErr("malformed event: %v", err)
	}
	if w.Event == "" {
		return Event{}, decodeErr("missing event type")
	}
	if !w.Event.Valid() {
		return Event{}, decodeErr("unknown event type %q", w.Event)
	}
	if err := requireData(w.Data); err != nil {
		return Event{}, decodeErr("%s data: %v", w.Event, err)
	}

	var (
		payload EventData
		err     error
	)
	switch w.Event {
	case EventUserJoined, EventUserLeft:
		var d MembershipData
		err = strictUnmarshal(w.Data, &d)
		payload = d
	case EventMessageBroadcast:
		var d MessageData
		err = strictUnmarshal(w.Data, &d)
		payload = d
	case EventChannelCreated, EventChannelDeleted:
		var d ChannelData
		err = strictUnmarshal(w.Data, &d)
		payload = d
	case EventNickChanged:
		var d NickChangeData
		err = strictUnmarshal(w.Data, &d)
		payload = d
	}
	if err != nil {
		return Event{}, decodeErr("%s data: %v", w.Event, err)
	}
	return Event{Type: w.Event, Data: payload, Timestamp: w.Timestamp}, nil
}

func checkResponseData(t ResponseType, d ResponseData) error {
	ok := false
	switch t {
	case ResponseSuccess:
		_, isResult := d.(ResultData)
		ok = d == nil || isResult
	case ResponseError:
		ok = d == nil
	case ResponseChannelList:
		_, ok = d.(ChannelListData)
	case ResponseHelpText:
		_, ok = d.(HelpData)
	}
	if !ok {
		return fmt.Errorf("%s response cannot carry %T", t, d)
	}
	return nil
}

func checkEventData(t EventType, d EventData) error {
	ok := false
	switch t {
	case EventUserJoined, EventUserLeft:
		_, ok = d.(MembershipData)
	case EventMessageBroadcast:
		_, ok = d.(MessageData)
	case EventChannelCreated, EventChannelDeleted:
		_, ok = d.(ChannelData)
	case EventNickChanged:
		_, ok = d.(NickChangeData)
	}
	if !ok {
		return fmt.Errorf("%s event cannot carry %T", t, d)
	}
	return nil
}

// checkUTF8 rejects strings that JSON would silently rewrite to U+FFFD.
func checkUTF8(v reflect.Value, path string) error {
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return fmt.Errorf("%s is not valid UTF-8", path)
		}
	case reflect.Interface, reflect.Pointer:
		if !v.IsNil() {
			return checkUTF8(v.Elem(), path)
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			if err := checkUTF8(v.Index(i), fmt.Sprintf("%s[%d]", path, i)); err != nil {
				return err
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < v.NumField(); i++ {
			if err := checkUTF8(v.Field(i), path+"."+t.Field(i).Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after object")
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func requireData(raw json.RawMessage) error {
	if isNull(raw) {
		return errors.New("missing data")
	}
	return nil
}
