package dap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
)

const headerSeparator = "\r\n\r\n"

// Decoder deframes a bidirectional byte stream into polymorphic DAP
// messages (spec.md §4.1 "Inbound"). It is not safe for concurrent use;
// each Conn owns exactly one Decoder on its receive side.
type Decoder struct {
	registry *Registry
	buf      []byte
	nextSeq  int
}

func NewDecoder(registry *Registry) *Decoder {
	if registry == nil {
		registry = DefaultRegistry()
	}
	return &Decoder{registry: registry, nextSeq: 1}
}

// Feed appends newly-read bytes to the receive buffer.
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Next attempts to extract one complete message from the buffer. It
// returns ErrIncomplete (not a protocol error) when more bytes must be fed
// before a full frame is available.
func (d *Decoder) Next() (dap.Message, error) {
	sep := bytes.Index(d.buf, []byte(headerSeparator))
	if sep < 0 {
		return nil, ErrIncomplete
	}

	contentLength, err := parseContentLength(d.buf[:sep])
	if err != nil {
		return nil, err
	}

	bodyStart := sep + len(headerSeparator)
	bodyEnd := bodyStart + contentLength
	if len(d.buf) < bodyEnd {
		return nil, ErrIncomplete
	}

	body := d.buf[bodyStart:bodyEnd]
	d.buf = d.buf[bodyEnd:]

	msg, err := d.decodeBody(body)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func parseContentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, errors.Wrap(ErrMissingContentLength, err.Error())
		}
		return n, nil
	}
	return 0, ErrMissingContentLength
}

// DecodeBody decodes a bare JSON body with no Content-Length framing,
// applying the same seq-validation and registry lookup as Next. Used by
// the message-queue transport (§4.3), whose own 4-byte length prefix
// already delimits the payload.
func (d *Decoder) DecodeBody(body []byte) (dap.Message, error) {
	return d.decodeBody(body)
}

func (d *Decoder) decodeBody(body []byte) (dap.Message, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(ErrMalformedJSON, err.Error())
	}

	seqF, ok := raw["seq"].(float64)
	if !ok {
		return nil, &MalformedFieldError{Field: "seq"}
	}
	seq := int(seqF)
	if seq != d.nextSeq {
		return nil, &OutOfSequenceError{Expected: d.nextSeq, Got: seq}
	}

	typ, _ := raw["type"].(string)

	var msg dap.Message
	switch typ {
	case "request":
		command, _ := raw["command"].(string)
		newFn, ok := d.registry.request(command)
		if !ok {
			return nil, &UnknownMessageError{Kind: "request", ID: command}
		}
		msg = newFn()

	case "response":
		command, _ := raw["command"].(string)
		if success, _ := raw["success"].(bool); !success {
			msg = &dap.ErrorResponse{}
		} else {
			newFn, ok := d.registry.response(command)
			if !ok {
				return nil, &UnknownMessageError{Kind: "response", ID: command}
			}
			msg = newFn()
		}

	case "event":
		event, _ := raw["event"].(string)
		newFn, ok := d.registry.event(event)
		if !ok {
			return nil, &UnknownMessageError{Kind: "event", ID: event}
		}
		msg = newFn()

	default:
		return nil, &UnknownMessageError{Kind: "type", ID: typ}
	}

	if err := json.Unmarshal(body, msg); err != nil {
		return nil, errors.Wrap(ErrMalformedJSON, err.Error())
	}

	d.nextSeq++
	return msg, nil
}

// Encoder frames and serializes outbound DAP messages (spec.md §4.1
// "Outbound"), stamping the next sequence number and the message's `type`
// discriminator before each send. Safe for concurrent use: outbound seq
// assignment is serialized by an internal mutex so concurrent senders
// never race on the counter (spec.md §5 "Outbound DAP sequence numbers are
// assigned strictly in enqueue order").
type Encoder struct {
	mu      sync.Mutex
	nextSeq int
}

func NewEncoder() *Encoder {
	return &Encoder{nextSeq: 1}
}

// Marshal stamps seq/type and serializes msg to its wire form, without
// writing it anywhere. Useful for tests and for this package's own Conn.
func (e *Encoder) Marshal(msg dap.Message) ([]byte, error) {
	body, err := e.MarshalBody(msg)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "Content-Length: %d%s", len(body), headerSeparator)
	out.Write(body)
	return out.Bytes(), nil
}

// MarshalBody stamps seq/type and serializes msg to its JSON body only,
// without the Content-Length header. The message-queue transport (§4.3)
// reuses this as its payload format, prefixed with its own 4-byte
// length-prefix instead of an HTTP-style header (spec.md §4.3's
// "Serialization note").
func (e *Encoder) MarshalBody(msg dap.Message) ([]byte, error) {
	e.mu.Lock()
	seq := e.nextSeq
	e.nextSeq++
	e.mu.Unlock()

	stampSeqAndType(msg, seq)

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "dap: marshal body")
	}
	return body, nil
}

func stampSeqAndType(msg dap.Message, seq int) {
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	pm := findProtocolMessage(v)
	if !pm.IsValid() {
		return
	}

	pm.FieldByName("Seq").SetInt(int64(seq))

	switch msg.(type) {
	case dap.RequestMessage:
		pm.FieldByName("Type").SetString("request")
	case dap.ResponseMessage:
		pm.FieldByName("Type").SetString("response")
	case dap.EventMessage:
		pm.FieldByName("Type").SetString("event")
	}
}

var protocolMessageType = reflect.TypeOf(dap.ProtocolMessage{})

// findProtocolMessage walks embedded struct fields to locate the shared
// ProtocolMessage{Seq, Type} every concrete DAP message type embeds,
// directly or (for request/response/event) one level removed. Reflection
// replaces an exhaustive type switch here because the set of concrete
// message types is large and already data-driven through the Registry.
func findProtocolMessage(v reflect.Value) reflect.Value {
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type == protocolMessageType {
			return v.Field(i)
		}
		if f.Anonymous {
			if pm := findProtocolMessage(v.Field(i)); pm.IsValid() {
				return pm
			}
		}
	}
	return reflect.Value{}
}
