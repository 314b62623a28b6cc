package dap

import (
	"reflect"

	"github.com/google/go-dap"
)

// findEmbedded recursively searches v's embedded struct fields for one
// of type target, the same technique stampSeqAndType uses to locate
// ProtocolMessage. Exported wrappers below apply it to Response and
// Request so broker-side code can read/synthesize request_seq
// and command without an exhaustive type switch over go-dap's message
// set.
func findEmbedded(v reflect.Value, target reflect.Type) reflect.Value {
	if v.Kind() != reflect.Struct {
		return reflect.Value{}
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type == target {
			return v.Field(i)
		}
		if f.Anonymous {
			if found := findEmbedded(v.Field(i), target); found.IsValid() {
				return found
			}
		}
	}
	return reflect.Value{}
}

func indirect(msg dap.Message) reflect.Value {
	v := reflect.ValueOf(msg)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return v
}

var responseType = reflect.TypeOf(dap.Response{})
var requestType = reflect.TypeOf(dap.Request{})

// SeqOf reads msg's own seq field (its embedded ProtocolMessage.Seq).
func SeqOf(msg dap.Message) int {
	pm := findProtocolMessage(indirect(msg))
	if !pm.IsValid() {
		return 0
	}
	return int(pm.FieldByName("Seq").Int())
}

// RequestSeqOf reads a response message's request_seq field, used by
// the broker to correlate a forwarded request with its eventual
// response (spec.md §4.4 "correlates responses").
func RequestSeqOf(msg dap.Message) (int, bool) {
	r := findEmbedded(indirect(msg), responseType)
	if !r.IsValid() {
		return 0, false
	}
	return int(r.FieldByName("RequestSeq").Int()), true
}

// CommandOf reads a request message's command field.
func CommandOf(msg dap.Message) (string, bool) {
	r := findEmbedded(indirect(msg), requestType)
	if !r.IsValid() {
		return "", false
	}
	return r.FieldByName("Command").String(), true
}

// StampRequestSeq overwrites msg's request_seq field, used by the broker
// to re-key a debuggee response under the client's own original
// request_seq before relaying it (spec.md §4.4 "its response is matched
// by request_seq and forwarded back").
func StampRequestSeq(msg dap.Message, requestSeq int) {
	r := findEmbedded(indirect(msg), responseType)
	if !r.IsValid() {
		return
	}
	r.FieldByName("RequestSeq").SetInt(int64(requestSeq))
}

// NewErrorResponse synthesizes an ErrorResponse for requestSeq/command,
// used by the broker when a forwarded request can never receive a real
// reply (spec.md §4.4 "the broker synthesizes an ErrorResponse so no
// client request is ever orphaned").
func NewErrorResponse(requestSeq int, command, message string) *dap.ErrorResponse {
	return &dap.ErrorResponse{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{Type: "response"},
			RequestSeq:      requestSeq,
			Success:         false,
			Command:         command,
		},
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{Format: message},
		},
	}
}
