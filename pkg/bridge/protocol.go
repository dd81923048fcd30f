package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the only protocol version this bridge speaks.
const Version = 1

// Request models bridge requests.
type Request struct {
	V      *int            `json:"v,omitempty"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response models bridge responses. Exactly one of Result/Error is meaningful,
// selected by OK.
type Response struct {
	V      int             `json:"v"`
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// NewRequest builds a request stamped with the current protocol version.
func NewRequest(id, method string, params json.RawMessage) Request {
	v := Version
	return Request{V: &v, ID: id, Method: method, Params: params}
}

// NewResult builds a success response.
func NewResult(id string, result json.RawMessage) Response {
	return Response{V: Version, ID: id, OK: true, Result: result}
}

// NewFailure builds a failure response.
func NewFailure(id string, e *Error) Response {
	return Response{V: Version, ID: id, OK: false, Error: e}
}

// EncodeRequest serializes req.
func EncodeRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

// ParseRequest decodes raw and validates it in dispatch order: id, version,
// method. The returned *Error carries the protocol code; the request is
// returned alongside so the caller can echo its id.
func ParseRequest(raw []byte) (Request, *Error) {
	var req Request
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return req, Errorf(CodeInvalidRequest, "Invalid JSON: expected an object", nil)
	}
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return Request{}, Errorf(CodeInvalidRequest, "Invalid JSON: "+err.Error(), nil)
	}
	if strings.TrimSpace(req.ID) == "" {
		req.ID = ""
		return req, Errorf(CodeInvalidRequest, "Missing request id", nil)
	}
	if req.V != nil && *req.V != Version {
		return req, Errorf(CodeVersionNotSupported, fmt.Sprintf("Unsupported protocol version: %d", *req.V), nil)
	}
	if strings.TrimSpace(req.Method) == "" {
		return req, Errorf(CodeInvalidRequest, "Missing method", nil)
	}
	if isNull(req.Params) {
		req.Params = nil
	}
	return req, nil
}

// EncodeResponse serializes resp. Result and details are written verbatim.
func EncodeResponse(resp Response) ([]byte, error) {
	if resp.OK {
		resp.Error = nil
	} else {
		resp.Result = nil
	}
	return json.Marshal(resp)
}

// DecodeResponse parses a response envelope. Messages without an "ok" field
// are not responses and are rejected.
func DecodeResponse(raw []byte) (Response, error) {
	var wire struct {
		V      *int            `json:"v"`
		ID     string          `json:"id"`
		OK     *bool           `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	if wire.OK == nil {
		return Response{}, fmt.Errorf("decode response: missing ok")
	}
	resp := Response{V: Version, ID: wire.ID, OK: *wire.OK}
	if wire.V != nil {
		resp.V = *wire.V
	}
	if resp.OK {
		if !isNull(wire.Result) {
			resp.Result = wire.Result
		}
	} else {
		resp.Error = wire.Error
		if resp.Error == nil {
			resp.Error = Errorf("unknown", "Unknown error", nil)
		}
	}
	return resp, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
