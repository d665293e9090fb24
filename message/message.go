// Package message defines the call envelopes exchanged between client and server.
//
// A Request names the target (interface, version, method, parameter type descriptors) and carries
// the codec-encoded arguments. A Response carries either the encoded result or an error description.
// Both get serialized by the codec layer and wrapped in a length-prefixed frame for transmission.
package message

import (
	"fmt"
	"strings"
)

// Request carries the data for a single RPC call.
//
//   - ParamTypes and Params are parallel: Params[i] is the codec encoding of an argument whose
//     declared type is described by ParamTypes[i].
//   - Version "" selects the default version of the interface.
type Request struct {
	ID         uint64   // Correlation id, unique among in-flight requests on one connection
	Interface  string   // Service interface name, e.g. "HelloService"
	Version    string   // Opaque version key, "" = default
	Method     string   // Wire method name, e.g. "hello"
	ParamTypes []string // Type descriptors, see TypeDescriptor
	Params     [][]byte // Codec-encoded argument values
}

// Response carries the outcome of a Request with the same ID.
//
//   - On success: Result holds the encoded return value (nil for methods without one), Error is empty.
//   - On failure: Error describes what went wrong, Result is nil.
type Response struct {
	ID     uint64
	Result []byte
	Error  string
}

// Validate checks the structural invariants of a request.
func (r *Request) Validate() error {
	if r.Interface == "" {
		return fmt.Errorf("%w: empty interface name", ErrProtocol)
	}
	if r.Method == "" {
		return fmt.Errorf("%w: empty method name", ErrProtocol)
	}
	if len(r.ParamTypes) != len(r.Params) {
		return fmt.Errorf("%w: %d parameter types but %d parameter values", ErrProtocol, len(r.ParamTypes), len(r.Params))
	}
	return nil
}

// ServiceKey returns "Interface" for the default version and "Interface@Version" otherwise.
func (r *Request) ServiceKey() string {
	return ServiceKey(r.Interface, r.Version)
}

// Signature returns the method with its descriptor list, e.g. "hello(string)".
func (r *Request) Signature() string {
	return MethodKey(r.Method, r.ParamTypes)
}

// Failed reports whether the response carries an error.
func (r *Response) Failed() bool {
	return r.Error != ""
}

// ServiceKey formats an (interface, version) pair.
func ServiceKey(name, version string) string {
	if version == "" {
		return name
	}
	return name + "@" + version
}

// MethodKey formats a method name and its descriptor sequence.
func MethodKey(method string, paramTypes []string) string {
	return method + "(" + strings.Join(paramTypes, ",") + ")"
}

// ErrorResponse builds a failed response for the request id. An error with empty text
// is described by its type so the response still reads as failed.
func ErrorResponse(id uint64, err error) *Response {
	msg := err.Error()
	if msg == "" {
		msg = fmt.Sprintf("%s: %T with empty message", ErrRemoteInvocation, err)
	}
	return &Response{ID: id, Error: msg}
}
