package core

import "github.com/vovakirdan/betairc-server/internal/proto"

// CoreError wraps a protocol response code and a human-readable message.
// Every client-facing failure in the registries and dispatcher is one of
// these; they are recovered into a response on the same connection and never
// crash the dispatching worker.
type CoreError struct {
	Code    proto.Code
	Message string
}

func (e *CoreError) Error() string {
	return e.Message
}

func badRequest(msg string) *CoreError {
	return &CoreError{Code: proto.CodeBadRequest, Message: msg}
}

func unauthorized(msg string) *CoreError {
	return &CoreError{Code: proto.CodeUnauthorized, Message: msg}
}

func forbidden(msg string) *CoreError {
	return &CoreError{Code: proto.CodeForbidden, Message: msg}
}

func notFound(msg string) *CoreError {
	return &CoreError{Code: proto.CodeNotFound, Message: msg}
}
