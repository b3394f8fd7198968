// Package service implements the request handlers shared by the HTTP and
// gRPC façades. Every handler takes a loosely typed payload and returns a
// status/body envelope; failures never escape as Go errors.
package service

import "net/http"

// Payload is a decoded request body.
type Payload map[string]any

// Status is the envelope status of a reply.
type Status struct {
	IsDone     bool `json:"is_done"`
	HasError   bool `json:"has_error"`
	IsStream   bool `json:"is_stream"`
	StatusCode int  `json:"status_code"`
}

// Reply is the status/body envelope returned by every handler.
type Reply struct {
	Status Status         `json:"status"`
	Body   map[string]any `json:"body"`
}

func ok(body map[string]any) Reply {
	return Reply{
		Status: Status{IsDone: true, StatusCode: http.StatusOK},
		Body:   body,
	}
}

func message(msg string) map[string]any {
	return map[string]any{"message": msg}
}

// fail builds an error reply. Errors leave is_done unset.
func fail(code int, msg string) Reply {
	return Reply{
		Status: Status{HasError: true, StatusCode: code},
		Body:   message(msg),
	}
}

// BadRequest is a malformed request.
func BadRequest(msg string) Reply {
	return fail(http.StatusBadRequest, msg)
}

// Conflict is a request against a model in the wrong lifecycle state.
func Conflict(msg string) Reply {
	return fail(http.StatusConflict, msg)
}

// InternalError is a failure while serving a well-formed request.
func InternalError(msg string) Reply {
	return fail(http.StatusInternalServerError, msg)
}

// alreadyLoaded is a finished call with a conflict code and no error flag.
func alreadyLoaded() Reply {
	return Reply{
		Status: Status{IsDone: true, StatusCode: http.StatusConflict},
		Body:   message("Model already loaded"),
	}
}
