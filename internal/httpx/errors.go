package httpx

import (
	"net/http"

	"github.com/sundayezeilo/linkgate/internal/errx"
)

type kindMapping struct {
	status int
	code   string
}

var internalMapping = kindMapping{http.StatusInternalServerError, "internal_error"}

// kindMappings pairs each user-facing kind with its status and JSON error code.
// Kinds missing here, Unknown and Internal included, are internal errors.
var kindMappings = map[errx.Kind]kindMapping{
	errx.Invalid:      {http.StatusBadRequest, "invalid_input"},
	errx.Unauthorized: {http.StatusUnauthorized, "unauthorized"},
	errx.NotFound:     {http.StatusNotFound, "not_found"},
	errx.Conflict:     {http.StatusConflict, "conflict"},
	errx.Unavailable:  {http.StatusServiceUnavailable, "unavailable"},
}

func mappingFor(kind errx.Kind) kindMapping {
	if m, ok := kindMappings[kind]; ok {
		return m
	}
	return internalMapping
}

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
func ErrorKindToStatus(kind errx.Kind) int {
	return mappingFor(kind).status
}

// ErrorKindToCode maps errx.Kind to the machine-readable code in JSON error bodies.
func ErrorKindToCode(kind errx.Kind) string {
	return mappingFor(kind).code
}
