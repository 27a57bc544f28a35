package server

import (
	"fmt"
)

// Fault is the structured error of the command surface. Code doubles as
// the HTTP status of the response carrying it.
type Fault struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	FaultBadRequest   = 400
	FaultUnknownMote  = 404
	FaultConflict     = 409
	FaultInternal     = 500
	FaultNotSupported = 501
	FaultTimeout      = 504
)

func (f *Fault) Error() string {
	return fmt.Sprintf("fault code=%d message=%s", f.Code, f.Message)
}

func newFault(code int, format string, args ...interface{}) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}
