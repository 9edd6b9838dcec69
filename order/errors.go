package order

import "fmt"

// Error codes surfaced by the flow engine.
const (
	CodeUserInput          = "USER_INPUT"
	CodeCatalogUnavailable = "CATALOG_UNAVAILABLE"
	CodeStoreTransient     = "STORE_TRANSIENT"
	CodeUploadFailure      = "UPLOAD_FAILURE"
)

// FlowError classifies a flow failure. Most are handled inside the engine
// by re-prompting; the code survives for logging and tests.
type FlowError struct {
	code string
	msg  string
	err  error
}

func (e *FlowError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *FlowError) Unwrap() error { return e.err }

// Code returns the machine-readable error class.
func (e *FlowError) Code() string { return e.code }

func errUserInput(msg string) *FlowError {
	return &FlowError{code: CodeUserInput, msg: msg}
}

func errCatalogUnavailable(err error) *FlowError {
	return &FlowError{code: CodeCatalogUnavailable, msg: "catalog unavailable", err: err}
}

func errStoreTransient(err error) *FlowError {
	return &FlowError{code: CodeStoreTransient, msg: "store write failed", err: err}
}

func errUploadFailure(err error) *FlowError {
	return &FlowError{code: CodeUploadFailure, msg: "receipt upload failed", err: err}
}
