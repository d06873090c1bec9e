package models

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a fatal pipeline failure class.
type ErrorCode string

const (
	CodeInvalidK          ErrorCode = "INVALID_K"
	CodeInvalidAsOf       ErrorCode = "INVALID_AS_OF"
	CodeInvalidRunID      ErrorCode = "INVALID_RUN_ID"
	CodeCancelled         ErrorCode = "CANCELLED"
	CodeRunInProgress     ErrorCode = "RUN_ALREADY_IN_PROGRESS"
	CodeStorageFailure    ErrorCode = "STORAGE_FAILURE"
	CodeEmptyClusterAbort ErrorCode = "EMPTY_CLUSTER"
)

// Stage names identify which pipeline stage aborted a run.
const (
	StageIngest  = "ingest"
	StageFeature = "features"
	StageCluster = "cluster"
	StagePersist = "persist"
	StageClaim   = "claim"
	StageConfig  = "config"
)

// PipelineError is the structured error returned by every aborted run. It
// names the failing stage and carries a machine-readable code; row-level
// validation failures are data (RejectedRow), never a PipelineError.
type PipelineError struct {
	Stage string
	Code  ErrorCode
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Code)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is allows errors.Is against a code-only sentinel, e.g.
// errors.Is(err, &PipelineError{Code: CodeInvalidK}).
func (e *PipelineError) Is(target error) bool {
	var pe *PipelineError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Code == e.Code && (pe.Stage == "" || pe.Stage == e.Stage)
}

// NewPipelineError wraps err with a stage and code.
func NewPipelineError(stage string, code ErrorCode, err error) *PipelineError {
	return &PipelineError{Stage: stage, Code: code, Err: err}
}

// Errf builds a PipelineError from a format string.
func Errf(stage string, code ErrorCode, format string, args ...any) *PipelineError {
	return &PipelineError{Stage: stage, Code: code, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not a PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
