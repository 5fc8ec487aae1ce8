package cache

import "fmt"

// PurgeError reports a purge that could not complete.
type PurgeError struct {
	Cache string
	Msg   string
	Err   error
}

func (e *PurgeError) Error() string {
	if e.Err != nil {
		return e.Msg + " " + e.Err.Error()
	}
	return e.Msg
}

func (e *PurgeError) Unwrap() error {
	return e.Err
}

// BuilderError reports a cache artifact that could not be written.
type BuilderError struct {
	Cache        string
	RelativePath string
	Msg          string
	Err          error
}

func (e *BuilderError) Error() string {
	msg := fmt.Sprintf("%s failed to create cache file for '%s'.", e.Cache, e.RelativePath)
	if e.Msg != "" {
		msg += " " + e.Msg
	}
	if e.Err != nil {
		msg += " " + e.Err.Error()
	}
	return msg
}

func (e *BuilderError) Unwrap() error {
	return e.Err
}

type ResourceNotFoundError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ResourceNotFoundError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "Resource not found."
	}
	return fmt.Sprintf("Unable to retrieve '%s': %s", e.Path, reason)
}

func (e *ResourceNotFoundError) Unwrap() error {
	return e.Err
}

type InvalidTypeError struct {
	Path     string
	Expected string
	Reason   string
}

func (e *InvalidTypeError) Error() string {
	return fmt.Sprintf("Unable to adapt '%s' to %s: %s", e.Path, e.Expected, e.Reason)
}
