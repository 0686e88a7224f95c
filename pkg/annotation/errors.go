package annotation

import "fmt"

// FormatError reports a label file whose JSON is malformed, violates the
// document schema, or references an undecodable mask or sample file name.
type FormatError struct {
	Path string
	Err  error
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("annotation: invalid label file %s: %v", e.Path, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }

// ContractError reports an otherData key that collides with a reserved
// field name.
type ContractError struct {
	// Scope is "document" or "shape N"
	Scope string
	Key   string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("annotation: %s extra key %q collides with a reserved field", e.Scope, e.Key)
}

// FileError wraps any failure reading or writing a label file
type FileError struct {
	Op   string
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("annotation: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
