package model

// ModelError defines custom error types for lookup-table operations
type ModelError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

func (e *ModelError) Error() string {
	return e.Message
}

// Common error types
var (
	ErrNotFound          = &ModelError{Type: "not_found", Message: "label not found in vocabulary", Code: 2001}
	ErrInvalidDimension  = &ModelError{Type: "invalid_dimension", Message: "vector size must be positive", Code: 2002}
	ErrInvalidSnapshot   = &ModelError{Type: "invalid_snapshot", Message: "snapshot file is malformed", Code: 2003}
	ErrSnapshotVersion   = &ModelError{Type: "snapshot_version", Message: "unsupported snapshot version", Code: 2004}
	ErrInvalidNeighbourK = &ModelError{Type: "invalid_k", Message: "neighbor count must be positive", Code: 2005}
)
