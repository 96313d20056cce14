package db

import "errors"

// ErrNotFound is returned when a document or a matching record does not exist.
var ErrNotFound = errors.New("document not found")
