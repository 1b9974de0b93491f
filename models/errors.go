package models

import "errors"

// Store errors shared by the DAOs and their in-memory stand-ins
var (
	ErrNotFound      = errors.New("not found")
	ErrDuplicate     = errors.New("duplicate record")
	ErrStatusChanged = errors.New("status changed concurrently")
)
