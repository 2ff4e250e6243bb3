package core

import "errors"

var (
	ErrInvalidID        = errors.New("invalid idc_id")
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
	ErrVersionNotFound  = errors.New("document version not found")
	ErrInvalidUpdate    = errors.New("invalid update")
	ErrProtectedField   = errors.New("field cannot be modified")
)
