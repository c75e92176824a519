package memory

import "errors"

// Storage-level integrity errors. The services check these conditions first, so
// reaching one of them means a caller bypassed validation.
var (
	errNotFound     = errors.New("memory: remittance not found")
	errDuplicateID  = errors.New("memory: remittance id already exists")
	errDuplicateRef = errors.New("memory: settlement reference already used")
	errRefImmutable = errors.New("memory: settlement reference already set")
)
