package storage

import "errors"

var (
	// ErrStorageUnavailable is returned when the database cannot be opened,
	// upgraded, reset, or has been closed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrNotFound is returned by Get when no record has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrUnknownCollection is returned for names outside the schema table or
	// for collections not created at the opened version.
	ErrUnknownCollection = errors.New("unknown collection")
	// ErrKindMismatch is returned when a record operation targets a queue or
	// the other way around.
	ErrKindMismatch = errors.New("collection kind mismatch")
	// ErrInvalidRecord is returned for records without an id.
	ErrInvalidRecord = errors.New("invalid record")
	// ErrNotDedupable is returned by Deduplicate for collections that do not
	// hold result entries.
	ErrNotDedupable = errors.New("collection does not support deduplication")
)
