package wal

import "errors"

var (
	// ErrIntegrity is returned by replay on a CRC mismatch; the caller
	// decides whether to stop or skip past it.
	ErrIntegrity = errors.New("wal: integrity error")
	// ErrPoisoned is returned by every append after a flush has failed;
	// the writer must be closed and the file reopened.
	ErrPoisoned = errors.New("wal: writer poisoned by a prior flush failure")
	// ErrRecordTooLarge is returned when a payload exceeds the 65535
	// byte limit the packed header can express.
	ErrRecordTooLarge = errors.New("wal: record payload exceeds 65535 bytes")
	// ErrSeqOverflow is returned when the next sequence number would
	// exceed the 40-bit range the packed header can express.
	ErrSeqOverflow = errors.New("wal: sequence number overflow")
)
