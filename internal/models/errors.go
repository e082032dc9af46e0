package models

// SyncError is a domain error of the synchronization layer
type SyncError struct {
	Message string
}

func (e SyncError) Error() string {
	return e.Message
}

var (
	ErrMissingUserID      = SyncError{"user ID is required"}
	ErrRecordNotFound     = SyncError{"record not found"}
	ErrUnknownTable       = SyncError{"unknown table"}
	ErrReadOnlyTable      = SyncError{"table is read-only"}
	ErrInvalidOperation   = SyncError{"invalid pending operation kind"}
	ErrInvalidOperationID = SyncError{"pending operation has no id"}
	ErrTempIDMutation     = SyncError{"update or delete targets a record that was never created remotely"}
	ErrImmutableField     = SyncError{"natural key fields cannot be changed"}
	ErrIncompleteKey      = SyncError{"record is missing natural key fields"}
)
