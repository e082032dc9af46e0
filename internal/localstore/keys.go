package localstore

// Store keys outside the per-table record caches
const (
	KeyPendingSync = "pending_sync"
	KeyLastSync    = "last_sync"
	KeyDeadLetters = "dead_letter_sync"
)
