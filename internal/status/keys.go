package status

// Well-known keys and values shared by the hub, heartbeat monitor, and task
// service. Kept here so every writer and reader agrees on spelling.

const (
	// AggregateKey is the global "any connection alive" flag.
	AggregateKey = "extension_connection_status"

	// Connected / Disconnected are the values of liveness keys.
	Connected    = "connected"
	Disconnected = "disconnected"
)

// Task status values for the producer polling contract.
const (
	TaskQueued     = "queued"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// ConnKey returns the per-connection liveness key.
func ConnKey(connID string) string { return "conn:" + connID }

// TaskStatusKey returns the status key for a task.
func TaskStatusKey(taskID string) string { return "task:" + taskID + ":status" }

// TaskResultKey returns the result key for a task.
func TaskResultKey(taskID string) string { return "task:" + taskID + ":result" }
