package interfaces

// WorkerStatus reports a background worker's run state
type WorkerStatus struct {
	Running   bool `json:"running"`    // Start was called and Stop has not completed
	LoopAlive bool `json:"loop_alive"` // The processing goroutine is still iterating
}

// Worker is a background loop with graceful start/stop semantics. Stop
// requests shutdown and blocks, bounded by the configured stop timeout,
// until the loop exits.
type Worker interface {
	Start() error
	Stop() error
	Status() WorkerStatus
}
