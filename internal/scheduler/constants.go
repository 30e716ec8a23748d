package scheduler

import "time"

const (
	// defaultStopTimeout bounds how long Stop waits for in-flight refreshes
	defaultStopTimeout = 5 * time.Second

	// firstGeneration is the generation of tasks registered before any UnregisterAll
	firstGeneration uint64 = 1
)
