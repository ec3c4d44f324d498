package dispatcher

import "sync/atomic"

// ExitMethod is the reserved method that triggers graceful shutdown after its response is sent.
const ExitMethod = "exit"

// ShutdownFlag is the process-wide shutdown signal. The dispatch loop is its only writer;
// both loops read it.
type ShutdownFlag struct {
	set atomic.Bool
}

// Set raises the flag. It never goes back down.
func (f *ShutdownFlag) Set() {
	f.set.Store(true)
}

// IsSet reports whether shutdown was requested.
func (f *ShutdownFlag) IsSet() bool {
	return f.set.Load()
}
