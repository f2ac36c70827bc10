package cache

import "fmt"

// ValidationError rejects bad input before any tier I/O happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Msg)
}

// TierReadError is a tier-local read failure. The orchestrator swallows
// these and degrades to a miss; they never reach the caller.
type TierReadError struct {
	Tier string
	Err  error
}

func (e *TierReadError) Error() string {
	return fmt.Sprintf("%s read failed: %v", e.Tier, e.Err)
}

func (e *TierReadError) Unwrap() error { return e.Err }

// TierWriteError is a tier-local write failure, logged and otherwise ignored.
type TierWriteError struct {
	Tier string
	Err  error
}

func (e *TierWriteError) Error() string {
	return fmt.Sprintf("%s write failed: %v", e.Tier, e.Err)
}

func (e *TierWriteError) Unwrap() error { return e.Err }
