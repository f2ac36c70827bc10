package services

import (
	"encoding/json"
	"fmt"
)

// QualityChecker validates cached payloads against sanity rules. Checks run
// off the caller's path; a failure is logged by the orchestrator and never
// surfaces.
type QualityChecker interface {
	CheckDataQuality(data []byte) error
}

// BasicQualityChecker applies structural sanity rules: non-empty, bounded
// size, and well-formed JSON for payloads that claim to be JSON.
type BasicQualityChecker struct {
	MaxBytes int64
}

func NewBasicQualityChecker(maxBytes int64) *BasicQualityChecker {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &BasicQualityChecker{MaxBytes: maxBytes}
}

func (q *BasicQualityChecker) CheckDataQuality(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("payload is empty")
	}
	if int64(len(data)) > q.MaxBytes {
		return fmt.Errorf("payload size %d exceeds sanity bound %d", len(data), q.MaxBytes)
	}
	if data[0] == '{' || data[0] == '[' {
		if !json.Valid(data) {
			return fmt.Errorf("payload looks like JSON but does not parse")
		}
	}
	return nil
}
