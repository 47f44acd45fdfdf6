package models

import (
	"fmt"
	"time"
)

type WorkerStatus int

const (
	WorkerAvailable WorkerStatus = iota
	WorkerDraining
	WorkerUnresponsive
)

func (s WorkerStatus) String() string {
	switch s {
	case WorkerAvailable:
		return "available"
	case WorkerDraining:
		return "draining"
	case WorkerUnresponsive:
		return "unresponsive"
	}
	return "unknown"
}

func (s WorkerStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *WorkerStatus) UnmarshalText(text []byte) error {
	for _, status := range []WorkerStatus{WorkerAvailable, WorkerDraining, WorkerUnresponsive} {
		if status.String() == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("unknown worker status %q", text)
}

// WorkerInfo is a point-in-time view of one inference worker
type WorkerInfo struct {
	ID            string       `json:"id"`
	Status        WorkerStatus `json:"status"`
	Load          int          `json:"load"`
	Capacity      int          `json:"capacity"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Completed     uint64       `json:"completed"`
	Failed        uint64       `json:"failed"`
}
