// Package types defines the core vocabulary shared by the worker layer: capability types,
// priorities, lifecycle states and execution metrics
package types

import (
	"fmt"
	"time"
)

// WorkerType identifies which specialized worker a request targets
type WorkerType string

const (
	// WorkerTypeSearch handles index maintenance and fuzzy queries
	WorkerTypeSearch WorkerType = "search"
	// WorkerTypeEncryption handles key derivation, encryption and decryption
	WorkerTypeEncryption WorkerType = "encryption"
	// WorkerTypeFileProcessing handles chunking, assembly and hashing of attachments
	WorkerTypeFileProcessing WorkerType = "fileProcessing"
)

// AllWorkerTypes returns every known capability type
func AllWorkerTypes() []WorkerType {
	return []WorkerType{WorkerTypeSearch, WorkerTypeEncryption, WorkerTypeFileProcessing}
}

// Valid reports whether t names a known capability
func (t WorkerType) Valid() bool {
	switch t {
	case WorkerTypeSearch, WorkerTypeEncryption, WorkerTypeFileProcessing:
		return true
	default:
		return false
	}
}

// String returns the wire name of the worker type
func (t WorkerType) String() string {
	return string(t)
}

// Priority orders queued requests; higher values are dequeued first. The zero value is
// PriorityNormal.
type Priority int

const (
	// PriorityLow is served after every normal and high request
	PriorityLow Priority = -1
	// PriorityNormal is the default priority
	PriorityNormal Priority = 0
	// PriorityHigh jumps ahead of every queued normal and low request
	PriorityHigh Priority = 1
)

// String returns the string representation of Priority
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority parses "low", "normal" or "high"; the empty string means normal
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority %q", s)
	}
}

// WorkerState is the lifecycle state of a worker instance
type WorkerState int32

const (
	// StateUninitialized means no instance exists for the type
	StateUninitialized WorkerState = iota
	// StateInitializing means the instance is waiting for its first probe
	StateInitializing
	// StateHealthy means the instance is idle and accepting work
	StateHealthy
	// StateBusy means the instance is healthy with requests in flight
	StateBusy
	// StateUnhealthy means a probe failed or the unit faulted
	StateUnhealthy
	// StateTerminated is final for an instance object
	StateTerminated
)

// String returns the string representation of WorkerState
func (s WorkerState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateHealthy:
		return "healthy"
	case StateBusy:
		return "busy"
	case StateUnhealthy:
		return "unhealthy"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Operation names a request kind understood by a worker
type Operation string

const (
	// OpPing is the reserved health probe
	OpPing Operation = "ping"

	OpDeriveKey Operation = "deriveKey"
	OpEncrypt   Operation = "encrypt"
	OpDecrypt   Operation = "decrypt"

	OpIndex  Operation = "index"
	OpQuery  Operation = "query"
	OpRemove Operation = "remove"

	OpChunkFile    Operation = "chunkFile"
	OpAssembleFile Operation = "assembleFile"
	OpHashFile     Operation = "hashFile"
)

// ExecMetrics are reported by a worker alongside a response
type ExecMetrics struct {
	// Duration is the handler execution time inside the unit
	Duration time.Duration

	// MemoryUsed is the number of payload bytes the handler produced
	MemoryUsed uint64

	// CPUUsage is the fraction of wall time spent on CPU; 0 when not measured
	CPUUsage float64
}
