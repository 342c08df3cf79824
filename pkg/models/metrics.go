package models

import "time"

// UtilizationSample is a single point-in-time reading of RAM and swap usage.
// Sizes are in megabytes.
type UtilizationSample struct {
	Timestamp       time.Time `json:"timestamp"`
	RAMUsedPercent  float64   `json:"ram_used_percent"`
	RAMUsedMB       float64   `json:"ram_used_mb"`
	RAMTotalMB      float64   `json:"ram_total_mb"`
	SwapUsedPercent float64   `json:"swap_used_percent"`
	SwapUsedMB      float64   `json:"swap_used_mb"`
	SwapTotalMB     float64   `json:"swap_total_mb"`
}

// SlotInfo describes one additional swap file slot
type SlotInfo struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
	Active bool   `json:"active"`
}

// Report is the one-shot view printed by the status command
type Report struct {
	Sample   *UtilizationSample `json:"sample"`
	Slots    []SlotInfo         `json:"slots"`
	InUse    int                `json:"in_use"`
	MaxSlots int                `json:"max_slots"`
}

// RemovalReport summarizes a remove-all pass over the swap slots
type RemovalReport struct {
	Removed  []string `json:"removed,omitempty"`
	Retained []string `json:"retained,omitempty"` // Found but left on disk (still active or undeletable)
}

// Found returns the number of slot files that existed when the pass started
func (r RemovalReport) Found() int {
	return len(r.Removed) + len(r.Retained)
}

// AgentStatus is a snapshot of the monitor loop counters
type AgentStatus struct {
	Version     string             `json:"version"`
	Uptime      uint64             `json:"uptime"` // seconds
	Ticks       uint64             `json:"ticks"`
	LastSample  *UtilizationSample `json:"last_sample,omitempty"`
	LastTick    time.Time          `json:"last_tick"`
	Optimizes   uint64             `json:"optimizes"`
	Expansions  uint64             `json:"expansions"`
	Shrinks     uint64             `json:"shrinks"`
	Emergencies uint64             `json:"emergencies"`
	ErrorCount  uint64             `json:"error_count"`
	Status      string             `json:"status"` // "running", "stopped"
}
