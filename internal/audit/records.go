// Copyright 2026 Red Hat
// SPDX-License-Identifier: Apache-2.0

package audit

import "time"

// RunCounts holds the summary counters of a pipeline run.
type RunCounts struct {
	Units      int
	Waves      int
	Completed  int
	Failed     int
	RolledBack int
	Skipped    int
}

// CleanupCounts holds the counters of a cleanup run.
type CleanupCounts struct {
	VMsDeleted         int
	DataVolumesDeleted int
	SecretsDeleted     int
	NamespaceDeleted   bool
}

// WaveRecord holds data for upserting a wave_details row. Finished marks
// the final write of a wave.
type WaveRecord struct {
	Index          int
	UnitCount      int
	MaxConcurrency int
	Independent    bool
	Status         string
	Completed      int
	RolledBack     int
	ErrorDetail    string
	Finished       bool
}

// UnitRecord holds data for upserting a unit_details row.
type UnitRecord struct {
	UnitID       string
	OSFamily     string
	SizeClass    string
	SourceEnv    string
	Phase        string
	TotalRetries int
	LastError    string
}

// PhaseResultRecord holds data for inserting a phase_results row.
type PhaseResultRecord struct {
	UnitID      string
	Phase       string
	Attempt     int
	Success     bool
	Duration    time.Duration
	ErrorKind   string
	ErrorDetail string
	Retriable   bool
	Terminal    bool
	FinishedAt  time.Time
}

// DriftRecord holds data for inserting a drift_reports row.
type DriftRecord struct {
	ResourceName  string
	ResourceKind  string
	HasDrift      bool
	Missing       bool
	DifferingKeys []string
}

// EventRecord holds data for inserting an events row.
type EventRecord struct {
	UnitID      string
	WaveIndex   *int
	EventType   string
	Message     string
	ErrorDetail string
}
