package models

import (
	"path/filepath"
	"strings"
	"time"
)

// ResourceLocator identifies a remote video (usually a URL). The core does not
// parse it; the fetch adapter rejects malformed values at call time.
type ResourceLocator = string

// MediaMetadata is what a probe learns about a remote video without
// downloading it. Optional fields are left empty (or nil) when unknown.
type MediaMetadata struct {
	Title           string `json:"title"`
	Author          string `json:"author,omitempty"`
	DurationSeconds *int   `json:"duration_seconds,omitempty"`
	ThumbnailURL    string `json:"thumbnail_url,omitempty"`
}

// WorkItem is one source video scheduled for conversion to one audio file.
type WorkItem struct {
	SourcePath      string `json:"source_path"`
	DerivedTitle    string `json:"derived_title"`
	DestinationPath string `json:"destination_path"`
}

// AudioExtension is the output container implied by the MP3 codec.
const AudioExtension = ".mp3"

// NewWorkItem derives the title and destination path for a source video.
// The title is the file name without its extension.
func NewWorkItem(sourcePath, destDir string) WorkItem {
	name := filepath.Base(sourcePath)
	title := strings.TrimSuffix(name, filepath.Ext(name))
	return WorkItem{
		SourcePath:      sourcePath,
		DerivedTitle:    title,
		DestinationPath: filepath.Join(destDir, title+AudioExtension),
	}
}

// OutcomeStatus tags a ConversionOutcome.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "SUCCESS"
	OutcomeFailure OutcomeStatus = "FAILURE"
)

// ConversionOutcome is the terminal result of converting one WorkItem.
// DestinationPath is set on success, Reason on failure.
type ConversionOutcome struct {
	Item            WorkItem      `json:"item"`
	Status          OutcomeStatus `json:"status"`
	DestinationPath string        `json:"destination_path,omitempty"`
	Reason          string        `json:"reason,omitempty"`
}

// Succeeded builds a success outcome for item.
func Succeeded(item WorkItem) ConversionOutcome {
	return ConversionOutcome{
		Item:            item,
		Status:          OutcomeSuccess,
		DestinationPath: item.DestinationPath,
	}
}

// Failed builds a failure outcome for item.
func Failed(item WorkItem, reason string) ConversionOutcome {
	return ConversionOutcome{
		Item:   item,
		Status: OutcomeFailure,
		Reason: reason,
	}
}

// IsSuccess reports whether the destination audio file was produced.
func (o ConversionOutcome) IsSuccess() bool {
	return o.Status == OutcomeSuccess
}

// BatchReport summarizes one conversion batch. Outcomes are kept in
// completion order.
// Used as the payload for POST <webhook_url>
type BatchReport struct {
	BatchID     string              `json:"batch_id"`
	Directory   string              `json:"directory"`
	Destination string              `json:"destination"`
	GPUProfile  bool                `json:"gpu_profile"`
	Succeeded   int                 `json:"succeeded"`
	Failed      int                 `json:"failed"`
	Outcomes    []ConversionOutcome `json:"outcomes"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
}

// Add records an outcome and updates the counters.
func (r *BatchReport) Add(o ConversionOutcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.IsSuccess() {
		r.Succeeded++
	} else {
		r.Failed++
	}
}

// SystemReport captures the host facts shown by the doctor command.
// Gathered with gopsutil plus the tool and GPU probes.
type SystemReport struct {
	FFmpegPath      string  `json:"ffmpeg_path,omitempty"`
	ToolAvailable   bool    `json:"tool_available"`
	GPUAvailable    bool    `json:"gpu_available"`
	CPUModel        string  `json:"cpu_model"`
	LogicalCores    int     `json:"logical_cores"`
	EncoderThreads  int     `json:"encoder_threads"`
	RAMFreeBytes    uint64  `json:"ram_free_bytes"`
	RAMUsedPercent  float64 `json:"ram_used_percent"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`
}
