package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"sar-timelapse/internal/grid"
	"sar-timelapse/internal/stats"
	"sar-timelapse/internal/utils/naming"
)

// RunStatus represents the current status of a run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusNoOp      RunStatus = "noop"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Phases in execution order
const (
	PhaseScan      = "scan"
	PhaseAlign     = "align"
	PhaseStats     = "stats"
	PhaseNormalize = "normalize"
	PhaseVideo     = "video"
)

// RunProgress represents detailed progress information
type RunProgress struct {
	CurrentPhase string `json:"currentPhase"`
	Completed    int    `json:"completed"`
	Total        int    `json:"total"`
	Percent      int    `json:"percent"`
}

// Range sources
const (
	RangeFromUser      = "user"
	RangeFromExact     = "exact"
	RangeFromHistogram = "histogram"
)

// SceneReport records what happened to one input scene.
type SceneReport struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Acquired    string   `json:"acquired,omitempty"`
	Strategy    string   `json:"strategy,omitempty"`
	OutOfExtent bool     `json:"outOfExtent,omitempty"`
	AlignedPath string   `json:"alignedPath,omitempty"`
	FramePath   string   `json:"framePath,omitempty"`
	GeoTIFFPath string   `json:"geotiffPath,omitempty"`
	Filled      int      `json:"filled,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Report is the JSON record of one timelapse run
type Report struct {
	ID           string    `json:"id"`
	TimeseriesID string    `json:"timeseriesId"`
	Status       RunStatus `json:"status"`
	CreatedAt    string    `json:"createdAt"` // ISO 8601 format
	StartedAt    string    `json:"startedAt,omitempty"`
	CompletedAt  string    `json:"completedAt,omitempty"`

	Grid        *grid.Grid        `json:"grid,omitempty"`
	Range       *stats.ValueRange `json:"range,omitempty"`
	RangeSource string            `json:"rangeSource,omitempty"`

	Scenes []SceneReport `json:"scenes"`

	// Frames lists the frame names written to the video, in order
	Frames []string `json:"frames,omitempty"`

	Progress RunProgress `json:"progress"`
	Warnings []string    `json:"warnings,omitempty"`

	// Error message if failed
	Error string `json:"error,omitempty"`

	// NoOp is set when the date window kept no frame and no video was written
	NoOp bool `json:"noop,omitempty"`

	// Output path for the video, empty for a no-op run
	OutputPath string `json:"outputPath,omitempty"`
}

// NewReport creates a pending report with a fresh run ID
func NewReport(timeseriesID string) *Report {
	return &Report{
		ID:           uuid.NewString(),
		TimeseriesID: timeseriesID,
		Status:       RunStatusPending,
		CreatedAt:    time.Now().Format(time.RFC3339),
	}
}

// SaveToFile persists the report as <dir>/<id>_report.json and returns the path
func (r *Report) SaveToFile(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(dir, naming.ReportFilename(r.TimeseriesID))
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}

// LoadReport loads a report from a JSON file
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report file: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}

	return &r, nil
}

// Warn records a run-level warning
func (r *Report) Warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// UpdateProgress updates the run's progress
func (r *Report) UpdateProgress(phase string, completed, total int) {
	r.Progress.CurrentPhase = phase
	r.Progress.Completed = completed
	r.Progress.Total = total

	if total > 0 {
		r.Progress.Percent = (completed * 100) / total
	} else {
		r.Progress.Percent = 0
	}

	if r.Progress.Percent > 100 {
		r.Progress.Percent = 100
	}
}

// MarkStarted marks the run as started
func (r *Report) MarkStarted() {
	r.StartedAt = time.Now().Format(time.RFC3339)
	r.Status = RunStatusRunning
}

// MarkCompleted marks the run as completed
func (r *Report) MarkCompleted(outputPath string) {
	r.CompletedAt = time.Now().Format(time.RFC3339)
	r.Status = RunStatusCompleted
	r.OutputPath = outputPath
	r.Progress.Percent = 100
}

// MarkNoOp marks a run that finished without writing a video
func (r *Report) MarkNoOp(reason string) {
	r.CompletedAt = time.Now().Format(time.RFC3339)
	r.Status = RunStatusNoOp
	r.NoOp = true
	r.Warn(reason)
}

// MarkFailed marks the run as failed with an error
func (r *Report) MarkFailed(err error) {
	r.CompletedAt = time.Now().Format(time.RFC3339)
	r.Status = RunStatusFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// MarkCancelled marks the run as cancelled
func (r *Report) MarkCancelled() {
	r.CompletedAt = time.Now().Format(time.RFC3339)
	r.Status = RunStatusCancelled
}
