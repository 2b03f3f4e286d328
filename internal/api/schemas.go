package api

import (
	"time"

	"github.com/keagan/reelforge/internal/pipeline"
	"github.com/keagan/reelforge/internal/timeline"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
	HWAccel string `json:"hwaccel,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RenderRequest is a composition document, as accepted by POST /renders and
// POST /compile
type RenderRequest struct {
	Composition *timeline.Composition    `json:"composition"`
	Options     timeline.CompilerOptions `json:"options"`
}

type RenderResponse struct {
	JobID string `json:"job_id"`
}

type JobResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Progress   int     `json:"progress"`
	Stage      string  `json:"stage,omitempty"`
	ETASeconds float64 `json:"eta_s,omitempty"`
	CreatedAt  string  `json:"created_at"`
	StartedAt  string  `json:"started_at,omitempty"`
	FinishedAt string  `json:"finished_at,omitempty"`
	Result     string  `json:"result,omitempty"`
	Error      string  `json:"error,omitempty"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

type CompileResponse struct {
	Args          []string `json:"args"`
	FilterComplex string   `json:"filter_complex"`
	Duration      float64  `json:"duration"`
	Warnings      []string `json:"warnings,omitempty"`
}

func JobToResponse(j pipeline.Job) JobResponse {
	return JobResponse{
		ID:         j.ID,
		Status:     string(j.Status),
		Progress:   j.Progress,
		Stage:      j.Stage,
		ETASeconds: j.ETA.Seconds(),
		CreatedAt:  formatTime(j.CreatedAt),
		StartedAt:  formatTime(j.StartTime),
		FinishedAt: formatTime(j.EndTime),
		Result:     j.Result,
		Error:      j.Error,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
