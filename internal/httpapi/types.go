package httpapi

import (
	"time"

	"github.com/slok/runbox/internal/model"
)

// minTimeout is the smallest execution timeout, positive timeouts never round down to the default.
const minTimeout = time.Millisecond

type executeRequest struct {
	Code string `json:"code" validate:"required"`
	// Timeout is in seconds.
	Timeout  *float64         `json:"timeout" validate:"omitempty,gt=0"`
	WorkDir  string           `json:"work_dir" validate:"omitempty,startswith=/"`
	RefFiles []refFileRequest `json:"ref_files" validate:"omitempty,dive"`
}

type refFileRequest struct {
	URL      string `json:"url" validate:"required,url"`
	Filename string `json:"filename" validate:"omitempty,max=255"`
}

func (r executeRequest) toModel() model.ExecutionRequest {
	req := model.ExecutionRequest{
		Code:    r.Code,
		WorkDir: r.WorkDir,
	}
	if r.Timeout != nil {
		req.Timeout = max(time.Duration(*r.Timeout*float64(time.Second)), minTimeout)
	}
	for _, rf := range r.RefFiles {
		req.RefFiles = append(req.RefFiles, model.RefFile{URL: rf.URL, Filename: rf.Filename})
	}
	return req
}

type executeResponse struct {
	Success         bool            `json:"success"`
	Output          string          `json:"output"`
	ExitCode        *int            `json:"exit_code"`
	ContainerID     string          `json:"container_id"`
	Error           *string         `json:"error"`
	JobID           string          `json:"job_id,omitempty"`
	DurationMS      int64           `json:"duration_ms"`
	GeneratedImages []imageResponse `json:"generated_images"`
	OutputTruncated bool            `json:"output_truncated"`
}

type imageResponse struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Size     int64  `json:"size"`
}

func mapExecuteResponse(r *model.ExecutionResult) executeResponse {
	resp := executeResponse{
		Success:         r.Success,
		Output:          r.Output,
		ExitCode:        r.ExitCode,
		ContainerID:     r.ContainerID,
		JobID:           r.JobID,
		DurationMS:      r.Duration.Milliseconds(),
		GeneratedImages: []imageResponse{},
		OutputTruncated: r.OutputTruncated,
	}
	if r.Error != nil {
		msg := r.Error.Message
		resp.Error = &msg
	}
	for _, a := range r.Artifacts {
		resp.GeneratedImages = append(resp.GeneratedImages, imageResponse{Filename: a.Filename, Content: a.Content, Size: a.Size})
	}
	return resp
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type jobResponse struct {
	JobID       string    `json:"job_id"`
	State       string    `json:"state"`
	ContainerID string    `json:"container_id,omitempty"`
	AcceptedAt  time.Time `json:"accepted_at"`
	Deadline    time.Time `json:"deadline"`
}

func mapJobResponse(j model.Job) jobResponse {
	return jobResponse{
		JobID:       j.ID,
		State:       string(j.State),
		ContainerID: j.ContainerID,
		AcceptedAt:  j.AcceptedAt,
		Deadline:    j.Deadline,
	}
}
