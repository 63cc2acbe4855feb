package http

import (
	"time"

	"github.com/fyrsmithlabs/watershed/internal/hydro"
	"github.com/fyrsmithlabs/watershed/internal/pipeline"
)

// SubmitRequest is the JSON request body for POST /api/v1/batches.
type SubmitRequest struct {
	ID     string             `json:"id,omitempty"`
	Points []hydro.InputPoint `json:"points"`
}

// SubmitResponse is the response body for POST /api/v1/batches.
type SubmitResponse struct {
	BatchID   string `json:"batch_id"`
	StatusURL string `json:"status_url"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/batches/:id.
type StatusResponse struct {
	BatchID   string                     `json:"batch_id"`
	Status    string                     `json:"status"`
	Done      bool                       `json:"done"`
	Counts    PointCounts                `json:"counts"`
	Points    map[string]pipeline.Status `json:"points,omitempty"`
	CreatedAt time.Time                  `json:"created_at"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// PointCounts summarises point progress.
type PointCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	InFlight  int `json:"in_flight"`
}
