package server

import (
	"time"

	"github.com/raysh454/siteaudit/internal/model"
)

// AnalyzeRequest starts an ad-hoc scan. A competitor URL switches to battle
// mode.
type AnalyzeRequest struct {
	URL           string `json:"url" example:"https://example.com"`
	Lang          string `json:"lang" example:"en"`
	CompetitorURL string `json:"competitor_url,omitempty" example:"https://rival.example"`
}

// CreateTaskRequest queues an asynchronous scan.
type CreateTaskRequest struct {
	URL string `json:"url" example:"https://example.com"`
}

// CreateMonitorRequest registers a URL with the watchdog.
type CreateMonitorRequest struct {
	URL            string        `json:"url" example:"https://example.com"`
	Frequency      model.Cadence `json:"frequency" example:"daily"`
	CheckHour      int           `json:"check_hour" example:"9"`
	CheckDay       *int          `json:"check_day,omitempty" example:"0"`
	AlertThreshold int           `json:"alert_threshold" example:"10"`
}

// HealthResponse is returned by /healthz.
type HealthResponse struct {
	Status    string    `json:"status" example:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"not found"`
}
