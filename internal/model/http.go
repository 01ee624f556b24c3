package model

import (
	"net/http"
	"time"
)

// Request is a backend-neutral HTTP request handed to a WebClient.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is what a WebClient returns. Body is always fully read.
type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	// FinalURL is the URL after redirects; empty when unknown.
	FinalURL  string
	FetchedAt time.Time
}
