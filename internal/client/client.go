package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"audio-extractor/pkg/models"
)

// ReportClient posts finished batch reports to a webhook. Connection errors
// and 5xx answers are retried with backoff.
type ReportClient struct {
	url   string
	retry *retryablehttp.Client
}

// NewReportClient creates a client for url with 3 retries, 1 to 5 seconds apart.
func NewReportClient(url string) *ReportClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil // Silence default debug logger
	// hand the final response back instead of a generic "giving up" error
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &ReportClient{url: url, retry: rc}
}

// StatusError is returned when the webhook answers with a 4xx or 5xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook returned error status: %d", e.StatusCode)
}

// SendReport posts report as JSON.
func (c *ReportClient) SendReport(ctx context.Context, report models.BatchReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal batch report: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.url, payload)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.retry.Do(req)
	if resp != nil {
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 400 {
			return fmt.Errorf("batch report %s not delivered: %w", report.BatchID, &StatusError{StatusCode: resp.StatusCode})
		}
	}
	if err != nil {
		return fmt.Errorf("batch report %s not delivered: %w", report.BatchID, err)
	}

	log.Printf("[Client] Delivered batch report %s (%d ok, %d failed)", report.BatchID, report.Succeeded, report.Failed)
	return nil
}
