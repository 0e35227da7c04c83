package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shipnotes/internal/retry"
	"github.com/shipnotes/pkg/models"
)

// TriggerResult identifies a render started on the backend.
type TriggerResult struct {
	RenderID    string `json:"render_id"`
	LocationRef string `json:"location_ref"`
}

// StatusResult is a point-in-time view of a running render.
type StatusResult struct {
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	ArtifactURL string `json:"artifact_url,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RenderMetadata accompanies a trigger request.
type RenderMetadata struct {
	RecordID   int64  `json:"record_id"`
	Repository string `json:"repository"`
}

// Backend is the remote service that turns a narrative into media.
type Backend interface {
	Trigger(ctx context.Context, narrative *models.VideoNarrative, meta RenderMetadata) (*TriggerResult, error)
	Status(ctx context.Context, renderID string) (*StatusResult, error)
}

// HTTPBackend talks to a render service over plain JSON endpoints.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (b *HTTPBackend) Trigger(ctx context.Context, narrative *models.VideoNarrative, meta RenderMetadata) (*TriggerResult, error) {
	log.Debug().
		Int64("record_id", meta.RecordID).
		Str("repository", meta.Repository).
		Int("highlights", len(narrative.TopHighlights)).
		Msg("Triggering render")

	payload := struct {
		Narrative *models.VideoNarrative `json:"narrative"`
		Metadata  RenderMetadata         `json:"metadata"`
	}{Narrative: narrative, Metadata: meta}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var result TriggerResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", b.baseURL+"/renders", bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("render backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		return json.NewDecoder(resp.Body).Decode(&result)
	}

	retryResult := retry.RetryWithBackoff(ctx, retry.HTTPRetryConfig(), operation, nil)
	if !retryResult.Success {
		return nil, &RenderTriggerError{RecordID: meta.RecordID, Err: retryResult.LastError}
	}

	log.Debug().
		Str("render_id", result.RenderID).
		Str("location_ref", result.LocationRef).
		Msg("Render triggered")

	return &result, nil
}

func (b *HTTPBackend) Status(ctx context.Context, renderID string) (*StatusResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("%s/renders/%s", b.baseURL, renderID), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("render backend returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var result StatusResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}
