package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shipnotes/pkg/models"
)

// webhookEnvelope is the fixed payload shape for completion callbacks.
type webhookEnvelope struct {
	JobID       string           `json:"jobId"`
	Type        models.JobType   `json:"type"`
	Status      models.JobStatus `json:"status"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       *string          `json:"error,omitempty"`
	CompletedAt *time.Time       `json:"completedAt"`
}

// Notifier delivers job-completion webhooks.
type Notifier struct {
	client *http.Client
}

func NewNotifier() *Notifier {
	return &Notifier{client: &http.Client{Timeout: 10 * time.Second}}
}

// Notify POSTs the completion envelope to the job's callback URL.
func (n *Notifier) Notify(job *models.AsyncJob) error {
	if job.CallbackURL == nil || *job.CallbackURL == "" {
		return nil
	}

	envelope := webhookEnvelope{
		JobID:       job.ID,
		Type:        job.Type,
		Status:      job.Status,
		Result:      job.Result,
		Error:       job.Error,
		CompletedAt: job.CompletedAt,
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	resp, err := n.client.Post(*job.CallbackURL, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
