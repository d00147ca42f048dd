package reconcile

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/reelpipe/reelpipe/pkg/security"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Reelpipe-Signature"

const maxWebhookBody = 1 << 20

// WebhookPayload is the provider completion notification body.
type WebhookPayload struct {
	ProviderJobID   string  `json:"provider_job_id"`
	Status          string  `json:"status"` // "completed" or "failed"
	FileURL         string  `json:"file_url,omitempty"`
	Reason          string  `json:"reason,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// WebhookHandler returns an http.Handler for provider completion webhooks.
// The payload signature is validated before the body is trusted, and
// redelivered payloads are safe: Resolve is idempotent once the artifact
// has left the pending state.
func (r *Reconciler) WebhookHandler(secret []byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		sig := req.Header.Get(SignatureHeader)
		if sig == "" || !security.VerifySignature(secret, body, sig) {
			r.logger.Warn("webhook rejected: bad signature", "remote", req.RemoteAddr)
			http.Error(w, "invalid signature", http.StatusUnauthorized)
			return
		}

		var payload WebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if payload.ProviderJobID == "" {
			http.Error(w, "missing provider_job_id", http.StatusBadRequest)
			return
		}

		var failed bool
		switch payload.Status {
		case "completed":
			failed = false
		case "failed":
			failed = true
		default:
			http.Error(w, "unknown status", http.StatusBadRequest)
			return
		}

		err = r.Resolve(req.Context(), Completion{
			ProviderJobID:   payload.ProviderJobID,
			Failed:          failed,
			FileURL:         payload.FileURL,
			Reason:          payload.Reason,
			DurationSeconds: payload.DurationSeconds,
		})
		if err != nil {
			r.logger.Error("webhook reconciliation failed",
				"provider_job_id", payload.ProviderJobID, "error", err)
			http.Error(w, "reconciliation failed", http.StatusInternalServerError)
			return
		}

		w.WriteHeader(http.StatusOK)
	})
}
