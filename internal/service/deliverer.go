package service

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"webhook-relay/internal/core/domain"
	"webhook-relay/internal/core/ports"

	"github.com/rs/zerolog"
)

// Delivery request headers. The receiver recomputes the signature over
// TIMESTAMP.BODY with its shared secret and compares in constant time.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderTimestamp  = "X-Webhook-Timestamp"
	HeaderEventType  = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery"
)

// HTTPClient interface for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// httpDeliverer implements ports.Deliverer.
type httpDeliverer struct {
	vault      ports.SecretVault
	sigSvc     ports.SignatureService
	httpClient HTTPClient
	log        zerolog.Logger
}

// NewHTTPDeliverer creates the delivery engine. The injected client must
// carry a bounded timeout so one slow endpoint cannot starve the worker's
// concurrency budget.
func NewHTTPDeliverer(
	vault ports.SecretVault,
	sigSvc ports.SignatureService,
	httpClient HTTPClient,
	log zerolog.Logger,
) ports.Deliverer {
	return &httpDeliverer{
		vault:      vault,
		sigSvc:     sigSvc,
		httpClient: httpClient,
		log:        log,
	}
}

// Attempt signs the payload snapshot and posts it to the endpoint.
// Outcome error strings are for the audit trail: they never contain the
// decrypted secret or the computed signature.
func (d *httpDeliverer) Attempt(ctx context.Context, record *domain.DeliveryAttempt, endpoint *domain.Endpoint) ports.DeliveryOutcome {
	start := time.Now()

	secret, err := d.vault.Decrypt(endpoint.SecretEnc)
	if err != nil {
		// Configuration and integrity failures cannot be fixed by retrying.
		d.log.Error().Err(err).
			Str("endpoint_id", endpoint.ID.String()).
			Str("record_id", record.ID.String()).
			Msg("deliverer: failed to decrypt endpoint secret")
		return ports.DeliveryOutcome{
			Success:   false,
			Error:     "endpoint secret could not be decrypted",
			Permanent: true,
			Duration:  time.Since(start),
		}
	}

	timestamp := time.Now().Unix()
	signature := d.sigSvc.Sign(secret, SigningString(timestamp, record.Payload))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(record.Payload))
	if err != nil {
		return ports.DeliveryOutcome{
			Success:   false,
			Error:     fmt.Sprintf("building request: %v", err),
			Permanent: true,
			Duration:  time.Since(start),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, signature)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderEventType, string(record.EventType))
	req.Header.Set(HeaderDeliveryID, record.ID.String())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		// Transport errors: DNS, TLS, timeouts, refused connections.
		return ports.DeliveryOutcome{
			Success:  false,
			Error:    fmt.Sprintf("request failed: %v", err),
			Duration: time.Since(start),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.log.Debug().
			Str("record_id", record.ID.String()).
			Int("status", resp.StatusCode).
			Dur("duration", time.Since(start)).
			Msg("deliverer: delivered")
		return ports.DeliveryOutcome{
			Success:    true,
			HTTPStatus: resp.StatusCode,
			Duration:   time.Since(start),
		}
	}

	return ports.DeliveryOutcome{
		Success:    false,
		HTTPStatus: resp.StatusCode,
		Error:      fmt.Sprintf("endpoint returned HTTP %d", resp.StatusCode),
		Duration:   time.Since(start),
	}
}
