package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// HTTPZKBackend drives a remote proving service over JSON/HTTP. The wire
// shape is intentionally minimal: the backend is opaque to the core, which
// only cares about success/failure and the returned byte blobs.
type HTTPZKBackend struct {
	baseURL string
	client  *http.Client
	logger  *logrus.Logger
}

// NewHTTPZKBackend builds a ZKBackend that talks to a proving service at
// baseURL.
func NewHTTPZKBackend(baseURL string, logger *logrus.Logger) *HTTPZKBackend {
	return &HTTPZKBackend{
		baseURL: baseURL,
		client:  &http.Client{Timeout: CallTimeout},
		logger:  logger,
	}
}

type scaleEnvelopeRequest struct {
	Envelope    []byte `json:"envelope"`
	Numerator   []byte `json:"numerator"`
	Denominator []byte `json:"denominator"`
}

type scaleEnvelopeResponse struct {
	Envelope []byte `json:"envelope"`
}

// ScaleEnvelope asks the proving service to homomorphically scale an
// encrypted amount.
func (b *HTTPZKBackend) ScaleEnvelope(ctx context.Context, envelope []byte, numerator, denominator []byte) ([]byte, error) {
	req := scaleEnvelopeRequest{Envelope: envelope, Numerator: numerator, Denominator: denominator}
	var resp scaleEnvelopeResponse
	if err := b.post(ctx, "/v1/scale_envelope", req, &resp); err != nil {
		return nil, err
	}
	return resp.Envelope, nil
}

type proveSettlementRequest struct {
	ClearingPrice []byte   `json:"clearing_price"`
	MatchedIDs    [][]byte `json:"matched_ids"`
	FillEnvelopes [][]byte `json:"fill_envelopes"`
}

type proveSettlementResponse struct {
	Proof []byte `json:"proof"`
}

// ProveSettlement asks the proving service for a settlement proof.
func (b *HTTPZKBackend) ProveSettlement(ctx context.Context, clearingPrice []byte, matchedIDs [][32]byte, fillEnvelopes [][]byte) ([]byte, error) {
	ids := make([][]byte, len(matchedIDs))
	for i, id := range matchedIDs {
		ids[i] = id[:]
	}
	req := proveSettlementRequest{ClearingPrice: clearingPrice, MatchedIDs: ids, FillEnvelopes: fillEnvelopes}
	var resp proveSettlementResponse
	if err := b.post(ctx, "/v1/prove_settlement", req, &resp); err != nil {
		return nil, err
	}
	return resp.Proof, nil
}

func (b *HTTPZKBackend) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("external: failed to encode zk backend request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("external: failed to build zk backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if b.logger != nil {
			b.logger.WithError(err).WithField("path", path).Warn("external: zk backend unavailable")
		}
		return fmt.Errorf("external: zk backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("external: zk backend returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("external: failed to decode zk backend response: %w", err)
	}
	return nil
}

// UnavailableZKBackend always fails both operations, used to exercise the
// core's zero-envelope / placeholder-proof fallback paths in tests and in
// deployments that haven't wired a real proving service yet.
type UnavailableZKBackend struct{}

// ScaleEnvelope always returns an error.
func (UnavailableZKBackend) ScaleEnvelope(ctx context.Context, envelope []byte, numerator, denominator []byte) ([]byte, error) {
	return nil, fmt.Errorf("external: zk backend unavailable")
}

// ProveSettlement always returns an error.
func (UnavailableZKBackend) ProveSettlement(ctx context.Context, clearingPrice []byte, matchedIDs [][32]byte, fillEnvelopes [][]byte) ([]byte, error) {
	return nil, fmt.Errorf("external: zk backend unavailable")
}

// FakeZKBackend is a deterministic test double: ScaleEnvelope returns the
// input envelope unchanged (a stand-in for "scaled"), ProveSettlement
// returns a short fixed blob. Useful for tests that need the happy path
// without a real proving service.
type FakeZKBackend struct {
	ScaleErr error
	ProveErr error
}

// ScaleEnvelope returns env unchanged, or ScaleErr if set.
func (f *FakeZKBackend) ScaleEnvelope(ctx context.Context, env []byte, numerator, denominator []byte) ([]byte, error) {
	if f.ScaleErr != nil {
		return nil, f.ScaleErr
	}
	out := make([]byte, len(env))
	copy(out, env)
	return out, nil
}

// ProveSettlement returns a short deterministic blob, or ProveErr if set.
func (f *FakeZKBackend) ProveSettlement(ctx context.Context, clearingPrice []byte, matchedIDs [][32]byte, fillEnvelopes [][]byte) ([]byte, error) {
	if f.ProveErr != nil {
		return nil, f.ProveErr
	}
	return []byte("fake-proof"), nil
}
