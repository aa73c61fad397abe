package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	signatureHeader = "X-Signature"
	eventIDHeader   = "X-Event-Id"
	eventTypeHeader = "X-Event-Type"
	signatureScheme = "hmac-sha256/v1"
)

type VerificationResult struct {
	Valid           bool
	Scheme          string
	Details         map[string]any
	ProviderEventID string
	EventType       string
}

// Verifier checks the bridge's HMAC signature over the raw webhook body.
type Verifier struct {
	secret string
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: strings.TrimSpace(secret)}
}

func (v *Verifier) Verify(headers http.Header, rawBody []byte) (VerificationResult, error) {
	if v == nil || v.secret == "" {
		return VerificationResult{}, fmt.Errorf("webhook verifier secret is empty")
	}

	res := VerificationResult{
		Scheme: signatureScheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
		},
		ProviderEventID: strings.TrimSpace(headers.Get(eventIDHeader)),
		EventType:       strings.TrimSpace(headers.Get(eventTypeHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	sigHex := strings.TrimSpace(headers.Get(signatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true

	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	res.Valid = hmac.Equal(Sign(v.secret, rawBody), provided)
	return res, nil
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// CaptureEvent is the body of a capture webhook.
type CaptureEvent struct {
	Provider  string `json:"provider"`
	CaptureID string `json:"capture_id"`
	Status    string `json:"status"`
}

func (e CaptureEvent) Outcome() CaptureStatus {
	return normalizeCaptureStatus(e.Status)
}

func ParseCaptureEvent(raw []byte) (CaptureEvent, error) {
	var ev CaptureEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return ev, err
	}
	if strings.TrimSpace(ev.CaptureID) == "" {
		return ev, fmt.Errorf("capture_id is required")
	}
	return ev, nil
}
