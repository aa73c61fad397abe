package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestVerifier_AcceptsValidSignature(t *testing.T) {
	body := []byte(`{"capture_id":"cap-1","status":"approved"}`)
	h := http.Header{}
	h.Set("X-Signature", hex.EncodeToString(Sign("s3cret", body)))
	h.Set("X-Event-Id", "evt-1")

	res, err := NewVerifier("s3cret").Verify(h, body)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid signature, details=%v", res.Details)
	}
	if res.ProviderEventID != "evt-1" || res.EventType != "unknown" {
		t.Fatalf("unexpected metadata: %+v", res)
	}
}

func TestVerifier_RejectsBadSignatures(t *testing.T) {
	body := []byte(`{"capture_id":"cap-1"}`)
	cases := []struct {
		name string
		sig  string
	}{
		{"missing", ""},
		{"not hex", "zz"},
		{"wrong secret", hex.EncodeToString(Sign("other", body))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := http.Header{}
			if tc.sig != "" {
				h.Set("X-Signature", tc.sig)
			}
			res, err := NewVerifier("s3cret").Verify(h, body)
			if err != nil {
				t.Fatalf("verify: %v", err)
			}
			if res.Valid {
				t.Fatalf("expected invalid signature")
			}
		})
	}
}

func TestVerifier_EmptySecret(t *testing.T) {
	if _, err := NewVerifier(" ").Verify(http.Header{}, nil); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}

func TestNormalizeCaptureStatus(t *testing.T) {
	cases := map[string]CaptureStatus{
		"approved":   CaptureApproved,
		"COMPLETED":  CaptureApproved,
		"rejected":   CaptureRejected,
		"canceled":   CaptureRejected,
		"in_process": CapturePending,
		"":           CapturePending,
	}
	for in, want := range cases {
		if got := normalizeCaptureStatus(in); got != want {
			t.Fatalf("normalizeCaptureStatus(%q)=%q want %q", in, got, want)
		}
	}
}

func TestBridgeClient_CaptureStatusAndRefund(t *testing.T) {
	var refundKey string
	var refundBody refundRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/mercadopago/captures/cap-1":
			_, _ = w.Write([]byte(`{"status":"accredited"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/paypal/refunds":
			refundKey = r.Header.Get("Idempotency-Key")
			_ = json.NewDecoder(r.Body).Decode(&refundBody)
			w.WriteHeader(http.StatusAccepted)
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("no route"))
		}
	}))
	defer srv.Close()

	c := newBridgeClient(srv.URL+"/", "key", "X-API-Key", time.Millisecond)
	ctx := context.Background()

	st, err := c.CaptureStatus(ctx, "mercadopago", "cap-1")
	if err != nil {
		t.Fatalf("capture status: %v", err)
	}
	if st != CaptureApproved {
		t.Fatalf("status=%q want approved", st)
	}

	if err := c.Refund(ctx, "paypal", "cap-9", decimal.NewFromInt(1500), "refund:payment:9"); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refundKey != "refund:payment:9" || refundBody.CaptureID != "cap-9" || !refundBody.Amount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("unexpected refund request key=%q body=%+v", refundKey, refundBody)
	}

	_, err = c.CaptureStatus(ctx, "mercadopago", "missing")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected 404 error, got %v", err)
	}
}

func TestParseCaptureEvent(t *testing.T) {
	ev, err := ParseCaptureEvent([]byte(`{"provider":"paypal","capture_id":"c1","status":"COMPLETED"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Outcome() != CaptureApproved {
		t.Fatalf("outcome=%q", ev.Outcome())
	}
	if _, err := ParseCaptureEvent([]byte(`{"status":"approved"}`)); err == nil {
		t.Fatalf("expected error without capture id")
	}
}
