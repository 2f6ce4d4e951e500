package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestDecodeType(t *testing.T) {
	cases := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{`{"type":"auth","worker_id":"w1"}`, TypeAuth, false},
		{`{"type":"metrics_batch","metrics":[]}`, TypeMetricsBatch, false},
		{`{"worker_id":"w1"}`, "", true},
		{`{"type":""}`, "", true},
		{`{"type":5}`, "", true},
		{`[]`, "", true},
		{`not json`, "", true},
	}
	for _, tc := range cases {
		got, err := DecodeType([]byte(tc.raw))
		if tc.wantErr {
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("DecodeType(%s): expected ErrMalformed, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Errorf("DecodeType(%s) = %q, %v; want %q", tc.raw, got, err, tc.want)
		}
	}
}

func TestRenewalAck_MissingSuccess(t *testing.T) {
	var ack RenewalAck
	if err := json.Unmarshal([]byte(`{"type":"token_renewal_ack"}`), &ack); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Success != nil {
		t.Errorf("expected nil Success for missing field")
	}

	if err := json.Unmarshal([]byte(`{"type":"token_renewal_ack","success":false,"error":"disk full"}`), &ack); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Success == nil || *ack.Success || ack.Error != "disk full" {
		t.Errorf("unexpected ack: %+v", ack)
	}
}

func TestOutboundWireShape(t *testing.T) {
	exp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	b, err := json.Marshal(NewTokenRenewal("wk1_x", exp))
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	_ = json.Unmarshal(b, &got)
	if got["type"] != TypeTokenRenewal || got["new_token"] != "wk1_x" || got["expires_at"] != "2026-03-01T00:00:00Z" {
		t.Errorf("unexpected token_renewal payload: %s", b)
	}

	b, _ = json.Marshal(NewMetricsAck(0))
	if string(b) != `{"type":"metrics_ack","received":true}` {
		t.Errorf("unexpected metrics_ack payload: %s", b)
	}

	b, _ = json.Marshal(NewAuthError(CodeInvalidToken, "invalid token"))
	if string(b) != `{"type":"auth_error","code":"invalid_token","message":"invalid token"}` {
		t.Errorf("unexpected auth_error payload: %s", b)
	}
}
