package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/radio-control/daxiq/internal/session"
	"github.com/radio-control/daxiq/internal/smartsdr"
)

func TestToAPIError(t *testing.T) {
	rejected := &smartsdr.CommandError{Seq: 7, Command: "stream create type=dax_iq daxiq_channel=1", Status: 0x50000063}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantStep   string
	}{
		{"already started", session.ErrAlreadyStarted, http.StatusConflict, "ALREADY_STARTED", ""},
		{"discovery empty", &session.StartError{Step: session.StepResolve, Err: session.ErrDiscoveryEmpty},
			http.StatusNotFound, "NOT_FOUND", session.StepResolve},
		{"connect failure", &session.StartError{Step: session.StepConnect, Err: fmt.Errorf("%w: refused", session.ErrConnectFailure)},
			http.StatusServiceUnavailable, "UNAVAILABLE", session.StepConnect},
		{"command timeout", fmt.Errorf("sub pan all: %w", smartsdr.ErrCommandTimeout),
			http.StatusGatewayTimeout, "TIMEOUT", ""},
		{"setup rejected", &session.StartError{Step: session.StepSetup, Err: fmt.Errorf("%w: %w", session.ErrSetupFailure, rejected)},
			http.StatusBadGateway, "REJECTED", session.StepSetup},
		{"api error", NewAPIError("TEAPOT", "short and stout", http.StatusTeapot, nil),
			http.StatusTeapot, "TEAPOT", ""},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ToAPIError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("Expected status %d, got %d", tt.wantStatus, status)
			}
			var resp struct {
				Result        string                 `json:"result"`
				Code          string                 `json:"code"`
				Details       map[string]interface{} `json:"details"`
				CorrelationID string                 `json:"correlationId"`
			}
			if err := json.Unmarshal(body, &resp); err != nil {
				t.Fatalf("Expected JSON body, got %v", err)
			}
			if resp.Result != "error" || resp.Code != tt.wantCode {
				t.Errorf("Expected error %s, got %s %s", tt.wantCode, resp.Result, resp.Code)
			}
			if resp.CorrelationID == "" {
				t.Error("Expected correlation id")
			}
			if tt.wantStep != "" && resp.Details["step"] != tt.wantStep {
				t.Errorf("Expected step %s, got %v", tt.wantStep, resp.Details["step"])
			}
		})
	}

	if status, body := ToAPIError(nil); status != http.StatusOK || body != nil {
		t.Errorf("Expected 200 and no body for nil, got %d %s", status, body)
	}
}

func TestToAPIErrorCarriesRadioStatus(t *testing.T) {
	err := fmt.Errorf("%w: %w", session.ErrSetupFailure,
		&smartsdr.CommandError{Command: "dax iq set 1 pan=0x40000000", Status: 0x5000002D})
	_, body := ToAPIError(err)

	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("Expected JSON body, got %v", err)
	}
	details, ok := resp.Details.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected details map, got %T", resp.Details)
	}
	if details["status"] != "0x5000002D" {
		t.Errorf("Expected status 0x5000002D, got %v", details["status"])
	}
}
