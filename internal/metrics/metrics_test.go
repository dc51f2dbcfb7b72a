package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/radio-control/daxiq/internal/receiver"
	"github.com/radio-control/daxiq/internal/smartsdr"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("Scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return string(body)
}

func TestReceiverStatsExported(t *testing.T) {
	m := New(func() receiver.Stats {
		return receiver.Stats{Accepted: 10, Dropped: 1, Missed: 2, Malformed: 3, Filtered: 4, Queued: 5}
	})

	body := scrape(t, m)
	for _, want := range []string{
		"daxiq_packets_accepted_total 10",
		"daxiq_packets_dropped_total 1",
		"daxiq_packets_missed_total 2",
		"daxiq_packets_malformed_total 3",
		"daxiq_packets_filtered_total 4",
		"daxiq_queue_depth 5",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in scrape output", want)
		}
	}
}

func TestNilStats(t *testing.T) {
	m := New(nil)
	if !strings.Contains(scrape(t, m), "daxiq_packets_accepted_total 0") {
		t.Error("Expected zero counters without a receiver")
	}
}

func TestCommandAndSessionMetrics(t *testing.T) {
	m := New(nil)
	m.ObserveCommand(smartsdr.CommandRecord{Command: "info", Latency: 10 * time.Millisecond})
	m.ObserveCommand(smartsdr.CommandRecord{Command: "x", Err: &smartsdr.CommandError{Status: 1}})
	m.ObserveCommand(smartsdr.CommandRecord{Command: "y", Err: errors.New("io")})
	m.SetTuning(14.1e6, 96000)
	m.SetSessionUp(true)

	body := scrape(t, m)
	for _, want := range []string{
		`daxiq_commands_total{outcome="success"} 1`,
		`daxiq_commands_total{outcome="rejected"} 1`,
		`daxiq_commands_total{outcome="error"} 1`,
		"daxiq_command_latency_seconds_count 3",
		"daxiq_tuned_frequency_hz 1.41e+07",
		"daxiq_pan_bandwidth_hz 96000",
		"daxiq_session_up 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in scrape output:\n%s", want, body)
		}
	}
}
