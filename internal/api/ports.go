package api

import (
	"context"
	"net/http"

	"github.com/radio-control/daxiq/internal/receiver"
	"github.com/radio-control/daxiq/internal/session"
	"github.com/radio-control/daxiq/internal/setup"
	"github.com/radio-control/daxiq/internal/telemetry"
)

// SessionPort is what the API needs from the session director.
type SessionPort interface {
	Snapshot() session.Snapshot
	Stats() receiver.Stats
	Panadapters() []setup.Panadapter
	Running() bool
	Start(ctx context.Context) error
	Stop()
}

// TelemetryPort is what the API needs from the telemetry hub.
type TelemetryPort interface {
	Subscribe(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

var _ SessionPort = (*session.Director)(nil)
var _ TelemetryPort = (*telemetry.Hub)(nil)
