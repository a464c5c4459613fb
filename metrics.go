package go_hub_i_guess

import (
	"log/slog"

	"github.com/hashicorp/go-metrics"
)

var (
	MetricHubConnAcceptedCount   = []string{"hub", "connection", "accepted", "count"}
	MetricHubConnClosedCount     = []string{"hub", "connection", "closed", "count"}
	MetricHubClientsConnected    = []string{"hub", "client", "connected", "count"}
	MetricHubClientsDisconnected = []string{"hub", "client", "disconnected", "count"}
	MetricHubClients             = []string{"hub", "clients"}
	MetricHubGroups              = []string{"hub", "groups"}
	MetricHubMessageInCount      = []string{"hub", "message", "in", "count"}
	MetricHubMessageInBytes      = []string{"hub", "message", "in", "bytes"}
	MetricHubMessageInvalidCount = []string{"hub", "message", "invalid", "count"}
	MetricHubSendCount           = []string{"hub", "send", "count"}
	MetricHubSendErrorCount      = []string{"hub", "send", "error", "count"}
)

// TelemetryLabel is the key shared by a log attribute and a metric label.
type TelemetryLabel string

var (
	LabelClientID    TelemetryLabel = "client_id"
	LabelConnID      TelemetryLabel = "conn_id"
	LabelConnCount   TelemetryLabel = "conn_count"
	LabelGroupID     TelemetryLabel = "group_id"
	LabelMethod      TelemetryLabel = "method"
	LabelState       TelemetryLabel = "state"
	LabelCloseReason TelemetryLabel = "close_reason"
	LabelRemoteAddr  TelemetryLabel = "remote_addr"
	LabelError       TelemetryLabel = "error"
)

// M build a metric label.
func (lab TelemetryLabel) M(val string) metrics.Label {
	return metrics.Label{Name: string(lab), Value: val}
}

// L build a log attribute.
func (lab TelemetryLabel) L(val any) slog.Attr {
	return slog.Attr{
		Key:   string(lab),
		Value: slog.AnyValue(val),
	}
}
