package metrics

import (
	"io"
	"strconv"

	"github.com/VictoriaMetrics/metrics"
)

var enabled = true

// SetEnabled toggles metric collection. Disabled collection turns every
// Record* call into a no-op.
func SetEnabled(on bool) {
	enabled = on
}

// IsEnabled returns true if metrics collection is enabled
func IsEnabled() bool {
	return enabled
}

// WritePrometheus writes all registered metrics in Prometheus text format.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}

// RecordSend counts outbound send attempts by result
// (sent, cooldown, daily_limit, provider_error, invalid, failed).
func RecordSend(result string) {
	if !enabled {
		return
	}
	metrics.GetOrCreateCounter(`outreach_sends_total{result="` + result + `"}`).Inc()
}

// RecordTrackingEvent counts tracking events by type and whether they changed state.
func RecordTrackingEvent(event, source string, applied bool) {
	if !enabled {
		return
	}
	name := `outreach_tracking_events_total{event="` + event + `",source="` + source + `",applied="` + strconv.FormatBool(applied) + `"}`
	metrics.GetOrCreateCounter(name).Inc()
}

// RecordPollMessage counts inbound candidates by classification outcome.
func RecordPollMessage(outcome string) {
	if !enabled {
		return
	}
	metrics.GetOrCreateCounter(`outreach_poll_messages_total{outcome="` + outcome + `"}`).Inc()
}

// RecordPollAccount counts per-account poll runs.
func RecordPollAccount(provider string, success bool) {
	if !enabled {
		return
	}
	name := `outreach_poll_accounts_total{provider="` + provider + `",success="` + strconv.FormatBool(success) + `"}`
	metrics.GetOrCreateCounter(name).Inc()
}

// RecordSweep adds the results of one cooldown sweep.
func RecordSweep(expired, notified int, deleted int64) {
	if !enabled {
		return
	}
	metrics.GetOrCreateCounter(`outreach_cooldown_expired_total`).Add(expired)
	metrics.GetOrCreateCounter(`outreach_cooldown_notifications_total`).Add(notified)
	metrics.GetOrCreateCounter(`outreach_cooldown_deleted_total`).Add(int(deleted))
}
