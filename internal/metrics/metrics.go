package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazoku_stream_events_total",
			Help: "Change events received from the message stream.",
		},
		[]string{"kind"},
	)

	StreamEventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazoku_stream_events_dropped_total",
			Help: "Change events dropped before reaching the reconciler.",
		},
		[]string{"reason"},
	)

	DuplicatesAbsorbed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kazoku_duplicate_inserts_total",
			Help: "Inserts ignored because the message was already held.",
		},
	)

	SnapshotRowsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kazoku_snapshot_rows_skipped_total",
			Help: "Snapshot rows skipped because they failed validation.",
		},
	)

	Resyncs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazoku_resyncs_total",
			Help: "Snapshot resynchronizations by result.",
		},
		[]string{"result"},
	)

	PresenceRecordsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kazoku_presence_records_rejected_total",
			Help: "Malformed presence records excluded from the roster.",
		},
	)

	PresencePublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kazoku_presence_publishes_total",
			Help: "Track and untrack calls by operation and result.",
		},
		[]string{"op", "result"},
	)

	RelayStreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kazoku_relay_stream_subscribers",
			Help: "Open message stream connections on the relay.",
		},
	)

	RelayPresenceMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "kazoku_relay_presence_members",
			Help: "Open presence connections on the relay.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		StreamEvents,
		StreamEventsDropped,
		DuplicatesAbsorbed,
		SnapshotRowsSkipped,
		Resyncs,
		PresenceRecordsRejected,
		PresencePublishes,
		RelayStreamSubscribers,
		RelayPresenceMembers,
	)
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveResync counts a snapshot resync outcome.
func ObserveResync(err error) {
	Resyncs.WithLabelValues(result(err)).Inc()
}

// ObservePublish counts a presence track/untrack outcome.
func ObservePublish(op string, err error) {
	PresencePublishes.WithLabelValues(op, result(err)).Inc()
}
