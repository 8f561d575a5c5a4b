// Package metrics declares the prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AttendanceMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "attendance_marks_total",
		Help:      "Mark-attendance outcomes by result.",
	}, []string{"result"})

	AttendanceCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "attendance_corrections_total",
		Help:      "Status corrections by result.",
	}, []string{"result"})

	GeofenceDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "campusattend",
		Name:      "geofence_distance_meters",
		Help:      "Measured distance from campus center on geofenced marks.",
		Buckets:   []float64{10, 25, 50, 100, 200, 500, 1000, 5000},
	})

	OTPIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "otp_issued_total",
		Help:      "One-time passcodes issued by purpose.",
	}, []string{"purpose"})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "otp_verifications_total",
		Help:      "One-time passcode verifications by purpose and result.",
	}, []string{"purpose", "result"})

	OTPPurged = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "otp_purged_total",
		Help:      "Expired or consumed challenges removed by the sweep.",
	})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "notifications_total",
		Help:      "Outbound notifications by channel and result.",
	}, []string{"channel", "result"})

	QueueMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusattend",
		Name:      "queue_messages_total",
		Help:      "Worker queue messages by type and result.",
	}, []string{"type", "result"})
)

// Result labels shared by the counters above.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
)
