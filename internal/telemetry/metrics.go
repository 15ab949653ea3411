package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	BookingsCreated   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookings_created_total", Help: "Bookings created"})
	BookingsAccepted  = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookings_accepted_total", Help: "Bookings accepted by a translator"})
	AcceptConflicts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookings_accept_conflicts_total", Help: "Accept attempts that lost the race"})
	BookingsCancelled = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookings_cancelled_total", Help: "Bookings cancelled"})
	BookingsCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookings_completed_total", Help: "Bookings completed"})
	NotifyEnqueued    = prometheus.NewCounter(prometheus.CounterOpts{Name: "notify_enqueued_total", Help: "Notification events enqueued"})
	NotifyEnqueueErrs = prometheus.NewCounter(prometheus.CounterOpts{Name: "notify_enqueue_errors_total", Help: "Notification enqueue failures (best-effort, swallowed)"})
	NotifySent        = prometheus.NewCounter(prometheus.CounterOpts{Name: "notify_sent_total", Help: "Notifications delivered"})
	NotifyFailures    = prometheus.NewCounter(prometheus.CounterOpts{Name: "notify_failures_total", Help: "Notification deliveries that failed and will retry"})
	NotifyDeadLetter  = prometheus.NewCounter(prometheus.CounterOpts{Name: "notify_dead_letter_total", Help: "Notification events moved to the DLQ"})
	OutboxDepthGauge  = prometheus.NewGauge(prometheus.GaugeOpts{Name: "notify_outbox_depth", Help: "Pending notification events"})
	RateLimitRejects  = prometheus.NewCounter(prometheus.CounterOpts{Name: "bookings_rate_limit_rejects_total", Help: "Booking creations rejected by the rate limiter"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			BookingsCreated,
			BookingsAccepted,
			AcceptConflicts,
			BookingsCancelled,
			BookingsCompleted,
			NotifyEnqueued,
			NotifyEnqueueErrs,
			NotifySent,
			NotifyFailures,
			NotifyDeadLetter,
			OutboxDepthGauge,
			RateLimitRejects,
		)
	})
	return promhttp.Handler()
}
