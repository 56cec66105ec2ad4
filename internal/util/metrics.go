package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoansIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loans_issued_total",
		Help: "Total number of loans issued",
	})

	LoansReturnedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loans_returned_total",
		Help: "Total number of loans returned",
	})

	LoansRenewedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loans_renewed_total",
		Help: "Total number of loans renewed",
	})

	LoanOperationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "loan_operations_failed_total",
		Help: "Total number of rejected loan operations",
	}, []string{"operation", "reason"})

	LoansMarkedOverdueTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "loans_marked_overdue_total",
		Help: "Total number of loans transitioned to OVERDUE by the sweep",
	})

	ReservationsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_created_total",
		Help: "Total number of reservations created",
	})

	ReservationsFulfilledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_fulfilled_total",
		Help: "Total number of reservations fulfilled by returns",
	})

	ReservationsCancelledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reservations_cancelled_total",
		Help: "Total number of reservations cancelled",
	})

	NotificationsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notifications sent",
	}, []string{"type"})

	NotificationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_failed_total",
		Help: "Total number of notification sends that failed",
	}, []string{"type"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notification_sweep_duration_seconds",
		Help:    "Duration of notification sweep runs",
		Buckets: prometheus.DefBuckets,
	})

	SweepsSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_sweeps_skipped_total",
		Help: "Total number of sweep triggers skipped because a sweep was in flight",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
