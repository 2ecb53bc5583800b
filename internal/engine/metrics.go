package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classreg_registrations_total",
			Help: "Registrations created, by resulting status",
		},
		[]string{"status"},
	)

	cancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "classreg_cancellations_total",
			Help: "Registrations cancelled, by prior status",
		},
		[]string{"status"},
	)

	promotionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classreg_waitlist_promotions_total",
			Help: "Waitlisted registrations promoted to confirmed",
		},
	)

	txRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classreg_tx_retries_total",
			Help: "Transaction retries after store conflicts",
		},
	)

	auditRepairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classreg_audit_repairs_total",
			Help: "Slot count or waitlist ordering repairs applied by the auditor",
		},
	)

	codeCollisions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "classreg_code_collisions_total",
			Help: "Check-in code candidates rejected for collision",
		},
	)
)
