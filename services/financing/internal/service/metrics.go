package service

import "github.com/prometheus/client_golang/prometheus"

var (
	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "financing_payment_transitions_total",
			Help: "Total number of payment status transitions",
		},
		[]string{"status"},
	)

	applicationDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "financing_application_decisions_total",
			Help: "Total number of application decisions",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(paymentTransitionsTotal)
	prometheus.MustRegister(applicationDecisionsTotal)
}
