package contract

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tinoosan/remitledger/internal/errs"
	"github.com/tinoosan/remitledger/internal/events"
	"github.com/tinoosan/remitledger/internal/ledger"
)

var (
	opsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remit_contract_operations_total",
			Help: "Contract entry point invocations by outcome.",
		},
		[]string{"op", "outcome"},
	)
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remit_remittance_transitions_total",
			Help: "Remittance status transitions.",
		},
		[]string{"to"},
	)
	publishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "remit_event_publish_failures_total",
			Help: "Events that could not be published after commit.",
		},
	)
)

func observe(op string, err error) {
	opsTotal.WithLabelValues(op, errs.Name(err)).Inc()
}

func observeTransition(to ledger.Status) {
	transitionsTotal.WithLabelValues(string(to)).Inc()
}

var transitionOf = map[events.Type]ledger.Status{
	events.RemittanceCreated:   ledger.StatusCreated,
	events.RemittanceAccepted:  ledger.StatusPending,
	events.RemittanceSettled:   ledger.StatusSettled,
	events.RemittanceExpired:   ledger.StatusExpired,
	events.RemittanceCancelled: ledger.StatusCancelled,
}
