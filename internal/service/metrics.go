package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commissionsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refledger_commissions_recorded_total",
		Help: "Commission entries appended, labeled by initial status",
	}, []string{"status"})

	purchasesDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refledger_purchases_decided_total",
		Help: "Purchase verifications, labeled by outcome",
	}, []string{"decision"})

	withdrawalsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refledger_withdrawals_total",
		Help: "Withdrawal transitions, labeled by resulting status",
	}, []string{"status"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "refledger_tx_conflicts_total",
		Help: "Serialization conflicts observed per operation",
	}, []string{"op"})
)
