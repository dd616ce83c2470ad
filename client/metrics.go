package client

import "github.com/prometheus/client_golang/prometheus/promauto"
import "github.com/prometheus/client_golang/prometheus"

var rpcAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lakelink_client_rpc_attempts_total",
	Help: "Number of RPC attempts issued, including retries",
}, []string{"method"})

var rpcRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lakelink_client_rpc_retries_total",
	Help: "Number of RPC attempts swallowed and retried",
}, []string{"method"})

var rpcErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "lakelink_client_rpc_errors_total",
	Help: "Number of RPCs that failed after retry handling",
}, []string{"method", "code"})

func observeAttempt(method string) {
	rpcAttemptsTotal.WithLabelValues(method).Inc()
}

func observeRetry(method string) {
	rpcRetriesTotal.WithLabelValues(method).Inc()
}

func observeError(method, code string) {
	rpcErrorsTotal.WithLabelValues(method, code).Inc()
}
