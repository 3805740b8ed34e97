package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_dispatch_deliveries_total",
			Help: "Delivery lifecycle counter by stage and provider",
		},
		[]string{"stage", "provider"}, // enqueued|completed|retried|failed , telegram|discord|whatsapp
	)

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_dispatch_gateway_requests_total",
			Help: "Gateway dispatch attempts by runtime and outcome",
		},
		[]string{"runtime", "outcome"}, // openclaw , ok|error|timeout
	)
)

func MustRegister(r prometheus.Registerer) {
	r.MustRegister(
		DeliveriesTotal,
		GatewayRequestsTotal,
	)
}
