package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transportDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winchat_transport_disconnects_total",
		Help: "Unexpected transport disconnects by transport kind.",
	}, []string{"transport"})

	pollCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "winchat_transport_poll_cycles_total",
		Help: "Poll cycles by result.",
	}, []string{"result"})
)
