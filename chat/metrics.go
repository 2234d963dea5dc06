package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winchat_messages_sent_total",
		Help: "Messages accepted by the server.",
	})

	messagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winchat_messages_received_total",
		Help: "Inbound messages appended to a conversation.",
	})

	sendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "winchat_send_failures_total",
		Help: "Outgoing messages the server did not accept.",
	})
)
