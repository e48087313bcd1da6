package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duochat_sessions_online",
		Help: "Number of live websocket sessions.",
	})

	messagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duochat_messages_total",
		Help: "Messages appended through the realtime layer.",
	})

	deliveryConfirms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duochat_delivery_confirms_total",
		Help: "Best-effort delivery confirmations emitted to senders.",
	})
)
