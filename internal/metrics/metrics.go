package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_messages_sent_total",
		Help: "Messages accepted by SendMessage",
	})
	ChatsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsync_chats_created_total",
		Help: "Chats created, by kind (direct or group)",
	}, []string{"kind"})
	EffectsRetried = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsync_effects_retried_total",
		Help: "Message side effects handed to the reconciler",
	})
	ActiveSubscriptions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsync_active_subscriptions",
		Help: "Open snapshot subscriptions",
	})
)

var once sync.Once

func Init() {
	once.Do(func() {
		prometheus.MustRegister(MessagesSent, ChatsCreated, EffectsRetried, ActiveSubscriptions)
	})
}

// Handler returns an http.Handler for Prometheus scraping
func Handler() http.Handler {
	return promhttp.Handler()
}
