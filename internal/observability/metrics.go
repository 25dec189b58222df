package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat gateway.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total number of messages written, by payload kind.",
		},
		[]string{"kind"},
	)
	readReceiptFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_read_receipt_failures_total",
			Help: "Total number of read receipts that failed to persist.",
		},
	)
	blobUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_blob_uploads_total",
			Help: "Total number of blob uploads, by outcome.",
		},
		[]string{"result"},
	)
	pushNotificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_push_notifications_total",
			Help: "Total number of push notifications published.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		messagesSentTotal,
		readReceiptFailuresTotal,
		blobUploadsTotal,
		pushNotificationsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func IncMessageSent(kind string) {
	messagesSentTotal.WithLabelValues(kind).Inc()
}

func IncReadReceiptFailure() {
	readReceiptFailuresTotal.Inc()
}

// ObserveBlobUpload counts an upload attempt.
func ObserveBlobUpload(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	blobUploadsTotal.WithLabelValues(result).Inc()
}

func AddPushNotifications(n int) {
	pushNotificationsTotal.Add(float64(n))
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
