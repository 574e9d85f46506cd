package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const namespace = "koecan"

var (
	SurveysCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "surveys",
			Name:      "created_total",
			Help:      "Total number of persisted surveys",
		},
		[]string{"source"},
	)
	ResponsesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "responses",
			Name:      "accepted_total",
			Help:      "Total number of accepted survey responses",
		},
	)
	ResponsesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "responses",
			Name:      "rejected_total",
			Help:      "Total number of rejected survey responses",
		},
		[]string{"reason"},
	)
	PointsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "points",
			Name:      "moved_total",
			Help:      "Total number of points moved through the ledger",
		},
		[]string{"reason"},
	)
	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Notification deliveries by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	grpcRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc",
			Name:      "request_duration_seconds",
			Help:      "gRPC request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "status"},
	)
)

func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := "ok"
		if err != nil {
			st, _ := status.FromError(err)
			code = st.Code().String()
		}
		grpcRequestDuration.WithLabelValues(info.FullMethod, code).Observe(time.Since(start).Seconds())

		return resp, err
	}
}
