package grpc

import (
	"context"
	"time"

	"git.koecan.jp/koecan/server/pkg/internal/database"
	"github.com/rs/zerolog/log"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// CheckDatabase reports the serving status the health service should expose.
func CheckDatabase(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	if database.C == nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	sqlDB, err := database.C.DB()
	if err != nil {
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		log.Warn().Err(err).Msg("Database ping failed, marking service as not serving...")
		return healthpb.HealthCheckResponse_NOT_SERVING
	}
	return healthpb.HealthCheckResponse_SERVING
}

func (v *App) UpdateHealth() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status := CheckDatabase(ctx)
	v.health.SetServingStatus("", status)
	v.health.SetServingStatus(ServiceName, status)
}

func (v *App) WatchHealth() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	v.UpdateHealth()
	for range ticker.C {
		v.UpdateHealth()
	}
}
