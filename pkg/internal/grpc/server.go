package grpc

import (
	"net"

	"git.koecan.jp/koecan/server/pkg/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const ServiceName = "koecan.survey"

type App struct {
	srv    *grpc.Server
	health *health.Server
}

func NewGrpc() *App {
	server := &App{
		srv:    grpc.NewServer(grpc.UnaryInterceptor(metrics.UnaryServerInterceptor())),
		health: health.NewServer(),
	}

	healthpb.RegisterHealthServer(server.srv, server.health)
	reflection.Register(server.srv)

	return server
}

func (v *App) Listen() {
	listener, err := net.Listen("tcp", viper.GetString("grpc_bind"))
	if err != nil {
		log.Fatal().Err(err).Msg("An error occurred when listening grpc...")
		return
	}

	go v.WatchHealth()

	if err := v.srv.Serve(listener); err != nil {
		log.Fatal().Err(err).Msg("An error occurred when serving grpc...")
	}
}

func (v *App) Stop() {
	v.health.Shutdown()
	v.srv.GracefulStop()
}
