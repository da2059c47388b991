package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kube-rca/snow-bridge/internal/client"
	"github.com/kube-rca/snow-bridge/internal/config"
	"github.com/kube-rca/snow-bridge/internal/db"
	"github.com/kube-rca/snow-bridge/internal/handler"
	"github.com/kube-rca/snow-bridge/internal/service"
	"github.com/kube-rca/snow-bridge/internal/store"
)

func main() {
	// .env 파일이 있으면 로드 (로컬 개발용, 운영은 시크릿 주입)
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	// 바인딩 저장소 선택
	// memory: 단일 인스턴스 / postgres: 다중 인스턴스 (CAS를 DB가 보장)
	var bindings store.BindingStore
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			log.Fatalf("Failed to connect to postgres: %v", err)
		}
		pg := &db.Postgres{Pool: pool}
		if err := pg.EnsureBindingSchema(ctx); err != nil {
			log.Fatalf("Failed to ensure binding schema: %v", err)
		}
		bindings = pg
		log.Printf("Using postgres binding store")
	default:
		bindings = store.NewMemory()
		log.Printf("Using in-memory binding store (single instance only)")
	}

	// ServiceNow 클라이언트 및 상태머신
	snowClient := client.NewServiceNowClient(cfg.ServiceNow, cfg.Retry)
	reconciler := service.NewReconcilerService(bindings, snowClient, cfg.Reconciler.ReopenPolicy)

	// 백그라운드 재시도 스윕 시작
	sweeper := service.NewSweeperService(bindings, reconciler, cfg.Sweep.Interval, cfg.Sweep.GracePeriod)
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start retry sweep: %v", err)
	}
	defer sweeper.Stop()

	// 라우터 구성
	router := gin.Default()

	router.GET("/", handler.Root)
	router.GET("/ping", handler.Ping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	alertHandler := handler.NewAlertHandler(reconciler, cfg.Reconciler.EventTimeout)
	router.POST("/webhook/alertmanager", alertHandler.Webhook)

	bindingHandler := handler.NewBindingHandler(bindings, reconciler)
	api := router.Group("/api/v1")
	{
		api.GET("/bindings", bindingHandler.GetBindings)
		api.GET("/bindings/:key", bindingHandler.GetBindingDetail)
		api.POST("/bindings/:key/unfreeze", bindingHandler.UnfreezeBinding)
	}

	log.Printf("Starting snow-bridge (addr=%s, instance=%s, reopenPolicy=%s)",
		cfg.HTTP.Addr, cfg.ServiceNow.InstanceURL, cfg.Reconciler.ReopenPolicy)

	if err := router.Run(cfg.HTTP.Addr); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}
