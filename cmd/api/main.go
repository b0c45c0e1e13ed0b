package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cleberrangel/quotation-api/internal/cache"
	"github.com/cleberrangel/quotation-api/internal/client"
	"github.com/cleberrangel/quotation-api/internal/config"
	"github.com/cleberrangel/quotation-api/internal/database"
	"github.com/cleberrangel/quotation-api/internal/handler"
	"github.com/cleberrangel/quotation-api/internal/httpserver"
	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/middleware"
	"github.com/cleberrangel/quotation-api/internal/migration"
	"github.com/cleberrangel/quotation-api/internal/repository"
	"github.com/cleberrangel/quotation-api/internal/service"
	"github.com/cleberrangel/quotation-api/internal/websocket"
	"github.com/gin-gonic/gin"
)

const Version = "2.0.0"

func main() {
	// Carrega configurações
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Erro ao carregar configurações: %v", err)
	}

	// Inicializa logger estruturado
	logger.Init(cfg.LogLevel, cfg.LogJSON)
	log := logger.Global()
	log.Info().
		Str("version", Version).
		Str("port", cfg.Port).
		Str("log_level", cfg.LogLevel).
		Bool("log_json", cfg.LogJSON).
		Msg("Quotation API iniciando")

	ctx := context.Background()

	// Banco de dados e migrações
	db, err := database.Connect(ctx, database.FromAppConfig(cfg.Database))
	if err != nil {
		log.Fatal().Err(err).Msg("Erro ao conectar ao banco de dados")
	}
	defer database.Close(db)

	if err := migration.NewMigrator(db).Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Erro ao aplicar migrações")
	}

	// Provedor de estimativa e dispatcher
	clientCfg := client.FromAppConfig(cfg)
	providerClient, err := client.NewClient(clientCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuração do provedor inválida")
	}
	dispatcher, err := client.NewDispatcher(clientCfg, providerClient)
	if err != nil {
		log.Fatal().Err(err).Msg("Configuração do dispatcher inválida")
	}
	dispatcher.Start()

	// WebSocket
	hub := websocket.NewHub()
	go hub.Run()

	// Repositórios
	quotationRepo := repository.NewQuotationRepository(db)
	reviewRepo := repository.NewReviewRepository(db)
	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	platforms := cache.NewPlatformCatalog(repository.NewPlatformRepository(db), cfg.PlatformCacheTTL)

	// Serviços
	estimationService := service.NewEstimationService(dispatcher)
	quotationService := service.NewQuotationService(
		estimationService,
		quotationRepo,
		platforms,
		service.NewBufferPolicy(cfg.BufferRatio),
		hub,
	)
	reviewService := service.NewReviewService(reviewRepo, quotationRepo)
	authService := service.NewAuthService(userRepo, sessionRepo, cfg.SessionDuration)
	authService.StartSessionCleanup()

	sessionAuth := middleware.NewSessionAuth(middleware.SessionConfig{
		SessionDuration: cfg.SessionDuration,
		CookieSecure:    cfg.CookieSecure,
	}, authService)
	createLimiter := middleware.NewUserRateLimiter(cfg.CreateRatePerMinute, cfg.CreateRateBurst)
	stopLimiterCleanup := startLimiterCleanup(createLimiter)

	// Configura modo do Gin
	gin.SetMode(cfg.GinMode)

	r := httpserver.NewRouter(httpserver.Handlers{
		Quotation:     handler.NewQuotationHandler(quotationService),
		Platform:      handler.NewPlatformHandler(platforms),
		Review:        handler.NewReviewHandler(reviewService),
		Auth:          handler.NewAuthHandler(authService, sessionAuth),
		WebSocket:     handler.NewWebSocketHandler(hub),
		Health:        handler.NewHealthHandler(db, dispatcher, hub, Version),
		Session:       sessionAuth,
		Sessions:      authService,
		CreateLimiter: createLimiter,
	}, httpserver.Options{
		CORSOrigins:  cfg.CORSOrigins,
		MetricsToken: cfg.MetricsToken,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Servidor iniciando")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Erro ao iniciar servidor")
		}
	}()

	// Encerramento gracioso
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Encerrando servidor")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Erro ao encerrar servidor HTTP")
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Erro ao encerrar dispatcher")
	}
	hub.Stop()
	authService.StopSessionCleanup()
	stopLimiterCleanup()
	platforms.Stop()

	log.Info().Msg("Servidor encerrado")
}

// startLimiterCleanup descarta periodicamente os limitadores ociosos
func startLimiterCleanup(l *middleware.UserRateLimiter) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := l.Cleanup(); removed > 0 {
					logger.Global().Debug().Int("removed", removed).Msg("Limitadores ociosos descartados")
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
