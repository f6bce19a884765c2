package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classmark/internal/auth"
	"classmark/internal/config"
	"classmark/internal/faceclient"
	"classmark/internal/history"
	"classmark/internal/httpmiddleware"
	"classmark/internal/localstore"
	"classmark/internal/queue"
	"classmark/internal/tree"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	ctx := context.Background()

	local, err := localstore.Open(cfg.LocalDBPath)
	if err != nil {
		return err
	}
	defer local.Close()

	// Remote tree: prefer redis, degrade to local-only when unreachable.
	var remote tree.Store
	var redisTree *tree.RedisStore
	switch cfg.TreeBackend {
	case "memory":
		remote = tree.NewMemory()
	default:
		redisTree = tree.NewRedis(cfg.RedisAddr)
		if redisTree.Healthy(ctx) {
			remote = redisTree
		} else {
			log.Printf("warning: remote tree not reachable at %s, running local-only", cfg.RedisAddr)
		}
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" || redisTree == nil {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisTree.Client(), queue.DefaultKey)
	}

	var hist *history.Repository
	db, err := history.Open(cfg.DatabaseURL)
	if err != nil {
		log.Printf("warning: history db not reachable: %v", err)
	} else {
		hist = history.NewRepository(db.Client)
		defer db.Close()
	}

	face := faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)

	a := newAPI(cfg, remote, local, face, q, hist)
	defer a.close()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		// Local-only mode still serves; a missing remote is degraded, not down.
		remoteHealthy := remote != nil && remote.Healthy(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"status": "ok", "remote": remoteHealthy, "history": hist != nil})
	})

	r.POST("/v1/auth/login", a.login)

	v1 := r.Group("/v1", auth.RequireAuth(cfg.JWTSigningKey, cfg.JWTIssuer))
	{
		v1.GET("/context", a.getContext)
		v1.POST("/context/pull", a.pullContext)
		v1.POST("/division", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.setDivision)

		v1.POST("/sessions", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.issueSession)
		v1.POST("/sessions/scan", a.scanSession)
		v1.POST("/sessions/code", a.submitCode)
		v1.POST("/code", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.issueCode)

		v1.POST("/enroll", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.enroll)
		v1.GET("/roster", a.roster)
		v1.GET("/stats", a.stats)
		v1.DELETE("/people/:id", auth.RequireRole(auth.RoleAdmin), a.removePerson)
		v1.DELETE("/people", auth.RequireRole(auth.RoleAdmin), a.clearPeople)

		v1.POST("/recognition/start", a.startRecognition)
		v1.POST("/recognition/stop", a.stopRecognition)
		v1.POST("/frames", a.ingestFrame)

		v1.POST("/attendance/push", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.pushSnapshot)
		v1.GET("/history", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.listHistory)

		v1.POST("/leaves", a.submitLeave)
		v1.GET("/leaves", a.listLeaves)
		v1.GET("/leaves/:id", a.getLeave)
		v1.POST("/leaves/:id/approve", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.approveLeave)
		v1.POST("/leaves/:id/reject", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.rejectLeave)
		v1.DELETE("/leaves/:id", auth.RequireRole(auth.RoleTeacher, auth.RoleAdmin), a.deleteLeave)

		v1.DELETE("/device", a.closeDevice)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
