package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/copad/copad/internal/config"
	"github.com/copad/copad/internal/database"
	"github.com/copad/copad/internal/document/handler"
	"github.com/copad/copad/internal/document/service"
	"github.com/copad/copad/internal/oidc"
	"github.com/copad/copad/internal/realtime"
	"github.com/copad/copad/internal/sessions"
	"github.com/copad/copad/internal/storage"
	"github.com/copad/copad/pkg/logger"
	"github.com/copad/copad/pkg/metrics"
	"github.com/copad/copad/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging level is controlled with LOG_LEVEL env: debug|info|warn|error|fatal
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: mongo=%v redis=%v jwt_secret_set=%v", cfg.MongoDB.URI != "", cfg.Redis.Host != "", cfg.JWT.Secret != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	// (Keep this intentionally simple — production should use a stricter policy.)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-User-ID")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	ctx := context.Background()

	// Connect to Redis early so the rate limiter and ticket store can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Host + ":" + cfg.Redis.Port, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis: %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Optional global rate limiter (per-user when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// MongoDB with retry/backoff to tolerate startup races
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
			mongoClient = nil
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
		}
	}

	// Document service: Mongo when available, otherwise in-memory (dev/test)
	var docSvc service.Service
	if mongoClient != nil {
		col := mongoClient.Database(cfg.MongoDB.Database).Collection("documents")
		docSvc = service.NewMongoService(col)
		logger.Infof("using MongoDB for document storage (db=%s)", cfg.MongoDB.Database)
	} else {
		docSvc = service.NewMemoryService()
		logger.Warnf("using in-memory document storage; data will not survive restarts")
	}

	// Optional snapshot archive in object storage
	if mcfg := storage.LoadMinIOConfig(); mcfg.Endpoint != "" {
		archive, err := storage.NewSnapshotArchive(mcfg)
		if err != nil {
			logger.Warnf("snapshot archive unavailable: %v", err)
		} else {
			docSvc.SetArchiver(archive)
			logger.Infof("snapshot archive enabled (bucket=%s)", mcfg.Bucket)
		}
	}

	// Ticket store: Redis when available, Mongo as fallback
	var ticketSvc *sessions.Service
	switch {
	case redisClient != nil:
		ticketSvc = sessions.NewService(sessions.NewRedisRepository(redisClient, "ticket:"))
		logger.Infof("using Redis for connect tickets")
	case mongoClient != nil:
		col := mongoClient.Database(cfg.MongoDB.Database).Collection("tickets")
		ticketSvc = sessions.NewService(sessions.NewMongoRepository(col))
		logger.Infof("using MongoDB for connect tickets")
	default:
		logger.Warnf("no ticket store configured; websocket clients must identify via ?user= (dev mode)")
	}

	// Token verifier: OIDC when an issuer is configured, HS256 when a shared
	// secret is set, otherwise the insecure claims parser behind an explicit
	// opt-in.
	var verifier middleware.Verifier
	if issuer, clientID := os.Getenv("OIDC_ISSUER"), os.Getenv("OIDC_CLIENT_ID"); issuer != "" && clientID != "" {
		ver, err := oidc.NewVerifier(ctx, issuer, clientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil && cfg.JWT.Secret != "" {
		ver, err := oidc.NewHS256Verifier(cfg.JWT.Secret)
		if err != nil {
			logger.Warnf("failed to initialize HS256 verifier: %v", err)
		} else {
			verifier = ver
		}
	}
	if verifier == nil {
		if strings.EqualFold(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")), "true") {
			logger.Warn("enabling insecure token verifier (integration mode)")
			verifier = oidc.NewInsecureVerifier()
		}
	}

	// REST surface
	var api gin.IRouter = r
	if verifier != nil {
		api = r.Group("/", middleware.AuthMiddleware(verifier))
	}
	handler.RegisterDocumentRoutes(api, docSvc)

	// Connect tickets: a short-lived token that lets the websocket upgrade
	// carry identity without putting the bearer token in a query string.
	if ticketSvc != nil {
		api.POST("/api/ws-ticket", func(c *gin.Context) {
			sub := wsTicketSubject(c)
			if sub == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown identity"})
				return
			}
			tok, err := ticketSvc.Issue(c.Request.Context(), sub, cfg.JWT.TicketTTL)
			if err != nil {
				logger.Errorf("failed to issue ws ticket: %v", err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue ticket"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"ticket": tok, "expires_in": int(cfg.JWT.TicketTTL.Seconds())})
		})
	}

	// Realtime hub + websocket endpoint
	hub := realtime.NewHub()
	var tickets realtime.TicketValidator
	if ticketSvc != nil {
		tickets = ticketSvc
	}
	realtime.RegisterWS(r, hub, tickets)

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness: 200 only when the critical dependencies are reachable
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["documents"] = docSvc != nil
		deps["tickets"] = ticketSvc != nil

		if cfg.MongoDB.URI != "" {
			deps["mongo"] = mongoClient != nil
			if !deps["mongo"] {
				ready = false
			}
		}
		if cfg.Redis.Host != "" {
			deps["redis"] = redisClient != nil
			if !deps["redis"] {
				ready = false
			}
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Infof("starting copad server on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}

// wsTicketSubject resolves the caller identity the same way the document
// handlers do: verified claims first, X-User-ID header as the dev fallback.
func wsTicketSubject(c *gin.Context) string {
	if v, ok := c.Get("claims"); ok {
		if cm, ok := v.(map[string]interface{}); ok {
			if sub, ok := cm["sub"].(string); ok && sub != "" {
				return sub
			}
		}
	}
	return c.GetHeader("X-User-ID")
}
