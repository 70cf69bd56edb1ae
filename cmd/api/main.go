package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"alumnihub.org/internal/auth"
	"alumnihub.org/internal/config"
	"alumnihub.org/internal/httpapi"
	"alumnihub.org/internal/obs"
	"alumnihub.org/internal/ratelimit"
	"alumnihub.org/internal/rbac"
	"alumnihub.org/internal/secrets"
	"alumnihub.org/internal/token"
)

var version = "0.3.1"

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	obs.Init()
	obs.RegisterBuildInfo(version)

	// Shared counter store for the rate limiter.
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(redisOpts)

	// Optional Postgres for role persistence and readiness probing.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	keyring, err := secrets.NewKeyring(secrets.WithSecret([]byte(cfg.AuthSecret)))
	if err != nil {
		log.Fatalf("init keyring: %v", err)
	}
	if keyring.Metadata().Generated {
		obs.Warn("signing secret generated at startup; configure ALUMNIHUB_AUTH_SECRET for multi-instance deployments", nil)
	}

	tokens, err := token.NewService(keyring)
	if err != nil {
		log.Fatalf("init token service: %v", err)
	}

	sessions, err := auth.NewSessions(keyring, auth.WithTTL(cfg.SessionTTL))
	if err != nil {
		log.Fatalf("init sessions: %v", err)
	}

	limiter, err := ratelimit.NewLimiter(rdb,
		ratelimit.NewPolicySet(ratelimit.DefaultPolicies()),
		ratelimit.WithStoreTimeout(cfg.StoreTimeout),
	)
	if err != nil {
		log.Fatalf("init rate limiter: %v", err)
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 10*time.Second)

	var roleStore rbac.Store
	if db != nil {
		pgStore, err := rbac.NewPGStore(db)
		if err != nil {
			log.Fatalf("init role store: %v", err)
		}
		if err := pgStore.EnsureSchema(startupCtx); err != nil {
			log.Fatalf("role store schema: %v", err)
		}
		roleStore = pgStore
	}
	accessControl := rbac.NewService(roleStore)

	if err := accessControl.Load(startupCtx); err != nil {
		log.Fatalf("load roles: %v", err)
	}
	if err := accessControl.EnsureRoles(startupCtx, rbac.BuiltinRoles()); err != nil {
		log.Fatalf("seed roles: %v", err)
	}

	admin := httpapi.AdminCredential{
		Email:        cfg.AdminEmail,
		PasswordHash: cfg.AdminPasswordHash,
		UserID:       "admin",
	}
	if admin.Email != "" {
		if err := accessControl.AssignRoles(startupCtx, admin.UserID, []string{rbac.RoleSuperAdmin}); err != nil {
			log.Fatalf("assign admin role: %v", err)
		}
	}
	cancelStartup()

	api := httpapi.New(httpapi.Deps{
		Sessions: sessions,
		Limiter:  limiter,
		Tokens:   tokens,
		Keyring:  keyring,
		RBAC:     accessControl,
		Ready: httpapi.ReadyProbe{
			DB: db,
			Ping: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
		Admin:   admin,
		Version: version,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting alumnihub-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = rdb.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
