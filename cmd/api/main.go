package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"windscope.org/internal/audit"
	"windscope.org/internal/auth"
	"windscope.org/internal/fleet"
	"windscope.org/internal/httpapi"
	"windscope.org/internal/mail"
	"windscope.org/internal/obs"
)

var (
	version = "0.3.0"
	commit  = "unknown"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("WINDSCOPE_PG_DSN")
	if dsn == "" {
		log.Fatal("WINDSCOPE_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// mail: SMTP if configured, log-only otherwise
	var sender auth.Sender = mail.LogSender{}
	if host := os.Getenv("WINDSCOPE_SMTP_HOST"); host != "" {
		port, _ := strconv.Atoi(os.Getenv("WINDSCOPE_SMTP_PORT"))
		if port == 0 {
			port = 587
		}
		sender = mail.New(mail.Config{
			Host:     host,
			Port:     port,
			Username: os.Getenv("WINDSCOPE_SMTP_USER"),
			Password: os.Getenv("WINDSCOPE_SMTP_PASSWORD"),
			From:     os.Getenv("WINDSCOPE_SMTP_FROM"),
		}, splitAddrs(os.Getenv("WINDSCOPE_ADMIN_EMAILS")))
	}

	authOpts := []auth.ServiceOption{auth.WithSender(sender)}
	if secret := os.Getenv("WINDSCOPE_TOKEN_SECRET"); secret != "" {
		issuer, err := auth.NewTokenIssuer(secret, "windscope-api")
		if err != nil {
			log.Fatalf("token issuer: %v", err)
		}
		authOpts = append(authOpts, auth.WithTokenIssuer(issuer))
	}
	authSvc := auth.NewService(auth.NewPGStore(db), authOpts...)

	auditStore := audit.NewPGStore(db)
	recorder := audit.NewRecorder(auditStore)
	fleetSvc := fleet.NewService(fleet.NewPGStore(db), recorder)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, authSvc, fleetSvc, recorder)

	addr := os.Getenv("WINDSCOPE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// background maintenance: audit retention sweep + expired auth rows
	sweeper := audit.NewSweeper(auditStore, time.Hour)
	go sweeper.Run(ctx)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := authSvc.CleanupExpired(ctx); err != nil {
					obs.Log(map[string]any{"level": "warn", "msg": "auth cleanup failed", "err": err.Error()})
				}
			}
		}
	}()

	log.Printf("Starting windscope-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = db.Close()
	log.Println("Stopped")
}

func splitAddrs(raw string) []string {
	var out []string
	for _, addr := range strings.Split(raw, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
