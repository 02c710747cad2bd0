package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/invite"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("GATEHOUSE_PG_DSN")
	if dsn == "" {
		log.Fatal("GATEHOUSE_PG_DSN is required")
	}
	secret := os.Getenv("GATEHOUSE_AUTH_SECRET")
	if secret == "" {
		log.Fatal("GATEHOUSE_AUTH_SECRET is required")
	}

	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer func() { _ = store.Close() }()

	var tokenOpts []auth.TokenOption
	if issuer := os.Getenv("GATEHOUSE_ISSUER"); issuer != "" {
		tokenOpts = append(tokenOpts, auth.WithIssuer(issuer))
	}
	if raw := os.Getenv("GATEHOUSE_TOKEN_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse GATEHOUSE_TOKEN_TTL: %v", err)
		}
		tokenOpts = append(tokenOpts, auth.WithTokenTTL(ttl))
	}
	issuer, err := auth.NewTokenIssuer(secret, tokenOpts...)
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	authSvc, err := auth.NewService(store, issuer)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	var inviteCfg invite.Config
	if raw := os.Getenv("GATEHOUSE_INVITATION_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("parse GATEHOUSE_INVITATION_TTL: %v", err)
		}
		inviteCfg.DefaultTTL = ttl
	}
	if raw := os.Getenv("GATEHOUSE_INVITATION_CODE_LENGTH"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			log.Fatalf("parse GATEHOUSE_INVITATION_CODE_LENGTH: %q is not a positive integer", raw)
		}
		inviteCfg.CodeLength = n
	}
	inviteCfg.CodeAlphabet = os.Getenv("GATEHOUSE_INVITATION_CODE_ALPHABET")
	inviteSvc, err := invite.NewService(store, inviteCfg)
	if err != nil {
		log.Fatalf("invite service: %v", err)
	}

	api := httpapi.New(authSvc, inviteSvc, httpapi.ReadyProbe{DB: store.DB()}, version)

	addr := os.Getenv("GATEHOUSE_ADDR")
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

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
