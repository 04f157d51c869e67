package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/mail"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Postgres when a DSN is configured, in-memory store otherwise so the
	// API stays runnable in local development.
	var (
		store auth.Store
		db    *sql.DB
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := pg.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		store = pgStore
		db = pgStore.DB()
	} else {
		log.Println("GATEHOUSE_PG_DSN is empty, using in-memory store")
		store = auth.NewMemoryStore()
	}

	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		AccessSecret:       cfg.AccessTokenSecret,
		RefreshSecret:      cfg.RefreshTokenSecret,
		Issuer:             "gatehouse-api",
		AccessMinutes:      cfg.AccessTokenMinutes,
		RefreshMinutes:     cfg.RefreshTokenMinutes,
		RefreshLongMinutes: cfg.RefreshTokenLongMinutes,
	})
	if err != nil {
		log.Fatalf("token issuer: %v", err)
	}

	var mailer mail.Mailer = mail.LogMailer{}
	if cfg.MailConfigured() {
		mailer = &mail.SMTPMailer{
			Host:     cfg.MailHost,
			Port:     cfg.MailPort,
			Username: cfg.MailUser,
			Password: cfg.MailPassword,
			Sender:   cfg.MailSender,
		}
	}
	otpSender := &mail.OtpSender{Mailer: mailer, TTLMinutes: cfg.OtpMinutes}

	svc, err := auth.NewService(store, issuer,
		auth.WithMailer(otpSender),
		auth.WithOtpTTL(time.Duration(cfg.OtpMinutes)*time.Minute),
		auth.WithOtpLockout(cfg.OtpMaxAttempts, time.Duration(cfg.OtpLockMinutes)*time.Minute),
		auth.WithResetTokenTTL(time.Duration(cfg.ResetTokenMinutes)*time.Minute),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	rbac, err := auth.NewRBACService(store)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := rbac.EnsureBuiltins(ctx); err != nil {
			log.Fatalf("ensure builtin actions: %v", err)
		}
		if err := bootstrapAdmin(ctx, store, rbac, cfg); err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
		cancel()
	}

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, rbac, httpapi.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.Secure(),
	})

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, cfg.RateLimitBurst, cfg.RateLimitRPS)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.Logging(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	// graceful shutdown
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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// bootstrapAdmin creates the configured admin account with ANY-scope grants
// over the whole action catalog, unless it already exists.
func bootstrapAdmin(ctx context.Context, store auth.Store, rbac *auth.RBACService, cfg config.Config) error {
	if cfg.AdminEmail == "" || cfg.AdminPassword == "" {
		return nil
	}
	email := strings.ToLower(strings.TrimSpace(cfg.AdminEmail))
	if _, err := store.Users(ctx).FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, auth.ErrNotFound) {
		return err
	}

	actions, err := rbac.ListActions(ctx)
	if err != nil {
		return err
	}
	grants := make([]auth.Grant, 0, len(actions))
	for _, a := range actions {
		grants = append(grants, auth.Grant{ActionID: a.ID, Scope: auth.ScopeAny})
	}
	user, err := rbac.CreateUser(ctx, auth.CreateUserInput{
		Email:    email,
		Password: cfg.AdminPassword,
		Grants:   grants,
	})
	if err != nil {
		return err
	}
	log.Printf("bootstrap admin %s created", user.Email)
	return nil
}
