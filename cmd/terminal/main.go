package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cafe-pos/terminal/internal/archive"
	"github.com/cafe-pos/terminal/internal/catalog"
	"github.com/cafe-pos/terminal/internal/config"
	"github.com/cafe-pos/terminal/internal/enum"
	"github.com/cafe-pos/terminal/internal/journal"
	"github.com/cafe-pos/terminal/internal/pending"
	"github.com/cafe-pos/terminal/internal/prefs"
	"github.com/cafe-pos/terminal/internal/receipt"
	"github.com/cafe-pos/terminal/internal/router"
	"github.com/cafe-pos/terminal/internal/salesapi"
	"github.com/cafe-pos/terminal/internal/service"
	"github.com/cafe-pos/terminal/internal/session"
	"github.com/cafe-pos/terminal/internal/ws"
)

// journalStore is what the terminal needs from either journal backend.
type journalStore interface {
	service.Journal
	Get(ctx context.Context, saleID int64) (journal.Entry, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Preferences: Redis when configured, otherwise process memory.
	var prefStore prefs.Store = prefs.NewMemoryStore()
	if cfg.RedisAddr != "" {
		rs, err := prefs.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("[Boot] redis: %v", err)
		}
		defer rs.Close()
		prefStore = rs
		log.Printf("[Boot] Preferences stored in redis at %s", cfg.RedisAddr)
	}

	hub := ws.NewHub()
	go hub.Run(ctx)
	notifier := ws.NewNotifier(hub, cfg.NoticeTTL)

	sess := session.New(prefStore, func() {
		notifier.Publish(enum.TopicNotices, enum.EventSessionExpired, nil)
		notifier.Notify(enum.NoticeError, salesapi.ErrUnauthorized.Error())
	})
	if err := sess.Restore(ctx); err != nil {
		log.Printf("ERROR: restore session: %v", err)
	}

	client := salesapi.New(cfg.APIBaseURL, cfg.APITimeout, sess)
	customers := catalog.NewCustomerStore(client)
	products := catalog.NewProductCatalog(client)
	pendingStore := pending.NewStore(client, notifier)

	// reload pulls everything the terminal caches from the café API.
	reload := func() {
		rctx, cancel := context.WithTimeout(ctx, 2*cfg.APITimeout)
		defer cancel()
		if err := pendingStore.Load(rctx); err != nil {
			log.Printf("ERROR: initial pending load: %v", err)
		}
		if err := customers.Refresh(rctx); err != nil {
			log.Printf("ERROR: load customers: %v", err)
		}
		if err := products.Refresh(rctx); err != nil {
			log.Printf("ERROR: load products: %v", err)
		}
	}
	if sess.Active() {
		go reload()
	}

	var receipts journalStore = journal.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pg, err := journal.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("[Boot] journal: %v", err)
		}
		defer pg.Close()
		if err := pg.Migrate(); err != nil {
			log.Fatalf("[Boot] journal migrations: %v", err)
		}
		receipts = pg
		log.Println("[Boot] Receipt journal on PostgreSQL")
	}

	var store service.Archive = archive.Nop{}
	if cfg.ArchiveBucket != "" {
		s3, err := archive.NewS3Archive(ctx, archive.Config{
			Bucket:    cfg.ArchiveBucket,
			Endpoint:  cfg.ArchiveEndpoint,
			Region:    cfg.ArchiveRegion,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
		})
		if err != nil {
			log.Fatalf("[Boot] archive: %v", err)
		}
		store = s3
		log.Printf("[Boot] Archiving receipts to bucket %s", cfg.ArchiveBucket)
	}

	var printer receipt.Printer = receipt.NopPrinter{}
	if cfg.PrinterURL != "" {
		printer = receipt.NewHTTPPrinter(cfg.PrinterURL)
	}

	dispatcher := service.NewDispatcher(service.Deps{
		Sales:     client,
		Pending:   pendingStore,
		Customers: customers,
		Products:  products,
		Notifier:  notifier,
		Printer:   printer,
		Journal:   receipts,
		Archive:   store,
		Header: receipt.Header{
			ShopName: cfg.ShopName,
			Address:  cfg.ShopAddress,
			Phone:    cfg.ShopPhone,
		},
		Cashier: sess.Username,
	})

	r := router.New(cfg, router.Deps{
		Session:     sess,
		Auth:        client,
		OnLogin:     func() { go reload() },
		Pending:     pendingStore,
		Customers:   customers,
		Settlements: dispatcher,
		Journal:     receipts,
		Printer:     printer,
		Prefs:       prefStore,
		Hub:         hub,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Println("[Boot] Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: server shutdown: %v", err)
		}
	}()

	log.Printf("[Boot] Terminal listening on :%s (café API %s)", cfg.Port, cfg.APIBaseURL)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("[Boot] server error: %v", err)
	}
	log.Println("[Boot] Server stopped")
}
