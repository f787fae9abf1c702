package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"schoolpay/config"
	"schoolpay/internal/database"
	"schoolpay/internal/models"
	"schoolpay/internal/repository"
	"schoolpay/internal/router"
	"schoolpay/internal/service"
	"schoolpay/internal/vault"
	"schoolpay/internal/ws"
	"schoolpay/pkg/cloudinary"
	"schoolpay/pkg/gateway"
)

func main() {
	cfg := config.Load()
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	if err := repository.NewSettingRepository(db).SeedDefaults(map[string]string{
		models.SettingBankName:          "",
		models.SettingBankAccountName:   "",
		models.SettingBankAccountNumber: "",
		models.SettingBankBranch:        "",
		models.SettingBankInstructions:  "Include the transaction id as the payment reference.",
	}); err != nil {
		log.Fatalf("seed settings: %v", err)
	}

	v, err := vault.New(cfg.Vault.MasterSecret, cfg.Vault.KDFSalt)
	if err != nil {
		log.Fatalf("vault: %v", err)
	}

	cloud, err := cloudinary.NewClientFromParams(cfg.Cloudinary.CloudName, cfg.Cloudinary.APIKey, cfg.Cloudinary.APISecret)
	if err != nil {
		log.Fatalf("cloudinary: %v", err)
	}

	registry := gateway.NewRegistry(
		gateway.NewStripeCheckout("https://api.stripe.com", cfg.Payment.ProviderTimeout),
		gateway.NewCardLink("https://gateway.cardlink.io", gateway.NewTokenCache(), cfg.Payment.ProviderTimeout),
		gateway.NewBankTransfer(repository.NewSettingRepository(db)),
	)

	engine, paymentSvc := router.Setup(cfg, router.Deps{
		DB:       db,
		Vault:    v,
		Registry: registry,
		Cloud:    cloud,
		Hub:      ws.NewPaymentHub(),
	})

	stopSweeper := startSweeper(paymentSvc, cfg.Payment.SweepInterval)
	defer stopSweeper()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Printf("server listening on :%s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("server shutdown:", err)
	}
	fmt.Println("server stopped")
}

// startSweeper cancels expired pending transactions on a fixed interval
// until the returned stop function is called.
func startSweeper(payments *service.PaymentService, interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := payments.CleanupExpiredPending(); err != nil {
					log.Printf("[Sweeper] sweep failed: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}
