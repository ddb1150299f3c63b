package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/smcroissant/croissantpay-sub000/internal/config"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
	pg "github.com/smcroissant/croissantpay-sub000/internal/infra/db/postgres"
)

const schemaPath = "deploy/postgres/init.sql"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	// Apply schema
	schema, err := os.ReadFile(schemaPath)
	if err != nil {
		log.Fatalf("read schema %s: %v", schemaPath, err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema: %v", err)
	}
	fmt.Println("schema applied")

	productRepo := pg.NewProductRepo(pool)
	entitlementRepo := pg.NewEntitlementRepo(pool)

	// If products already exist for this app, do nothing
	existing, err := productRepo.ListByApp(ctx, repository.NoTX, cfg.App.ID)
	if err != nil {
		log.Fatalf("list products: %v", err)
	}
	if len(existing) > 0 {
		fmt.Printf("%d products already present. No changes.\n", len(existing))
		for _, p := range existing {
			fmt.Printf("  - %s (%s/%s, type=%s)\n", p.DisplayName, p.Platform, p.StoreProductID, p.Type)
		}
		return
	}

	premium := &model.Entitlement{
		ID:          uuid.NewString(),
		AppID:       cfg.App.ID,
		Identifier:  "premium",
		DisplayName: "Premium Access",
		CreatedAt:   time.Now(),
	}
	if err := entitlementRepo.Save(ctx, repository.NoTX, premium); err != nil {
		log.Fatalf("seed entitlement: %v", err)
	}

	seed := []struct {
		StoreProductID string
		Platform       model.Platform
		Type           model.ProductType
		DisplayName    string
	}{
		{"premium_monthly", model.PlatformAppStore, model.ProductTypeAutoRenewable, "Premium Monthly"},
		{"premium_yearly", model.PlatformAppStore, model.ProductTypeAutoRenewable, "Premium Yearly"},
		{"premium_monthly", model.PlatformPlayStore, model.ProductTypeAutoRenewable, "Premium Monthly"},
		{"premium_yearly", model.PlatformPlayStore, model.ProductTypeAutoRenewable, "Premium Yearly"},
		{"lifetime_unlock", model.PlatformAppStore, model.ProductTypeNonConsumable, "Lifetime Unlock"},
		{"lifetime_unlock", model.PlatformPlayStore, model.ProductTypeNonConsumable, "Lifetime Unlock"},
	}

	for _, s := range seed {
		p := &model.Product{
			ID:             uuid.NewString(),
			AppID:          cfg.App.ID,
			StoreProductID: s.StoreProductID,
			Platform:       s.Platform,
			Type:           s.Type,
			DisplayName:    s.DisplayName,
			CreatedAt:      time.Now(),
		}
		if err := productRepo.Save(ctx, repository.NoTX, p); err != nil {
			log.Fatalf("seed product %q: %v", s.StoreProductID, err)
		}
		if err := entitlementRepo.Link(ctx, repository.NoTX, p.ID, premium.ID); err != nil {
			log.Fatalf("link product %q: %v", s.StoreProductID, err)
		}
		fmt.Printf("seeded: %s (%s/%s)\n", p.DisplayName, p.Platform, p.StoreProductID)
	}

	fmt.Println("Seeding complete.")
}
