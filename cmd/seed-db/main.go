package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/user"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

// productJSON uses floats so hand-edited catalogs with sloppy prices still load.
type productJSON struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Category        string  `json:"category"`
	Price           float64 `json:"price"`
	DiscountPercent float64 `json:"discount_percent"`
	Image           string  `json:"image"`
}

type seedAccount struct {
	profile user.Profile
	apiKey  string
}

func main() {
	var (
		databaseURL  string
		productsFile string
		customerKey  string
		adminKey     string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&customerKey, "customer-api-key", "", "API key for the demo customer (or CHECKOUT_SEED_CUSTOMER_KEY env)")
	flag.StringVar(&adminKey, "admin-api-key", "", "API key for the demo admin (or CHECKOUT_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or CHECKOUT_API_KEY_PEPPER env)")
	flag.Parse()

	databaseURL = orEnv(databaseURL, "DATABASE_URL")
	customerKey = orEnv(customerKey, "CHECKOUT_SEED_CUSTOMER_KEY")
	adminKey = orEnv(adminKey, "CHECKOUT_SEED_ADMIN_KEY")
	apiKeyPepper = orEnv(apiKeyPepper, "CHECKOUT_API_KEY_PEPPER")

	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if customerKey == "" || adminKey == "" {
		slog.Error("both API keys are required: set --customer-api-key and --admin-api-key")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		slog.Error("API key pepper is required: set --api-key-pepper or CHECKOUT_API_KEY_PEPPER")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	accounts := []seedAccount{
		{
			profile: user.Profile{ID: "u-customer", Name: "Demo Customer", Role: user.RoleCustomer, Address: "1 Market Street"},
			apiKey:  customerKey,
		},
		{
			profile: user.Profile{ID: "u-admin", Name: "Store Admin", Role: user.RoleAdmin},
			apiKey:  adminKey,
		},
	}

	if err := run(ctx, databaseURL, productsFile, apiKeyPepper, accounts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func orEnv(v, env string) string {
	if v != "" {
		return v
	}
	return os.Getenv(env)
}

func run(ctx context.Context, databaseURL, productsFile, pepper string, accounts []seedAccount) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	seeder := postgres.NewSeeder(pool)

	if err := seedProducts(ctx, seeder, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedAccounts(ctx, seeder, pool, accounts, pepper); err != nil {
		return errors.Wrap(err, "seed accounts")
	}

	return nil
}

func seedProducts(ctx context.Context, seeder *postgres.Seeder, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		if err := seeder.UpsertProduct(ctx, product.Product{
			ID:              p.ID,
			Name:            p.Name,
			Category:        p.Category,
			Price:           pricing.NormalizeFloat(p.Price),
			DiscountPercent: pricing.NormalizeFloat(p.DiscountPercent),
			ImageURL:        p.Image,
		}); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	return nil
}

func seedAccounts(ctx context.Context, seeder *postgres.Seeder, pool *pgxpool.Pool, accounts []seedAccount, pepper string) error {
	keys := postgres.NewAPIKeyRepository(pool)

	for _, a := range accounts {
		if err := seeder.UpsertUser(ctx, a.profile); err != nil {
			return errors.Wrapf(err, "upsert user %s", a.profile.ID)
		}

		keyID := "key-" + a.profile.ID
		if err := keys.Upsert(ctx, auth.APIKeyInfo{
			ID:      keyID,
			KeyHash: handler.HashKey([]byte(pepper), a.apiKey),
			Name:    a.profile.Name + " key",
			UserID:  a.profile.ID,
		}); err != nil {
			return errors.Wrapf(err, "upsert api key for %s", a.profile.ID)
		}

		slog.Info("upserted account",
			slog.String("user_id", a.profile.ID),
			slog.String("role", string(a.profile.Role)),
			slog.String("key_id", keyID),
		)
	}

	return nil
}
