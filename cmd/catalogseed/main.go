// Command catalogseed loads a product feed file (JSON, YAML or CSV) and
// upserts it into the catalog database.
//
// Usage: catalogseed -feed products.yaml [-db postgres://...]
// The database URL defaults to CATALOG_DB_URL.
package main

import (
	"context"
	"flag"
	"log"

	"github.com/fairyhunter13/retail-reco/internal/adapter/catalog"
	"github.com/fairyhunter13/retail-reco/internal/config"
)

func main() {
	feed := flag.String("feed", "", "path to the product feed file")
	db := flag.String("db", "", "catalog database URL (defaults to CATALOG_DB_URL)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	path := *feed
	if path == "" {
		path = cfg.CatalogFeedPath
	}
	if path == "" {
		log.Fatal("no feed file: pass -feed or set CATALOG_FEED_PATH")
	}
	dsn := *db
	if dsn == "" {
		dsn = cfg.CatalogDBURL
	}
	if dsn == "" {
		log.Fatal("no database: pass -db or set CATALOG_DB_URL")
	}

	products, err := catalog.LoadFeed(path)
	if err != nil {
		log.Fatalf("load feed: %v", err)
	}

	ctx := context.Background()
	pool, err := catalog.NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	written, err := catalog.NewRepo(pool).UpsertProducts(ctx, products)
	if err != nil {
		log.Fatalf("upsert: %v", err)
	}
	log.Printf("catalog seeded: %d products written from %s", written, path)
}
