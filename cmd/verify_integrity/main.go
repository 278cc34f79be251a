package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"telegram_ledger/internal/db"
	"telegram_ledger/internal/ledger"
	"telegram_ledger/internal/logger"
	"telegram_ledger/internal/repository"

	"github.com/joho/godotenv"
)

// Replays account transactions and compares them with stored balances.
// Exits with status 2 when any account is inconsistent.
func main() {
	_ = godotenv.Load()

	slug := flag.String("account", "", "account slug; empty checks every account")
	timeout := flag.Duration("timeout", time.Minute, "overall timeout")
	flag.Parse()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("DATABASE_URL is not set")
	}
	pool := db.Connect(dsn)
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	engine := ledger.NewEngine(repository.NewPgStore(pool))

	var reports []*ledger.IntegrityReport
	if *slug != "" {
		r, err := engine.VerifyIntegrity(ctx, *slug)
		if err != nil {
			logger.Fatal("verify failed", "account", *slug, "error", err)
		}
		reports = append(reports, r)
	} else {
		var err error
		reports, err = engine.VerifyAll(ctx)
		if err != nil {
			logger.Fatal("verify failed", "error", err)
		}
	}

	failed := 0
	for _, r := range reports {
		if r.OK {
			fmt.Printf("OK    %-20s %d transactions, balance %d\n", r.AccountSlug, r.Transactions, r.Balance)
			continue
		}
		failed++
		fmt.Printf("FAIL  %-20s %s\n", r.AccountSlug, r.Mismatch)
	}

	if failed > 0 {
		fmt.Printf("%d of %d accounts inconsistent\n", failed, len(reports))
		os.Exit(2)
	}
}
