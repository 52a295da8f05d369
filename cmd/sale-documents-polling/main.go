// One-shot reconciliation pass, for running the polling loop from a cron
// job or by hand instead of the in-process scheduler.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"bitbucket.org/kontrabaz/amobazon_backend/amosync"
	"bitbucket.org/kontrabaz/amobazon_backend/config"
	"bitbucket.org/kontrabaz/amobazon_backend/models"
)

func main() {
	withContractors := flag.Bool("contractors", false, "Also run the contractors detail pass")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall run timeout")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	amosync.RunSaleDocumentsPolling(ctx)
	if *withContractors {
		amosync.RunContractorsPolling(ctx)
	}
}
