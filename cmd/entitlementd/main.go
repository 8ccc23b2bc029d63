// Command entitlementd serves the offline entitlement API on localhost:
// license issuance, machine-bound activation, validation and status for the
// desktop caller.
package main

import (
	"context"
	"log/slog"
	"os"

	"entitle/internal/app"
)

func main() {
	application, err := app.NewApplication()
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
