// Command license-keygen is the vendor-side admin tool. It issues license
// keys directly against a record store, without going through the HTTP
// service, and can list or validate the store's contents.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"entitle/internal/config"
	"entitle/internal/fingerprint"
	"entitle/internal/infrastructure"
	"entitle/internal/license"
	"entitle/internal/store"
	"entitle/pkg/contracts/domain"
)

func main() {
	email := flag.String("email", "", "licensee email (required for -issue)")
	name := flag.String("name", "", "licensee display name")
	tier := flag.String("tier", "yearly", "license tier: trial, monthly, yearly or lifetime")
	issue := flag.Bool("issue", false, "issue a new license key")
	list := flag.Bool("list", false, "list all records in the store")
	storePath := flag.String("store", "", "store path (defaults to the configured store)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *storePath != "" {
		cfg.License.StorePath = *storePath
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	licenseStore, err := store.Open(cfg.License.StorePath, logger)
	if err != nil {
		logger.Error("failed to open license store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer licenseStore.Close()

	ctx := context.Background()

	switch {
	case *issue:
		if err := issueKey(ctx, cfg, licenseStore, logger, *email, *name, domain.Tier(*tier)); err != nil {
			logger.Error("issuance failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	case *list:
		if err := listRecords(ctx, licenseStore); err != nil {
			logger.Error("listing failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func issueKey(ctx context.Context, cfg *config.Config, st *store.LicenseStore, logger *slog.Logger, email, name string, tier domain.Tier) error {
	manager, err := license.NewManager(license.ManagerConfig{
		Store:    st,
		Resolver: fingerprint.NewSystemResolver(cfg.Fingerprint.DisableHardwareProbes, logger),
		Policy:   license.NewPolicy(cfg.License.TrialDays),
		Secret:   cfg.License.Secret,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	record, err := manager.Issue(ctx, email, name, tier)
	if err != nil {
		return err
	}

	fmt.Printf("license key: %s\n", record.LicenseKey)
	fmt.Printf("tier:        %s\n", record.Tier)
	fmt.Printf("expires:     %s\n", record.ExpiresAt.Format("2006-01-02"))
	return nil
}

func listRecords(ctx context.Context, st *store.LicenseStore) error {
	records, err := st.FindAll(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tEMAIL\tTIER\tEXPIRES\tACTIVE\tMACHINE")
	for _, r := range records {
		machine := r.MachineID
		if machine == "" {
			machine = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%t\t%s\n",
			r.ID, r.LicenseKey, r.UserEmail, r.Tier,
			r.ExpiresAt.Format("2006-01-02"), r.IsActive, machine)
	}
	return w.Flush()
}
