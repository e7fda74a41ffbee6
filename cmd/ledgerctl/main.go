// Command ledgerctl runs the ledger jobs and checks by hand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"rewards-ledger/internal/auth"
	"rewards-ledger/internal/config"
	"rewards-ledger/internal/database"
	"rewards-ledger/internal/services"
)

const usage = `usage: ledgerctl <command> [flags]

commands:
  tick      run one accrual tick
  backfill  post every missing accrual day up to the horizon
  pool      run the weekly global pool cycle
  audit     compare wallet balances with the ledger
  status    show accrual progress per user
  token     mint a bearer token for a user
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.LoadForTooling()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if lvl, err := logrus.ParseLevel(cfg.App.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	entry := log.WithField("service", "ledgerctl")

	cmd, args := os.Args[1], os.Args[2:]
	if cmd == "token" {
		exitOn(entry, runToken(cfg, args))
		return
	}

	econ, err := config.LoadEconomics(cfg.App.EconomicsFile)
	if err != nil {
		entry.Fatalf("Failed to load economics: %v", err)
	}
	db, err := database.Connect(cfg, entry)
	if err != nil {
		entry.Fatalf("Failed to connect to database: %v", err)
	}
	if err := database.AutoMigrate(db, entry); err != nil {
		entry.Fatalf("Failed to run migrations: %v", err)
	}
	svc := services.New(db, econ, cfg.Jobs.LeaseTTL, entry)
	ctx := context.Background()

	switch cmd {
	case "tick":
		err = runTick(ctx, svc, args)
	case "backfill":
		err = runBackfill(ctx, svc, args)
	case "pool":
		err = runPool(ctx, svc, econ, args)
	case "audit":
		err = runAudit(ctx, svc, args)
	case "status":
		err = runStatus(ctx, svc, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	exitOn(entry, err)
}

func exitOn(log *logrus.Entry, err error) {
	if err == nil {
		return
	}
	if services.IsSkip(err) {
		log.WithError(err).Warn("Nothing to do")
		return
	}
	log.WithError(err).Error("Command failed")
	os.Exit(1)
}

func runTick(ctx context.Context, svc *services.Services, args []string) error {
	fs := flag.NewFlagSet("tick", flag.ExitOnError)
	force := fs.Bool("force", false, "ignore the job's last processed date")
	dryRun := fs.Bool("dry-run", false, "count what would be posted without writing")
	user := fs.Uint("user", 0, "restrict to one user id")
	at := fs.String("at", "", "run as of this RFC3339 time instead of now")
	_ = fs.Parse(args)

	now, err := parseAt(*at)
	if err != nil {
		return err
	}
	summary, err := svc.Accrual.RunAccrualTick(ctx, now, services.AccrualOptions{
		Force:  *force,
		DryRun: *dryRun,
		UserID: *user,
	})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runBackfill(ctx context.Context, svc *services.Services, args []string) error {
	fs := flag.NewFlagSet("backfill", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "count what would be posted without writing")
	user := fs.Uint("user", 0, "restrict to one user id")
	_ = fs.Parse(args)

	summary, err := svc.Accrual.Backfill(ctx, time.Now(), *user, *dryRun)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runPool(ctx context.Context, svc *services.Services, econ *config.Economics, args []string) error {
	fs := flag.NewFlagSet("pool", flag.ExitOnError)
	force := fs.Bool("force", false, "ignore the job's last processed date")
	monday := fs.String("monday", "", "process this Monday (YYYY-MM-DD) directly, bypassing the job marker")
	collectOnly := fs.Bool("collect-only", false, "with -monday, only collect")
	distributeOnly := fs.Bool("distribute-only", false, "with -monday, only distribute")
	_ = fs.Parse(args)

	if *monday == "" {
		summary, err := svc.Pool.Run(ctx, time.Now(), *force)
		if err != nil {
			return err
		}
		return printJSON(summary)
	}

	day, err := time.ParseInLocation("2006-01-02", *monday, econ.Location)
	if err != nil {
		return fmt.Errorf("invalid -monday: %w", err)
	}
	if day.Weekday() != time.Monday {
		return fmt.Errorf("%s is a %s, not a Monday", *monday, day.Weekday())
	}
	summary, err := svc.Pool.ProcessGlobalPool(ctx, day, !*distributeOnly, !*collectOnly)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runAudit(ctx context.Context, svc *services.Services, args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	repair := fs.Bool("repair", false, "rewrite mismatched cached balances from the ledger")
	_ = fs.Parse(args)

	report, err := svc.Integrity.Audit(ctx, *repair)
	if err != nil {
		return err
	}
	if err := printJSON(report); err != nil {
		return err
	}
	if report.Mismatched > report.Repaired {
		return fmt.Errorf("%d wallets disagree with the ledger", report.Mismatched-report.Repaired)
	}
	return nil
}

func runStatus(ctx context.Context, svc *services.Services, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	behindOnly := fs.Bool("behind", false, "only list users with missing days")
	_ = fs.Parse(args)

	status, err := svc.Accrual.Status(ctx, time.Now())
	if err != nil {
		return err
	}
	if *behindOnly {
		filtered := status[:0]
		for _, s := range status {
			if s.Behind > 0 {
				filtered = append(filtered, s)
			}
		}
		status = filtered
	}
	return printJSON(status)
}

func runToken(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("token", flag.ExitOnError)
	user := fs.Uint("user", 0, "user id")
	admin := fs.Bool("admin", false, "include the admin claim")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	_ = fs.Parse(args)

	if *user == 0 {
		return fmt.Errorf("-user is required")
	}
	if cfg.App.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	auth.InitJWT(cfg.App.JWTSecret)
	token, err := auth.GenerateToken(*user, *admin, *ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func parseAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -at: %w", err)
	}
	return t, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
