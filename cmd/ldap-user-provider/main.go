// Command ldap-user-provider resolves users against LDAP or Active Directory
// and keeps a local record of each.
//
// Usage:
//
//	ldap-user-provider [flags] lookup USERNAME
//	ldap-user-provider [flags] ping
//	ldap-user-provider [flags] migrate
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/isometry/ldap-user-provider/internal/accounts"
	"github.com/isometry/ldap-user-provider/internal/config"
	"github.com/isometry/ldap-user-provider/internal/directory"
	ldapclient "github.com/isometry/ldap-user-provider/internal/ldap"
	"github.com/isometry/ldap-user-provider/internal/logging"
	"github.com/isometry/ldap-user-provider/internal/provider"
)

const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitNotFound = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	defaults := config.Default()

	flags := pflag.NewFlagSet("ldap-user-provider", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.StringP("config", "c", "", "path to the configuration file")
	// Flag defaults act as viper defaults, so they must match the config
	// package's own.
	flags.String("log-level", defaults.Log.Level, "log level (trace, debug, info, warn, error, off)")
	flags.Bool("log-json", defaults.Log.JSON, "log in JSON format")
	flags.String("database-dsn", defaults.Database.DSN, "user store DSN (postgres:// URL or sqlite file)")
	flags.StringSlice("ldap-url", nil, "LDAP server URL, repeatable")
	flags.String("base-dn", defaults.LDAP.BaseDN, "search base DN")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: ldap-user-provider [flags] <lookup USERNAME | ping | migrate>\n\nFlags:\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return exitUsage
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	logger := logging.New(withOutput(cfg.LogOptions(), stderr))

	switch command := rest[0]; command {
	case "lookup":
		if len(rest) != 2 {
			fmt.Fprintln(stderr, "Usage: ldap-user-provider lookup USERNAME")
			return exitUsage
		}
		return report(stderr, lookupCommand(ctx, cfg, logger, rest[1], stdout))
	case "ping":
		return report(stderr, pingCommand(ctx, cfg, logger, stdout))
	case "migrate":
		return report(stderr, migrateCommand(ctx, cfg, stdout))
	default:
		fmt.Fprintf(stderr, "Unknown command %q\n", command)
		flags.Usage()
		return exitUsage
	}
}

func withOutput(opts logging.Options, w io.Writer) logging.Options {
	opts.Output = w
	return opts
}

func report(stderr io.Writer, err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, provider.ErrUserNotFound):
		fmt.Fprintln(stderr, err)
		return exitNotFound
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
}

func openStore(ctx context.Context, cfg *config.Config) (*accounts.GormStore, func(), error) {
	db, err := accounts.OpenDatabase(cfg.Database.DSN, cfg.Database.Debug)
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}

	store := accounts.NewGormStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, nil, err
	}

	return store, func() { _ = sqlDB.Close() }, nil
}

func lookupCommand(ctx context.Context, cfg *config.Config, logger *logging.HCLogger, username string, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := ldapclient.NewClient(ctx, cfg.ConnectionConfig(), logger.Named("ldap"))
	if err != nil {
		return err
	}
	defer client.Close()

	lookup, err := directory.NewLookup(client, cfg.DirectoryConfig(), logger.Named("directory"))
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	syncer := accounts.NewSynchronizer(store, cfg.Accounts.DefaultRoles, accounts.WithLogger(logger.Named("accounts")))
	users := provider.NewUserProvider(lookup, syncer, logger.Named("provider"))

	user, err := users.LoadUserByUsername(ctx, username)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(user)
}

func pingCommand(ctx context.Context, cfg *config.Config, logger *logging.HCLogger, stdout io.Writer) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	client, err := ldapclient.NewClient(ctx, cfg.ConnectionConfig(), logger.Named("ldap"))
	if err != nil {
		return err
	}
	defer client.Close()

	return pingDirectory(ctx, client, bindIdentity(cfg), stdout)
}

// pingDirectory reads the root DSE anonymously first so that an unreachable
// server and rejected credentials are reported apart.
func pingDirectory(ctx context.Context, client ldapclient.Client, identity string, stdout io.Writer) error {
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("directory unreachable: %w", err)
	}

	if err := client.Ping(ctx); err != nil {
		if ldapclient.IsAuthenticationError(err) {
			return fmt.Errorf("directory rejected bind as %s: %w", identity, err)
		}
		return fmt.Errorf("directory ping failed: %w", err)
	}

	stats := client.Stats()
	fmt.Fprintf(stdout, "ok: bound as %s (connections created: %d, idle: %d)\n",
		identity, stats.Created, stats.Idle)
	return nil
}

func bindIdentity(cfg *config.Config) string {
	switch {
	case cfg.LDAP.Kerberos.Realm != "":
		return cfg.LDAP.SearchDN + " (kerberos)"
	case cfg.LDAP.SearchDN != "":
		return cfg.LDAP.SearchDN
	default:
		return "anonymous"
	}
}

func migrateCommand(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	_, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	closeStore()

	fmt.Fprintln(stdout, "users table is up to date")
	return nil
}
