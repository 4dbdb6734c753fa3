package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"icalsynchub/internal/config"
	"icalsynchub/internal/ics"
	"icalsynchub/internal/link"
	appLog "icalsynchub/internal/log"
	"icalsynchub/internal/output"
	syncctl "icalsynchub/internal/sync"
	"icalsynchub/internal/token"
)

func main() {
	cmd := &cli.Command{
		Name:  "icalsynchub",
		Usage: "Merge remote iCal feeds into one calendar with shareable per-user links",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to YAML config file",
				Value:   "config.yaml",
				Sources: cli.EnvVars("ICALSYNCHUB_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			syncCommand(),
			tokenCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		appLog.Error("icalsynchub exited with error", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	return cfg, nil
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the synchronization loop (sync_interval: 0 or --once runs a single cycle)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run one cycle and exit regardless of sync_interval"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			writer, err := output.NewWriter(cfg.OutputPath, cfg.Filename)
			if err != nil {
				return err
			}
			store, err := token.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			lifecycle := link.NewLifecycle(store, link.Artifacts{
				OutputDir:  cfg.OutputPath,
				MergedName: writer.Filename(),
			})
			fetcher := ics.NewFetcher(cfg.FetchTimeout(), cfg.Retries, cfg.FetchDelay())
			ctrl := syncctl.NewController(cfg, fetcher, writer, lifecycle)

			if cmd.Bool("once") {
				return ctrl.RunOnce(ctx)
			}
			return ctrl.Run(ctx)
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage shareable calendar link tokens",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Issue a token for a user and publish its link artifacts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "Owner label for the token", Required: true},
					&cli.StringFlag{Name: "expires", Usage: "Optional expiry (YYYY-MM-DD or RFC3339)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, lifecycle, closeStore, err := openLifecycle(cmd)
					if err != nil {
						return err
					}
					defer closeStore()

					expiry, err := parseExpiry(cmd.String("expires"))
					if err != nil {
						return err
					}
					t, err := lifecycle.Create(cmd.String("owner"), expiry)
					if err != nil {
						return err
					}

					fmt.Printf("token issued for %q: %s\n", t.Owner, t.Token)
					if url := shareURL(cfg, t); url != "" {
						fmt.Printf("shareable URL: %s\n", url)
					}
					return nil
				},
			},
			{
				Name:  "remove",
				Usage: "Delete a token and tear down its link artifacts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Token to remove", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					_, lifecycle, closeStore, err := openLifecycle(cmd)
					if err != nil {
						return err
					}
					defer closeStore()
					return lifecycle.Remove(cmd.String("token"))
				},
			},
			{
				Name:  "expiry",
				Usage: "Change or clear a token's expiry and reconcile its artifacts",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "token", Usage: "Token to update", Required: true},
					&cli.StringFlag{Name: "expires", Usage: "New expiry (YYYY-MM-DD or RFC3339)"},
					&cli.BoolFlag{Name: "clear", Usage: "Remove the expiry (token never expires)"},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					if cmd.Bool("clear") == (cmd.String("expires") != "") {
						return fmt.Errorf("exactly one of --expires or --clear is required")
					}

					_, lifecycle, closeStore, err := openLifecycle(cmd)
					if err != nil {
						return err
					}
					defer closeStore()

					var expiry *time.Time
					if !cmd.Bool("clear") {
						// Parsed before any store mutation: an invalid
						// date must not change anything.
						expiry, err = parseExpiry(cmd.String("expires"))
						if err != nil {
							return err
						}
					}
					return lifecycle.SetExpiry(cmd.String("token"), expiry)
				},
			},
			{
				Name:  "list",
				Usage: "List all tokens with their derived status",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, lifecycle, closeStore, err := openLifecycle(cmd)
					if err != nil {
						return err
					}
					defer closeStore()

					tokens, err := lifecycle.List()
					if err != nil {
						return err
					}

					now := time.Now()
					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "OWNER\tSTATUS\tEXPIRES\tLINK")
					for _, t := range tokens {
						expires := "never"
						if t.Expiry != nil {
							expires = t.Expiry.Local().Format("2006-01-02 15:04")
						}
						linkCol := t.Token
						if url := shareURL(cfg, t); url != "" {
							linkCol = url
						}
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
							t.Owner, t.Status(now, cfg.ExpiryWarnDays), expires, linkCol)
					}
					return w.Flush()
				},
			},
		},
	}
}

// openLifecycle builds the admin-side token lifecycle. When the merged
// filename is unconfigured (random per sync run) artifact creation is
// deferred to the sync loop's next sweep.
func openLifecycle(cmd *cli.Command) (*config.Config, *link.Lifecycle, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := token.Open(cfg.DatabasePath)
	if err != nil {
		return nil, nil, nil, err
	}
	lifecycle := link.NewLifecycle(store, link.Artifacts{
		OutputDir:  cfg.OutputPath,
		MergedName: cfg.Filename,
	})
	return cfg, lifecycle, func() { store.Close() }, nil
}

func shareURL(cfg *config.Config, t token.Token) string {
	if cfg.Domain == "" {
		return ""
	}
	return strings.TrimRight(cfg.Domain, "/") + "/" + t.Token + ".ics"
}

// parseExpiry accepts a bare date (meaning end of that day, host local) or a
// full RFC3339 timestamp. Empty means no expiry.
func parseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		eod := t.AddDate(0, 0, 1).Add(-time.Second)
		return &eod, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, nil
	}
	return nil, fmt.Errorf("unparseable expiry %q (want YYYY-MM-DD or RFC3339)", s)
}
