package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"github.com/yourorg/finance/internal/auth"
	"github.com/yourorg/finance/internal/config"
	"github.com/yourorg/finance/internal/domain"
	"github.com/yourorg/finance/internal/execution"
	"github.com/yourorg/finance/internal/logger"
	"github.com/yourorg/finance/internal/quotes"
	"github.com/yourorg/finance/internal/repository/sqlstore"
)

const version = "v0.3.0"

func main() {
	_ = godotenv.Load()
	if err := newApp(os.Stdout, os.Stderr).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// env holds what every command needs once Before has run.
type env struct {
	db       *sqlx.DB
	accounts *auth.Accounts
	ledger   *execution.Service
}

func newApp(stdout, stderr io.Writer) *cli.App {
	e := &env{}

	app := &cli.App{
		Name:      "financectl",
		Usage:     "administer the trading ledger",
		Version:   version,
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to optional YAML config file",
			},
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "database URL, overrides DATABASE_URL",
			},
			&cli.StringFlag{
				Name:    "loglevel",
				Aliases: []string{"l"},
				Usage:   "log level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("database") {
				cfg.Database.URL = c.String("database")
			}
			if c.IsSet("loglevel") {
				cfg.Logging.Level = c.String("loglevel")
			}
			log := logger.New(stderr, cfg.Logging.Level)

			db, err := sqlstore.Connect(cfg.Database.URL)
			if err != nil {
				return err
			}
			if err := sqlstore.RunMigrations(db, cfg.Database.URL); err != nil {
				db.Close()
				return err
			}
			users := sqlstore.NewUserRepo(db)
			provider := quotes.NewIEXClient(cfg.Quotes.BaseURL, cfg.Quotes.APIKey, cfg.QuoteTimeout(), log)

			e.db = db
			e.accounts = auth.NewAccounts(users, cfg.StartingCash(), cfg.Auth.BcryptCost)
			e.ledger = execution.NewService(db, users, sqlstore.NewPositionRepo(db), sqlstore.NewHistoryRepo(db),
				provider, log, execution.WithQuoteTimeout(cfg.QuoteTimeout()))
			return nil
		},
		After: func(c *cli.Context) error {
			if e.db != nil {
				return e.db.Close()
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "apply database migrations",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, "migrations applied")
					return nil
				},
			},
			{
				Name:      "register",
				Usage:     "create a user with the starting cash balance",
				ArgsUsage: "USERNAME PASSWORD",
				Action: func(c *cli.Context) error {
					if c.NArg() != 2 {
						return fmt.Errorf("usage: register USERNAME PASSWORD")
					}
					pw := c.Args().Get(1)
					user, err := e.accounts.Register(c.Context, c.Args().Get(0), pw, pw)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "registered %s with %s\n", user.Username, domain.USD(user.Cash))
					return nil
				},
			},
			{
				Name:      "quote",
				Aliases:   []string{"q"},
				Usage:     "look up the current price of a symbol",
				ArgsUsage: "SYMBOL",
				Action: func(c *cli.Context) error {
					q, err := e.ledger.Quote(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "A share of %s (%s) costs %s.\n", q.Name, q.Symbol, domain.USD(q.Price))
					return nil
				},
			},
			tradeCommand(e, "buy", "buy shares for a user", domain.SideBuy),
			tradeCommand(e, "sell", "sell shares for a user", domain.SideSell),
			{
				Name:      "portfolio",
				Usage:     "show a user's positions and cash",
				ArgsUsage: "USERNAME",
				Action: func(c *cli.Context) error {
					user, err := e.accounts.Lookup(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					h, err := e.ledger.Holdings(c.Context, user.ID)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SYMBOL\tNAME\tSHARES\tPRICE\tTOTAL")
					for _, p := range h.Positions {
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.Symbol, p.Name, p.Shares, domain.USD(p.Price), domain.USD(p.Total))
					}
					fmt.Fprintf(tw, "CASH\t\t\t\t%s\n", domain.USD(h.Cash))
					fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\n", domain.USD(h.GrandTotal))
					return tw.Flush()
				},
			},
			{
				Name:      "history",
				Usage:     "list a user's transactions, oldest first",
				ArgsUsage: "USERNAME",
				Action: func(c *cli.Context) error {
					user, err := e.accounts.Lookup(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					entries, err := e.ledger.History(c.Context, user.ID)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "SYMBOL\tSHARES\tPRICE\tTRANSACTED")
					for _, h := range entries {
						fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", h.Symbol, h.Shares, domain.USD(h.Price), h.Date.Format("2006-01-02 15:04:05"))
					}
					return tw.Flush()
				},
			},
			{
				Name:      "audit",
				Usage:     "check that every position matches the sum of its history",
				ArgsUsage: "USERNAME",
				Action: func(c *cli.Context) error {
					user, err := e.accounts.Lookup(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					mismatches, err := e.ledger.Audit(c.Context, user.ID)
					if err != nil {
						return err
					}
					for _, m := range mismatches {
						fmt.Fprintf(c.App.Writer, "%s: position %d, history %d\n", m.Symbol, m.Shares, m.HistoryShares)
					}
					if len(mismatches) > 0 {
						return fmt.Errorf("%d position(s) out of balance", len(mismatches))
					}
					fmt.Fprintln(c.App.Writer, "ok")
					return nil
				},
			},
		},
	}

	sort.Sort(cli.FlagsByName(app.Flags))
	sort.Sort(cli.CommandsByName(app.Commands))
	return app
}

func tradeCommand(e *env, name, usage string, side domain.TradeSide) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "USERNAME SYMBOL SHARES",
		Action: func(c *cli.Context) error {
			if c.NArg() != 3 {
				return fmt.Errorf("usage: %s USERNAME SYMBOL SHARES", name)
			}
			user, err := e.accounts.Lookup(c.Context, c.Args().Get(0))
			if err != nil {
				return err
			}
			shares, err := execution.ParseShares(c.Args().Get(2))
			if err != nil {
				return err
			}
			var trade *domain.Trade
			if side == domain.SideBuy {
				trade, err = e.ledger.Buy(c.Context, user.ID, c.Args().Get(1), shares)
			} else {
				trade, err = e.ledger.Sell(c.Context, user.ID, c.Args().Get(1), shares)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s %d %s at %s for %s, cash %s\n",
				side, trade.Shares, trade.Symbol, domain.USD(trade.Price), domain.USD(trade.Total), domain.USD(trade.CashAfter))
			return nil
		},
	}
}
