// Command tws manages the accounts pool and runs scraping operations against
// it. Paginated operations print one raw JSON page per line on stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/twsio/tws/internal/config"
	"github.com/twsio/tws/internal/gql"
	"github.com/twsio/tws/internal/login"
	"github.com/twsio/tws/internal/logx"
	"github.com/twsio/tws/internal/pool"
	"github.com/twsio/tws/internal/queue"
	"github.com/twsio/tws/internal/xclid"
)

var version = "dev"

type env struct {
	cfg  *config.Config
	pool *pool.AccountsPool
	api  *gql.API
}

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var e env

	app := &cli.App{
		Name:    "tws",
		Usage:   "account-pooled scraper for the X graphql api",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Value: "accounts.db", Usage: "path to the accounts database"},
			&cli.BoolFlag{Name: "debug", Usage: "verbose logging and request history dumps"},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.Bool("debug") {
				cfg.LogLevel = "DEBUG"
			}
			logx.Setup(cfg.LogLevel, 0)

			p, err := pool.New(c.Context, c.String("db"), cfg)
			if err != nil {
				return err
			}

			var clientOpts []queue.Option
			if c.Bool("debug") {
				clientOpts = append(clientOpts, queue.WithDebug())
			}

			e = env{cfg: cfg, pool: p, api: gql.New(p, cfg, gql.WithClientOptions(clientOpts...))}
			return nil
		},
		After: func(c *cli.Context) error {
			if e.pool != nil {
				return e.pool.Close()
			}
			return nil
		},
		Commands: append(poolCommands(&e), opCommands(&e)...),
	}
	return app.Run(args)
}

func poolCommands(e *env) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "version",
			Usage: "print version and database info",
			Action: func(c *cli.Context) error {
				ver, err := e.pool.DB().SQLiteVersion(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("tws: %s\nsqlite: %s\n", version, ver)
				return nil
			},
		},
		{
			Name:  "accounts",
			Usage: "list accounts with usage stats",
			Action: func(c *cli.Context) error {
				infos, err := e.pool.AccountsInfo(c.Context)
				if err != nil {
					return err
				}
				fmt.Printf("%-20s %-9s %-7s %-20s %-10s %s\n",
					"username", "logged_in", "active", "last_used", "total_req", "error_msg")
				for _, x := range infos {
					lastUsed := "-"
					if !x.LastUsed.IsZero() {
						lastUsed = x.LastUsed.Format("2006-01-02 15:04:05")
					}
					fmt.Printf("%-20s %-9v %-7v %-20s %-10d %s\n",
						x.Username, x.LoggedIn, x.Active, lastUsed, x.TotalReq, x.ErrorMsg)
				}
				return nil
			},
		},
		{
			Name:      "add_accounts",
			Usage:     "import accounts from a delimited file",
			ArgsUsage: "<file> <line_format>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 2 {
					return cli.Exit("usage: add_accounts <file> <line_format>", 2)
				}
				data, err := os.ReadFile(c.Args().Get(0))
				if err != nil {
					return err
				}
				n, err := e.pool.LoadFromFile(c.Context, string(data), c.Args().Get(1))
				if err != nil {
					return err
				}
				slog.Info("accounts imported", "count", n)
				return nil
			},
		},
		{
			Name:      "del_accounts",
			Usage:     "delete accounts by username",
			ArgsUsage: "<username>...",
			Action: func(c *cli.Context) error {
				return e.pool.Delete(c.Context, c.Args().Slice()...)
			},
		},
		{
			Name:      "login_accounts",
			Usage:     "log in all new accounts",
			Flags:     loginFlags(),
			ArgsUsage: "[username]...",
			Action: func(c *cli.Context) error {
				applyLoginFlags(c, e)
				ok, total, err := e.pool.LoginAll(c.Context, c.Args().Slice()...)
				if err != nil {
					return err
				}
				slog.Info("login finished", "success", ok, "total", total)
				return nil
			},
		},
		{
			Name:      "relogin",
			Usage:     "drop saved sessions and log in again",
			Flags:     loginFlags(),
			ArgsUsage: "<username>...",
			Action: func(c *cli.Context) error {
				applyLoginFlags(c, e)
				ok, total, err := e.pool.Relogin(c.Context, c.Args().Slice()...)
				if err != nil {
					return err
				}
				slog.Info("relogin finished", "success", ok, "total", total)
				return nil
			},
		},
		{
			Name:  "relogin_failed",
			Usage: "retry accounts that failed to log in",
			Flags: loginFlags(),
			Action: func(c *cli.Context) error {
				applyLoginFlags(c, e)
				ok, total, err := e.pool.ReloginFailed(c.Context)
				if err != nil {
					return err
				}
				slog.Info("relogin finished", "success", ok, "total", total)
				return nil
			},
		},
		{
			Name:  "reset_locks",
			Usage: "clear every queue lock",
			Action: func(c *cli.Context) error {
				return e.pool.ResetLocks(c.Context)
			},
		},
		{
			Name:  "delete_inactive",
			Usage: "delete all inactive accounts",
			Action: func(c *cli.Context) error {
				return e.pool.DeleteInactive(c.Context)
			},
		},
		{
			Name:  "stats",
			Usage: "pool counters: total, active, locked per queue",
			Action: func(c *cli.Context) error {
				stats, err := e.pool.Stats(c.Context)
				if err != nil {
					return err
				}
				for k, v := range stats {
					fmt.Printf("%s: %d\n", k, v)
				}
				return nil
			},
		},
	}
}

func applyLoginFlags(c *cli.Context, e *env) {
	e.pool.SetLoginConfig(login.Config{
		EmailFirst: c.Bool("email-first"),
		Manual:     c.Bool("manual"),
	})
}

func loginFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{Name: "email-first", Usage: "connect to the mailbox before starting the flow"},
		&cli.BoolFlag{Name: "manual", Usage: "prompt for confirmation codes instead of reading email"},
	}
}

func opCommands(e *env) []*cli.Command {
	limitFlag := &cli.IntFlag{Name: "limit", Value: -1, Usage: "approximate number of items to fetch (-1 = all)"}
	txidFlag := &cli.BoolFlag{Name: "txid", Usage: "attach a client transaction id to requests"}

	single := func(name, usage string, fn func(c *cli.Context) (*queue.Response, error)) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     usage,
			ArgsUsage: "<arg>",
			Flags:     []cli.Flag{txidFlag},
			Action: func(c *cli.Context) error {
				if err := setupTxid(c, e); err != nil {
					return err
				}
				rep, err := fn(c)
				if err != nil {
					return err
				}
				if rep == nil {
					slog.Warn("not found", "arg", c.Args().First())
					return nil
				}
				fmt.Println(string(rep.Body))
				return nil
			},
		}
	}

	paged := func(name, usage string, fn func(c *cli.Context) gql.Pages) *cli.Command {
		return &cli.Command{
			Name:      name,
			Usage:     usage,
			ArgsUsage: "<arg>",
			Flags:     []cli.Flag{limitFlag, txidFlag},
			Action: func(c *cli.Context) error {
				if err := setupTxid(c, e); err != nil {
					return err
				}
				for rep, err := range fn(c) {
					if err != nil {
						return err
					}
					fmt.Println(string(rep.Body))
				}
				return nil
			},
		}
	}

	return []*cli.Command{
		paged("search", "search tweets", func(c *cli.Context) gql.Pages {
			return e.api.SearchRaw(c.Context, c.Args().First(), c.Int("limit"), nil)
		}),
		single("user_by_id", "user profile by numeric id", func(c *cli.Context) (*queue.Response, error) {
			uid, err := argInt64(c)
			if err != nil {
				return nil, err
			}
			return e.api.UserByIDRaw(c.Context, uid, nil)
		}),
		single("user_by_login", "user profile by screen name", func(c *cli.Context) (*queue.Response, error) {
			return e.api.UserByLoginRaw(c.Context, c.Args().First(), nil)
		}),
		single("tweet_details", "conversation page for a tweet", func(c *cli.Context) (*queue.Response, error) {
			twid, err := argInt64(c)
			if err != nil {
				return nil, err
			}
			return e.api.TweetDetailsRaw(c.Context, twid, nil)
		}),
		paged("tweet_replies", "reply tree of a tweet", func(c *cli.Context) gql.Pages {
			twid, err := argInt64(c)
			if err != nil {
				return errPages(err)
			}
			return e.api.TweetRepliesRaw(c.Context, twid, c.Int("limit"), nil)
		}),
		pagedByUID(e, "followers", "followers of a user", (*gql.API).FollowersRaw),
		pagedByUID(e, "verified_followers", "verified followers of a user", (*gql.API).VerifiedFollowersRaw),
		pagedByUID(e, "following", "users someone follows", (*gql.API).FollowingRaw),
		pagedByUID(e, "subscriptions", "creator subscriptions of a user", (*gql.API).SubscriptionsRaw),
		paged("retweeters", "users who retweeted a tweet", func(c *cli.Context) gql.Pages {
			twid, err := argInt64(c)
			if err != nil {
				return errPages(err)
			}
			return e.api.RetweetersRaw(c.Context, twid, c.Int("limit"), nil)
		}),
		pagedByUID(e, "user_tweets", "tweets of a user", (*gql.API).UserTweetsRaw),
		pagedByUID(e, "user_tweets_and_replies", "tweets and replies of a user", (*gql.API).UserTweetsAndRepliesRaw),
		pagedByUID(e, "user_media", "media tweets of a user", (*gql.API).UserMediaRaw),
		pagedByUID(e, "liked_tweets", "liked tweets of a user", (*gql.API).LikedTweetsRaw),
		paged("list_timeline", "latest tweets of a list", func(c *cli.Context) gql.Pages {
			listID, err := argInt64(c)
			if err != nil {
				return errPages(err)
			}
			return e.api.ListTimelineRaw(c.Context, listID, c.Int("limit"), nil)
		}),
		paged("bookmarks", "bookmarks of the leased account", func(c *cli.Context) gql.Pages {
			return e.api.BookmarksRaw(c.Context, c.Int("limit"), nil)
		}),
	}
}

func pagedByUID(e *env, name, usage string, fn func(*gql.API, context.Context, int64, int, gql.Vars) gql.Pages) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<user_id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: -1, Usage: "approximate number of items to fetch (-1 = all)"},
			&cli.BoolFlag{Name: "txid", Usage: "attach a client transaction id to requests"},
		},
		Action: func(c *cli.Context) error {
			if err := setupTxid(c, e); err != nil {
				return err
			}
			uid, err := argInt64(c)
			if err != nil {
				return err
			}
			for rep, err := range fn(e.api, c.Context, uid, c.Int("limit"), nil) {
				if err != nil {
					return err
				}
				fmt.Println(string(rep.Body))
			}
			return nil
		},
	}
}

// setupTxid builds the transaction id generator on demand. It scrapes the
// public page once per invocation, so it is opt-in.
func setupTxid(c *cli.Context, e *env) error {
	if !c.Bool("txid") {
		return nil
	}
	gen, err := xclid.New(c.Context)
	if err != nil {
		return err
	}
	var opts []queue.Option
	if c.Bool("debug") {
		opts = append(opts, queue.WithDebug())
	}
	opts = append(opts, queue.WithTransactionID(gen))
	e.api = gql.New(e.pool, e.cfg, gql.WithClientOptions(opts...))
	return nil
}

func argInt64(c *cli.Context) (int64, error) {
	n, err := strconv.ParseInt(c.Args().First(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric argument %q", c.Args().First())
	}
	return n, nil
}

func errPages(err error) gql.Pages {
	return func(yield func(*queue.Response, error) bool) {
		yield(nil, err)
	}
}
