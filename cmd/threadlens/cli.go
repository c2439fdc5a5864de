package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"threadlens/internal/app"
	"threadlens/internal/cmdlog"
	"threadlens/internal/config"
	"threadlens/internal/errors"
	"threadlens/internal/jobs"
	"threadlens/internal/logging"
	"threadlens/internal/metrics"
	"threadlens/internal/model"
	"threadlens/internal/theme"
	"threadlens/internal/web"
)

const defaultConfigPath = "./threadlens.yaml"

// newCLIApp creates the CLI application. A nil factory uses real HTTP clients.
func newCLIApp(factory app.ClientFactory) *cli.App {
	a := &cli.App{
		Name:    "threadlens",
		Usage:   "Read-only conversation and timeline context for Misskey instances",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: defaultConfigPath, Usage: "Path to YAML config"},
			&cli.StringFlag{Name: "host", Usage: "Instance host (overrides config and MISSKEY_HOST)"},
			&cli.StringFlag{Name: "token", Usage: "Access token (overrides config and MISSKEY_TOKEN)"},
			&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error"},
		},
		Commands: []*cli.Command{
			initCmd(),
			threadCmd(factory),
			contextCmd(factory),
			feedCmd(factory),
			emojiCmd(factory),
			serveCmd(factory),
			watchCmd(factory),
		},
	}
	// errors are returned to main instead of exiting inside the library
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

func prettyFlag() cli.Flag {
	return &cli.BoolFlag{Name: "pretty", Aliases: []string{"p"}, Usage: "Render for the terminal instead of JSON"}
}

// setup loads and validates config, applies flag overrides and builds the app.
func setup(c *cli.Context, factory app.ClientFactory) (*app.App, config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cfg, fmt.Errorf("load config: %w", err)
	}
	if v := c.String("host"); v != "" {
		cfg.Instance.Host = v
	}
	if v := c.String("token"); v != "" {
		cfg.Instance.Token = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, cfg, err
	}
	if err := logging.Init(cfg.Logging.Level); err != nil {
		return nil, cfg, err
	}
	return app.New(cfg, factory), cfg, nil
}

func initCmd() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Write a default config file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Value: defaultConfigPath, Usage: "Where to write the config"},
		},
		Action: func(c *cli.Context) error {
			return cmdlog.Run("init", func() error {
				path := c.String("path")
				if err := config.Save(path, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(path)
				fmt.Fprintln(c.App.Writer, "Config written to:", abs)
				return nil
			})
		},
	}
}

func threadCmd(factory app.ClientFactory) *cli.Command {
	return &cli.Command{
		Name:      "thread",
		Usage:     "Reconstruct the conversation around a note",
		ArgsUsage: "<noteId>",
		Flags: []cli.Flag{
			prettyFlag(),
			&cli.BoolFlag{Name: "emoji", Usage: "Resolve custom emoji short-codes to image markup"},
		},
		Action: func(c *cli.Context) error {
			return cmdlog.Run("thread", func() error {
				noteID := c.Args().First()
				if noteID == "" {
					return fmt.Errorf("noteId is required")
				}
				if err := checkRenderFlags(c); err != nil {
					return err
				}
				a, cfg, err := setup(c, factory)
				if err != nil {
					return err
				}
				host := cfg.Instance.Host
				th, err := a.GetConversationThread(c.Context, host, cfg.Instance.Token, noteID)
				if err != nil {
					return describe(err)
				}
				if c.Bool("pretty") {
					fmt.Fprintln(c.App.Writer, theme.Banner("thread "+noteID))
					fmt.Fprint(c.App.Writer, theme.RenderThread(th, time.Now()))
					return nil
				}
				if c.Bool("emoji") {
					_ = a.PrimeEmojiCache(c.Context, host)
					th = a.RenderThread(th, host)
				}
				return outputJSON(c.App.Writer, th)
			})
		},
	}
}

// checkRenderFlags rejects --emoji with --pretty: emoji markup is HTML and only
// makes sense in JSON output.
func checkRenderFlags(c *cli.Context) error {
	if c.Bool("pretty") && c.Bool("emoji") {
		return fmt.Errorf("--emoji applies to JSON output and cannot be combined with --pretty")
	}
	return nil
}

func contextCmd(factory app.ClientFactory) *cli.Command {
	return &cli.Command{
		Name:      "context",
		Usage:     "Show the public timeline around a note",
		ArgsUsage: "<noteId>",
		Flags: []cli.Flag{
			prettyFlag(),
			&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Value: string(model.ScopeGlobal), Usage: "global|local"},
			&cli.BoolFlag{Name: "emoji", Usage: "Resolve custom emoji short-codes to image markup"},
		},
		Action: func(c *cli.Context) error {
			return cmdlog.Run("context", func() error {
				noteID := c.Args().First()
				if noteID == "" {
					return fmt.Errorf("noteId is required")
				}
				scope, err := model.ParseScope(c.String("scope"))
				if err != nil {
					return err
				}
				if err := checkRenderFlags(c); err != nil {
					return err
				}
				a, cfg, err := setup(c, factory)
				if err != nil {
					return err
				}
				host := cfg.Instance.Host
				w, err := a.GetContextTimeline(c.Context, host, cfg.Instance.Token, noteID, scope)
				if err != nil {
					return describe(err)
				}
				if c.Bool("pretty") {
					fmt.Fprintln(c.App.Writer, theme.Banner(string(scope)+" timeline around "+noteID))
					fmt.Fprint(c.App.Writer, theme.RenderWindow(w, noteID, time.Now()))
					return nil
				}
				if c.Bool("emoji") {
					_ = a.PrimeEmojiCache(c.Context, host)
					w = a.RenderWindow(w, host)
				}
				return outputJSON(c.App.Writer, w)
			})
		},
	}
}

func feedCmd(factory app.ClientFactory) *cli.Command {
	return &cli.Command{
		Name:  "feed",
		Usage: "Reconstruct threads for every note in an antenna",
		Flags: []cli.Flag{
			prettyFlag(),
			&cli.StringFlag{Name: "antenna", Aliases: []string{"a"}, Usage: "Antenna id (overrides config and ANTENNA_ID)"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Number of feed notes (default from config)"},
		},
		Action: func(c *cli.Context) error {
			return cmdlog.Run("feed", func() error {
				a, cfg, err := setup(c, factory)
				if err != nil {
					return err
				}
				antenna := c.String("antenna")
				if antenna == "" {
					antenna = cfg.Feed.AntennaID
				}
				if antenna == "" {
					return fmt.Errorf("antenna id is required (--antenna or ANTENNA_ID)")
				}
				threads, err := a.GetFeedThreads(c.Context, cfg.Instance.Host, cfg.Instance.Token, antenna, c.Int("limit"))
				if err != nil {
					return describe(err)
				}
				if c.Bool("pretty") {
					printThreads(c.App.Writer, "antenna "+antenna, threads)
					return nil
				}
				return outputJSON(c.App.Writer, map[string]any{"threads": threads, "instanceHost": cfg.Instance.Host})
			})
		},
	}
}

func emojiCmd(factory app.ClientFactory) *cli.Command {
	return &cli.Command{
		Name:  "emoji",
		Usage: "Custom emoji catalog tools",
		Subcommands: []*cli.Command{
			{
				Name:  "prime",
				Usage: "Fetch and cache the instance's emoji catalog",
				Action: func(c *cli.Context) error {
					return cmdlog.Run("emoji_prime", func() error {
						a, cfg, err := setup(c, factory)
						if err != nil {
							return err
						}
						if err := a.PrimeEmojiCache(c.Context, cfg.Instance.Host); err != nil {
							return describe(err)
						}
						return outputJSON(c.App.Writer, map[string]any{
							"host":    cfg.Instance.Host,
							"entries": a.EmojiCache().Len(cfg.Instance.Host),
						})
					})
				},
			},
			{
				Name:      "resolve",
				Usage:     "Replace :short-codes: in text with image markup",
				ArgsUsage: "<text>",
				Action: func(c *cli.Context) error {
					return cmdlog.Run("emoji_resolve", func() error {
						a, cfg, err := setup(c, factory)
						if err != nil {
							return err
						}
						text := strings.Join(c.Args().Slice(), " ")
						if err := a.PrimeEmojiCache(c.Context, cfg.Instance.Host); err != nil {
							logging.Warn("emoji_prime_failed", map[string]any{"error": err})
						}
						fmt.Fprintln(c.App.Writer, a.ResolveEmojiText(text, cfg.Instance.Host, nil))
						return nil
					})
				},
			},
		},
	}
}

func serveCmd(factory app.ClientFactory) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the JSON API",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (default from config)"},
		},
		Action: func(c *cli.Context) error {
			return cmdlog.Run("serve", func() error {
				a, cfg, err := setup(c, factory)
				if err != nil {
					return err
				}
				addr := c.String("addr")
				if addr == "" {
					addr = cfg.Server.Addr
				}
				metrics.StartServer(cfg.Server.MetricsAddr)
				ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return web.NewServer(a, cfg).ListenAndServe(ctx, addr)
			})
		},
	}
}

func watchCmd(factory app.ClientFactory) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Re-render the antenna feed on an interval",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "interval", Usage: "Refresh interval (default from config)"},
			&cli.StringFlag{Name: "antenna", Aliases: []string{"a"}, Usage: "Antenna id"},
		},
		Action: func(c *cli.Context) error {
			return cmdlog.Run("watch", func() error {
				a, cfg, err := setup(c, factory)
				if err != nil {
					return err
				}
				antenna := c.String("antenna")
				if antenna == "" {
					antenna = cfg.Feed.AntennaID
				}
				if antenna == "" {
					return fmt.Errorf("antenna id is required (--antenna or ANTENNA_ID)")
				}
				interval := c.Duration("interval")
				if interval <= 0 {
					interval = time.Duration(cfg.Feed.RefreshSeconds) * time.Second
				}
				metrics.StartServer(cfg.Server.MetricsAddr)
				ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				target := jobs.FeedTarget{Host: cfg.Instance.Host, Credential: cfg.Instance.Token, FeedID: antenna, Limit: cfg.Feed.Limit}
				err = jobs.RunFeedLoop(ctx, a, target, interval, func(ts []model.Thread) {
					printThreads(c.App.Writer, "antenna "+antenna, ts)
				})
				if stderrors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		},
	}
}

func printThreads(w io.Writer, title string, threads []model.Thread) {
	fmt.Fprintln(w, theme.Banner(title))
	now := time.Now()
	for _, th := range threads {
		fmt.Fprint(w, theme.RenderThread(th, now))
		fmt.Fprintln(w)
	}
}

// describe prefixes coded errors the way the HTTP surface classifies them.
func describe(err error) error {
	switch errors.CodeOf(err) {
	case errors.ErrNotFound:
		return fmt.Errorf("not found: %w", err)
	case errors.ErrBackend:
		return fmt.Errorf("backend unavailable: %w", err)
	}
	return err
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
