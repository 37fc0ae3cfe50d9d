package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"gametonite/internal/calsync"
	"gametonite/internal/config"
	"gametonite/internal/database"
	"gametonite/internal/gateway"
	"gametonite/internal/ics"
	appLog "gametonite/internal/log"
	"gametonite/internal/model"
	"gametonite/internal/repository"
	"gametonite/internal/web"
	"gametonite/internal/webclient"
)

const version = "0.1.0"

// app carries the loaded configuration into command actions.
type app struct {
	cfg *config.Config
}

func main() {
	// .env is optional.
	_ = godotenv.Load()

	a := &app{}
	cliApp := &cli.App{
		Name:    "gametonite",
		Usage:   "Plan gaming sessions on a shared 24h calendar.",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "gametonite.yaml",
				Usage:   "Path to the YAML config file (created with defaults if missing).",
				EnvVars: []string{"GAMETONITE_CONFIG"},
			},
			&cli.StringFlag{Name: "log-level", Usage: "DEBUG, INFO, WARN or ERROR (overrides config)."},
			&cli.StringFlag{Name: "group", Usage: "Group id (overrides config)."},
			&cli.StringFlag{Name: "user", Usage: "Acting user id (overrides config)."},
		},
		Before: a.load,
		Commands: []*cli.Command{
			a.serveCommand(),
			a.watchCommand(),
			a.agendaCommand(),
			a.createCommand(),
			a.sessionCommand("delete", "Delete a session you own.", (*calsync.Controller).Delete),
			a.sessionCommand("join", "Join a session.", (*calsync.Controller).Join),
			a.sessionCommand("leave", "Leave a session.", (*calsync.Controller).Leave),
			a.exportCommand(),
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		appLog.Error("gametonite failed", err)
		os.Exit(1)
	}
}

func (a *app) load(c *cli.Context) error {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := c.String("group"); v != "" {
		cfg.GroupID = v
	}
	if v := c.String("user"); v != "" {
		cfg.UserID = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	appLog.Debug("effective config",
		"config_path", path,
		"listen", cfg.Listen,
		"offset_hours", cfg.OffsetHours,
		"server_url", cfg.ServerURL,
		"group_id", cfg.GroupID,
		"user", cfg.UserID,
		"refresh", cfg.RefreshCron,
		"tick", cfg.TickCron,
		"rollback", cfg.Sync.Rollback,
	)
	a.cfg = cfg
	return nil
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func (a *app) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API backed by Postgres (or memory).",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "memory", Usage: "Keep sessions in memory instead of Postgres."},
			&cli.StringFlag{Name: "listen", Usage: "HTTP listen address (overrides config)."},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			if v := c.String("listen"); v != "" {
				a.cfg.Listen = v
			}

			var gw gateway.Gateway
			if c.Bool("memory") {
				appLog.Warn("using in-memory store; sessions are lost on exit")
				gw = gateway.NewMemory()
			} else {
				pool, err := database.NewPool(ctx, database.Config{
					URL:      a.cfg.Database.URL,
					MaxConns: a.cfg.Database.MaxConns,
					MinConns: a.cfg.Database.MinConns,
				})
				if err != nil {
					return err
				}
				defer pool.Close()
				if err := database.EnsureSchema(ctx, pool); err != nil {
					return err
				}
				gw = repository.NewSessionRepository(pool)
			}

			srv, err := web.NewServer(a.cfg, gw, nil)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}
			defer srv.Close()

			appLog.Info("gametonite serving", "version", version, "listen", a.cfg.Listen, "memory", c.Bool("memory"))
			return srv.ListenAndServe(ctx)
		},
	}
}

// controller starts a sync controller for the configured group and user,
// talking to the configured server.
func (a *app) controller(ctx context.Context) (*calsync.Controller, error) {
	if a.cfg.GroupID == "" || a.cfg.UserID == "" {
		return nil, errors.New("group_id and user_id must be set (config, env or --group/--user)")
	}

	var opts []webclient.Option
	if a.cfg.BasicAuth != nil {
		opts = append(opts, webclient.WithBasicAuth(a.cfg.BasicAuth.Username, a.cfg.BasicAuth.Password))
	}
	client, err := webclient.New(a.cfg.ServerURL, opts...)
	if err != nil {
		return nil, err
	}

	ctl, err := calsync.New(client, calsync.Options{
		GroupID:        a.cfg.GroupID,
		User:           model.User{Name: a.cfg.UserID, Picture: a.cfg.Picture},
		OffsetHours:    a.cfg.OffsetHours,
		Clock:          a.cfg.Clock(),
		Rollback:       calsync.RollbackPolicy(a.cfg.Sync.Rollback),
		RequestTimeout: a.cfg.RequestTimeout(),
	})
	if err != nil {
		return nil, err
	}
	go ctl.Run(ctx)
	return ctl, nil
}

// loaded starts a controller and waits for its first fetch.
func (a *app) loaded(ctx context.Context) (*calsync.Controller, error) {
	ctl, err := a.controller(ctx)
	if err != nil {
		return nil, err
	}
	if err := ctl.Refresh(ctx).Wait(ctx); err != nil {
		return nil, err
	}
	return ctl, nil
}

func (a *app) watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Keep the calendar in sync and reprint it on every refresh and tick.",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			ctl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			if err := ctl.Refresh(ctx).Wait(ctx); err != nil {
				appLog.Warn("initial fetch failed; will retry on schedule", "err", err)
			}
			if l, err := ctl.Layout(ctx); err == nil {
				printAgenda(os.Stdout, l)
			}

			sched, err := ctl.StartSchedule(ctx, a.cfg.RefreshCron, a.cfg.TickCron, func(l calsync.Layout) {
				printAgenda(os.Stdout, l)
			})
			if err != nil {
				return fmt.Errorf("schedule: %w", err)
			}
			defer sched.Stop()

			<-ctx.Done()
			appLog.Info("watch stopped")
			return nil
		},
	}
}

func (a *app) agendaCommand() *cli.Command {
	return &cli.Command{
		Name:  "agenda",
		Usage: "Print the current window once.",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			ctl, err := a.loaded(ctx)
			if err != nil {
				return err
			}
			l, err := ctl.Layout(ctx)
			if err != nil {
				return err
			}
			printAgenda(os.Stdout, l)
			return nil
		},
	}
}

func (a *app) createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a session in the current window.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "start", Required: true, Usage: "HH:MM"},
			&cli.StringFlag{Name: "end", Required: true, Usage: "HH:MM"},
			&cli.StringFlag{Name: "game"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			ctl, err := a.controller(ctx)
			if err != nil {
				return err
			}
			act := ctl.CreateClock(ctx, c.String("title"), c.String("start"), c.String("end"), c.String("game"))
			if err := act.Wait(ctx); err != nil {
				return err
			}
			s := act.Session()
			loc := a.cfg.Clock()().Location()
			fmt.Printf("created session %d: %s %s-%s\n", s.SessionID, s.Title,
				s.StartTime.In(loc).Format("15:04"), s.EndTime.In(loc).Format("15:04"))
			return nil
		},
	}
}

// sessionCommand builds delete/join/leave, which share the shape
// "<cmd> SESSION_ID".
func (a *app) sessionCommand(name, usage string, op func(*calsync.Controller, context.Context, int64) *calsync.Action) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "SESSION_ID",
		Action: func(c *cli.Context) error {
			id, err := strconv.ParseInt(c.Args().First(), 10, 64)
			if err != nil {
				return fmt.Errorf("%s: session id required", name)
			}
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			ctl, err := a.loaded(ctx)
			if err != nil {
				return err
			}
			act := op(ctl, ctx, id)
			if err := act.Wait(ctx); err != nil {
				return err
			}
			fmt.Printf("%s session %d: %s\n", name, id, act.State())
			return nil
		},
	}
}

func (a *app) exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the current window as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output file (default stdout)."},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			ctl, err := a.loaded(ctx)
			if err != nil {
				return err
			}
			l, err := ctl.Layout(ctx)
			if err != nil {
				return err
			}
			sessions := make([]model.Session, 0, len(l.Items))
			for _, it := range l.Items {
				sessions = append(sessions, it.Session)
			}
			out := ics.Export(a.cfg.GroupID, sessions, l.Now)

			path := c.String("out")
			if path == "" {
				_, err := fmt.Fprint(os.Stdout, out)
				return err
			}
			if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
				return err
			}
			appLog.Info("calendar exported", "path", path, "sessions", len(sessions))
			return nil
		},
	}
}
