// Command wl-gammad automatically adjusts the color temperature and brightness
// of all outputs on wlroots-based compositors.
//
// It reads $XDG_CONFIG_HOME/gammad/config.toml (see [config]), reloading it
// when it changes, and exposes manual controls on the session bus (see
// [dbusctl]).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/godbus/dbus/v5"
	"github.com/pgaskin/gammad"
	"github.com/pgaskin/gammad/colorramp"
	"github.com/pgaskin/gammad/config"
	"github.com/pgaskin/gammad/dbusctl"
	"github.com/pgaskin/gammad/display"
	"github.com/pgaskin/gammad/schedule"
	"github.com/spf13/pflag"
)

var (
	Config   = pflag.StringP("config", "c", "", "Config file (default $XDG_CONFIG_HOME/gammad/config.toml)")
	LogLevel = pflag.String("log-level", "info", "Log level (debug, info, warn, error)")
	NoDBus   = pflag.Bool("no-dbus", false, "Don't expose controls on the session bus")
	Check    = pflag.Bool("check", false, "Validate the config, print the schedule, and exit")
	Display  = pflag.StringP("display", "d", "", "Wayland display (default $WAYLAND_DISPLAY)")
	Help     = pflag.BoolP("help", "h", false, "Show this help text")
)

func main() {
	pflag.Parse()

	if *Help || pflag.NArg() != 0 {
		fmt.Printf("usage: %s [options]\n\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		if *Help {
			os.Exit(0)
		}
		os.Exit(2)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*LogLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "wl-gammad: invalid log level %q\n", *LogLevel)
		os.Exit(2)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	if err := run(logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	path := *Config
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return fmt.Errorf("find config: %w", err)
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		logger.Info("using default config", "path", path)
	} else {
		logger.Info("loaded config", "path", path)
	}

	if *Check {
		return check(cfg, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := display.New(logger)

	wl, fatal, err := display.NewWayland(*Display, engine, logger)
	if err != nil {
		return err
	}
	defer wl.Close()

	for _, o := range engine.Outputs() {
		logger.Info("found output", "output", o.ID, "name", o.Name, "size", o.RampSize)
	}

	var srv *dbusctl.Server
	if !*NoDBus {
		if srv, err = exportDBus(engine, logger); err != nil {
			logger.Warn("dbus controls unavailable", "error", err)
		} else {
			defer srv.Close()
		}
	}

	daemon := gammad.New(engine,
		gammad.WithLogger(logger),
		gammad.OnSwitch(func(mode schedule.Mode, color colorramp.Color) {
			if srv != nil {
				srv.SetMode(mode)
				srv.Refresh()
			}
		}),
	)

	go watch(ctx, path, logger, daemon.Reload)

	err = daemon.Run(ctx, cfg, fatal)
	wl.Close()
	daemon.Wait()
	return err
}

func exportDBus(engine *display.Engine, logger *slog.Logger) (*dbusctl.Server, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, err
	}
	srv, err := dbusctl.Export(conn, engine, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	logger.Info("exported dbus controls", "name", dbusctl.Name)
	return srv, nil
}

func check(cfg *config.Config, logger *slog.Logger) error {
	sched, err := schedule.New(cfg.Schedule, cfg.Location, schedule.WithLogger(logger))
	if err != nil {
		return err
	}
	now := time.Now()
	until := sched.Until(now)

	fmt.Printf("schedule:   day %s, night %s\n", cfg.Schedule.Day, cfg.Schedule.Night)
	if cfg.Location != nil {
		fmt.Printf("location:   %s\n", cfg.Location)
	}
	fmt.Printf("day:        %s\n", cfg.Day)
	fmt.Printf("night:      %s\n", cfg.Night)
	fmt.Printf("transition: %s\n", cfg.TransitionDuration())
	fmt.Printf("mode:       %s until %s (%s)\n", sched.Mode(), until.Format(time.DateTime), humanize.Time(until))
	return nil
}
