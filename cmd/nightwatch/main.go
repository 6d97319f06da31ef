// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Nightwatch is a headless control server for a computerized
// astrophotography rig: it executes observation plans against a mount,
// camera, filter wheel and focuser, stacks incoming frames live, and
// streams progress to connected operator UIs.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mlnoga/nightwatch/internal/config"
	"github.com/mlnoga/nightwatch/internal/dark"
	"github.com/mlnoga/nightwatch/internal/device"
	"github.com/mlnoga/nightwatch/internal/fits"
	"github.com/mlnoga/nightwatch/internal/hist"
	"github.com/mlnoga/nightwatch/internal/rest"
	"github.com/mlnoga/nightwatch/internal/sched"
	"github.com/mlnoga/nightwatch/internal/solve"
	"github.com/mlnoga/nightwatch/internal/state"
	"github.com/mlnoga/nightwatch/internal/telemetry"
)

const version = "0.1.0"

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "nightwatch",
		Short:        "Headless astrophotography automation server",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	root.AddCommand(newLegalCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nightwatch %s\n", version)
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		confDir string
		listen  string
		chroot  string
		setuid  int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the observation automation server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(confDir, listen, chroot, setuid)
		},
	}
	cmd.Flags().StringVar(&confDir, "conf", "conf", "configuration directory")
	cmd.Flags().StringVar(&listen, "listen", "", "listen address, overrides config")
	cmd.Flags().StringVar(&chroot, "chroot", "", "chroot into this directory before serving (requires root)")
	cmd.Flags().IntVar(&setuid, "setuid", -1, "switch to this user id before serving")
	return cmd
}

// Builds the engine bottom-up and serves until the process exits. Errors
// here are startup misconfiguration, the only non-zero exit path
func serve(confDir, listen, chroot string, setuid int) error {
	cfg, err := config.Load(confDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if listen != "" {
		cfg.Listen = listen
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(log)
	log.Info("nightwatch starting", "version", version, "conf", confDir, "driver", cfg.Driver)

	st := state.New()
	hub := telemetry.NewHub(log)

	dev, camera, err := newDevice(cfg, st, log)
	if err != nil {
		return err
	}
	conns := dev.Connect()
	st.SetConnected(state.Connections{
		Mount: conns.Mount, Camera: conns.Camera,
		Focuser: conns.Focuser, FilterWheel: conns.FilterWheel,
	})
	log.Info("hardware connected", "mount", conns.Mount, "camera", conns.Camera,
		"focuser", conns.Focuser, "filterwheel", conns.FilterWheel)

	lib := dark.NewLibrary(cfg.DarkRoot)
	darks := dark.NewManager(dev, lib, hub, log)

	rec, err := hist.Open(cfg.History)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}

	solver := solve.NewASTAP(cfg.Solver.Executable, cfg.Solver.Catalog, log)
	if cfg.Solver.MaxStars > 0 {
		solver.MaxStars = cfg.Solver.MaxStars
	}
	if cfg.Solver.Downsample > 0 {
		solver.Downsample = cfg.Solver.Downsample
	}

	scheduler := sched.New(dev, solver, lib, hub, st, rec, sched.Config{
		DataRoot:         cfg.DataRoot,
		SessionDir:       filepath.Join(cfg.DataRoot, "session"),
		Camera:           camera,
		Latitude:         cfg.Observatory.Latitude,
		TargetTemp:       cfg.Scheduler.TargetTemp,
		Debug:            cfg.Debug,
		SolveRadius:      cfg.Solver.Radius,
		SolveRetries:     cfg.Scheduler.SolveRetries,
		MaxPositionError: cfg.Scheduler.MaxPositionError,
		FocusRange:       cfg.Scheduler.FocusRange,
		FocusStep:        cfg.Scheduler.FocusStep,
		FocusFrames:      cfg.Scheduler.FocusFrames,
		FocusExposure:    cfg.Scheduler.FocusExposure,
		SigmaThreshold:   cfg.Stacker.SigmaThreshold,
		MaxHistory:       cfg.Stacker.MaxHistory,
		TargetWidth:      cfg.Stacker.TargetWidth,
	}, log)

	store := config.NewStore(confDir)
	watcher, err := config.Watch(confDir, func(name string) {
		hub.Broadcast(telemetry.SenderSystem, telemetry.MsgRefreshInfo, name)
	}, log)
	if err != nil {
		log.Warn("config watching disabled", "error", err)
	} else {
		defer watcher.Close()
	}

	if err := rest.MakeSandbox(chroot, setuid); err != nil {
		return err
	}
	server := rest.NewServer(dev, st, hub, scheduler, darks, lib, store, rec,
		camera, cfg.Observatory.HasGPS, log)
	return server.Run(cfg.Listen)
}

// Constructs the configured rig backend. Captured raw frames are
// published to the process state as they arrive
func newDevice(cfg config.Config, st *state.TelescopeState, log *slog.Logger) (device.Device, string, error) {
	onFrame := func(f *fits.Image) { st.PublishRawFrame(f) }
	switch cfg.Driver {
	case "simulator", "":
		dev := device.NewSimulator(device.SimulatorConfig{
			LightDir:  cfg.Simulator.LightDir,
			DarkDir:   cfg.Simulator.DarkDir,
			Filters:   cfg.Observatory.Filters,
			Latitude:  cfg.Observatory.Latitude,
			Longitude: cfg.Observatory.Longitude,
			Elevation: cfg.Observatory.Elevation,
			HasGPS:    cfg.Observatory.HasGPS,
			OnFrame:   onFrame,
			Log:       log,
		})
		return dev, dev.Names().Camera, nil
	case "alpaca":
		dev := device.NewAlpaca(device.AlpacaConfig{
			BaseURL:      cfg.Alpaca.BaseURL,
			TelescopeNum: cfg.Alpaca.TelescopeNum,
			CameraNum:    cfg.Alpaca.CameraNum,
			FocuserNum:   cfg.Alpaca.FocuserNum,
			WheelNum:     cfg.Alpaca.WheelNum,
			Filters:      cfg.Observatory.Filters,
			Latitude:     cfg.Observatory.Latitude,
			Longitude:    cfg.Observatory.Longitude,
			Elevation:    cfg.Observatory.Elevation,
			HasGPS:       cfg.Observatory.HasGPS,
			OnFrame:      onFrame,
			Log:          log,
		})
		return dev, dev.Names().Camera, nil
	default:
		return nil, "", fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// Builds the process logger: text to stdout, plus an optional dated file
func newLogger(cfg config.Config) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "", "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	var w io.Writer = os.Stdout
	if cfg.LogFile != "" {
		name := fmt.Sprintf("%s-%s.log", cfg.LogFile, time.Now().UTC().Format("2006-01-02"))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}
