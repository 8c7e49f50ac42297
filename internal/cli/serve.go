package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kil/ubervisor/internal/catalog"
	"github.com/kil/ubervisor/internal/notify"
	"github.com/kil/ubervisor/internal/persist"
	"github.com/kil/ubervisor/internal/rpcserver"
	"github.com/kil/ubervisor/internal/supervisor"
)

var (
	flagAutoDump     bool
	flagLoadDump     string
	flagChdir        string
	flagForeground   bool
	flagLoadLatest   bool
	flagDisallowExit bool
	flagLogfile      string
	flagSilent       bool
)

func init() {
	// These mirror the reference server's single-letter flags exactly;
	// -n/--disallow-exit is intentionally given the same letter on both
	// forms (the source's long-option table used 'n' while the switch
	// used 'e', making the long form unreachable — fixed here).
	rootCmd.Flags().BoolVarP(&flagAutoDump, "autodump", "a", false, "dump the catalog to disk after each SPWN and before EXIT")
	rootCmd.Flags().StringVarP(&flagLoadDump, "load-dump", "c", "", "load catalog from this dump file at startup")
	rootCmd.Flags().StringVarP(&flagChdir, "chdir", "d", "", "change to this directory before starting")
	rootCmd.Flags().BoolVarP(&flagForeground, "foreground", "f", false, "skip the startup banner (the server never daemonizes)")
	rootCmd.Flags().BoolVarP(&flagLoadLatest, "load-latest", "l", false, "load the newest uberdump* file in the working directory")
	rootCmd.Flags().BoolVarP(&flagDisallowExit, "disallow-exit", "n", false, "reject EXIT requests from clients")
	rootCmd.Flags().StringVarP(&flagLogfile, "logfile", "o", "", "write server logs to this file instead of stderr")
	rootCmd.Flags().BoolVarP(&flagSilent, "silent", "s", false, "exit quietly (code 0) if a server is already running")

	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	if flagChdir != "" {
		if err := os.Chdir(flagChdir); err != nil {
			return fmt.Errorf("chdir %s: %w", flagChdir, err)
		}
	}

	log := logrus.New()
	if flagLogfile != "" {
		f, err := os.OpenFile(flagLogfile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open logfile: %w", err)
		}
		log.SetOutput(f)
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if !flagForeground {
		printBanner()
	}

	socketPath := os.Getenv("UBERVISOR_SOCKET")
	if socketPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home directory: %w", err)
		}
		socketPath = filepath.Join(home, ".ubervisor.sock")
	}

	lockPath := socketPath + ".lock"
	lock, acquired, err := persist.Acquire(lockPath)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	if !acquired {
		if flagSilent {
			os.Exit(0)
		}
		return fmt.Errorf("startup: another server is already running (%s)", lockPath)
	}
	defer lock.Release()

	cat := catalog.New()
	bus := notify.NewBus()
	log.AddHook(&notify.LogHook{Bus: bus})
	engine := supervisor.New(cat, bus, log)

	dumpDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	dumper := persist.NewWriter(dumpDir)

	var loaded []*catalog.Group
	switch {
	case flagLoadDump != "":
		loaded, err = persist.Load(flagLoadDump)
		if err != nil {
			return fmt.Errorf("startup: load dump: %w", err)
		}
	case flagLoadLatest:
		loaded, _, err = persist.LoadNewest(dumpDir)
		if err != nil {
			log.WithError(err).Warn("load-latest: no dump found, starting empty")
		}
	}
	for _, g := range loaded {
		if err := cat.Add(g); err != nil {
			return fmt.Errorf("startup: %w", err)
		}
		if g.Status == catalog.StatusRunning {
			for i := 0; i < g.Instances; i++ {
				engine.Spawn(g, i)
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go engine.Run(ctx)

	server := rpcserver.New(engine, bus, log, dumper, func() {
		cancel()
		os.Exit(0)
	})
	server.AutoDump = flagAutoDump
	server.AllowExit = !flagDisallowExit

	watcher, err := persist.Watch(socketPath, log, func() {
		if err := server.Rebind(); err != nil {
			log.WithError(err).Error("failed to re-create listener after socket file loss")
		}
	})
	if err == nil {
		defer watcher.Close()
	}

	log.WithField("socket", socketPath).Info("ubervisor listening")
	return server.Serve(socketPath)
}
