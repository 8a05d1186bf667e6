package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/gtagsmixer/internal/config"
	"github.com/standardbeagle/gtagsmixer/internal/debug"
	"github.com/standardbeagle/gtagsmixer/internal/query"
	"github.com/standardbeagle/gtagsmixer/internal/router"
	"github.com/standardbeagle/gtagsmixer/internal/server"
	"github.com/standardbeagle/gtagsmixer/internal/tagstore"
	"github.com/standardbeagle/gtagsmixer/internal/version"
	"github.com/standardbeagle/gtagsmixer/internal/watch"
)

func main() {
	app := &cli.App{
		Name:                   "gtagsmixer",
		Usage:                  "Distributed source-code tags lookup mixer",
		Version:                version.Info(),
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to the .gtagsmixer.kdl config file",
				Value:   ".gtagsmixer.kdl",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging to a temp file",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			queryCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func setupDebug(c *cli.Context) {
	if !c.Bool("debug") {
		return
	}
	os.Setenv("DEBUG", "1")
	if path, err := debug.InitDebugLogFile(); err == nil {
		fmt.Fprintln(os.Stderr, "debug log:", path)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the mixer: query listener, version port, watcher-command port, and the local watch pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "watch-root",
				Usage: "directory to watch and index locally (overrides the config's project root)",
			},
		},
		Action: func(c *cli.Context) error {
			setupDebug(c)

			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if root := c.String("watch-root"); root != "" {
				abs, err := filepath.Abs(root)
				if err != nil {
					return fmt.Errorf("resolve watch root %q: %w", root, err)
				}
				cfg.Project.Root = abs
			}

			return serve(cfg)
		},
	}
}

func serve(cfg *config.Config) error {
	store := tagstore.New(tagstore.Options{
		EnableByFile:   cfg.TagStore.EnableByFile,
		MaxResults:     cfg.TagStore.MaxResults,
		MaxSnippetSize: cfg.TagStore.MaxSnippetSize,
	})
	engine := query.NewEngine(store, time.Now())
	if cfg.Watch.CallgraphEnabled {
		engine.SetCallersStore(tagstore.New(tagstore.Options{
			EnableByFile:   cfg.TagStore.EnableByFile,
			MaxResults:     cfg.TagStore.MaxResults,
			MaxSnippetSize: cfg.TagStore.MaxSnippetSize,
		}))
	}

	rtr := router.New(cfg, map[string]router.LocalEngine{
		cfg.Project.Corpus: engine,
	})

	batcher := watch.NewBatcher(engine, watch.BatcherOptions{
		Quiescence:      time.Duration(cfg.Watch.DebounceMs) * time.Millisecond,
		QueueSize:       cfg.Watch.IndexQueueSize,
		IndexerPath:     cfg.Watch.IndexerPath,
		Callgraph:       cfg.Watch.CallgraphEnabled,
		CallgraphLoader: watch.DeltaLoaderFunc(engine.LoadCallgraphUpdate),
	})
	batcher.Start()
	defer batcher.Stop()

	driver, err := watch.New(cfg.Watch.Exclude, cfg.Watch.Include, func(path string) {
		batcher.TryEnqueue(path)
	})
	if err != nil {
		return err
	}
	driver.Start()
	defer driver.Stop()

	worker := watch.NewCommandWorker(driver, cfg.Watch.CommandQueueSize, engine)
	worker.Start()
	defer worker.Stop()

	if cfg.Project.Root != "" {
		worker.Add([]string{cfg.Project.Root}, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := server.New(server.Options{
		QueryPort:          cfg.Listener.QueryPort,
		VersionPort:        cfg.Listener.VersionPort,
		WatcherCommandPort: cfg.Listener.WatcherCommandPort,
		Shutdown:           cancel,
	}, rtr, worker)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Fprintf(os.Stderr, "gtagsmixer %s listening on %s (version %s, watcher %s), watching %s\n",
		version.Info(), srv.QueryAddr(), srv.VersionAddr(), srv.WatcherCommandAddr(), cfg.Project.Root)

	return srv.Run(ctx)
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:      "query",
		Usage:     "Send one command line to a running mixer and print the response",
		ArgsUsage: "SEXP",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "mixer query port",
				Value: 2550,
			},
		},
		Action: func(c *cli.Context) error {
			setupDebug(c)

			line := c.Args().First()
			if line == "" {
				return fmt.Errorf("query requires one S-expression argument")
			}

			addr := net.JoinHostPort("127.0.0.1", fmt.Sprint(c.Int("port")))
			conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
				return err
			}
			resp, err := io.ReadAll(conn)
			if err != nil {
				return err
			}
			fmt.Println(string(resp))
			return nil
		},
	}
}
