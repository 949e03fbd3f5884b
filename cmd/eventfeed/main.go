package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"eventfeed/internal/backend"
	"eventfeed/internal/bookmarks"
	"eventfeed/internal/cache"
	"eventfeed/internal/config"
	"eventfeed/internal/feed"
	"eventfeed/internal/kv"
	appLog "eventfeed/internal/log"
	"eventfeed/internal/model"
	"eventfeed/internal/reconcile"
	"eventfeed/internal/reminder"
	"eventfeed/internal/session"
	"eventfeed/internal/sources"
	"eventfeed/internal/wallet"
	"eventfeed/internal/web"
)

const (
	version           = "0.1.0"
	defaultConfigPath = "/etc/eventfeed/config.yaml"
	remoteSyncTimeout = 20 * time.Second
)

type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()
	if err := run(flags); err != nil {
		appLog.Error("eventfeed exiting with error", err)
		os.Exit(1)
	}
}

func run(flags flagConfig) error {
	appLog.Info("eventfeed starting", "version", version)

	path := config.ResolvePath(flags.configPath, defaultConfigPath)
	conf, err := config.Load(path)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", path)
		return err
	}

	// CLI overrides config file values if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if err := conf.Validate(); err != nil {
		return err
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	urls := conf.Sources.URLs()
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"data_path", conf.DataPath,
		"sources", len(urls),
		"combined", conf.Sources.Combined != "",
		"backend", conf.Backend.URL != "",
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := kv.OpenSQLite(ctx, conf.DataPath)
	if err != nil {
		return err
	}
	defer store.Close()

	c := cache.New(store, nil)
	fetcher := sources.NewFetcher(sources.Options{
		URLs:           urls,
		CombinedURL:    conf.Sources.Combined,
		Cache:          c,
		CuratedHorizon: conf.CuratedHorizon(),
	})
	agg := feed.New(feed.Options{
		Source:   fetcher,
		Cache:    c,
		Schedule: conf.RefreshCron,
		Location: conf.Location(),
	})

	if flags.once {
		snap, err := agg.Refresh(ctx)
		if err != nil {
			return err
		}
		appLog.Info("single refresh complete", "events", snap.Count())
		return nil
	}

	reminders := reminder.NewScheduler(reminder.LogNotifier{}, nil)
	marks := bookmarks.New(bookmarks.Options{
		KV:           store,
		Primary:      fetcher,
		Reminders:    reminders,
		ReminderLead: conf.ReminderLead(),
		CacheTTL:     conf.BookmarkCacheTTL(),
	})

	sess := session.New(store)
	if conf.Backend.UserID != "" {
		if err := sess.SetUserID(ctx, conf.Backend.UserID); err != nil {
			appLog.Error("failed to store backend user id", err)
		}
	}

	var shared web.Shared
	if conf.Backend.URL != "" {
		client, err := newBackend(conf)
		if err != nil {
			appLog.Error("bookmark backend disabled", err)
		} else {
			shared = reconcile.New(reconcile.Options{
				Remote:   client,
				Identity: sess,
				Catalog:  fetcher,
				Marks:    marks,
			})
			if userID, ok := sess.UserID(ctx); ok {
				unsubscribe := mirrorBookmarks(ctx, marks, backend.NewToggler(client, userID))
				defer unsubscribe()
			}
		}
	}

	if err := agg.Start(ctx); err != nil {
		return err
	}
	defer agg.Stop()
	if err := reminders.Start(ctx); err != nil {
		return err
	}
	defer reminders.Stop()

	srv := web.NewServer(conf, web.Deps{
		Feed:   agg,
		Marks:  marks,
		Shared: shared,
	})
	if err := srv.Run(ctx); err != nil {
		return err
	}

	appLog.Info("eventfeed exiting")
	return nil
}

func newBackend(conf *config.Config) (*backend.Client, error) {
	signer, err := wallet.LoadOrGenerate(conf.Backend.WalletKeyPath)
	if err != nil {
		if errors.Is(err, wallet.ErrNoKey) {
			appLog.Warn("no wallet key configured; signed requests will fail")
		} else {
			return nil, err
		}
	} else {
		appLog.Info("wallet loaded", "address", signer.Address())
	}
	return backend.New(conf.Backend.URL, signer, nil), nil
}

// mirrorBookmarks pushes local bookmark changes to the backend from a single
// worker. The worker reads the current local mark for each queued event, so
// the remote side converges on the local state.
func mirrorBookmarks(ctx context.Context, marks *bookmarks.Store, toggler *backend.Toggler) func() {
	m := backend.NewMirror(toggler, func(ctx context.Context, kind model.Kind, id string) bool {
		return marks.IsMarkedKey(ctx, bookmarks.MarkBookmark, kind, id)
	}, remoteSyncTimeout)
	go m.Run(ctx)

	return marks.Bus().SubscribeAll(func(c bookmarks.Changed) {
		if c.Mark != bookmarks.MarkBookmark {
			return
		}
		m.Enqueue(c.Kind, c.ID)
	})
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "", "Path to config file (default $"+config.EnvPath+" or "+defaultConfigPath+")")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&cfg.once, "once", false, "Run one aggregate refresh and exit")

	flag.Parse()

	return cfg
}
