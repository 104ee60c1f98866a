package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindd/internal/config"
	"remindd/internal/engine"
	"remindd/internal/push"
	"remindd/internal/storage"
	"remindd/internal/trigger"
	logx "remindd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config file (json or yaml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logSvc, log := logx.New(loggingSettings(cfg))
	defer logSvc.Close()
	mgr.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := storageSettings(cfg)
	if err != nil {
		return err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	engCfg, err := engineSettings(cfg)
	if err != nil {
		return err
	}
	pushCfg, err := pushSettings(cfg)
	if err != nil {
		return err
	}
	trigCfg, err := triggerSettings(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(engCfg, engine.Deps{
		Bookings:  store,
		Prefs:     store,
		Ledger:    store,
		Inbox:     store,
		Requests:  store,
		Endpoints: store,
		Sender:    push.NewClient(pushCfg),
	}, log.With(logx.String("comp", "engine")))

	trig := trigger.New(trigCfg, eng, log.With(logx.String("comp", "trigger")))
	if err := trig.Start(ctx); err != nil {
		return err
	}

	// Hot reload: logging, engine policy and trigger cadence re-apply on
	// config change. Storage and the push client keep their boot settings; a
	// driver or path change needs a restart.
	sub := mgr.Subscribe(1)
	go func() {
		for next := range sub {
			logSvc.Apply(loggingSettings(next))
			if ec, err := engineSettings(next); err == nil {
				eng.Apply(ec)
			} else {
				log.Warn("config reload: engine settings rejected", logx.Err(err))
			}
			if tc, err := triggerSettings(next); err == nil {
				trig.Apply(tc)
			} else {
				log.Warn("config reload: trigger settings rejected", logx.Err(err))
			}
			log.Info("config reloaded")
		}
	}()
	go func() {
		_ = mgr.Watch(ctx)
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	log.Info("remindd started", logx.String("config", cfgPath))

	<-ctx.Done()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), trigCfg.CycleTimeout)
	defer stopCancel()
	trig.Stop(stopCtx)
	mgr.Unsubscribe(sub)
	log.Info("remindd stopped")
	return nil
}
