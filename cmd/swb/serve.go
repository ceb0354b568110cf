package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dashboard"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/gateway"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/mediator"
	"github.com/zulandar/switchboard/internal/models"
	"github.com/zulandar/switchboard/internal/notify"
	"github.com/zulandar/switchboard/internal/notify/slack"
	"github.com/zulandar/switchboard/internal/registry"
	"github.com/zulandar/switchboard/internal/store"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Switchboard server",
		Long:  "Starts the agent gateway and the operator dashboard, sharing one message store. Runs until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config for project %q from %s\n", cfg.Project, configPath)

	g, err := db.Connect(cfg.Store.Path)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(g); err != nil {
		return err
	}
	fmt.Fprintf(out, "Store ready at %s\n", cfg.Store.Path)

	// The offline channel doubles as the announcement sink: Slack when
	// configured, otherwise the desktop command, otherwise nothing.
	var (
		offline hub.OfflineDispatcher
		sink    notify.Sink
	)
	switch {
	case cfg.Notify.Slack.Token != "":
		sl, err := slack.New(slack.Opts{
			Token:   cfg.Notify.Slack.Token,
			Channel: cfg.Notify.Slack.Channel,
		})
		if err != nil {
			return err
		}
		offline, sink = sl, sl
		fmt.Fprintf(out, "Notifications via Slack channel %s\n", cfg.Notify.Slack.Channel)
	case cfg.Notify.Command != "":
		cs := notify.CommandSink{Command: cfg.Notify.Command}
		offline, sink = cs, cs
		fmt.Fprintln(out, "Notifications via desktop command")
	default:
		fmt.Fprintln(out, "Notifications disabled (no slack token or command configured)")
	}

	h := hub.New(hub.Opts{Offline: offline, Out: out})
	st := store.New(g, h)
	reg := registry.New()

	med := mediator.New(mediator.Opts{
		Binary:  cfg.Beads.Binary,
		WorkDir: cfg.Beads.WorkDir,
		Timeout: time.Duration(cfg.Beads.TimeoutSec) * time.Second,
		OnClose: func(b mediator.Bead) {
			msg := models.Message{
				FromAgent: "switchboard",
				ToAgent:   "user",
				Kind:      models.KindSystem,
				Body:      fmt.Sprintf("bead %s closed: %s", b.ID, b.Title),
			}
			if err := st.Insert(&msg); err != nil {
				fmt.Fprintf(out, "record bead close: %v\n", err)
			}
		},
	})

	var queue *notify.Queue
	if sink != nil {
		queue, err = notify.NewQueue(notify.QueueOpts{Sink: sink, Out: out})
		if err != nil {
			return err
		}
	}

	gateway.Version = Version
	gw, err := gateway.New(gateway.Opts{
		Store:    st,
		Registry: reg,
		Mediator: med,
		Hub:      h,
		Queue:    queue,
		Project:  cfg.Project,
		Port:     cfg.Gateway.Port,
		Out:      out,
	})
	if err != nil {
		return err
	}

	dash, err := dashboard.New(dashboard.Opts{
		Store:    st,
		Registry: reg,
		Hub:      h,
		Conns:    gw,
		Port:     cfg.Dashboard.Port,
		Out:      out,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go h.Run(ctx)
	if queue != nil {
		go queue.Run(ctx)
	}
	if cfg.Notify.DigestCron != "" && offline != nil {
		digest, err := notify.NewDigest(notify.DigestOpts{
			Store:      st,
			Dispatcher: offline,
			Spec:       cfg.Notify.DigestCron,
			Out:        out,
		})
		if err != nil {
			return err
		}
		go digest.Run(ctx)
		fmt.Fprintf(out, "Unread digest scheduled (%s)\n", cfg.Notify.DigestCron)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- gw.Run(ctx) }()
	go func() { errCh <- dash.Run(ctx) }()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			stop()
		}
	}
	return firstErr
}
