package main

import (
	"context"
	"crypto/tls"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ManouchehrRasoulli/fsevents/pkg"
	"github.com/ManouchehrRasoulli/fsevents/pkg/client"
	"github.com/ManouchehrRasoulli/fsevents/pkg/logger"
	"github.com/ManouchehrRasoulli/fsevents/pkg/protocol"
	"github.com/spf13/cobra"
)

type app struct {
	config string
	lg     *log.Logger
	clg    *logger.ColorLogger
}

func newRootCommand(lg *log.Logger) *cobra.Command {
	a := &app{
		lg:  lg,
		clg: logger.NewColorLogger(lg),
	}

	root := &cobra.Command{
		Use:           "fsevents",
		Short:         "Watch directory trees and deliver classified change batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.config, "config", "c", "", "specify configuration file for service.")

	root.AddCommand(
		a.createWatchCommand(),
		a.createServeCommand(),
		a.createSubscribeCommand(),
		a.createUserCommand(),
	)

	return root
}

func (a *app) load(t pkg.Type, paths []string) (*pkg.Config, error) {
	cfg, err := pkg.LoadConfig(a.config, t, paths)
	if err != nil {
		a.clg.Printcf(logger.ColorRed, "error fsevents : got error %v on reading configuration %q", err, a.config)
		return nil, err
	}
	a.clg.Printcf(logger.ColorBlue, "config fsevents : type: %s, address: %s, paths: %v", cfg.ServiceType, cfg.Address, cfg.Paths)
	return cfg, nil
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func (a *app) createWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Print the classified changes below the given directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(pkg.WatchType, args)
			if err != nil {
				return err
			}

			svc, err := pkg.NewService(cfg, a.lg)
			if err != nil {
				return err
			}
			if err = svc.Start(); err != nil {
				a.clg.Printcf(logger.ColorRed, "watch error : got error %v on start", err)
				return err
			}
			defer svc.Stop()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			<-ctx.Done()
			return nil
		},
	}
}

func (a *app) createServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve [paths...]",
		Short: "Watch the given directories and publish their batches to subscribers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(pkg.ServerType, args)
			if err != nil {
				return err
			}

			svc, err := pkg.NewService(cfg, a.lg)
			if err != nil {
				return err
			}
			if err = svc.Start(); err != nil {
				a.clg.Printcf(logger.ColorRed, "server error : got error %v on start", err)
				return err
			}
			defer svc.Stop()

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- svc.Run()
			}()

			select {
			case <-ctx.Done():
				return nil
			case err = <-errCh:
				if err != nil {
					a.clg.Printcf(logger.ColorRed, "server error : got error %v running server !!", err)
				}
				return err
			}
		},
	}
}

func (a *app) createSubscribeCommand() *cobra.Command {
	var (
		roots    []string
		since    uint64
		insecure bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Connect to a server and print the batches it publishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load(pkg.ClientType, nil)
			if err != nil {
				return err
			}

			var tlsCfg *tls.Config
			if cfg.Client.TLS || insecure {
				tlsCfg = &tls.Config{InsecureSkipVerify: insecure}
			}

			opts := []client.Option{client.WithRoots(roots...)}
			switch {
			case cmd.Flags().Changed("since"):
				opts = append(opts, client.WithSince(since))
			case cfg.Client.Since > 0:
				opts = append(opts, client.WithSince(cfg.Client.Since))
			}

			printer := pkg.Printer(a.clg)
			c := client.NewClient(cfg.Address, cfg.Client.Username, cfg.Client.Password, tlsCfg, a.lg,
				func(b protocol.BatchPayload) {
					a.clg.Printcf(logger.ColorBlue, "batch : seq %d, root %s, %d events", b.Seq, b.Root, len(b.Paths))
					printer.Notify(len(b.Paths), b.Types, b.Paths)
				}, opts...)

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			errCh := make(chan error, 1)
			go func() {
				errCh <- c.Run()
			}()

			select {
			case <-ctx.Done():
				_ = c.Exit()
				return <-errCh
			case err = <-errCh:
				if err != nil {
					a.clg.Printcf(logger.ColorRed, "client error : got error %v on connection with server !!", err)
				}
				return err
			}
		},
	}

	cmd.Flags().StringSliceVarP(&roots, "root", "r", nil, "subscribe to the given served roots only.")
	cmd.Flags().Uint64Var(&since, "since", 0, "replay the journaled batches after this sequence first.")
	cmd.Flags().BoolVar(&insecure, "insecure", false, "use tls without verifying the server certificate.")

	return cmd
}
