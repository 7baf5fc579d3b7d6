package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/masibasi/visurai/internal/worker"
)

func newServeCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the NATS worker consuming story generation jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(
				context.Background(),
				syscall.SIGINT,
				syscall.SIGTERM,
			)
			defer stop()

			application, err := buildApp(ctx, *configFlag)
			if err != nil {
				return err
			}

			natsWorker, err := worker.New(worker.Config{
				URL:                   application.cfg.NATS.URL,
				StreamName:            application.cfg.NATS.StreamName,
				RequestSubject:        application.cfg.NATS.RequestSubject,
				ConsumerName:          application.cfg.NATS.ConsumerName,
				ProgressSubjectPrefix: application.cfg.NATS.ProgressSubjectPrefix,
				CompletedSubject:      application.cfg.NATS.CompletedSubject,
				DeadLetterSubject:     application.cfg.NATS.DeadLetterSubject,
			}, application.orchestrator, application.extractor, application.log)
			if err != nil {
				return err
			}

			defer natsWorker.Close()

			application.log.Infof("Starting NATS worker...")

			return natsWorker.Run(ctx)
		},
	}
}
