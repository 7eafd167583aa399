package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/mikey/mail2cal/internal/di"
	"github.com/mikey/mail2cal/internal/factory"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCheckCommand(flags *di.CLIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the mailbox and calendar connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cmd, flags, func(
				ctx context.Context,
				logger *zap.Logger,
				mailboxes *factory.MailboxFactory,
				calendars *factory.CalendarFactory,
			) error {
				defer logger.Sync()
				out := cmd.OutOrStdout()
				var errs []error

				mailbox, err := mailboxes.CreateMailbox()
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(out, "mailbox: FAILED (%v)\n", err)
				} else {
					defer mailbox.Close()
					if err := mailbox.Check(ctx); err != nil {
						errs = append(errs, fmt.Errorf("mailbox: %w", err))
						fmt.Fprintf(out, "mailbox: FAILED (%v)\n", err)
					} else {
						fmt.Fprintln(out, "mailbox: OK")
					}
				}

				targets := calendars.CreateTargets(ctx)
				for _, target := range targets {
					fmt.Fprintf(out, "calendar %s: OK (%s)\n", target.Name, target.CalendarID)
				}
				if len(targets) == 0 {
					errs = append(errs, errors.New("no calendar target is enabled and reachable"))
					fmt.Fprintln(out, "calendars: FAILED (none reachable)")
				}

				return errors.Join(errs...)
			})
		},
	}
}
