package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/domain/alarm"
	"github.com/oshokin/eve-alert/internal/service/notifier"
)

// errNoEndpoint is returned when the settings have no notification endpoint.
var errNoEndpoint = errors.New("notify endpoint is not configured")

var (
	// notifyClass selects the message sent by test-notify.
	notifyClass string

	// testNotifyCmd sends one notification through the configured endpoint.
	testNotifyCmd = &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			class, err := alarm.ParseClass(notifyClass)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if err = config.ValidateEndpoint(cfg.Notify.Endpoint); err != nil {
				return err
			}

			sender, err := notifier.NewSender(cfg.Notify.Endpoint, cfg.Notify.Timeout)
			if err != nil {
				return err
			}

			if sender == nil {
				return errNoEndpoint
			}

			// Release MQTT connections once the message is out.
			if closer, ok := sender.(io.Closer); ok {
				defer func() {
					_ = closer.Close()
				}()
			}

			timeout := cfg.Notify.Timeout
			if timeout <= 0 {
				timeout = notifier.DefaultTimeout
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			text := notifier.AppearedMessage(class, cfg.SystemName)
			if err = sender.Send(ctx, text); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Sent:", text)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	testNotifyCmd.Flags().StringVar(&notifyClass, "class", alarm.Enemy.String(), "alarm class of the test message")
}
