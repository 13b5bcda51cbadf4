package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/eve-alert/internal/api/grpc/healthcheck"
	"github.com/oshokin/eve-alert/internal/config"
)

// errNotServing is returned when the agent is up but no detection run is active.
var errNotServing = errors.New("detection is not running")

var (
	// healthAddress overrides the configured gRPC address.
	healthAddress string

	// healthCmd asks a running agent whether detection is active.
	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service of a running eve-alert.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			address := healthAddress
			if address == "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}

				address = cfg.GRPCAddress
			}

			client, err := healthcheck.Dial(address)
			if err != nil {
				return err
			}

			defer func() {
				_ = client.Close()
			}()

			status, err := client.Check(cmd.Context(), healthcheck.ServiceName)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(cmd.OutOrStdout(), status.String())

			if status != healthpb.HealthCheckResponse_SERVING {
				cmd.SilenceUsage = true

				return errNotServing
			}

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	healthCmd.Flags().StringVarP(&healthAddress, "address", "a", "", "gRPC health address, defaults to grpc_addr from settings")
}
