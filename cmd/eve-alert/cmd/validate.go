package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oshokin/eve-alert/internal/audio"
	"github.com/oshokin/eve-alert/internal/config"
	"github.com/oshokin/eve-alert/internal/domain/alarm"
)

// errInvalidSettings is returned after the problems have been printed.
var errInvalidSettings = errors.New("settings are invalid")

// validateCmd checks the settings file without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the settings file and the sound files.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		problems := config.ValidationErrors(cfg)

		for _, problem := range problems {
			_, _ = fmt.Fprintln(out, "error:", problem)
		}

		// Missing sounds only cost the sound, not the alarm.
		for _, class := range alarm.Classes() {
			watch, watchErr := cfg.Watch(class)
			if watchErr != nil {
				continue
			}

			if soundErr := audio.ValidateFile(watch.Sound); soundErr != nil {
				_, _ = fmt.Fprintf(out, "warning: %s sound: %v\n", class, soundErr)
			}
		}

		if len(problems) > 0 {
			cmd.SilenceUsage = true

			return fmt.Errorf("%w: %d problem(s) in %s", errInvalidSettings, len(problems), configPath)
		}

		_, _ = fmt.Fprintln(out, "Settings are valid.")

		return nil
	},
}
