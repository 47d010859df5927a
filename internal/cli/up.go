package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/happyhackingspace/markov"
	"github.com/spf13/cobra"
)

func (c *CLI) newUpCommand() *cobra.Command {
	var modelPath string
	var skipBinary bool

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Self-update and refresh the default model",
		Args:  cobra.NoArgs,
		Example: `  # Update the binary
  markov up

  # Make weather.yaml the default model without touching the binary
  markov up --model weather.yaml --skip-binary`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !skipBinary {
				if err := c.selfUpdate(cmd.Context(), out); err != nil {
					return err
				}
			}
			if modelPath == "" {
				return nil
			}
			dest, err := installModel(modelPath)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(out, "Default model installed at %s\n", dest)
			return err
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "Install this model file as the default model")
	cmd.Flags().BoolVar(&skipBinary, "skip-binary", false, "Do not update the binary")
	return cmd
}

func (c *CLI) selfUpdate(ctx context.Context, out io.Writer) error {
	v := c.version
	if v == "dev" {
		v = "0.0.0"
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{})
	if err != nil {
		return err
	}

	latest, found, err := updater.DetectLatest(ctx, selfupdate.ParseSlug("happyhackingspace/markov"))
	if err != nil {
		return fmt.Errorf("detect latest version: %w", err)
	}
	if !found {
		return fmt.Errorf("no release found")
	}

	if latest.LessOrEqual(v) {
		fmt.Fprintf(out, "Already up to date (%s)\n", c.version)
		return nil
	}

	slog.Info("Updating", "from", c.version, "to", latest.Version())

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	if err := updater.UpdateTo(ctx, latest, exe); err != nil {
		return fmt.Errorf("update: %w", err)
	}

	fmt.Fprintf(out, "Updated to %s\n", latest.Version())
	return nil
}

// installModel validates the model at path and copies it into
// markov.ModelDir under the default name for its format. Other default
// model files there are removed so the new one is the one found.
func installModel(path string) (string, error) {
	if _, err := markov.Load(path); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	ext := ".json"
	if markov.FormatFromPath(path) == markov.FormatYAML {
		ext = ".yaml"
	}
	dir := markov.ModelDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}
	dest := filepath.Join(dir, "model"+ext)
	for _, name := range markov.DefaultModelFiles {
		if stale := filepath.Join(dir, name); stale != dest {
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				return "", err
			}
		}
	}
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("write model: %w", err)
	}
	slog.Debug("Default model installed", "path", dest)
	return dest, nil
}
