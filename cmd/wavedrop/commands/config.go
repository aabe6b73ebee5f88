package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/alecthomas/chroma/quick"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/config"
)

// ------------------------------------------------------ Config ------------------------------------------------------

var errNoEditor = errors.New("no editor configured, set $EDITOR")

// Config returns the `config` command managing the YAML file loaded at startup.
func Config() *cobra.Command {
	subCmds := []*cobra.Command{configPathCmd(), configViewCmd(), configEditCmd(), configResetCmd()}
	configCmd := &cobra.Command{
		Use:       "config",
		Short:     "Inspect and change the stored configuration",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: lo.Map(subCmds, func(c *cobra.Command, _ int) string { return c.Name() }),
		Run:       func(cmd *cobra.Command, args []string) {},
	}
	configCmd.AddCommand(subCmds...)
	return configCmd
}

func configPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the location of the configuration file",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), viper.ConfigFileUsed())
		},
	}
}

func configViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Print the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("reading config file %s: %w", path, err)
			}
			return printYaml(cmd.OutOrStdout(), string(content))
		},
	}
}

// printYaml highlights yaml for a 256 color terminal, printing it plain when
// highlighting fails.
func printYaml(w io.Writer, yaml string) error {
	if err := quick.Highlight(w, yaml, "yaml", "terminal256", "onedark"); err == nil {
		return nil
	}
	_, err := fmt.Fprintln(w, yaml)
	return err
}

func configEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit",
		Short: "Open the configuration file in $EDITOR",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			editor, err := editorFromEnv()
			if err != nil {
				return fmt.Errorf("%w (or edit %s by hand)", err, path)
			}
			editorCmd := exec.Command(editor, path)
			editorCmd.Stdin = cmd.InOrStdin()
			editorCmd.Stdout = cmd.OutOrStdout()
			editorCmd.Stderr = cmd.ErrOrStderr()
			if err := editorCmd.Run(); err != nil {
				return fmt.Errorf("running %s on %s: %w", editor, path, err)
			}
			return nil
		},
	}
}

// editorFromEnv returns the executable named by $EDITOR without its arguments.
func editorFromEnv() (string, error) {
	editor, _, _ := strings.Cut(strings.TrimSpace(os.Getenv("EDITOR")), " ")
	if editor == "" {
		return "", errNoEditor
	}
	return editor, nil
}

func configResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Overwrite the configuration file with the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.ConfigFileUsed()
			if err := os.WriteFile(path, config.GetDefault().Yaml(), 0644); err != nil {
				return fmt.Errorf("writing default config to %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s to the defaults\n", path)
			return nil
		},
	}
}
