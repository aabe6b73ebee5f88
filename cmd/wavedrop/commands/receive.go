package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wavedrop/wavedrop/cmd/wavedrop/config"
	receiver_tui "github.com/wavedrop/wavedrop/cmd/wavedrop/tui/receiver"
	"github.com/wavedrop/wavedrop/internal/file"
	"github.com/wavedrop/wavedrop/internal/receiver"
	"github.com/wavedrop/wavedrop/internal/session"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// ------------------------------------------------------ Receive ------------------------------------------------------

func Receive() *cobra.Command {
	receiveCmd := &cobra.Command{
		Use:   "receive [transfer-id]",
		Short: "Receive a file",
		Long:  "The receive command receives a file from the sender with the matching transfer id.",
		Args:  cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to viper.
			for flag, key := range map[string]string{
				"relay":     "relay",
				"tui-style": "tui_style",
				"output":    "output_dir",
				"unpack":    "unpack",
			} {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("binding %s flag: %w", flag, err)
				}
			}

			// Reverse the --yes/-y flag value as it has an inverse relationship
			// with the configuration value 'prompt_overwrite_files'.
			overwriteFlag := cmd.Flags().Lookup("yes")
			if overwriteFlag.Changed {
				shouldOverwrite, _ := strconv.ParseBool(overwriteFlag.Value.String())
				_ = overwriteFlag.Value.Set(strconv.FormatBool(!shouldOverwrite))
			}

			if err := viper.BindPFlag("prompt_overwrite_files", overwriteFlag); err != nil {
				return fmt.Errorf("binding yes flag: %w", err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cnf := config.Load()
			file.RemoveTemporaryFiles(cnf.OutputDir, file.ReceiveTempFilePrefix)

			if err := validateAddress(cnf.Relay); err != nil {
				return fmt.Errorf("%w: (%s) is not a valid relay address", err, cnf.Relay)
			}
			if !slices.Contains(config.Styles, cnf.TuiStyle) {
				return fmt.Errorf("invalid tui style provided: %s", cnf.TuiStyle)
			}

			paste, _ := cmd.Flags().GetBool("paste")
			transferID, err := transferIDFromArgs(args, paste, clipboard.ReadAll)
			if err != nil {
				return err
			}

			lgr, err := setupLoggingFromViper("receive")
			if err != nil {
				return err
			}
			defer lgr.Sync()

			switch cnf.TuiStyle {
			case config.StyleRich:
				if err := handleReceiveCommand(cmd.Context(), cnf, lgr, transferID); err != nil {
					return fmt.Errorf("running rich receive command: %w", err)
				}
			default:
				if err := handleReceiveCommandRaw(cmd.Context(), cnf, lgr, transferID, cmd.OutOrStdout(), cmd.InOrStdin()); err != nil {
					return fmt.Errorf("running raw receive command: %w", err)
				}
			}
			return nil
		},
	}
	receiveCmd.Flags().StringP("relay", "r", "", relayFlagDesc)
	receiveCmd.Flags().BoolP("yes", "y", false, "Overwrite existing files without [Y/n] prompts")
	receiveCmd.Flags().StringP("tui-style", "s", "", tuiStyleFlagDesc)
	receiveCmd.Flags().StringP("output", "o", "", "Directory the received file is written to")
	receiveCmd.Flags().BoolP("unpack", "u", false, "Extract received gzip compressed tar archives")
	receiveCmd.Flags().BoolP("paste", "p", false, "Read the transfer id from the clipboard")
	return receiveCmd
}

var ErrNoTransferID = errors.New("no transfer id provided")

// transferIDFromArgs resolves the transfer id from the arguments, or from the
// clipboard when paste is set.
func transferIDFromArgs(args []string, paste bool, readClipboard func() (string, error)) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	if !paste {
		return "", ErrNoTransferID
	}
	text, err := readClipboard()
	if err != nil {
		return "", fmt.Errorf("reading transfer id from clipboard: %w", err)
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", ErrNoTransferID
	}
	// Accept a pasted `wavedrop receive <id>` command as well as the bare id.
	return fields[len(fields)-1], nil
}

// ------------------------------------------------------ Handlers -----------------------------------------------------

func newReceiver(cnf config.Config, lgr *zap.Logger) *receiver.Receiver {
	opts := append(cnf.ReceiverOptions(), receiver.WithLogger(lgr))
	return receiver.New(receiver.WSDialer{Addr: cnf.Relay}, opts...)
}

// handleReceiveCommand is the receive application.
func handleReceiveCommand(ctx context.Context, cnf config.Config, lgr *zap.Logger, transferID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := newReceiver(cnf, lgr)
	errC := make(chan error, 1)
	go func() { errC <- r.Run(ctx) }()

	program := receiver_tui.New(r, transferID,
		receiver_tui.WithRelayAddr(cnf.Relay),
		receiver_tui.WithOutputDir(cnf.OutputDir),
		receiver_tui.WithPrompt(cnf.PromptOverwriteFiles),
		receiver_tui.WithUnpack(cnf.Unpack),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running receiver tui: %w", err)
	}
	r.Disconnect()
	<-errC
	fmt.Println("")
	return nil
}

func handleReceiveCommandRaw(ctx context.Context, cnf config.Config, lgr *zap.Logger, transferID string, out io.Writer, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := newReceiver(cnf, lgr)
	errC := make(chan error, 1)
	go func() { errC <- r.Run(ctx) }()
	r.Connect(transferID)

	artifact, err := printUpdates(out, r.Updates())
	r.Disconnect()
	runErr := <-errC
	switch {
	case err != nil:
		return err
	case artifact == nil && runErr != nil:
		return runErr
	case artifact == nil:
		return errors.New("receiver stopped before the transfer completed")
	}
	return writeArtifact(out, bufio.NewReader(in), cnf, *artifact)
}

// printUpdates prints the status transitions and progress of the receiver
// until the transfer reaches an outcome.
func printUpdates(out io.Writer, updates <-chan receiver.Snapshot) (*session.Artifact, error) {
	var prev receiver.Snapshot
	for snap := range updates {
		if snap.Connection != prev.Connection {
			switch snap.Connection {
			case receiver.Connecting:
				fmt.Fprintf(out, "connecting to relay\n")
			case receiver.Connected:
				fmt.Fprintf(out, "connected to relay as %s, waiting for sender of %s\n", snap.ConnectionID, snap.TransferID)
			case receiver.Disconnected:
				if !snap.RetriesExhausted {
					fmt.Fprintf(out, "connection lost, reconnecting (attempt %d)\n", snap.ReconnectAttempts)
				}
			}
		}
		if snap.File != nil && (prev.File == nil || *prev.File != *snap.File) {
			fmt.Fprintf(out, "receiving %s (%d bytes)\n", snap.File.Name, snap.File.TotalSize)
		}
		if snap.File != nil && snap.Progress != prev.Progress {
			fmt.Fprintf(out, "progress %d%% (%d/%d bytes)\n", snap.Progress, snap.ReceivedBytes, snap.File.TotalSize)
		}
		prev = snap

		switch {
		case snap.Artifact != nil:
			fmt.Fprintf(out, "received %s (%d bytes)\n", snap.Artifact.Meta.Name, snap.Artifact.Size())
			return snap.Artifact, nil
		case snap.RetriesExhausted, snap.Transfer == session.Failed:
			return nil, errors.New(snap.ErrorMessage())
		}
	}
	return nil, nil
}

// writeArtifact hands the artifact off to disk, asking on stdin before
// existing files are overwritten.
func writeArtifact(out io.Writer, input *bufio.Reader, cnf config.Config, artifact session.Artifact) error {
	if cnf.Unpack && file.IsArchive(artifact) {
		unpacker, err := file.NewUnpacker(cnf.OutputDir, cnf.PromptOverwriteFiles, artifact.Reader())
		if err != nil {
			return fmt.Errorf("initialising unpacker: %w", err)
		}
		defer unpacker.Close()
		for {
			committer, err := unpacker.Unpack()
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, file.ErrFileExists):
			case err != nil:
				return fmt.Errorf("unpacking file: %w", err)
			}
			if err := confirmAndCommit(out, input, committer, errors.Is(err, file.ErrFileExists)); err != nil {
				return err
			}
		}
	}

	committer, err := file.NewCommitter(cnf.OutputDir, artifact, cnf.PromptOverwriteFiles)
	if err != nil && !errors.Is(err, file.ErrFileExists) {
		return err
	}
	return confirmAndCommit(out, input, committer, errors.Is(err, file.ErrFileExists))
}

func confirmAndCommit(out io.Writer, input *bufio.Reader, committer file.Committer, exists bool) error {
	if exists {
		fmt.Fprintf(out, "overwrite %s? [y/n] ", committer.FileName())
		response, err := input.ReadString('\n')
		if err != nil {
			return fmt.Errorf("unable to read input from stdin: %w", err)
		}
		switch strings.TrimSpace(response) {
		case "y", "yes", "Y", "Yes":
			// fallthrough to commit.
		case "n", "no", "N", "No":
			return nil
		default:
			return errors.New("invalid response to prompt")
		}
	}
	size, err := committer.Commit()
	if err != nil {
		return fmt.Errorf("committing file %s to disk: %w", committer.FileName(), err)
	}
	fmt.Fprintf(out, "wrote %s (%d bytes)\n", committer.FileName(), size)
	return nil
}
