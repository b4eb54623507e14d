package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatclone/internal/clone"
	"github.com/nextlevelbuilder/chatclone/pkg/protocol"
)

func indexCmd(root *rootOptions) *cobra.Command {
	var opts clone.IndexOptions
	cmd := &cobra.Command{
		Use:   "index <session>",
		Short: "Build or extend a session's long-term memory",
		Long: `Stream a private session out of the archive, chunk and embed it, and
store the chunks under the session's memory directory.

Without --reset new chunks are appended to the existing memory.
Ctrl-C stops after the current batch and leaves the memory unchanged.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			flags := cmd.Flags()
			for _, name := range []string{"batch-size", "gap", "max-chars", "max-messages"} {
				if flags.Changed(name) && flagValue(cmd, name) <= 0 {
					return fmt.Errorf("%w: --%s must be positive; omit it to use the default", clone.ErrInvalidArgument, name)
				}
			}
			if !flags.Changed("batch-size") {
				opts.BatchSize = a.cfg.Index.BatchSize
			}
			if !flags.Changed("gap") {
				opts.ChunkGapSeconds = a.cfg.Index.ChunkGapSeconds
			}
			if !flags.Changed("max-chars") {
				opts.MaxChunkChars = a.cfg.Index.MaxChunkChars
			}
			if !flags.Changed("max-messages") {
				opts.MaxChunkMessages = a.cfg.Index.MaxChunkMessages
			}

			errOut := cmd.ErrOrStderr()
			res, err := a.pipeline.IndexSession(cmd.Context(), args[0], opts, progressPrinter(errOut))
			fmt.Fprintln(errOut)
			if res != nil && res.Cancelled {
				fmt.Fprintln(errOut, warnStyle.Render("Cancelled; memory left unchanged."))
				return nil
			}
			if err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d messages, %d chunks written, %d rows in memory\n",
				successStyle.Render("Indexed"), args[0], res.TotalMessages, res.TotalChunks, res.Debug.RowCount)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&opts.Reset, "reset", false, "drop existing memory before indexing")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "messages fetched per batch (default 200)")
	cmd.Flags().Int64Var(&opts.ChunkGapSeconds, "gap", 0, "seconds of silence that close a chunk, positive (default 600)")
	cmd.Flags().IntVar(&opts.MaxChunkChars, "max-chars", 0, "maximum characters per chunk (default 400)")
	cmd.Flags().IntVar(&opts.MaxChunkMessages, "max-messages", 0, "maximum messages per chunk (default 20)")
	return cmd
}

func flagValue(cmd *cobra.Command, name string) int64 {
	v, _ := strconv.ParseInt(cmd.Flags().Lookup(name).Value.String(), 10, 64)
	return v
}

func progressPrinter(w io.Writer) func(protocol.IndexProgress) {
	return func(p protocol.IndexProgress) {
		fmt.Fprintf(w, "\r%s %d messages, %d chunks",
			progressStyle.Render("Indexing"), p.TotalMessages, p.TotalChunks)
	}
}

// explain adds a hint for errors the user can fix.
func explain(err error) error {
	switch {
	case errors.Is(err, clone.ErrGroupSession):
		return fmt.Errorf("%w (only private sessions can be cloned)", err)
	case errors.Is(err, clone.ErrBoundaryLost):
		return fmt.Errorf("%w; run the command again", err)
	}
	return err
}
