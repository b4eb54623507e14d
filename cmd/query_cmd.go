package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatclone/internal/clone"
	"github.com/nextlevelbuilder/chatclone/internal/normalize"
)

func queryCmd(root *rootOptions) *cobra.Command {
	var (
		topK   int
		role   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "query <session> <keyword>",
		Short: "Search a session's memory",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			r := normalize.Role(role)
			if r != "" && !r.Valid() {
				return fmt.Errorf("unknown role %q (want target or me)", role)
			}
			if !cmd.Flags().Changed("top-k") && a.cfg.Agent.TopK > 0 {
				topK = a.cfg.Agent.TopK
			}

			res, err := a.pipeline.QueryMemory(cmd.Context(), args[0], args[1], clone.QueryOptions{TopK: topK, RoleFilter: r})
			if err != nil {
				return explain(err)
			}

			out := cmd.OutOrStdout()
			if format != formatText {
				return writeStructured(out, format, res)
			}
			if res.Debug.UsedFallback {
				fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("No vector match; showing substring matches."))
			}
			if len(res.Results) == 0 {
				fmt.Fprintln(out, "No matching memory.")
				return nil
			}
			return writeRows(out, res.Results)
		}),
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 5, "number of results")
	cmd.Flags().StringVar(&role, "role", "", "only return chunks by this role: target or me")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}
