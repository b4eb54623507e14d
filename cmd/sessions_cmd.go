package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func sessionsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List private sessions and manage their memory",
	}
	cmd.AddCommand(sessionsListCmd(root))
	cmd.AddCommand(sessionsForgetCmd(root))
	return cmd
}

func sessionsListCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List private sessions in the archive",
		Args:  cobra.NoArgs,
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			sessions, err := a.pipeline.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if format != formatText {
				return writeStructured(out, format, sessions)
			}
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No private sessions found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, titleStyle.Render("SESSION")+"\t"+titleStyle.Render("MESSAGES")+"\t"+titleStyle.Render("LAST")+"\t"+titleStyle.Render("MEMORY")+"\t"+titleStyle.Render("TONE"))
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
					truncate(s.ID, 32), s.MessageCount, dimStyle.Render(formatTime(s.LastTime)),
					mark(s.Indexed), mark(s.HasGuide))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}

func sessionsForgetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "forget <session>",
		Aliases: []string{"delete"},
		Short:   "Delete a session's memory and tone guide",
		Args:    cobra.ExactArgs(1),
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.pipeline.DeleteMemory(cmd.Context(), args[0]); err != nil {
				return explain(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Forgot session: %s\n", args[0])
			return nil
		}),
	}
}

func mark(ok bool) string {
	if ok {
		return successStyle.Render("yes")
	}
	return dimStyle.Render("no")
}
