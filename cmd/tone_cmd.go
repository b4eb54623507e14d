package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/chatclone/internal/tone"
)

func toneCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Show or generate a session's tone guide",
	}
	cmd.AddCommand(toneShowCmd(root))
	cmd.AddCommand(toneGenerateCmd(root))
	return cmd
}

func toneShowCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <session>",
		Short: "Print the stored tone guide",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			g, err := a.pipeline.GetToneGuide(cmd.Context(), args[0])
			if errors.Is(err, tone.ErrNoGuide) {
				return fmt.Errorf("%w; run: chatclone tone generate %s", err, args[0])
			}
			if err != nil {
				return err
			}
			return writeGuide(cmd.OutOrStdout(), format, g)
		}),
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}

func toneGenerateCmd(root *rootOptions) *cobra.Command {
	var (
		sampleSize int
		format     string
	)
	cmd := &cobra.Command{
		Use:   "generate <session>",
		Short: "Sample the counterpart's messages and write a new tone guide",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(root, func(cmd *cobra.Command, a *app, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			if !cmd.Flags().Changed("sample-size") && a.cfg.Tone.SampleSize > 0 {
				sampleSize = a.cfg.Tone.SampleSize
			}
			fmt.Fprintln(cmd.ErrOrStderr(), progressStyle.Render("Sampling and generating..."))
			g, err := a.pipeline.GenerateToneGuide(cmd.Context(), args[0], sampleSize)
			if err != nil {
				return explain(err)
			}
			return writeGuide(cmd.OutOrStdout(), format, g)
		}),
	}
	cmd.Flags().IntVarP(&sampleSize, "sample-size", "n", tone.DefaultSampleSize, "messages to sample")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "output format: text, json or yaml")
	return cmd
}

func writeGuide(w io.Writer, format string, g *tone.Guide) error {
	if format != formatText {
		return writeStructured(w, format, g)
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Session:"), g.SessionID)
	fmt.Fprintf(w, "%s %s (%s, %d samples)\n", titleStyle.Render("Created:"),
		g.CreatedAt.Local().Format("2006-01-02 15:04"), g.Model, g.SampleSize)
	fmt.Fprintf(w, "\n%s\n", g.Summary)
	if len(g.Details) > 0 {
		fmt.Fprintln(w)
		return writeStructured(w, formatYAML, g.Details)
	}
	return nil
}
