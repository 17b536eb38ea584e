package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/linemark/internal/annotation"
	"github.com/dshills/linemark/internal/engine/linerange"
	"github.com/dshills/linemark/internal/engine/tracking"
)

func markCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <id> <start> [end]",
		Short: "Add a line range to a record, merging it with recent neighbours",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseSpan(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.tracker.MarkRange(ctx, args[0], start, end, time.Now()); err != nil {
					return err
				}
				rec, err := a.tracker.Get(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, formatRanges(rec.Ranges))
				return nil
			})
		},
	}
}

func readCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "read <path> <start> [end]",
		Short: "Record that lines of a document were read",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseSpan(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.MarkRead(ctx, args[0], start, end, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "%s\t%s\n", rec.ID, formatRanges(rec.Ranges))
				return nil
			})
		},
	}
}

func unmarkCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unmark <id> <line> [end]",
		Short: "Remove a line or a range of lines from a record",
		Long: `Remove a line or a range of lines from a record.

A record left without any lines is deleted. Prints "changed" or "unchanged".`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, end, err := parseSpan(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var changed bool
				if len(args) == 2 {
					changed, err = a.tracker.UnmarkLine(ctx, args[0], start)
				} else {
					changed, err = a.tracker.UnmarkRange(ctx, args[0], start, end)
				}
				if err != nil {
					return err
				}
				if changed {
					fmt.Fprintln(a.out, "changed")
				} else {
					fmt.Fprintln(a.out, "unchanged")
				}
				return nil
			})
		},
	}
}

func editCmd(opts *globalOptions) *cobra.Command {
	var (
		inserted int
		text     string
	)

	cmd := &cobra.Command{
		Use:   "edit <path> <startLine> <endLine>",
		Short: "Apply a document edit to every record of the document",
		Long: `Apply a document edit to every record of the document.

startLine and endLine are 0-indexed: lines startLine through endLine were
replaced. The replacement is given either as a newline count (--lines) or
as the new text itself (--text).`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			startLine, err := parseLine(args[1], "start line")
			if err != nil {
				return err
			}
			endLine, err := parseLine(args[2], "end line")
			if err != nil {
				return err
			}

			e := tracking.Edit{Path: args[0], StartLine: startLine, EndLine: endLine, InsertedLines: inserted}
			if cmd.Flags().Changed("text") {
				e = tracking.NewEdit(args[0], startLine, endLine, text)
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return a.tracker.OnEdit(ctx, e)
			})
		},
	}

	cmd.Flags().IntVar(&inserted, "lines", 0, "Number of newlines in the replacement text")
	cmd.Flags().StringVar(&text, "text", "", "Replacement text")
	cmd.MarkFlagsMutuallyExclusive("lines", "text")
	return cmd
}

func countCmd(opts *globalOptions) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "count <id>",
		Short: "Print the number of distinct lines a record covers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var (
					n   int
					err error
				)
				if since > 0 {
					n, err = a.tracker.MarkedLineCountSince(ctx, args[0], time.Now().Add(-since))
				} else {
					n, err = a.tracker.UniqueMarkedLineCount(ctx, args[0])
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, n)
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&since, "since", 0, "Only count lines marked within this long ago")
	return cmd
}

func listCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list <path>",
		Short: "List the records of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				recs, err := a.tracker.Records(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					if recs == nil {
						recs = []annotation.Record{}
					}
					enc := json.NewEncoder(a.out)
					enc.SetIndent("", "  ")
					return enc.Encode(recs)
				}
				return printRecords(a.out, recs)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print records as JSON")
	return cmd
}

func noteCmd(opts *globalOptions) *cobra.Command {
	var (
		kind  string
		text  string
		color string
	)

	cmd := &cobra.Command{
		Use:   "note <path> <start> [end]",
		Short: "Create an annotation on a range of lines",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := annotation.ParseKind(kind)
			if err != nil {
				return err
			}
			start, end, err := parseSpan(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				rec, err := a.tracker.Create(ctx, k, args[0], []linerange.Range{linerange.New(start, end)},
					annotation.WithText(text), annotation.WithColor(color))
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, rec.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(annotation.KindNote), "Annotation kind (note, diagnostic, highlight, greyout, read)")
	cmd.Flags().StringVar(&text, "text", "", "Note body or diagnostic message")
	cmd.Flags().StringVar(&color, "color", "", "Display color")
	return cmd
}

func rmCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return a.tracker.Delete(ctx, args[0])
			})
		},
	}
}

func printRecords(w io.Writer, recs []annotation.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tLINES\tTEXT")
	for _, rec := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.Kind, formatRanges(rec.Ranges), rec.Text)
	}
	return tw.Flush()
}

func formatRanges(ranges []linerange.Timestamped) string {
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		if r.Start == r.End {
			parts[i] = fmt.Sprint(r.Start)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", r.Start, r.End)
		}
	}
	return strings.Join(parts, ",")
}
