package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/fedsim/datarecording"
	"github.com/sarchlab/fedsim/tracing"
)

type reportOptions struct {
	limit int
	topic string
	what  string
}

var report reportOptions

var reportCmd = &cobra.Command{
	Use:   "report <recording.sqlite3>",
	Short: "Summarize a recording",
	Long: "`report` reads a recording written with --record and prints how " +
		"many events and payloads it holds, followed by the last payloads.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd.Context(), args[0], report, cmd.OutOrStdout())
	},
}

func init() {
	reportCmd.Flags().IntVar(&report.limit, "limit", 20,
		"Number of payloads to print (0 prints none)")
	reportCmd.Flags().StringVar(&report.topic, "topic", "",
		"Only print payloads of this topic")
	reportCmd.Flags().StringVar(&report.what, "what", "",
		"Only print payloads of this kind (tx, rx, deliver, drop)")

	rootCmd.AddCommand(reportCmd)
}

func runReport(
	ctx context.Context,
	file string,
	opts reportOptions,
	out io.Writer,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	trace, err := tracing.OpenTrace(file)
	if err != nil {
		return err
	}
	defer trace.Close()

	summary, err := trace.Summarize(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%d events, last at %gs\n",
		summary.Events, summary.LastSeconds)
	fmt.Fprintf(out, "payloads: %d tx, %d rx, %d delivered, %d dropped\n",
		summary.Payloads[tracing.PayloadTx],
		summary.Payloads[tracing.PayloadRx],
		summary.Payloads[tracing.PayloadDeliver],
		summary.Payloads[tracing.PayloadDrop])

	if opts.limit <= 0 {
		return nil
	}

	page := datarecording.Page{
		Match:   map[string]any{},
		OrderBy: "Ticks desc",
		Limit:   opts.limit,
	}

	if opts.topic != "" {
		page.Match["Topic"] = opts.topic
	}

	if opts.what != "" {
		page.Match["What"] = opts.what
	}

	payloads, total, err := trace.Payloads(ctx, page)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "showing %d of %d payloads\n", len(payloads), total)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECONDS\tWHERE\tWHAT\tTOPIC\tVALUE\tFROM\tTO")

	for i := len(payloads) - 1; i >= 0; i-- {
		p := payloads[i]
		fmt.Fprintf(tw, "%g\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Seconds, p.Where, p.What, p.Topic, p.Value, p.From, p.To)
	}

	return tw.Flush()
}
