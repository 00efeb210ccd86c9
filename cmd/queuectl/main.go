// Package main implements queuectl, an operator CLI for the job queues.
//
// Usage:
//
//	queuectl queues
//	queuectl info [queue]
//	queuectl purge <queue> [--yes]
//	queuectl enqueue <type> '<json data>'
//
// Configuration is read from the environment (or .env) exactly like the
// workers, so queuectl talks to the same broker.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"jobboard/internal/app"
	"jobboard/internal/broker"
	"jobboard/internal/config"
	"jobboard/internal/queue"
)

// ops is the queue surface the commands use.
type ops interface {
	GetQueueInfo(ctx context.Context, name string) (broker.QueueInfo, error)
	ListQueues(ctx context.Context) ([]broker.QueueInfo, error)
	PurgeQueue(ctx context.Context, name string) (int, error)
	EnqueueRaw(ctx context.Context, kind queue.JobKind, data json.RawMessage) (queue.Envelope, bool, error)
}

// appOps joins the admin and job helpers of one App.
type appOps struct {
	*queue.Admin
	*queue.Jobs
}

// opener connects to the broker. The returned func releases it.
type opener func(ctx context.Context) (ops, func(), error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openApp)
	root.SetIn(os.Stdin)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func openApp(ctx context.Context) (ops, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, app.NewLogger("warn"))
	if err != nil {
		return nil, nil, err
	}
	return appOps{Admin: a.Admin, Jobs: a.Jobs}, a.Close, nil
}

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "queuectl",
		Short:        "Inspect and operate the job queues",
		Version:      config.NewBuildInfo().String(),
		SilenceUsage: true,
	}

	// withOps opens the broker for one command and closes it afterwards.
	withOps := func(fn func(cmd *cobra.Command, q ops, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			q, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			return fn(cmd, q, args)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "queues",
		Short: "List every queue with depth and consumers",
		Args:  cobra.NoArgs,
		RunE: withOps(func(cmd *cobra.Command, q ops, _ []string) error {
			return printInfos(cmd.Context(), q, cmd.OutOrStdout())
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "info [queue]",
		Short: "Show one queue, or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: withOps(func(cmd *cobra.Command, q ops, args []string) error {
			if len(args) == 0 {
				return printInfos(cmd.Context(), q, cmd.OutOrStdout())
			}
			info, err := q.GetQueueInfo(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue:     %s\nmessages:  %d\nconsumers: %d\n", info.Queue, info.MessageCount, info.ConsumerCount)
			return nil
		}),
	})

	var force bool
	purgeCmd := &cobra.Command{
		Use:   "purge <queue>",
		Short: "Drop every ready message from a queue",
		Args:  cobra.ExactArgs(1),
		RunE: withOps(func(cmd *cobra.Command, q ops, args []string) error {
			out := cmd.OutOrStdout()
			prompt := fmt.Sprintf("Purge every ready message from %s? Type 'yes' to continue: ", args[0])
			if !force && !confirm(cmd.InOrStdin(), out, prompt) {
				fmt.Fprintln(out, "Aborted.")
				return nil
			}
			n, err := q.PurgeQueue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "purged %d messages from %s\n", n, args[0])
			return nil
		}),
	}
	purgeCmd.Flags().BoolVarP(&force, "yes", "y", false, "skip the confirmation prompt")
	root.AddCommand(purgeCmd)

	root.AddCommand(&cobra.Command{
		Use:   "enqueue <type> <json>",
		Short: "Publish a job",
		Args:  cobra.ExactArgs(2),
		RunE: withOps(func(cmd *cobra.Command, q ops, args []string) error {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("job data is not valid JSON")
			}
			env, ok, err := q.EnqueueRaw(cmd.Context(), queue.JobKind(args[0]), json.RawMessage(args[1]))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("broker did not accept job %s", env.ID)
			}
			fmt.Fprintln(cmd.OutOrStdout(), env.ID)
			return nil
		}),
	})

	return root
}

func printInfos(ctx context.Context, q ops, out io.Writer) error {
	infos, err := q.ListQueues(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(out)
	table.Header("QUEUE", "MESSAGES", "CONSUMERS")
	for _, info := range infos {
		if err := table.Append(info.Queue, strconv.Itoa(info.MessageCount), strconv.Itoa(info.ConsumerCount)); err != nil {
			return err
		}
	}
	return table.Render()
}

func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	var answer string
	if _, err := fmt.Fscanln(in, &answer); err != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}
