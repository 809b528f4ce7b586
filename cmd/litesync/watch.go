package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	litesync "github.com/litesync/litesync.go"
	"github.com/litesync/litesync.go/pkg/dispatch"
	"github.com/litesync/litesync.go/pkg/models"
	"github.com/litesync/litesync.go/pkg/notify"
	"github.com/spf13/cobra"
)

func newWatchCommand(opts *rootOptions) *cobra.Command {
	var (
		endpoint string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <collection>",
		Short: "Print changes to a collection until interrupted",
		Long: `Print the ids of changed documents as they are written. With --endpoint the
collection is also replicated continuously with that peer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			coll, err := db.Collection(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			queue := dispatch.NewSerialQueue(dispatch.WithName("watch"))
			defer queue.Close()

			var tokens []notify.ListenerToken
			defer func() {
				for _, tok := range tokens {
					tok.Remove()
				}
			}()

			tok, err := coll.AddChangeListener(queue, func(c litesync.CollectionChange) {
				fmt.Fprintf(out, "changed %s: %s\n", c.Collection, strings.Join(c.DocumentIDs, ", "))
			})
			if err != nil {
				return err
			}
			tokens = append(tokens, tok)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			if endpoint != "" {
				r, err := db.NewReplicator(litesync.ReplicatorConfig{
					Endpoint:    endpoint,
					Collections: []string{coll.Name()},
					Continuous:  true,
				})
				if err != nil {
					return err
				}
				defer r.Close()

				tok, err := r.AddChangeListener(queue, func(c litesync.ReplicatorChange) {
					printStatus(out, c.Status)
				})
				if err != nil {
					return err
				}
				tokens = append(tokens, tok)
				if err := r.Start(ctx); err != nil {
					return err
				}
			}

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "replicate with this peer (ws:// or wss://)")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long")
	return cmd
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var (
		endpoint    string
		collections []string
		direction   string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replicate once with a peer and report every document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := parseType(direction)
			if err != nil {
				return err
			}

			db, closeDB, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			r, err := db.NewReplicator(litesync.ReplicatorConfig{
				Endpoint:    endpoint,
				Collections: collections,
				Type:        typ,
			})
			if err != nil {
				return err
			}
			defer r.Close()

			out := cmd.OutOrStdout()
			queue := dispatch.NewSerialQueue(dispatch.WithName("sync"))
			defer queue.Close()

			docTok, err := r.AddDocumentReplicationListener(queue, func(d litesync.DocumentReplication) {
				for _, doc := range d.Documents {
					printDocument(out, d.IsPush, doc)
				}
			})
			if err != nil {
				return err
			}
			defer docTok.Remove()

			var once sync.Once
			done := make(chan models.ReplicatorStatus, 1)
			statusTok, err := r.AddChangeListener(queue, func(c litesync.ReplicatorChange) {
				if c.Status.Activity == models.ActivityStopped {
					once.Do(func() { done <- c.Status })
				}
			})
			if err != nil {
				return err
			}
			defer statusTok.Remove()

			if err := r.Start(cmd.Context()); err != nil {
				return err
			}

			var final models.ReplicatorStatus
			select {
			case final = <-done:
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}
			fmt.Fprintf(out, "finished: %d/%d\n", final.Progress.Completed, final.Progress.Total)
			return final.Error
		},
	}

	cmd.Flags().StringVarP(&endpoint, "endpoint", "e", "", "peer URL (ws:// or wss://)")
	cmd.Flags().StringSliceVarP(&collections, "collection", "c", nil, "collection to replicate (repeatable)")
	cmd.Flags().StringVar(&direction, "type", "both", "push, pull or both")
	_ = cmd.MarkFlagRequired("endpoint")
	return cmd
}

func parseType(s string) (litesync.ReplicatorType, error) {
	switch s {
	case "push":
		return litesync.Push, nil
	case "pull":
		return litesync.Pull, nil
	case "both", "":
		return litesync.PushAndPull, nil
	}
	return 0, fmt.Errorf("invalid --type %q: must be push, pull or both", s)
}

func printStatus(w io.Writer, st models.ReplicatorStatus) {
	line := fmt.Sprintf("replicator %s %d/%d", st.Activity, st.Progress.Completed, st.Progress.Total)
	if st.Error != nil {
		line += " error: " + st.Error.Error()
	}
	fmt.Fprintln(w, line)
}

func printDocument(w io.Writer, push bool, doc models.ReplicatedDocument) {
	verb := "pulled"
	if push {
		verb = "pushed"
	}
	line := fmt.Sprintf("%s %s/%s", verb, doc.Collection, doc.ID)
	if doc.Flags != 0 {
		line += " [" + doc.Flags.String() + "]"
	}
	if doc.Error != nil {
		line += " error: " + doc.Error.Error()
	}
	fmt.Fprintln(w, line)
}
