package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPutCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <collection> <id> <json>",
		Short: "Save a document",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body map[string]any
			if err := json.Unmarshal([]byte(args[2]), &body); err != nil {
				return fmt.Errorf("invalid document body: %w", err)
			}

			db, closeDB, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer closeDB()

			coll, err := db.Collection(args[0])
			if err != nil {
				return err
			}
			doc, err := coll.Save(cmd.Context(), args[1], body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s/%s generation %d\n", doc.Collection, doc.ID, doc.Generation)
			return nil
		},
	}
}

func newGetCommand(opts *rootOptions) *cobra.Command {
	var showRev bool

	cmd := &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "Print a document as JSON",
		Args:  cobra.ExactArgs(2),
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
			doc, err := coll.Get(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			if showRev {
				fmt.Fprintf(cmd.OutOrStdout(), "rev %s\n", doc.RevID)
			}
			out, err := json.MarshalIndent(doc.Body, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showRev, "rev", false, "print the revision id first")
	return cmd
}

func newDeleteCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
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
			doc, err := coll.Delete(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s/%s generation %d\n", doc.Collection, doc.ID, doc.Generation)
			return nil
		},
	}
}
