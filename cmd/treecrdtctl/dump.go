package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func dumpCmd() *cobra.Command {
	var logPath, docID string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Replay an op log and print the materialized tree, including tombstones",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := loadOpLog(logPath, []byte(docID))
			if err != nil {
				return err
			}
			for _, row := range backend.TreeDump() {
				fmt.Printf("%s  parent=%s  order_key=%q  tombstone=%v\n",
					row.Node, row.Parent, string(row.OrderKey), row.Tombstone)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "path to a hex-CBOR op log file")
	cmd.Flags().StringVar(&docID, "doc-id", "doc", "document id")
	cmd.MarkFlagRequired("log")
	return cmd
}
