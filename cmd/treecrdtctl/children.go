package main

import (
	"encoding/hex"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/ids"
	"github.com/spf13/cobra"
)

func childrenCmd() *cobra.Command {
	var logPath, docID, parentHex string
	cmd := &cobra.Command{
		Use:   "children",
		Short: "List the live children of a node (default: ROOT)",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := loadOpLog(logPath, []byte(docID))
			if err != nil {
				return err
			}
			parent := ids.ROOT
			if parentHex != "" {
				raw, err := hex.DecodeString(parentHex)
				if err != nil {
					return fmt.Errorf("decode --parent: %w", err)
				}
				if len(raw) != ids.NodeIDSize {
					return fmt.Errorf("--parent must be %d bytes hex-encoded", ids.NodeIDSize)
				}
				copy(parent[:], raw)
			}
			for _, n := range backend.TreeChildren(parent) {
				fmt.Println(n)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "", "path to a hex-CBOR op log file")
	cmd.Flags().StringVar(&docID, "doc-id", "doc", "document id")
	cmd.Flags().StringVar(&parentHex, "parent", "", "hex-encoded parent node id, default ROOT")
	cmd.MarkFlagRequired("log")
	return cmd
}
