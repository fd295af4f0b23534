package main

import (
	"context"
	"fmt"

	"github.com/cybersemics/treecrdt-sub002/capability"
	"github.com/cybersemics/treecrdt-sub002/cryptoprim"
	"github.com/cybersemics/treecrdt-sub002/internal/logging"
	"github.com/cybersemics/treecrdt-sub002/internal/metrics"
	"github.com/cybersemics/treecrdt-sub002/syncpeer"
	"github.com/cybersemics/treecrdt-sub002/transport"
	"github.com/cybersemics/treecrdt-sub002/tree"
	"github.com/cybersemics/treecrdt-sub002/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// syncDemoCmd runs a two-peer sync session between two local op logs over
// an in-memory transport (not real stdio IPC: exercising two real
// processes over a pipe is a deployment concern, not something this
// learning exercise's CLI needs to prove).
func syncDemoCmd() *cobra.Command {
	var logA, logB, docID string
	var verbose bool
	cmd := &cobra.Command{
		Use:   "sync-demo",
		Short: "Run a full sync session between two local op logs and report convergence",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.Nop()
			if verbose {
				l, err := logging.New()
				if err != nil {
					return fmt.Errorf("build logger: %w", err)
				}
				defer l.Sync()
				log = l
			}

			a, err := loadOpLog(logA, []byte(docID), tree.WithLogger(log))
			if err != nil {
				return err
			}
			b, err := loadOpLog(logB, []byte(docID), tree.WithLogger(log))
			if err != nil {
				return err
			}

			tok, err := selfIssuedAllDocToken([]byte(docID))
			if err != nil {
				return err
			}
			wireCodec, err := wire.NewCodec()
			if err != nil {
				return err
			}
			syncCodec, err := syncpeer.NewCodec()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			m, err := metrics.New(reg)
			if err != nil {
				return fmt.Errorf("build metrics: %w", err)
			}

			connA, connB := transport.NewPipe(32)
			sessA := syncpeer.NewSession(connA, syncCodec, wireCodec, []byte(docID), a, []*capability.Token{tok}).WithLogger(log).WithMetrics(m)
			sessB := syncpeer.NewSession(connB, syncCodec, wireCodec, []byte(docID), b, []*capability.Token{tok}).WithLogger(log).WithMetrics(m)

			ctx := context.Background()
			errCh := make(chan error, 2)
			go func() { errCh <- sessA.RunInitiator(ctx, []syncpeer.Filter{{ID: "all", All: true}}) }()
			go func() { errCh <- sessB.RunResponder(ctx) }()
			if err := <-errCh; err != nil {
				return err
			}
			if err := <-errCh; err != nil {
				return err
			}

			fmt.Printf("A: %d ops, %d nodes\n", len(a.OpsAll()), a.TreeNodeCount())
			fmt.Printf("B: %d ops, %d nodes\n", len(b.OpsAll()), b.TreeNodeCount())

			sessions, err := registeredCounterValue(reg, "treecrdt_sync_sessions_started_total")
			if err == nil {
				fmt.Printf("sync_sessions_started_total: %d\n", int(sessions))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&logA, "log-a", "", "first peer's op log file")
	cmd.Flags().StringVar(&logB, "log-b", "", "second peer's op log file")
	cmd.Flags().StringVar(&docID, "doc-id", "doc", "document id")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "emit structured logs and print collected metrics")
	cmd.MarkFlagRequired("log-a")
	cmd.MarkFlagRequired("log-b")
	return cmd
}

// registeredCounterValue reads back a single counter's value from reg,
// so sync-demo can report what metrics.New actually collected without
// standing up an HTTP /metrics endpoint for a one-shot CLI run.
func registeredCounterValue(reg *prometheus.Registry, name string) (float64, error) {
	families, err := reg.Gather()
	if err != nil {
		return 0, err
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				return c.GetValue(), nil
			}
		}
	}
	return 0, fmt.Errorf("metric %s not found", name)
}

// selfIssuedAllDocToken mints a throwaway issuer key and a doc-wide
// read/write token, enough to authorize the demo's "all" filter in both
// directions; a real deployment would load a capability chain from the
// keystore instead.
func selfIssuedAllDocToken(docID []byte) (*capability.Token, error) {
	codec, err := cryptoprim.NewCodec()
	if err != nil {
		return nil, err
	}
	_, issuerPriv, err := cryptoprim.GenerateEd25519()
	if err != nil {
		return nil, err
	}
	signer, err := cryptoprim.COSESigner(issuerPriv)
	if err != nil {
		return nil, err
	}
	pub, _, err := cryptoprim.GenerateEd25519()
	if err != nil {
		return nil, err
	}

	claims := capability.Claims{
		Aud: []string{string(docID)},
		Cnf: capability.Confirmation{Pub: pub},
		Caps: []capability.Grant{{
			Res:     capability.Resource{DocID: docID},
			Actions: []capability.Action{capability.ActionReadStructure, capability.ActionWriteStructure},
		}},
	}
	return capability.IssueToken(codec, claims, signer)
}
