package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/envelope"
	"github.com/Mindburn-Labs/actsafe/pkg/idempotency"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
)

// exitFor maps integrity failures to 1 and everything else to 2.
func exitFor(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
	if acterr.KindOf(err) == acterr.KindIntegrity {
		return 1
	}
	return 2
}

func runReceiptsCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("receipts", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	limit := cmd.Int("limit", receipts.DefaultListLimit, "Maximum number of receipts, most recent first")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		rs, err := a.receipts.List(ctx, *limit)
		if err != nil {
			return exitFor(stderr, err)
		}
		if rs == nil {
			rs = []*receipts.Receipt{}
		}
		if err := writeJSON(stdout, map[string]any{"ok": true, "receipts": rs}); err != nil {
			return exitFor(stderr, err)
		}
		return 0
	})
}

func runShowCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("show", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	request := cmd.String("request", "", "Request id (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	id, err := idempotency.Parse(*request)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --request: %v\n", err)
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		r, err := a.receipts.Load(ctx, id)
		if err != nil {
			return exitFor(stderr, err)
		}
		if err := writeJSON(stdout, map[string]any{"ok": true, "receipt": r}); err != nil {
			return exitFor(stderr, err)
		}
		return 0
	})
}

func runVerifyChainCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify-chain", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output the report as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		report, err := a.receipts.VerifyChain(ctx)
		if err != nil {
			return exitFor(stderr, err)
		}
		if *jsonOutput {
			_ = writeJSON(stdout, report)
		} else if report.Valid {
			_, _ = fmt.Fprintf(stdout, "Receipt chain OK: %d entries, tip %s\n", report.Total, report.Tip)
		} else {
			_, _ = fmt.Fprintf(stdout, "Receipt chain INVALID: %d entries\n", report.Total)
			for _, b := range report.ChainBreaks {
				_, _ = fmt.Fprintf(stdout, "  - break: %s\n", b)
			}
			for _, m := range report.HashMismatches {
				_, _ = fmt.Fprintf(stdout, "  - hash mismatch: %s\n", m)
			}
			for _, d := range report.DuplicateHashes {
				_, _ = fmt.Fprintf(stdout, "  - duplicate: %s\n", d)
			}
			if report.TipMismatch != "" {
				_, _ = fmt.Fprintf(stdout, "  - tip: %s\n", report.TipMismatch)
			}
		}
		if !report.Valid {
			return 1
		}
		return 0
	})
}

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("export", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		request    string
		all        bool
		limit      int
		out        string
		traceHash  string
		disclosure string
		proofHash  string
		encAlg     string
		encRcpt    string
		encHash    string
	)
	cmd.StringVar(&request, "request", "", "Request id to export")
	cmd.BoolVar(&all, "all", false, "Export the most recent receipts as an array")
	cmd.IntVar(&limit, "limit", receipts.DefaultListLimit, "Receipts exported with --all")
	cmd.StringVar(&out, "out", "", "Write envelopes to this file instead of stdout")
	cmd.StringVar(&traceHash, "trace-hash", "", "Hash of the redacted trace")
	cmd.StringVar(&disclosure, "disclosure", "", "Disclosure policy (public_minimal|shared_with_counterparty|encrypted_for_auditor)")
	cmd.StringVar(&proofHash, "reasoning-proof-hash", "", "Hash of the reasoning proof")
	cmd.StringVar(&encAlg, "enc-alg", "", "Encryption algorithm of the auditor copy")
	cmd.StringVar(&encRcpt, "enc-recipient", "", "Auditor key id")
	cmd.StringVar(&encHash, "enc-ciphertext-hash", "", "SHA-256 of the auditor ciphertext")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if (request == "") == !all {
		_, _ = fmt.Fprintln(stderr, "Error: exactly one of --request or --all is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		doc, err := a.policyDocument()
		if err != nil {
			return exitFor(stderr, err)
		}
		policyHash, err := doc.VersionHash()
		if err != nil {
			return exitFor(stderr, err)
		}
		opts := envelope.ExportOptions{
			PolicyVersionHash:  policyHash,
			TraceHash:          traceHash,
			DisclosurePolicy:   envelope.DisclosurePolicy(disclosure),
			ReasoningProofHash: proofHash,
		}
		if encAlg != "" || encRcpt != "" || encHash != "" {
			opts.Encryption = &envelope.EncryptionRef{Alg: encAlg, Recipient: encRcpt, CiphertextHash: encHash}
		}

		var rs []*receipts.Receipt
		if all {
			rs, err = a.receipts.List(ctx, limit)
		} else {
			var id idempotency.RequestID
			if id, err = idempotency.Parse(request); err == nil {
				var r *receipts.Receipt
				if r, err = a.receipts.Load(ctx, id); err == nil {
					rs = []*receipts.Receipt{r}
				}
			}
		}
		if err != nil {
			return exitFor(stderr, err)
		}

		envs := make([]*envelope.Envelope, 0, len(rs))
		for _, r := range rs {
			env, err := envelope.FromReceipt(r, opts)
			if err != nil {
				return exitFor(stderr, err)
			}
			envs = append(envs, env)
		}

		w := stdout
		if out != "" {
			f, err := os.Create(out)
			if err != nil {
				return exitFor(stderr, err)
			}
			defer func() { _ = f.Close() }()
			w = f
		}
		var payload any = envs
		if !all {
			payload = envs[0]
		}
		if err := writeJSON(w, payload); err != nil {
			return exitFor(stderr, err)
		}
		if out != "" {
			_, _ = fmt.Fprintf(stdout, "Exported %d envelope(s) to %s\n", len(envs), out)
		}
		return 0
	})
}
