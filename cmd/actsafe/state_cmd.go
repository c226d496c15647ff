package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/actsafe/pkg/evidence"
	"github.com/Mindburn-Labs/actsafe/pkg/policy"
	"github.com/Mindburn-Labs/actsafe/pkg/replayguard"
	"github.com/Mindburn-Labs/actsafe/pkg/spend"
)

// runPolicyCmd validates a policy document, compiles its rules and prints the
// version hash that exported envelopes will carry.
func runPolicyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("policy", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	file := cmd.String("file", "", "Policy file (defaults to ACTSAFE_POLICY)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	check := func(path string) int {
		doc, err := policy.Load(path)
		if err != nil {
			return exitFor(stderr, err)
		}
		engine, err := policy.NewEngine(nil)
		if err != nil {
			return exitFor(stderr, err)
		}
		if err := engine.Compile(doc); err != nil {
			return exitFor(stderr, err)
		}
		hash, err := doc.VersionHash()
		if err != nil {
			return exitFor(stderr, err)
		}
		_ = writeJSON(stdout, map[string]any{
			"ok":                true,
			"path":              path,
			"version":           doc.Version,
			"policyVersionHash": hash,
			"rules":             len(doc.Rules),
		})
		return 0
	}

	if *file != "" {
		return check(*file)
	}
	return withApp(stderr, func(_ context.Context, a *app) int {
		return check(a.cfg.PolicyPath)
	})
}

func runSpendCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("spend", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	day := cmd.String("day", "", "UTC day as YYYY-MM-DD (default today)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		d := *day
		if d == "" {
			d = a.ledger.Today()
		}
		entries, err := a.ledger.Day(ctx, d)
		if err != nil {
			return exitFor(stderr, err)
		}
		if entries == nil {
			entries = []spend.Entry{}
		}
		_ = writeJSON(stdout, map[string]any{"ok": true, "day": d, "entries": entries})
		return 0
	})
}

func runProcessedCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("processed", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	check := cmd.String("check", "", "Report whether this confirmation id was processed")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		if *check != "" {
			seen, err := a.replay.IsProcessed(ctx, *check)
			if err != nil {
				return exitFor(stderr, err)
			}
			_ = writeJSON(stdout, map[string]any{"ok": true, "id": *check, "processed": seen})
			return 0
		}
		entries, err := a.replay.Entries(ctx)
		if err != nil {
			return exitFor(stderr, err)
		}
		if entries == nil {
			entries = []replayguard.Entry{}
		}
		_ = writeJSON(stdout, map[string]any{"ok": true, "entries": entries})
		return 0
	})
}

func runEvidenceCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("evidence", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	digest := cmd.String("digest", "", "Evidence digest, equal to an envelope evidenceHash (REQUIRED)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *digest == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --digest is required")
		return 2
	}

	return withApp(stderr, func(ctx context.Context, a *app) int {
		store, err := a.evidenceStore(ctx)
		if err != nil {
			return exitFor(stderr, err)
		}
		data, err := evidence.GetVerified(ctx, store, *digest)
		if err != nil {
			return exitFor(stderr, err)
		}
		_, _ = stdout.Write(data)
		_, _ = fmt.Fprintln(stdout)
		return 0
	})
}
