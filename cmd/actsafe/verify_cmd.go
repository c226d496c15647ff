package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/Mindburn-Labs/actsafe/pkg/envelope"
	"github.com/Mindburn-Labs/actsafe/pkg/verifier"
)

// runVerifyCmd implements `actsafe verify`.
//
// Checks exported envelopes without any storage access. A single envelope may
// also be checked against disclosed trace or ciphertext material.
//
// Exit codes:
//
//	0 = all envelopes passed
//	1 = at least one envelope failed
//	2 = runtime error
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("verify", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		path       string
		strict     bool
		jsonOutput bool
		tracePath  string
		cipherPath string
		opts       verifier.Options
	)
	cmd.StringVar(&path, "envelope", "", "Path to an envelope or an array of envelopes (REQUIRED)")
	cmd.BoolVar(&strict, "strict", false, "Enable every optional check")
	cmd.BoolVar(&opts.RequireEvidenceHash, "require-evidence", false, "Require evidenceHash")
	cmd.BoolVar(&opts.RequirePolicyVersionHash, "require-policy", false, "Require policyVersionHash")
	cmd.BoolVar(&opts.RequireFinalizedOrEvidence, "require-finalized-or-evidence", false, "Require finalized state or evidenceHash")
	cmd.BoolVar(&opts.RequirePrivacyCoherence, "require-privacy", false, "Require an encryption reference for encrypted disclosure")
	cmd.StringVar(&tracePath, "trace", "", "Disclosed trace to check against traceHash")
	cmd.StringVar(&cipherPath, "ciphertext", "", "Disclosed ciphertext to check against the encryption reference")
	cmd.BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if path == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --envelope is required")
		return 2
	}
	if strict {
		opts = verifier.Strict()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	envs, err := envelope.DecodeAll(data)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	report := verifier.VerifyAll(envs, opts)

	if tracePath != "" || cipherPath != "" {
		if len(envs) != 1 {
			_, _ = fmt.Fprintln(stderr, "Error: --trace and --ciphertext need exactly one envelope")
			return 2
		}
		var d verifier.Disclosure
		if d.Trace, err = readOptional(tracePath); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if d.Ciphertext, err = readOptional(cipherPath); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 2
		}
		if res := verifier.VerifyDisclosure(envs[0], d); !res.OK {
			report.Checks = append(report.Checks, verifier.CheckResult{
				Index:     0,
				RequestID: envs[0].RequestID,
				Pass:      false,
				Reason:    res.Reason,
			})
			report.Verified = false
			report.IssueCount++
			report.Summary = "FAIL: disclosure " + res.Reason
		}
	}

	if jsonOutput {
		_ = writeJSON(stdout, report)
	} else {
		if report.Verified {
			_, _ = fmt.Fprintf(stdout, "Envelope verification PASSED\n")
		} else {
			_, _ = fmt.Fprintf(stdout, "Envelope verification FAILED\n")
			for _, c := range report.Checks {
				if !c.Pass {
					_, _ = fmt.Fprintf(stdout, "  - [%d] %s: %s\n", c.Index, c.RequestID, c.Reason)
				}
			}
		}
		_, _ = fmt.Fprintf(stdout, "Checks: %s\n", report.Summary)
	}

	if !report.Verified {
		return 1
	}
	return 0
}

func readOptional(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
