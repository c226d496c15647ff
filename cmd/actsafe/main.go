package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

const version = "1.0.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
//
// Exit codes:
//
//	0 = success
//	1 = verification or integrity failure
//	2 = usage or runtime error
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "receipts":
		return runReceiptsCmd(args[2:], stdout, stderr)
	case "show":
		return runShowCmd(args[2:], stdout, stderr)
	case "verify-chain":
		return runVerifyChainCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "policy":
		return runPolicyCmd(args[2:], stdout, stderr)
	case "spend":
		return runSpendCmd(args[2:], stdout, stderr)
	case "processed":
		return runProcessedCmd(args[2:], stdout, stderr)
	case "evidence":
		return runEvidenceCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintf(stdout, "actsafe %s\n", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "actsafe %s - action receipt ledger\n\n", version)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  actsafe <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "RECEIPTS:")
	printCommand(w, "receipts", "List recent receipts (--limit)")
	printCommand(w, "show", "Show one verified receipt (--request)")
	printCommand(w, "verify-chain", "Walk the receipt chain and report breaks (--json)")
	printCommand(w, "export", "Export envelopes (--request | --all, --out)")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "VERIFICATION:")
	printCommand(w, "verify", "Verify exported envelopes (--envelope, --strict, --json)")
	printCommand(w, "evidence", "Fetch verified evidence by digest (--digest)")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "OPERATOR STATE:")
	printCommand(w, "policy", "Validate the policy document and print its hash (--file)")
	printCommand(w, "spend", "Show spend ledger totals for a day (--day)")
	printCommand(w, "processed", "List or check processed confirmations (--check)")
	printCommand(w, "version", "Show version information")
	printCommand(w, "help", "Show this help")
}

func printCommand(w io.Writer, name, desc string) {
	_, _ = fmt.Fprintf(w, "  %-14s %s\n", name, desc)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
