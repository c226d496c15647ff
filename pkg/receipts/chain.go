package receipts

import (
	"context"
	"encoding/json"
	"fmt"
)

// ChainReport is the outcome of walking the append log.
type ChainReport struct {
	Total           int            `json:"total"`
	Valid           bool           `json:"valid"`
	Tip             string         `json:"tip"`
	ChainBreaks     []string       `json:"chainBreaks,omitempty"`
	DuplicateHashes []string       `json:"duplicateHashes,omitempty"`
	HashMismatches  []string       `json:"hashMismatches,omitempty"`
	TipMismatch     string         `json:"tipMismatch,omitempty"`
	Summary         map[Status]int `json:"summary"` // status -> count
}

type chainLink struct {
	RequestID       string  `json:"requestId"`
	Status          Status  `json:"status"`
	ReceiptHash     string  `json:"receiptHash"`
	PrevReceiptHash *string `json:"prevReceiptHash"`
}

// VerifyChain checks that the log is one linear chain from genesis to the
// stored tip and that every entry's hash matches its content.
func (s *Store) VerifyChain(ctx context.Context) (*ChainReport, error) {
	entries, err := s.backend.Log(ctx)
	if err != nil {
		return nil, err
	}
	tip, err := s.backend.Tip(ctx)
	if err != nil {
		return nil, err
	}
	report := VerifyLog(entries, tip)
	if !report.Valid {
		s.logger.WarnContext(ctx, "receipt chain invalid",
			"breaks", len(report.ChainBreaks),
			"mismatches", len(report.HashMismatches),
			"duplicates", len(report.DuplicateHashes))
	}
	return report, nil
}

// VerifyLog checks raw log entries, in append order, against the expected tip.
func VerifyLog(entries [][]byte, tip string) *ChainReport {
	report := &ChainReport{
		Total:   len(entries),
		Tip:     tip,
		Summary: make(map[Status]int),
	}

	seen := make(map[string]bool, len(entries))
	prev := ""
	for i, body := range entries {
		var link chainLink
		if err := json.Unmarshal(body, &link); err != nil {
			report.ChainBreaks = append(report.ChainBreaks, fmt.Sprintf("entry[%d]: unreadable: %v", i, err))
			prev = ""
			continue
		}
		report.Summary[link.Status]++

		switch {
		case i == 0 && link.PrevReceiptHash != nil:
			report.ChainBreaks = append(report.ChainBreaks,
				fmt.Sprintf("entry[0] %s: genesis has prevReceiptHash %s", link.RequestID, *link.PrevReceiptHash))
		case i > 0 && (link.PrevReceiptHash == nil || *link.PrevReceiptHash != prev):
			got := "null"
			if link.PrevReceiptHash != nil {
				got = *link.PrevReceiptHash
			}
			report.ChainBreaks = append(report.ChainBreaks,
				fmt.Sprintf("entry[%d] %s: prevReceiptHash mismatch (expected %s, got %s)", i, link.RequestID, prev, got))
		}

		if seen[link.ReceiptHash] {
			report.DuplicateHashes = append(report.DuplicateHashes, link.ReceiptHash)
		}
		seen[link.ReceiptHash] = true

		var r Receipt
		if err := json.Unmarshal(body, &r); err != nil {
			report.HashMismatches = append(report.HashMismatches, fmt.Sprintf("entry[%d] %s: undecodable: %v", i, link.RequestID, err))
		} else if err := VerifyHash(&r); err != nil {
			report.HashMismatches = append(report.HashMismatches, fmt.Sprintf("entry[%d] %s: %v", i, link.RequestID, err))
		}

		prev = link.ReceiptHash
	}

	if prev != tip {
		report.TipMismatch = fmt.Sprintf("tip is %q but last entry hashes to %q", tip, prev)
	}
	report.Valid = len(report.ChainBreaks) == 0 &&
		len(report.DuplicateHashes) == 0 &&
		len(report.HashMismatches) == 0 &&
		report.TipMismatch == ""
	return report
}
