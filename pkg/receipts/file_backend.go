package receipts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Mindburn-Labs/actsafe/pkg/acterr"
	"github.com/Mindburn-Labs/actsafe/pkg/canonicalize"
	"github.com/Mindburn-Labs/actsafe/pkg/filestore"
)

// On-disk layout under the backend directory.
const (
	ReceiptsDir  = "receipts"
	ChainLogFile = "chain.jsonl"
	TipFile      = "tip.json"
	lockFile     = ".receipts.lock"
)

const maxLogLine = 16 << 20

type tipDoc struct {
	ReceiptHash string `json:"receiptHash"`
}

// FileBackend stores one JSON document per receipt, an append-only JSONL chain
// log and a tip index. Writers are serialised with an advisory file lock, and
// readers see whole documents only since every rewrite is an atomic rename.
type FileBackend struct {
	dir  string
	lock *filestore.Lock
}

func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{
		dir:  dir,
		lock: filestore.NewLock(filepath.Join(dir, lockFile)),
	}
}

func (b *FileBackend) receiptPath(requestID string) (string, error) {
	if !canonicalize.IsHexDigest(requestID) {
		return "", acterr.Validation("receipts.FileBackend", "malformed requestId %q", requestID)
	}
	return filepath.Join(b.dir, ReceiptsDir, requestID+".json"), nil
}

func (b *FileBackend) Append(ctx context.Context, requestID string, fn AppendFunc) error {
	path, err := b.receiptPath(requestID)
	if err != nil {
		return err
	}
	return b.lock.Do(ctx, func() error {
		tip, err := b.reconcile(ctx)
		if err != nil {
			return err
		}
		current, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			current = nil
		} else if err != nil {
			return fmt.Errorf("receipts: read %s: %w", path, err)
		}
		current = bytes.TrimSpace(current)
		if len(current) == 0 {
			current = nil
		}

		rec, err := fn(current, tip)
		if err != nil {
			return err
		}

		if err := b.appendLog(rec.Body); err != nil {
			return err
		}
		if err := filestore.WriteAtomic(path, append(append([]byte(nil), rec.Body...), '\n')); err != nil {
			return err
		}
		return filestore.WriteJSON(filepath.Join(b.dir, TipFile), tipDoc{ReceiptHash: rec.Hash})
	})
}

// reconcile returns the chain tip, first rolling the receipt file and tip
// index forward to the last log entry when an earlier append stopped after
// the log write. The log is authoritative; an entry is only rolled forward
// when it verifies and links to the recorded tip.
func (b *FileBackend) reconcile(ctx context.Context) (string, error) {
	tip, err := b.Tip(ctx)
	if err != nil {
		return "", err
	}
	entries, err := b.Log(ctx)
	if err != nil || len(entries) == 0 {
		return tip, err
	}
	last := entries[len(entries)-1]

	var link chainLink
	if err := json.Unmarshal(last, &link); err != nil || link.ReceiptHash == tip {
		return tip, nil
	}
	prev := ""
	if link.PrevReceiptHash != nil {
		prev = *link.PrevReceiptHash
	}
	if prev != tip {
		return tip, nil
	}
	var r Receipt
	if err := json.Unmarshal(last, &r); err != nil || VerifyHash(&r) != nil {
		return tip, nil
	}
	path, err := b.receiptPath(link.RequestID)
	if err != nil {
		return tip, nil
	}

	if err := filestore.WriteAtomic(path, append(append([]byte(nil), last...), '\n')); err != nil {
		return "", err
	}
	if err := filestore.WriteJSON(filepath.Join(b.dir, TipFile), tipDoc{ReceiptHash: link.ReceiptHash}); err != nil {
		return "", err
	}
	return link.ReceiptHash, nil
}

func (b *FileBackend) appendLog(body []byte) error {
	if bytes.ContainsAny(body, "\n\r") {
		return fmt.Errorf("receipts: body is not a single line")
	}
	if err := os.MkdirAll(b.dir, 0o750); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(b.dir, ChainLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("receipts: open chain log: %w", err)
	}
	if _, err := f.Write(append(append([]byte(nil), body...), '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("receipts: append chain log: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("receipts: sync chain log: %w", err)
	}
	return f.Close()
}

func (b *FileBackend) Get(_ context.Context, requestID string) ([]byte, error) {
	path, err := b.receiptPath(requestID)
	if err != nil {
		return nil, err
	}
	body, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: read %s: %w", path, err)
	}
	return bytes.TrimSpace(body), nil
}

// List walks the chain log backwards, so the order is that of each receipt's
// latest append.
func (b *FileBackend) List(ctx context.Context, limit int) ([][]byte, error) {
	entries, err := b.Log(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out [][]byte
	for i := len(entries) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		var head struct {
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(entries[i], &head); err != nil || seen[head.RequestID] {
			continue
		}
		seen[head.RequestID] = true
		body, err := b.Get(ctx, head.RequestID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, body)
	}
	return out, nil
}

func (b *FileBackend) Log(context.Context) ([][]byte, error) {
	f, err := os.Open(filepath.Join(b.dir, ChainLogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receipts: open chain log: %w", err)
	}
	defer f.Close()

	var out [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		out = append(out, append([]byte(nil), line...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("receipts: read chain log: %w", err)
	}
	return out, nil
}

func (b *FileBackend) Tip(context.Context) (string, error) {
	var doc tipDoc
	if _, err := filestore.ReadJSON(filepath.Join(b.dir, TipFile), &doc); err != nil {
		return "", err
	}
	return doc.ReceiptHash, nil
}
