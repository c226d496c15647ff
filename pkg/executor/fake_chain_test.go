package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/actsafe/pkg/action"
	"github.com/Mindburn-Labs/actsafe/pkg/receipts"
)

type keypair string

func (k keypair) Identity() string { return string(k) }

// fakeChain is an in-memory ledger with injectable failures.
type fakeChain struct {
	mu       sync.Mutex
	balances map[string]uint64

	simulateErr  error
	simulateFail *receipts.ErrorDetail
	broadcastErr error
	confirmErr   error
	txErr        *receipts.ErrorDetail
	finality     receipts.Finality

	// hooks run outside the lock, before the call does its work
	onSign    func()
	onConfirm func()

	builds     int
	broadcasts int
	memos      []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: map[string]uint64{}}
}

func (c *fakeChain) fund(identity string, amount uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[identity] = amount
}

func (c *fakeChain) BuildAction(_ context.Context, p action.Params, opts BuildOptions) (*UnsignedAction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builds++
	if opts.Memo != "" {
		c.memos = append(c.memos, opts.Memo)
	}
	return &UnsignedAction{Kind: p.Kind(), Params: p, Memo: opts.Memo}, nil
}

func (c *fakeChain) Simulate(_ context.Context, tx *UnsignedAction) (*SimulationResult, error) {
	if c.simulateErr != nil {
		return nil, c.simulateErr
	}
	slot := uint64(100)
	if c.simulateFail != nil {
		return &SimulationResult{Err: c.simulateFail, Logs: []string{"Program failed"}, Slot: &slot}, nil
	}
	return &SimulationResult{OK: true, Logs: []string{"Program 11111111111111111111111111111111 success"}, Slot: &slot}, nil
}

func (c *fakeChain) Sign(_ context.Context, tx *UnsignedAction, signer Signer) (*SignedAction, error) {
	if c.onSign != nil {
		c.onSign()
	}
	if signer.Identity() != tx.Params.Source() {
		return nil, errors.New("fake: wrong key")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return &SignedAction{Signature: fmt.Sprintf("sig-%s-%d", tx.Params.Destination(), c.builds)}, nil
}

func (c *fakeChain) Broadcast(_ context.Context, tx *SignedAction) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.broadcasts++
	if c.broadcastErr != nil {
		return nil, c.broadcastErr
	}
	return &Handle{Signature: tx.Signature}, nil
}

func (c *fakeChain) Confirm(_ context.Context, h *Handle) (*Confirmation, error) {
	if c.onConfirm != nil {
		c.onConfirm()
	}
	if c.confirmErr != nil {
		return nil, c.confirmErr
	}
	slot := uint64(101)
	return &Confirmation{Slot: &slot, Finality: c.finality, Err: c.txErr}, nil
}

func (c *fakeChain) ReadResourceState(_ context.Context, identity, _ string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.balances[identity], nil
}
