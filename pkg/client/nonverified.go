// Copyright 2025 Certen Protocol

// Non-verified operations (SPEC_FULL.md §4.6): issue the RPC, map server
// errors, return results. None of these touch trusted state.
package client

import (
	"context"

	"github.com/certen/verikv/pkg/transport"
	"github.com/certen/verikv/pkg/txlog"
	"github.com/certen/verikv/pkg/verrors"
)

// Get returns a single key's current (or pinned) value without proof.
func (c *Client) Get(ctx context.Context, key []byte, atTx, sinceTx uint64) (*txlog.Entry, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	e, err := c.rpc.Get(ctx, hdr, transport.KeyRequest{Key: key, AtTx: atTx, SinceTx: sinceTx})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return &e, nil
}

// GetAll returns multiple keys in one round trip.
func (c *Client) GetAll(ctx context.Context, keys [][]byte) ([]txlog.Entry, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	entries, err := c.rpc.GetAll(ctx, hdr, keys)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return entries, nil
}

// Scan returns entries with the given key prefix.
func (c *Client) Scan(ctx context.Context, req transport.ScanRequest) ([]txlog.Entry, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	entries, err := c.rpc.Scan(ctx, hdr, req)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return entries, nil
}

// ZScan returns sorted-set entries in score order.
func (c *Client) ZScan(ctx context.Context, req transport.ZScanRequest) ([]txlog.Entry, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	entries, err := c.rpc.ZScan(ctx, hdr, req)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return entries, nil
}

// History returns every recorded revision of a key.
func (c *Client) History(ctx context.Context, req transport.HistoryRequest) ([]txlog.Entry, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	entries, err := c.rpc.History(ctx, hdr, req)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return entries, nil
}

// TxScan returns a range of transaction headers.
func (c *Client) TxScan(ctx context.Context, req transport.TxScanRequest) ([]txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	headers, err := c.rpc.TxScan(ctx, hdr, req)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return headers, nil
}

// TxByID returns a committed transaction without proof.
func (c *Client) TxByID(ctx context.Context, txID uint64) (*txlog.Tx, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	tx, err := c.rpc.TxByID(ctx, hdr, transport.TxRequest{Tx: txID})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return &tx, nil
}

// Set writes a single key/value pair without proof.
func (c *Client) Set(ctx context.Context, key, value []byte, metadata *txlog.EntryMetadata) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	th, err := c.rpc.Set(ctx, hdr, transport.SetRequest{KVs: []transport.KV{{Key: key, Value: value, Metadata: metadata}}})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return &th, nil
}

// SetAll writes multiple key/value pairs in one transaction.
func (c *Client) SetAll(ctx context.Context, kvs []transport.KV) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	th, err := c.rpc.SetAll(ctx, hdr, transport.SetRequest{KVs: kvs})
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return &th, nil
}

// Delete marks a key as deleted.
func (c *Client) Delete(ctx context.Context, key []byte) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	th, err := c.rpc.Delete(ctx, hdr, key)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return &th, nil
}

// ZAdd adds a scored member to a sorted set without proof.
func (c *Client) ZAdd(ctx context.Context, req transport.ZAddRequest) (*txlog.TxHeader, error) {
	hdr, err := c.header()
	if err != nil {
		return nil, err
	}
	th, err := c.rpc.ZAdd(ctx, hdr, req)
	if err != nil {
		return nil, verrors.MapServerError(err)
	}
	return &th, nil
}
