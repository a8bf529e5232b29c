// Package sloghooks reports tiermap hook events to a *slog.Logger, with
// optional sampling and key redaction.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/tiermap"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	CacheErrorEvery uint64
	RepairEvery     uint64
	SelfHealEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	cacheErrCtr atomic.Uint64
	repairCtr   atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ tiermap.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CacheError(op, key string, err error) {
	if h.l == nil || !sample(h.opts.CacheErrorEvery, &h.cacheErrCtr) {
		return
	}
	h.l.Warn("tiermap.cache_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) CacheRepaired(op, key, action string) {
	if h.l == nil || !sample(h.opts.RepairEvery, &h.repairCtr) {
		return
	}
	h.l.Debug("tiermap.cache_repaired",
		"op", op,
		"key", h.redact(key),
		"action", action)
}

func (h *Hooks) DurableError(op, key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("tiermap.durable_error",
		"op", op,
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SelfHeal(key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("tiermap.self_heal",
		"key", h.redact(key),
		"reason", reason)
}
