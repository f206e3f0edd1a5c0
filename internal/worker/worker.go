// Package worker runs the periodic retention job: old chat messages are
// pruned and expired rows are swept from backends that need it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/whatsapp-ai/wabot/internal/chat"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/zerodha/logf"
)

// Pruner is the subset of the chat store the worker needs.
type Pruner interface {
	PhoneNumbers(ctx context.Context) ([]string, error)
	DeleteOldMessages(ctx context.Context, phoneNumber string, daysToKeep int) (int, error)
}

var _ Pruner = (*chat.Store)(nil)

// Worker prunes chat history on an interval
type Worker struct {
	Chat          Pruner
	KV            kv.Store
	Log           logf.Logger
	RetentionDays int
	Interval      time.Duration
}

// Result summarizes one pass.
type Result struct {
	Conversations int
	Removed       int
	Failed        int
	Deferred      int // changed by another writer mid-compaction
	Expired       int
}

// New creates a Worker. A non-positive interval falls back to one hour.
func New(chatStore Pruner, store kv.Store, retentionDays int, interval time.Duration, log logf.Logger) *Worker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Worker{
		Chat:          chatStore,
		KV:            store,
		Log:           log,
		RetentionDays: retentionDays,
		Interval:      interval,
	}
}

// Run prunes once immediately and then on every tick until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.Log.Info("Retention worker starting", "interval", w.Interval.String(), "retention_days", w.RetentionDays)

	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.Log.Error("Retention pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.Log.Info("Retention worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce prunes every conversation. A failure on one phone number is
// logged and counted; only a failure to list conversations is returned.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	var res Result
	if w.RetentionDays <= 0 {
		w.Log.Debug("Retention disabled, skipping prune")
		return res, w.sweep(ctx, &res)
	}

	numbers, err := w.Chat.PhoneNumbers(ctx)
	if err != nil {
		return res, fmt.Errorf("list conversations: %w", err)
	}
	res.Conversations = len(numbers)

	for _, p := range numbers {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		removed, err := w.Chat.DeleteOldMessages(ctx, p, w.RetentionDays)
		if errors.Is(err, chat.ErrConcurrentUpdate) {
			res.Deferred++
			w.Log.Info("Conversation busy, pruning on the next pass", "phone", p)
			continue
		}
		if err != nil {
			res.Failed++
			w.Log.Warn("Failed to prune conversation", "error", err, "phone", p)
			continue
		}
		res.Removed += removed
	}

	if err := w.sweep(ctx, &res); err != nil {
		return res, err
	}

	w.Log.Info("Retention pass complete",
		"conversations", res.Conversations,
		"removed", res.Removed,
		"failed", res.Failed,
		"deferred", res.Deferred,
		"expired", res.Expired)
	return res, nil
}

func (w *Worker) sweep(ctx context.Context, res *Result) error {
	s, ok := w.KV.(kv.Sweeper)
	if !ok {
		return nil
	}
	n, err := s.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("sweep expired keys: %w", err)
	}
	res.Expired = n
	return nil
}
