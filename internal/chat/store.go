// Package chat stores per-phone conversation history as fixed-size chunks in
// the key-value backend so the most recent turns can be read without
// loading the whole history.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/whatsapp-ai/wabot/internal/keylock"
	"github.com/whatsapp-ai/wabot/internal/kv"
	"github.com/whatsapp-ai/wabot/internal/phone"
	"github.com/zerodha/logf"
)

const (
	// MessagesPerChunk is the capacity of one chunk.
	MessagesPerChunk = 50
	// TTLDays is the expiry applied to every chunk and metadata record,
	// refreshed on each write.
	TTLDays = 90
	TTL     = TTLDays * 24 * time.Hour

	metadataPrefix = "metadata:"
	chunkPrefix    = "chunk:"
)

// ErrInvalidPhone is returned when a phone number has no digits.
var ErrInvalidPhone = errors.New("chat: invalid phone number")

// ErrConcurrentUpdate is returned by DeleteOldMessages when the conversation
// changed while it was being compacted. Nothing is written; retry later.
var ErrConcurrentUpdate = errors.New("chat: conversation changed during compaction")

// Store is the chunked conversation store.
type Store struct {
	kv    kv.Store
	log   logf.Logger
	now   func() time.Time
	locks *keylock.Map
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a Store on top of the given backend.
func NewStore(store kv.Store, log logf.Logger, opts ...Option) *Store {
	s := &Store{
		kv:    store,
		log:   log,
		now:   time.Now,
		locks: keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func metadataKey(phoneNumber string) string {
	return metadataPrefix + phoneNumber
}

func chunkKey(phoneNumber string, index int) string {
	return chunkPrefix + phoneNumber + ":" + strconv.Itoa(index)
}

func normalize(phoneNumber string) (string, error) {
	p := phone.Normalize(phoneNumber)
	if p == "" {
		return "", ErrInvalidPhone
	}
	return p, nil
}

// StoreMessage appends a message to the phone number's history and returns
// it. It is not idempotent: callers dedupe upstream deliveries before
// calling it.
func (s *Store) StoreMessage(ctx context.Context, phoneNumber, content string, isFromUser bool) (Message, error) {
	p, err := normalize(phoneNumber)
	if err != nil {
		return Message{}, err
	}

	role := RoleAssistant
	if isFromUser {
		role = RoleUser
	}
	now := s.now().UTC()
	msg := Message{
		Role:      role,
		Content:   content,
		Timestamp: now,
		MessageID: uuid.New().String(),
	}

	unlock := s.locks.Lock(p)
	defer unlock()

	meta, err := s.metadata(ctx, p)
	if err != nil {
		return Message{}, err
	}
	if meta == nil {
		meta = &Metadata{PhoneNumber: p}
	}

	// Chunks [0, TotalChunks) are kept full except the last, so the message
	// count alone locates the open chunk.
	index := meta.TotalMessages / MessagesPerChunk
	chunk, err := s.chunk(ctx, p, index)
	if err != nil {
		return Message{}, err
	}
	if chunk == nil {
		chunk = &Chunk{PhoneNumber: p, ChunkIndex: index, CreatedAt: now}
	}
	if index >= meta.TotalChunks {
		meta.TotalChunks = index + 1
	}

	chunk.Messages = append(chunk.Messages, msg)
	chunk.MessageCount = len(chunk.Messages)
	meta.TotalMessages++
	meta.LastMessageTimestamp = now
	meta.LastUpdated = now

	if err := s.putBoth(ctx, chunk, meta); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// putBoth writes a chunk and its metadata concurrently and waits for both.
func (s *Store) putBoth(ctx context.Context, chunk *Chunk, meta *Metadata) error {
	var (
		wg                sync.WaitGroup
		chunkErr, metaErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		chunkErr = s.putChunk(ctx, chunk)
	}()
	go func() {
		defer wg.Done()
		metaErr = s.putMetadata(ctx, meta)
	}()
	wg.Wait()
	return errors.Join(chunkErr, metaErr)
}

// MessagesForAI returns up to limit of the most recent messages, oldest
// first. Chunks are read newest first and reading stops once limit messages
// are collected.
func (s *Store) MessagesForAI(ctx context.Context, phoneNumber string, limit int) ([]Message, error) {
	p, err := normalize(phoneNumber)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []Message{}, nil
	}

	meta, err := s.metadata(ctx, p)
	if err != nil {
		return nil, err
	}
	if meta == nil || meta.TotalChunks == 0 {
		return []Message{}, nil
	}

	maxReads := (limit+MessagesPerChunk-1)/MessagesPerChunk + 1
	var pages [][]Message
	collected := 0
	for i, reads := meta.TotalChunks-1, 0; i >= 0 && collected < limit && reads < maxReads; i, reads = i-1, reads+1 {
		chunk, err := s.chunk(ctx, p, i)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		pages = append(pages, chunk.Messages)
		collected += len(chunk.Messages)
	}

	out := make([]Message, 0, collected)
	for i := len(pages) - 1; i >= 0; i-- {
		out = append(out, pages[i]...)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ConversationHistoryForAI formats recent history as "User: ..." and
// "AI: ..." lines, oldest first. It returns "" when there is no history.
func (s *Store) ConversationHistoryForAI(ctx context.Context, phoneNumber string, limit int) (string, error) {
	msgs, err := s.MessagesForAI(ctx, phoneNumber, limit)
	if err != nil {
		return "", err
	}
	return FormatHistory(msgs), nil
}

// FormatHistory renders messages the way the model prompt expects.
func FormatHistory(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.Role.Label()+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// DeleteOldMessages removes messages older than daysToKeep days and repacks
// the survivors into contiguous chunks starting at index 0. It returns the
// number of messages removed. Nothing is written when nothing is removed.
//
// The per-phone lock only covers this process. A writer in another process
// sharing the backend is detected by re-reading the metadata before the
// rewrite; the compaction then backs off with ErrConcurrentUpdate.
func (s *Store) DeleteOldMessages(ctx context.Context, phoneNumber string, daysToKeep int) (int, error) {
	p, err := normalize(phoneNumber)
	if err != nil {
		return 0, err
	}
	if daysToKeep < 0 {
		daysToKeep = 0
	}

	unlock := s.locks.Lock(p)
	defer unlock()

	meta, err := s.metadata(ctx, p)
	if err != nil || meta == nil {
		return 0, err
	}

	now := s.now().UTC()
	cutoff := now.Add(-time.Duration(daysToKeep) * 24 * time.Hour)

	var (
		survivors []Message
		removed   int
		created   = make(map[int]time.Time, meta.TotalChunks)
	)
	for i := 0; i < meta.TotalChunks; i++ {
		chunk, err := s.chunk(ctx, p, i)
		if err != nil {
			return 0, err
		}
		if chunk == nil {
			continue
		}
		created[i] = chunk.CreatedAt
		for _, m := range chunk.Messages {
			if m.Timestamp.Before(cutoff) {
				removed++
				continue
			}
			survivors = append(survivors, m)
		}
	}
	if removed == 0 {
		return 0, nil
	}

	current, err := s.metadata(ctx, p)
	if err != nil {
		return 0, err
	}
	if current == nil || current.TotalMessages != meta.TotalMessages || !current.LastUpdated.Equal(meta.LastUpdated) {
		s.log.Warn("Conversation changed during compaction, skipping", "phone", p)
		return 0, ErrConcurrentUpdate
	}

	if len(survivors) == 0 {
		if err := s.deleteChunks(ctx, p, 0, meta.TotalChunks); err != nil {
			return 0, err
		}
		if err := s.kv.Delete(ctx, metadataKey(p)); err != nil {
			return 0, fmt.Errorf("chat: delete metadata: %w", err)
		}
		s.log.Info("Pruned conversation", "phone", p, "removed", removed, "remaining", 0)
		return removed, nil
	}

	chunks := (len(survivors) + MessagesPerChunk - 1) / MessagesPerChunk
	for i := 0; i < chunks; i++ {
		end := min((i+1)*MessagesPerChunk, len(survivors))
		page := survivors[i*MessagesPerChunk : end]
		createdAt, ok := created[i]
		if !ok {
			createdAt = page[0].Timestamp
		}
		chunk := &Chunk{
			PhoneNumber:  p,
			ChunkIndex:   i,
			Messages:     page,
			MessageCount: len(page),
			CreatedAt:    createdAt,
		}
		if err := s.putChunk(ctx, chunk); err != nil {
			return 0, err
		}
	}
	if err := s.deleteChunks(ctx, p, chunks, meta.TotalChunks); err != nil {
		return 0, err
	}

	meta.TotalMessages = len(survivors)
	meta.TotalChunks = chunks
	meta.LastMessageTimestamp = survivors[len(survivors)-1].Timestamp
	meta.LastUpdated = now
	if err := s.putMetadata(ctx, meta); err != nil {
		return 0, err
	}

	s.log.Info("Pruned conversation", "phone", p, "removed", removed, "remaining", len(survivors))
	return removed, nil
}

// DeleteAllMessages removes every chunk and the metadata of a phone number.
// A phone number without history is a no-op.
func (s *Store) DeleteAllMessages(ctx context.Context, phoneNumber string) error {
	p, err := normalize(phoneNumber)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(p)
	defer unlock()

	meta, err := s.metadata(ctx, p)
	if err != nil || meta == nil {
		return err
	}
	if err := s.deleteChunks(ctx, p, 0, meta.TotalChunks); err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, metadataKey(p)); err != nil {
		return fmt.Errorf("chat: delete metadata: %w", err)
	}
	return nil
}

func (s *Store) deleteChunks(ctx context.Context, p string, from, to int) error {
	for i := from; i < to; i++ {
		if err := s.kv.Delete(ctx, chunkKey(p, i)); err != nil {
			return fmt.Errorf("chat: delete chunk %d: %w", i, err)
		}
	}
	return nil
}

// Metadata returns the summary record, or nil when there is no history.
func (s *Store) Metadata(ctx context.Context, phoneNumber string) (*Metadata, error) {
	p, err := normalize(phoneNumber)
	if err != nil {
		return nil, err
	}
	return s.metadata(ctx, p)
}

// Chunk returns one chunk, or nil when it does not exist.
func (s *Store) Chunk(ctx context.Context, phoneNumber string, index int) (*Chunk, error) {
	p, err := normalize(phoneNumber)
	if err != nil {
		return nil, err
	}
	return s.chunk(ctx, p, index)
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount(ctx context.Context, phoneNumber string) (int, error) {
	meta, err := s.Metadata(ctx, phoneNumber)
	if err != nil || meta == nil {
		return 0, err
	}
	return meta.TotalMessages, nil
}

// LastMessage returns the newest message, or nil when there is none.
func (s *Store) LastMessage(ctx context.Context, phoneNumber string) (*Message, error) {
	msgs, err := s.MessagesForAI(ctx, phoneNumber, 1)
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// HasChatHistory reports whether at least one message is stored.
func (s *Store) HasChatHistory(ctx context.Context, phoneNumber string) (bool, error) {
	n, err := s.MessageCount(ctx, phoneNumber)
	return n > 0, err
}

// PhoneNumbers lists every phone number with stored metadata.
func (s *Store) PhoneNumbers(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, metadataPrefix)
	if err != nil {
		return nil, fmt.Errorf("chat: list metadata: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, metadataPrefix))
	}
	return out, nil
}

// Stats reads the full history of a phone number and summarizes it.
func (s *Store) Stats(ctx context.Context, phoneNumber string) (Stats, error) {
	p, err := normalize(phoneNumber)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{PhoneNumber: p}

	meta, err := s.metadata(ctx, p)
	if err != nil || meta == nil {
		return st, err
	}
	st.TotalMessages = meta.TotalMessages
	st.TotalChunks = meta.TotalChunks
	updated := meta.LastUpdated
	st.LastUpdated = &updated

	for i := 0; i < meta.TotalChunks; i++ {
		chunk, err := s.chunk(ctx, p, i)
		if err != nil {
			return st, err
		}
		if chunk == nil {
			continue
		}
		for _, m := range chunk.Messages {
			if m.Role == RoleUser {
				st.UserMessages++
			} else {
				st.AssistantMessages++
			}
			ts := m.Timestamp
			if st.FirstMessageAt == nil {
				st.FirstMessageAt = &ts
			}
			st.LastMessageAt = &ts
		}
	}
	return st, nil
}

func (s *Store) metadata(ctx context.Context, p string) (*Metadata, error) {
	var meta Metadata
	ok, err := s.getJSON(ctx, metadataKey(p), &meta)
	if err != nil || !ok {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) chunk(ctx context.Context, p string, index int) (*Chunk, error) {
	var chunk Chunk
	ok, err := s.getJSON(ctx, chunkKey(p, index), &chunk)
	if err != nil || !ok {
		return nil, err
	}
	return &chunk, nil
}

func (s *Store) putMetadata(ctx context.Context, meta *Metadata) error {
	return s.putJSON(ctx, metadataKey(meta.PhoneNumber), meta)
}

func (s *Store) putChunk(ctx context.Context, chunk *Chunk) error {
	return s.putJSON(ctx, chunkKey(chunk.PhoneNumber, chunk.ChunkIndex), chunk)
}

func (s *Store) getJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("chat: get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("chat: decode %s: %w", key, err)
	}
	return true, nil
}

func (s *Store) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("chat: encode %s: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, string(data), TTL); err != nil {
		return fmt.Errorf("chat: put %s: %w", key, err)
	}
	return nil
}
