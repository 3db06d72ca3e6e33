package server

import (
	"context"
	"sync"
	"time"

	"github.com/dvcrn/gemini-web-proxy/internal/gemini"
	"github.com/dvcrn/gemini-web-proxy/internal/sessionstore"
	"github.com/rs/zerolog"
)

const defaultConversationKey = "default"

// conversation pairs an upstream client with the lock that serializes
// requests against it.
type conversation struct {
	mu     sync.Mutex
	key    string
	client *gemini.Client
	turns  int
}

type conversationManager struct {
	mu    sync.Mutex
	items map[string]*conversation

	newClient    func() *gemini.Client
	store        sessionstore.Store
	timeout      time.Duration
	resendSystem bool
	logger       zerolog.Logger
}

func newConversationManager(newClient func() *gemini.Client, store sessionstore.Store, timeout time.Duration, resendSystem bool, logger zerolog.Logger) *conversationManager {
	return &conversationManager{
		items:        make(map[string]*conversation),
		newClient:    newClient,
		store:        store,
		timeout:      timeout,
		resendSystem: resendSystem,
		logger:       logger,
	}
}

// get returns the conversation for key, restoring persisted ids the first
// time a key is seen. The caller locks conv.mu before using the client.
func (m *conversationManager) get(ctx context.Context, key string) *conversation {
	if key == "" {
		key = defaultConversationKey
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if conv, ok := m.items[key]; ok {
		return conv
	}

	client := m.newClient()
	session := client.Session()
	session.Timeout = m.timeout
	session.ResendSystemPrompt = m.resendSystem

	conv := &conversation{key: key, client: client}
	rec, err := m.store.Load(ctx, key)
	if err != nil {
		m.logger.Warn().Err(err).Str("conversation", key).Msg("Failed to load persisted session, starting fresh")
	} else if rec != nil {
		session.Restore(rec.Context, rec.LastRequest, rec.History)
		conv.turns = rec.Turns
		m.logger.Debug().
			Str("conversation", key).
			Str("conversation_id", rec.Context.ConversationID).
			Int("turns", rec.Turns).
			Msg("Restored persisted session")
	}

	m.items[key] = conv
	return conv
}

// save persists the conversation ids. Failures are logged; the in-memory
// session stays authoritative.
func (m *conversationManager) save(ctx context.Context, conv *conversation, now time.Time) {
	session := conv.client.Session()
	if session.Context().IsZero() {
		return
	}
	rec := &sessionstore.Record{
		Key:         conv.key,
		Context:     session.Context(),
		LastRequest: session.LastRequest(),
		Turns:       conv.turns,
		History:     session.History(),
		UpdatedAt:   now,
	}
	if err := m.store.Save(ctx, rec); err != nil {
		m.logger.Warn().Err(err).Str("conversation", conv.key).Msg("Failed to persist session")
	}
}

// reset clears one conversation. The caller holds conv.mu.
func (m *conversationManager) reset(ctx context.Context, conv *conversation) {
	conv.client.Reset()
	conv.turns = 0
	if err := m.store.Delete(ctx, conv.key); err != nil {
		m.logger.Warn().Err(err).Str("conversation", conv.key).Msg("Failed to delete persisted session")
	}
}

// resetKey clears the conversation for key, including a persisted record
// that was never loaded in this process.
func (m *conversationManager) resetKey(ctx context.Context, key string) {
	if key == "" {
		key = defaultConversationKey
	}
	conv := m.get(ctx, key)
	conv.mu.Lock()
	defer conv.mu.Unlock()
	m.reset(ctx, conv)
}

// resetAll clears every known conversation, used after credentials change.
func (m *conversationManager) resetAll(ctx context.Context) int {
	m.mu.Lock()
	convs := make([]*conversation, 0, len(m.items))
	for _, conv := range m.items {
		convs = append(convs, conv)
	}
	m.mu.Unlock()

	for _, conv := range convs {
		conv.mu.Lock()
		m.reset(ctx, conv)
		conv.mu.Unlock()
	}
	return len(convs)
}
