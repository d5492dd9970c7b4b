package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"roomservice-agent/internal/domain"
)

// MemoryStore is a mutex-guarded implementation of the menu, conversation
// and order store contracts. It backs the server's "memory" driver and the
// engine tests; the conditional decrement holds the same atomicity promise
// as the real backends.
type MemoryStore struct {
	mu     sync.Mutex
	items  []domain.MenuItem
	convs  map[string]*domain.Conversation
	orders map[string][]domain.Order
}

// NewMemoryStore returns an empty store. Seed the menu before serving.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:  make(map[string]*domain.Conversation),
		orders: make(map[string][]domain.Order),
	}
}

// Seed replaces the menu with the given items.
func (m *MemoryStore) Seed(items []domain.MenuItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make([]domain.MenuItem, len(items))
	copy(m.items, items)
}

func (m *MemoryStore) ListItems(_ context.Context) ([]domain.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.MenuItem, len(m.items))
	copy(out, m.items)
	return out, nil
}

func (m *MemoryStore) GetItem(_ context.Context, id string) (domain.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.MenuItem{}, fmt.Errorf("menu item %q: %w", id, domain.ErrNotFound)
}

func (m *MemoryStore) DecrementStockIfPositive(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID != id {
			continue
		}
		if m.items[i].Stock == nil || *m.items[i].Stock <= 0 {
			return false, nil
		}
		next := *m.items[i].Stock - 1
		m.items[i].Stock = &next
		return true, nil
	}
	return false, fmt.Errorf("menu item %q: %w", id, domain.ErrNotFound)
}

func (m *MemoryStore) RestoreStock(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID != id {
			continue
		}
		if m.items[i].Stock != nil {
			next := *m.items[i].Stock + 1
			m.items[i].Stock = &next
		}
		return nil
	}
	return fmt.Errorf("menu item %q: %w", id, domain.ErrNotFound)
}

func (m *MemoryStore) FindSubstitutes(_ context.Context, tags []string, excludeID string, limit int) ([]domain.MenuItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var subs []domain.MenuItem
	for _, item := range m.items {
		if len(subs) >= limit {
			break
		}
		if item.ID == excludeID || !item.Available {
			continue
		}
		if item.Stock == nil || *item.Stock <= 0 {
			continue
		}
		if sharesTag(item.Tags, tags) {
			subs = append(subs, item)
		}
	}
	return subs, nil
}

func (m *MemoryStore) GetOrCreate(_ context.Context, conversationID, guestID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.convs[conversationID]; ok {
		return copyConversation(conv), nil
	}
	conv := &domain.Conversation{
		ID:        conversationID,
		GuestID:   guestID,
		CreatedAt: time.Now().UTC(),
	}
	m.convs[conversationID] = conv
	return copyConversation(conv), nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, conversationID, role, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, domain.ErrNotFound)
	}
	conv.Messages = append(conv.Messages, domain.Message{
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (m *MemoryStore) Get(_ context.Context, conversationID string) (domain.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.convs[conversationID]
	if !ok {
		return domain.Conversation{}, fmt.Errorf("conversation %q: %w", conversationID, domain.ErrNotFound)
	}
	return copyConversation(conv), nil
}

func (m *MemoryStore) Insert(_ context.Context, order domain.Order, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[conversationID] = append(m.orders[conversationID], order)
	return nil
}

// Orders returns the orders recorded for a conversation, for inspection in
// tests.
func (m *MemoryStore) Orders(conversationID string) []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Order, len(m.orders[conversationID]))
	copy(out, m.orders[conversationID])
	return out
}

func copyConversation(conv *domain.Conversation) domain.Conversation {
	out := *conv
	out.Messages = make([]domain.Message, len(conv.Messages))
	copy(out.Messages, conv.Messages)
	return out
}
