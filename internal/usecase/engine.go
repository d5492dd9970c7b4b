package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"roomservice-agent/internal/domain"
)

const maxSubstitutes = 3

// MenuStore is the menu and stock ledger consumed by the engine. The menu
// is the single source of truth for availability; DecrementStockIfPositive
// must be atomic so two concurrent confirmations cannot oversell the last
// unit.
type MenuStore interface {
	ListItems(ctx context.Context) ([]domain.MenuItem, error)
	GetItem(ctx context.Context, id string) (domain.MenuItem, error)
	DecrementStockIfPositive(ctx context.Context, id string) (bool, error)
	RestoreStock(ctx context.Context, id string) error
	FindSubstitutes(ctx context.Context, tags []string, excludeID string, limit int) ([]domain.MenuItem, error)
}

// ConversationStore persists conversation logs. AppendMessage must preserve
// actual append order within one conversation under concurrent writers.
type ConversationStore interface {
	GetOrCreate(ctx context.Context, conversationID, guestID string) (domain.Conversation, error)
	AppendMessage(ctx context.Context, conversationID, role, text string) error
	Get(ctx context.Context, conversationID string) (domain.Conversation, error)
}

// OrderStore persists confirmed orders.
type OrderStore interface {
	Insert(ctx context.Context, order domain.Order, conversationID string) error
}

// TemplateSource supplies optional reply-template overrides, keyed under a
// parameter prefix. A nil source means the built-in copy is used.
type TemplateSource interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// ConciergeService resolves each guest message into exactly one agent
// reply: a clarifying question, a dietary-conflict warning, a substitute
// suggestion, or a confirmed order with its stock decrement. It holds no
// state between turns beyond the persisted conversation log; every message
// is evaluated from scratch.
type ConciergeService struct {
	menu        MenuStore
	convs       ConversationStore
	orders      OrderStore
	params      TemplateSource
	paramPrefix string

	cacheMu     sync.RWMutex
	cacheLoaded bool
	templates   replyTemplates
}

// MessageInput is one inbound guest message. ConversationID and GuestID are
// optional; a missing ConversationID starts a new conversation.
type MessageInput struct {
	ConversationID string
	GuestID        string
	Text           string
}

// NewConciergeService validates and wires the engine's collaborators.
// params may be nil, in which case default reply copy is used.
func NewConciergeService(menu MenuStore, convs ConversationStore, orders OrderStore, params TemplateSource, paramPrefix string) (*ConciergeService, error) {
	if menu == nil {
		return nil, errors.New("usecase: menu store must not be nil")
	}
	if convs == nil {
		return nil, errors.New("usecase: conversation store must not be nil")
	}
	if orders == nil {
		return nil, errors.New("usecase: order store must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if params != nil && paramPrefix == "" {
		return nil, errors.New("usecase: parameter prefix must not be empty when a template source is set")
	}
	return &ConciergeService{
		menu:        menu,
		convs:       convs,
		orders:      orders,
		params:      params,
		paramPrefix: paramPrefix,
	}, nil
}

// HandleMessage runs one turn of the order-taking conversation. Branches,
// in priority order: no candidate -> clarify; several candidates -> list
// them; dietary conflict -> warn; out of stock -> substitutes or
// unavailable; otherwise confirm the order and decrement tracked stock.
func (s *ConciergeService) HandleMessage(ctx context.Context, in MessageInput) (domain.Reply, error) {
	if strings.TrimSpace(in.Text) == "" {
		return domain.Reply{}, newError(ErrorInvalidInput, "empty_text", nil)
	}

	convID := strings.TrimSpace(in.ConversationID)
	if convID == "" {
		convID = newUUID()
	}

	if _, err := s.convs.GetOrCreate(ctx, convID, in.GuestID); err != nil {
		return domain.Reply{}, newError(ErrorStorage, "conversation_load_error", err)
	}
	if err := s.convs.AppendMessage(ctx, convID, domain.RoleGuest, in.Text); err != nil {
		return domain.Reply{}, newError(ErrorStorage, "message_append_error", err)
	}

	menu, err := s.menu.ListItems(ctx)
	if err != nil {
		return domain.Reply{}, newError(ErrorStorage, "menu_list_error", err)
	}

	prefs := DetectPreferences(in.Text)
	candidates := MatchCandidates(in.Text, menu)
	tpl := s.templatesFor(ctx)

	if len(candidates) == 0 {
		return s.send(ctx, convID, clarifyReply(tpl))
	}
	if len(candidates) > 1 {
		return s.send(ctx, convID, multipleCandidatesReply(tpl, candidates))
	}

	item := candidates[0]
	if conflicts := DietaryConflicts(item, prefs); len(conflicts) > 0 {
		return s.send(ctx, convID, conflictReply(tpl, conflicts))
	}

	if item.StockTracked() {
		if *item.Stock <= 0 {
			return s.sendUnavailable(ctx, convID, tpl, item)
		}
		// Atomic check-and-decrement: the snapshot read above may be
		// stale, so a failed decrement routes to the substitute path
		// rather than confirming an oversold unit.
		ok, err := s.menu.DecrementStockIfPositive(ctx, item.ID)
		if err != nil {
			return domain.Reply{}, newError(ErrorStorage, "stock_decrement_error", err)
		}
		if !ok {
			return s.sendUnavailable(ctx, convID, tpl, item)
		}
	}

	order := domain.Order{
		ID:       newUUID(),
		ItemID:   item.ID,
		ItemName: item.Name,
		PlacedAt: time.Now().UTC(),
		Status:   domain.OrderStatusConfirmed,
	}
	if err := s.orders.Insert(ctx, order, convID); err != nil {
		if item.StockTracked() {
			if restoreErr := s.menu.RestoreStock(ctx, item.ID); restoreErr != nil {
				err = errors.Join(err, restoreErr)
			}
		}
		return domain.Reply{}, newError(ErrorStorage, "order_insert_error", err)
	}
	return s.send(ctx, convID, confirmationReply(tpl, order))
}

// GetConversation returns the full message log for a conversation.
func (s *ConciergeService) GetConversation(ctx context.Context, conversationID string) (domain.Conversation, error) {
	if strings.TrimSpace(conversationID) == "" {
		return domain.Conversation{}, newError(ErrorInvalidInput, "empty_conversation_id", nil)
	}
	conv, err := s.convs.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Conversation{}, newError(ErrorNotFound, "conversation_not_found", err)
		}
		return domain.Conversation{}, newError(ErrorStorage, "conversation_load_error", err)
	}
	return conv, nil
}

// sendUnavailable resolves the substitute suggestion for a depleted item
// and sends the resulting reply.
func (s *ConciergeService) sendUnavailable(ctx context.Context, convID string, tpl replyTemplates, item domain.MenuItem) (domain.Reply, error) {
	subs, err := s.menu.FindSubstitutes(ctx, item.Tags, item.ID, maxSubstitutes)
	if err != nil {
		return domain.Reply{}, newError(ErrorStorage, "substitute_lookup_error", err)
	}
	if len(subs) == 0 {
		return s.send(ctx, convID, unavailableReply(tpl, item))
	}
	return s.send(ctx, convID, substitutesReply(tpl, item, subs))
}

// send appends the agent reply to the conversation log and stamps the
// conversation id on the outgoing payload. Every branch of HandleMessage
// exits through here, so the log always carries the agent's side.
func (s *ConciergeService) send(ctx context.Context, convID string, reply domain.Reply) (domain.Reply, error) {
	if err := s.convs.AppendMessage(ctx, convID, domain.RoleAgent, reply.Text); err != nil {
		return domain.Reply{}, newError(ErrorStorage, "message_append_error", err)
	}
	reply.ConversationID = convID
	return reply, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
