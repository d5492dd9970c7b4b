package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"roomservice-agent/internal/domain"
	"roomservice-agent/internal/repository"
)

func intPtr(n int) *int { return &n }

func sampleMenu() []domain.MenuItem {
	return []domain.MenuItem{
		{ID: "caesar-salad", Name: "Caesar Salad", Price: 9.5, Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(10)},
		{ID: "grilled-chicken-sandwich", Name: "Grilled Chicken Sandwich", Price: 12, Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(5)},
		{ID: "vegan-buddha-bowl", Name: "Vegan Buddha Bowl", Price: 13, Tags: []string{"vegan", "gluten-free"}, Available: true, Stock: intPtr(4)},
		{ID: "club-sandwich", Name: "Club Sandwich", Price: 11, Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(2)},
		{ID: "pancakes", Name: "Pancakes", Price: 8, Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(6)},
	}
}

func seededStore(t *testing.T, items []domain.MenuItem) *repository.MemoryStore {
	t.Helper()
	store := repository.NewMemoryStore()
	store.Seed(items)
	return store
}

func newTestService(t *testing.T, store *repository.MemoryStore) *ConciergeService {
	t.Helper()
	svc, err := NewConciergeService(store, store, store, nil, "")
	require.NoError(t, err)
	return svc
}

func expectServiceError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func stockOf(t *testing.T, store *repository.MemoryStore, id string) int {
	t.Helper()
	item, err := store.GetItem(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item.Stock)
	return *item.Stock
}

func TestNewConciergeService_ValidatesDependencies(t *testing.T) {
	store := repository.NewMemoryStore()

	_, err := NewConciergeService(nil, store, store, nil, "")
	require.Error(t, err)

	_, err = NewConciergeService(store, nil, store, nil, "")
	require.Error(t, err)

	_, err = NewConciergeService(store, store, nil, nil, "")
	require.Error(t, err)

	_, err = NewConciergeService(store, store, store, &fakeParams{}, "  ")
	require.Error(t, err)
}

func TestHandleMessage_EmptyText(t *testing.T) {
	store := seededStore(t, sampleMenu())
	svc := newTestService(t, store)

	for _, text := range []string{"", "   "} {
		_, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: text})
		expectServiceError(t, err, ErrorInvalidInput, "empty_text")
	}

	// Validation failed before any store access: no conversation exists.
	_, err := store.Get(context.Background(), "conv-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHandleMessage_GeneratesConversationID(t *testing.T) {
	svc := newTestService(t, seededStore(t, sampleMenu()))

	reply, err := svc.HandleMessage(context.Background(), MessageInput{Text: "I want pancakes"})
	require.NoError(t, err)
	require.NotEmpty(t, reply.ConversationID)
}

func TestHandleMessage_NoCandidates_Clarifies(t *testing.T) {
	store := seededStore(t, sampleMenu())
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "surprise me"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Equal(t, defaultReplyTemplates().clarify, reply.Text)
	require.Empty(t, reply.Candidates)
	require.Empty(t, reply.Conflicts)
	require.Nil(t, reply.Order)
	require.Empty(t, store.Orders("conv-1"))

	conv, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, domain.RoleGuest, conv.Messages[0].Role)
	require.Equal(t, "surprise me", conv.Messages[0].Text)
	require.Equal(t, domain.RoleAgent, conv.Messages[1].Role)
	require.Equal(t, reply.Text, conv.Messages[1].Text)
}

func TestHandleMessage_MultipleCandidates(t *testing.T) {
	store := seededStore(t, sampleMenu())
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "a sandwich please"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Equal(t, []string{"Grilled Chicken Sandwich", "Club Sandwich"}, reply.Candidates)
	require.Contains(t, reply.Text, "Grilled Chicken Sandwich, Club Sandwich")
	require.Nil(t, reply.Order)
	require.Empty(t, store.Orders("conv-1"))
}

func TestHandleMessage_CandidateCountOutranksConflicts(t *testing.T) {
	// "vegan sandwich" detects a vegan preference that conflicts with both
	// sandwiches, but the multiple-candidates branch must win: conflicts
	// are only checked once the guest has narrowed to one item.
	store := seededStore(t, []domain.MenuItem{
		{ID: "grilled-chicken-sandwich", Name: "Grilled Chicken Sandwich", Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(5)},
		{ID: "club-sandwich", Name: "Club Sandwich", Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(2)},
	})
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "vegan sandwich"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Len(t, reply.Candidates, 2)
	require.Empty(t, reply.Conflicts)
}

func TestHandleMessage_DietaryConflict_NoOrder(t *testing.T) {
	store := seededStore(t, []domain.MenuItem{
		{ID: "pancakes", Name: "Pancakes", Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(6)},
	})
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "vegan pancakes"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Equal(t, []string{"vegan"}, reply.Conflicts)
	require.Nil(t, reply.Order)
	require.Empty(t, store.Orders("conv-1"))
	require.Equal(t, 6, stockOf(t, store, "pancakes"))
}

func TestHandleMessage_ConfirmsOrderAndDecrementsStock(t *testing.T) {
	store := seededStore(t, sampleMenu())
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", GuestID: "guest-7", Text: "I want pancakes"})
	require.NoError(t, err)
	require.False(t, reply.NeedClarify)
	require.Equal(t, "Order confirmed: Pancakes", reply.Text)
	require.NotNil(t, reply.Order)
	require.Equal(t, "pancakes", reply.Order.ItemID)
	require.Equal(t, "Pancakes", reply.Order.ItemName)
	require.Equal(t, domain.OrderStatusConfirmed, reply.Order.Status)
	require.NotEmpty(t, reply.Order.ID)
	require.False(t, reply.Order.PlacedAt.IsZero())

	require.Equal(t, 5, stockOf(t, store, "pancakes"))

	orders := store.Orders("conv-1")
	require.Len(t, orders, 1)
	require.Equal(t, reply.Order.ID, orders[0].ID)

	conv, err := store.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, conv.Messages, 2)
	require.Equal(t, "Order confirmed: Pancakes", conv.Messages[1].Text)
}

func TestHandleMessage_SatisfiedPreferenceProceedsToOrder(t *testing.T) {
	store := seededStore(t, sampleMenu())
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "vegan buddha bowl please"})
	require.NoError(t, err)
	require.Empty(t, reply.Conflicts)
	require.NotNil(t, reply.Order)
	require.Equal(t, "vegan-buddha-bowl", reply.Order.ItemID)
	require.Equal(t, 3, stockOf(t, store, "vegan-buddha-bowl"))
}

func TestHandleMessage_UntrackedStockNeverDecrements(t *testing.T) {
	store := seededStore(t, []domain.MenuItem{
		{ID: "espresso", Name: "Espresso", Tags: []string{"vegan"}, Available: true},
	})
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "an espresso"})
	require.NoError(t, err)
	require.NotNil(t, reply.Order)

	item, err := store.GetItem(context.Background(), "espresso")
	require.NoError(t, err)
	require.Nil(t, item.Stock)
}

func TestHandleMessage_DepletedWithSubstitutes(t *testing.T) {
	store := seededStore(t, []domain.MenuItem{
		{ID: "club-sandwich", Name: "Club Sandwich", Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(0)},
		{ID: "beef-burger", Name: "Beef Burger", Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(3)},
	})
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "club sandwich"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Equal(t, []string{"Beef Burger"}, reply.Alternatives)
	require.Contains(t, reply.Text, "Club Sandwich is currently unavailable")
	require.Contains(t, reply.Text, "Beef Burger")
	require.Nil(t, reply.Order)
	require.Empty(t, store.Orders("conv-1"))
}

func TestHandleMessage_DepletedNoAlternatives(t *testing.T) {
	store := seededStore(t, []domain.MenuItem{
		{ID: "club-sandwich", Name: "Club Sandwich", Tags: []string{"contains-meat"}, Available: true, Stock: intPtr(0)},
		{ID: "garden-salad", Name: "Garden Salad", Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(5)},
	})
	svc := newTestService(t, store)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "club sandwich"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Empty(t, reply.Alternatives)
	require.Equal(t, "Sorry, Club Sandwich is currently unavailable and I have no close alternatives. Would you like something else?", reply.Text)
	require.Nil(t, reply.Order)
	require.Empty(t, store.Orders("conv-1"))
}

func TestHandleMessage_SubstitutesCappedAtThree(t *testing.T) {
	menu := []domain.MenuItem{
		{ID: "mushroom-risotto", Name: "Mushroom Risotto", Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(0)},
	}
	for i := 0; i < 5; i++ {
		menu = append(menu, domain.MenuItem{
			ID:        fmt.Sprintf("side-%d", i),
			Name:      fmt.Sprintf("Side %d", i),
			Tags:      []string{"vegetarian"},
			Available: true,
			Stock:     intPtr(2),
		})
	}
	svc := newTestService(t, seededStore(t, menu))

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "mushroom risotto"})
	require.NoError(t, err)
	require.Len(t, reply.Alternatives, 3)
}

// fakeMenu drives the decrement-failure and compensation paths that the
// in-memory store cannot produce on demand.
type fakeMenu struct {
	items          []domain.MenuItem
	decrementOK    bool
	decrementErr   error
	restoreCalled  bool
	restoreErr     error
	substitutes    []domain.MenuItem
	substitutesErr error
	listErr        error
}

func (f *fakeMenu) ListItems(_ context.Context) ([]domain.MenuItem, error) {
	return f.items, f.listErr
}

func (f *fakeMenu) GetItem(_ context.Context, id string) (domain.MenuItem, error) {
	for _, item := range f.items {
		if item.ID == id {
			return item, nil
		}
	}
	return domain.MenuItem{}, domain.ErrNotFound
}

func (f *fakeMenu) DecrementStockIfPositive(_ context.Context, _ string) (bool, error) {
	return f.decrementOK, f.decrementErr
}

func (f *fakeMenu) RestoreStock(_ context.Context, _ string) error {
	f.restoreCalled = true
	return f.restoreErr
}

func (f *fakeMenu) FindSubstitutes(_ context.Context, _ []string, _ string, _ int) ([]domain.MenuItem, error) {
	return f.substitutes, f.substitutesErr
}

type failingOrders struct {
	err error
}

func (f *failingOrders) Insert(_ context.Context, _ domain.Order, _ string) error {
	return f.err
}

func TestHandleMessage_LostDecrementRaceFallsBackToSubstitutes(t *testing.T) {
	// Snapshot says one pancake left, but a concurrent turn takes it
	// before our decrement lands. The reply must offer substitutes, not
	// confirm an oversold order.
	store := repository.NewMemoryStore()
	menu := &fakeMenu{
		items: []domain.MenuItem{
			{ID: "pancakes", Name: "Pancakes", Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(1)},
		},
		decrementOK: false,
		substitutes: []domain.MenuItem{
			{ID: "caesar-salad", Name: "Caesar Salad", Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(2)},
		},
	}
	svc, err := NewConciergeService(menu, store, store, nil, "")
	require.NoError(t, err)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "pancakes"})
	require.NoError(t, err)
	require.True(t, reply.NeedClarify)
	require.Equal(t, []string{"Caesar Salad"}, reply.Alternatives)
	require.Nil(t, reply.Order)
}

func TestHandleMessage_OrderInsertFailureRestoresStock(t *testing.T) {
	store := repository.NewMemoryStore()
	menu := &fakeMenu{
		items: []domain.MenuItem{
			{ID: "pancakes", Name: "Pancakes", Tags: []string{"vegetarian"}, Available: true, Stock: intPtr(6)},
		},
		decrementOK: true,
	}
	svc, err := NewConciergeService(menu, store, &failingOrders{err: errors.New("insert failed")}, nil, "")
	require.NoError(t, err)

	_, err = svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "pancakes"})
	expectServiceError(t, err, ErrorStorage, "order_insert_error")
	require.True(t, menu.restoreCalled)
}

func TestHandleMessage_StorageErrors(t *testing.T) {
	store := repository.NewMemoryStore()

	menu := &fakeMenu{listErr: errors.New("menu down")}
	svc, err := NewConciergeService(menu, store, store, nil, "")
	require.NoError(t, err)
	_, err = svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "pancakes"})
	expectServiceError(t, err, ErrorStorage, "menu_list_error")

	menu = &fakeMenu{
		items: []domain.MenuItem{
			{ID: "pancakes", Name: "Pancakes", Available: true, Stock: intPtr(0)},
		},
		substitutesErr: errors.New("lookup down"),
	}
	svc, err = NewConciergeService(menu, store, store, nil, "")
	require.NoError(t, err)
	_, err = svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-2", Text: "pancakes"})
	expectServiceError(t, err, ErrorStorage, "substitute_lookup_error")
}

func TestGetConversation(t *testing.T) {
	store := seededStore(t, sampleMenu())
	svc := newTestService(t, store)

	_, err := svc.GetConversation(context.Background(), "")
	expectServiceError(t, err, ErrorInvalidInput, "empty_conversation_id")

	_, err = svc.GetConversation(context.Background(), "missing")
	expectServiceError(t, err, ErrorNotFound, "conversation_not_found")

	_, err = svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "I want pancakes"})
	require.NoError(t, err)

	first, err := svc.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	second, err := svc.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, first.Messages, second.Messages)
	require.Len(t, first.Messages, 2)
}

// fakeParams serves reply-template overrides and counts lookups.
type fakeParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (f *fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

func allTemplateParams(prefix string) map[string]string {
	return map[string]string{
		prefix + "/replies/clarify":     "Which dish would you like?",
		prefix + "/replies/multiple":    "Matches: %s. Pick one.",
		prefix + "/replies/conflict":    "Conflicts: %s.",
		prefix + "/replies/substitute":  "%s is out. Try: %s.",
		prefix + "/replies/unavailable": "%s is out, nothing close either.",
		prefix + "/replies/confirm":     "Your %s is on its way!",
	}
}

func TestHandleMessage_TemplateOverrides(t *testing.T) {
	store := seededStore(t, sampleMenu())
	params := &fakeParams{vals: allTemplateParams("/roomservice")}
	svc, err := NewConciergeService(store, store, store, params, "/roomservice")
	require.NoError(t, err)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "I want pancakes"})
	require.NoError(t, err)
	require.Equal(t, "Your Pancakes is on its way!", reply.Text)

	// Templates are cached after the first successful load.
	firstCalls := params.calls
	_, err = svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "surprise me"})
	require.NoError(t, err)
	require.Equal(t, firstCalls, params.calls)
}

func TestHandleMessage_TemplateLoadFailureFallsBackToDefaults(t *testing.T) {
	store := seededStore(t, sampleMenu())
	params := &fakeParams{err: errors.New("ssm unavailable")}
	svc, err := NewConciergeService(store, store, store, params, "/roomservice")
	require.NoError(t, err)

	reply, err := svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "I want pancakes"})
	require.NoError(t, err)
	require.Equal(t, "Order confirmed: Pancakes", reply.Text)

	// The failed load is retried on a later turn once SSM recovers.
	params.err = nil
	params.vals = allTemplateParams("/roomservice")
	reply, err = svc.HandleMessage(context.Background(), MessageInput{ConversationID: "conv-1", Text: "I want pancakes"})
	require.NoError(t, err)
	require.Equal(t, "Your Pancakes is on its way!", reply.Text)
}
