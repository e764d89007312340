package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-commerce/orchestrator/modules"
)

func TestUserStore_CreateAndValidate(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()

	user, err := store.CreateUser(ctx, modules.NewUser{Email: "a@example.com", Name: "Ada"})
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)
	assert.True(t, user.Active)

	ok, err := store.ValidateUser(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ValidateUser(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, store.Calls("CreateUser"))
	assert.Equal(t, 2, store.Calls("ValidateUser"))
}

func TestUserStore_FailureInjection(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()
	boom := errors.New("user module down")

	store.FailWith("CreateUser", boom)

	_, err := store.CreateUser(ctx, modules.NewUser{Email: "b@example.com"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, store.Calls("CreateUser"), "failed calls are still counted")

	store.FailWith("CreateUser", nil)

	_, err = store.CreateUser(ctx, modules.NewUser{Email: "b@example.com"})
	assert.NoError(t, err)
}

func TestUserStore_OptOut(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()
	store.Seed(modules.User{ID: "u1", Active: true})
	store.OptOut("u1", "MARKETING")

	optedIn, err := store.HasOptedIn(ctx, "u1", "MARKETING")
	require.NoError(t, err)
	assert.False(t, optedIn)

	optedIn, err = store.HasOptedIn(ctx, "u1", "WELCOME")
	require.NoError(t, err)
	assert.True(t, optedIn)
}

func TestCatalogStore_Availability(t *testing.T) {
	ctx := context.Background()
	store := NewCatalogStore()
	store.Seed(modules.Product{ID: "p1", Stock: 5})
	store.Seed(modules.Product{ID: "p2", Stock: 0})

	avail, err := store.CheckAvailability(ctx, []modules.OrderItem{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p3", Quantity: 1},
	})
	require.NoError(t, err)
	assert.False(t, avail.Available)
	assert.ElementsMatch(t, []string{"p2", "p3"}, avail.Unavailable)

	avail, err = store.CheckAvailability(ctx, []modules.OrderItem{{ProductID: "p1", Quantity: 5}})
	require.NoError(t, err)
	assert.True(t, avail.Available)
}

func TestCatalogStore_Pagination(t *testing.T) {
	ctx := context.Background()
	store := NewCatalogStore()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		store.Seed(modules.Product{ID: id, Category: "books", Stock: 1})
	}

	page, err := store.GetProducts(ctx, "books", 1, 2)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = store.GetProducts(ctx, "books", 3, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)

	page, err = store.GetProducts(ctx, "books", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestOrderStore_LimitsAndHistory(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore()
	store.SetUserLimit(2)

	draft := modules.OrderDraft{UserID: "u1", Items: []modules.OrderItem{{ProductID: "p1", Quantity: 1}}}

	ok, err := store.CheckOrderLimits(ctx, "u1", draft)
	require.NoError(t, err)
	assert.True(t, ok)

	first, err := store.CreateOrder(ctx, draft)
	require.NoError(t, err)
	assert.Equal(t, "CONFIRMED", first.Status)

	_, err = store.CreateOrder(ctx, draft)
	require.NoError(t, err)

	ok, err = store.CheckOrderLimits(ctx, "u1", draft)
	require.NoError(t, err)
	assert.False(t, ok, "limit reached")

	history, err := store.GetOrderHistory(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	fetched, err := store.GetOrder(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, fetched.ID)

	_, err = store.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotifier_RecordsSends(t *testing.T) {
	ctx := context.Background()
	notifier := NewNotifier()

	err := notifier.Send(ctx, modules.Notification{Recipient: "u1", Type: "WELCOME"})
	require.NoError(t, err)

	sent := notifier.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "WELCOME", sent[0].Type)
	assert.Equal(t, 1, notifier.Calls("Send"))
}
