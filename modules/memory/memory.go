// Package memory provides in-memory implementations of the module client
// contracts. They back local runs of the orchestrator and double as
// recording fakes in tests: every call is counted and any method can be made
// to fail on demand.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-commerce/orchestrator/modules"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// recorder tracks per-method call counts and injected failures. It is
// embedded by every in-memory client.
type recorder struct {
	mu       sync.Mutex
	calls    map[string]int
	failures map[string]error
}

// enter counts a call to method and returns the injected failure, if any.
func (rec *recorder) enter(method string) error {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.calls == nil {
		rec.calls = make(map[string]int)
	}

	rec.calls[method]++

	return rec.failures[method]
}

// FailWith makes every subsequent call to method return err. Passing a nil
// err clears the injection.
func (rec *recorder) FailWith(method string, err error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.failures == nil {
		rec.failures = make(map[string]error)
	}

	if err == nil {
		delete(rec.failures, method)
		return
	}

	rec.failures[method] = err
}

// Calls returns how many times method has been invoked.
func (rec *recorder) Calls(method string) int {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return rec.calls[method]
}

// UserStore is an in-memory modules.UserClient.
type UserStore struct {
	recorder

	dataMu sync.RWMutex
	users  map[string]modules.User
	prefs  map[string]modules.Preferences
	optOut map[string]map[string]bool
}

// NewUserStore creates an empty user store.
func NewUserStore() *UserStore {
	return &UserStore{
		users:  make(map[string]modules.User),
		prefs:  make(map[string]modules.Preferences),
		optOut: make(map[string]map[string]bool),
	}
}

// Seed inserts a user record directly.
func (st *UserStore) Seed(user modules.User) {
	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	st.users[user.ID] = user
}

// OptOut marks a user as opted out of a notification type.
func (st *UserStore) OptOut(userID, notificationType string) {
	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	if st.optOut[userID] == nil {
		st.optOut[userID] = make(map[string]bool)
	}

	st.optOut[userID][notificationType] = true
}

func (st *UserStore) CreateUser(_ context.Context, user modules.NewUser) (modules.User, error) {
	if err := st.enter("CreateUser"); err != nil {
		return modules.User{}, err
	}

	created := modules.User{
		ID:        uuid.NewString(),
		Email:     user.Email,
		Name:      user.Name,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}

	st.dataMu.Lock()
	st.users[created.ID] = created
	st.dataMu.Unlock()

	return created, nil
}

func (st *UserStore) GetUsers(_ context.Context, page, size int) ([]modules.User, error) {
	if err := st.enter("GetUsers"); err != nil {
		return nil, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	all := make([]modules.User, 0, len(st.users))
	for _, user := range st.users {
		all = append(all, user)
	}

	return paginate(all, page, size), nil
}

func (st *UserStore) ValidateUser(_ context.Context, userID string) (bool, error) {
	if err := st.enter("ValidateUser"); err != nil {
		return false, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	_, ok := st.users[userID]

	return ok, nil
}

func (st *UserStore) IsUserActive(_ context.Context, userID string) (bool, error) {
	if err := st.enter("IsUserActive"); err != nil {
		return false, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	user, ok := st.users[userID]

	return ok && user.Active, nil
}

func (st *UserStore) UpdatePreferences(_ context.Context, userID string, prefs modules.Preferences) (bool, error) {
	if err := st.enter("UpdatePreferences"); err != nil {
		return false, err
	}

	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	if _, ok := st.users[userID]; !ok {
		return false, nil
	}

	st.prefs[userID] = prefs

	return true, nil
}

func (st *UserStore) HasOptedIn(_ context.Context, userID, notificationType string) (bool, error) {
	if err := st.enter("HasOptedIn"); err != nil {
		return false, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	if _, ok := st.users[userID]; !ok {
		return false, nil
	}

	return !st.optOut[userID][notificationType], nil
}

func (st *UserStore) Shutdown(_ context.Context) error {
	return st.enter("Shutdown")
}

// CatalogStore is an in-memory modules.CatalogClient.
type CatalogStore struct {
	recorder

	dataMu   sync.RWMutex
	products map[string]modules.Product
}

// NewCatalogStore creates an empty catalog store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{products: make(map[string]modules.Product)}
}

// Seed inserts a product record directly.
func (st *CatalogStore) Seed(product modules.Product) {
	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	st.products[product.ID] = product
}

func (st *CatalogStore) CheckAvailability(_ context.Context, items []modules.OrderItem) (modules.Availability, error) {
	if err := st.enter("CheckAvailability"); err != nil {
		return modules.Availability{}, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	var unavailable []string

	for _, item := range items {
		product, ok := st.products[item.ProductID]
		if !ok || product.Stock < item.Quantity {
			unavailable = append(unavailable, item.ProductID)
		}
	}

	return modules.Availability{
		Available:   len(unavailable) == 0,
		Unavailable: unavailable,
	}, nil
}

func (st *CatalogStore) GetProducts(_ context.Context, category string, page, size int) ([]modules.Product, error) {
	if err := st.enter("GetProducts"); err != nil {
		return nil, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	matched := make([]modules.Product, 0, len(st.products))

	for _, product := range st.products {
		if category == "" || product.Category == category {
			matched = append(matched, product)
		}
	}

	return paginate(matched, page, size), nil
}

func (st *CatalogStore) InitializePreferences(_ context.Context, userID string, defaults modules.Preferences) (modules.Preferences, error) {
	if err := st.enter("InitializePreferences"); err != nil {
		return nil, err
	}

	initialized := make(modules.Preferences, len(defaults))
	for key, value := range defaults {
		initialized[key] = value
	}

	initialized["owner"] = userID

	return initialized, nil
}

func (st *CatalogStore) GetRecommendations(_ context.Context, _ string, _ modules.Preferences, filters map[string]string) ([]modules.Product, error) {
	if err := st.enter("GetRecommendations"); err != nil {
		return nil, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	category := filters["category"]

	recommended := make([]modules.Product, 0, len(st.products))

	for _, product := range st.products {
		if product.Stock == 0 {
			continue
		}

		if category != "" && product.Category != category {
			continue
		}

		recommended = append(recommended, product)
	}

	return recommended, nil
}

func (st *CatalogStore) Shutdown(_ context.Context) error {
	return st.enter("Shutdown")
}

// OrderStore is an in-memory modules.OrderClient.
type OrderStore struct {
	recorder

	dataMu      sync.RWMutex
	orders      map[string]modules.Order
	byUser      map[string][]string
	userLimit   int
	priceLookup func(productID string) int64
}

// defaultOrderLimit caps how many open orders one user may hold.
const defaultOrderLimit = 10

// NewOrderStore creates an empty order store with the default per-user limit.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:    make(map[string]modules.Order),
		byUser:    make(map[string][]string),
		userLimit: defaultOrderLimit,
	}
}

// SetUserLimit overrides the per-user open-order limit.
func (st *OrderStore) SetUserLimit(limit int) {
	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	st.userLimit = limit
}

// SetPriceLookup wires a price source used to total created orders.
func (st *OrderStore) SetPriceLookup(lookup func(productID string) int64) {
	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	st.priceLookup = lookup
}

func (st *OrderStore) CreateOrder(_ context.Context, draft modules.OrderDraft) (modules.Order, error) {
	if err := st.enter("CreateOrder"); err != nil {
		return modules.Order{}, err
	}

	st.dataMu.Lock()
	defer st.dataMu.Unlock()

	var total int64

	for _, item := range draft.Items {
		if st.priceLookup != nil {
			total += st.priceLookup(item.ProductID) * int64(item.Quantity)
		}
	}

	order := modules.Order{
		ID:         uuid.NewString(),
		UserID:     draft.UserID,
		Items:      draft.Items,
		TotalCents: total,
		Status:     "CONFIRMED",
		CreatedAt:  time.Now().UTC(),
	}

	st.orders[order.ID] = order
	st.byUser[draft.UserID] = append(st.byUser[draft.UserID], order.ID)

	return order, nil
}

func (st *OrderStore) GetOrder(_ context.Context, orderID string) (modules.Order, error) {
	if err := st.enter("GetOrder"); err != nil {
		return modules.Order{}, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	order, ok := st.orders[orderID]
	if !ok {
		return modules.Order{}, fmt.Errorf("order %q: %w", orderID, ErrNotFound)
	}

	return order, nil
}

func (st *OrderStore) CheckOrderLimits(_ context.Context, userID string, _ modules.OrderDraft) (bool, error) {
	if err := st.enter("CheckOrderLimits"); err != nil {
		return false, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	return len(st.byUser[userID]) < st.userLimit, nil
}

func (st *OrderStore) GetOrderHistory(_ context.Context, userID string, limit int) ([]modules.Order, error) {
	if err := st.enter("GetOrderHistory"); err != nil {
		return nil, err
	}

	st.dataMu.RLock()
	defer st.dataMu.RUnlock()

	ids := st.byUser[userID]
	if limit > 0 && limit < len(ids) {
		ids = ids[len(ids)-limit:]
	}

	history := make([]modules.Order, 0, len(ids))
	for _, id := range ids {
		history = append(history, st.orders[id])
	}

	return history, nil
}

func (st *OrderStore) Shutdown(_ context.Context) error {
	return st.enter("Shutdown")
}

// Notifier is an in-memory modules.NotificationClient that records every
// notification it was asked to send.
type Notifier struct {
	recorder

	dataMu sync.Mutex
	sent   []modules.Notification
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Sent returns a copy of all recorded notifications.
func (nt *Notifier) Sent() []modules.Notification {
	nt.dataMu.Lock()
	defer nt.dataMu.Unlock()

	out := make([]modules.Notification, len(nt.sent))
	copy(out, nt.sent)

	return out
}

func (nt *Notifier) Send(_ context.Context, notification modules.Notification) error {
	if err := nt.enter("Send"); err != nil {
		return err
	}

	nt.dataMu.Lock()
	nt.sent = append(nt.sent, notification)
	nt.dataMu.Unlock()

	return nil
}

func (nt *Notifier) Shutdown(_ context.Context) error {
	return nt.enter("Shutdown")
}

// paginate returns the page-th slice of size entries (page starts at 1).
func paginate[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}

	if page < 1 {
		page = 1
	}

	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}

	end := min(start+size, len(items))

	return items[start:end]
}
