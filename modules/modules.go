// Package modules defines the contracts of the downstream commerce modules
// the orchestration layer coordinates: user, catalog, order and notification.
// Transport and persistence belong to the modules themselves; the
// orchestrator only sees these interfaces. Any call may fail with a
// transport-level error, which sagas treat the same as a business rejection
// unless noted otherwise.
package modules

import (
	"context"
	"time"
)

// User is an account record owned by the user module.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser carries the fields needed to create a user record.
type NewUser struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Preferences is a user's preference set, keyed by preference name.
type Preferences map[string]string

// Product is a catalog entry.
type Product struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	PriceCents int64  `json:"priceCents"`
	Stock      int    `json:"stock"`
}

// OrderItem is one line of an order request.
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// OrderDraft is an order request before the order module has accepted it.
type OrderDraft struct {
	UserID string      `json:"userId"`
	Items  []OrderItem `json:"items"`
}

// Order is an accepted order record owned by the order module.
type Order struct {
	ID         string      `json:"id"`
	UserID     string      `json:"userId"`
	Items      []OrderItem `json:"items"`
	TotalCents int64       `json:"totalCents"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Availability reports whether all requested items are in stock, itemizing
// the product IDs that are not.
type Availability struct {
	Available   bool     `json:"available"`
	Unavailable []string `json:"unavailable,omitempty"`
}

// Notification is a message handed to the notification module for delivery.
type Notification struct {
	Recipient string `json:"recipient"`
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// UserClient is the user module's contract.
type UserClient interface {
	CreateUser(ctx context.Context, user NewUser) (User, error)
	GetUsers(ctx context.Context, page, size int) ([]User, error)
	ValidateUser(ctx context.Context, userID string) (bool, error)
	IsUserActive(ctx context.Context, userID string) (bool, error)
	UpdatePreferences(ctx context.Context, userID string, prefs Preferences) (bool, error)
	HasOptedIn(ctx context.Context, userID, notificationType string) (bool, error)
	Shutdown(ctx context.Context) error
}

// CatalogClient is the catalog module's contract.
type CatalogClient interface {
	CheckAvailability(ctx context.Context, items []OrderItem) (Availability, error)
	GetProducts(ctx context.Context, category string, page, size int) ([]Product, error)
	InitializePreferences(ctx context.Context, userID string, defaults Preferences) (Preferences, error)
	GetRecommendations(ctx context.Context, userID string, prefs Preferences, filters map[string]string) ([]Product, error)
	Shutdown(ctx context.Context) error
}

// OrderClient is the order module's contract.
type OrderClient interface {
	CreateOrder(ctx context.Context, draft OrderDraft) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	CheckOrderLimits(ctx context.Context, userID string, draft OrderDraft) (bool, error)
	GetOrderHistory(ctx context.Context, userID string, limit int) ([]Order, error)
	Shutdown(ctx context.Context) error
}

// NotificationClient is the notification module's contract.
type NotificationClient interface {
	Send(ctx context.Context, notification Notification) error
	Shutdown(ctx context.Context) error
}
