package clientstate

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps client state in process. Used when no Redis address is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	forms   map[string]ShippingForm
	numbers map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		forms:   make(map[string]ShippingForm),
		numbers: make(map[string]string),
	}
}

// Form returns the form cache for a session.
func (s *MemoryStore) Form(sessionID string) FormCache {
	return memoryForm{store: s, session: sessionID}
}

// OrderNumbers returns the shared order number map.
func (s *MemoryStore) OrderNumbers() OrderNumbers {
	return memoryNumbers{store: s}
}

type memoryForm struct {
	store   *MemoryStore
	session string
}

func (f memoryForm) Get(_ context.Context) (ShippingForm, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	form, ok := f.store.forms[f.session]
	if !ok {
		return ShippingForm{}, ErrNotFound
	}
	return form, nil
}

func (f memoryForm) Set(_ context.Context, form ShippingForm) error {
	f.store.mu.Lock()
	f.store.forms[f.session] = form
	f.store.mu.Unlock()
	return nil
}

func (f memoryForm) Clear(_ context.Context) error {
	f.store.mu.Lock()
	delete(f.store.forms, f.session)
	f.store.mu.Unlock()
	return nil
}

type memoryNumbers struct {
	store *MemoryStore
}

func (n memoryNumbers) Lookup(_ context.Context, orderID string) (string, error) {
	n.store.mu.RLock()
	defer n.store.mu.RUnlock()
	number, ok := n.store.numbers[strings.TrimSpace(orderID)]
	if !ok {
		return "", ErrNotFound
	}
	return number, nil
}

func (n memoryNumbers) Remember(_ context.Context, orderID, number string) (string, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return number, nil
	}
	n.store.mu.Lock()
	defer n.store.mu.Unlock()
	if existing, ok := n.store.numbers[orderID]; ok {
		return existing, nil
	}
	n.store.numbers[orderID] = number
	return number, nil
}
