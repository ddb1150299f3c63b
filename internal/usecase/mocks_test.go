//go:build !integration

package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/smcroissant/croissantpay-sub000/internal/domain"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/model"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/adapter"
	"github.com/smcroissant/croissantpay-sub000/internal/domain/ports/repository"
)

//
// ---------------- transaction manager ----------------
//

type memTxManager struct {
	mu sync.Mutex
}

func (m *memTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

func (m *memTxManager) WithSubscriberLock(ctx context.Context, _ string, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, repository.NoTX)
}

//
// ---------------- subscriber repo ----------------
//

type memSubscriberRepo struct {
	mu      sync.RWMutex
	byID    map[string]*model.Subscriber
	saveErr error
}

func newMemSubscriberRepo() *memSubscriberRepo {
	return &memSubscriberRepo{byID: map[string]*model.Subscriber{}}
}

func (m *memSubscriberRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscriber) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memSubscriberRepo) FindByAppUser(ctx context.Context, tx repository.Tx, appID, appUserID string) (*model.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.byID {
		if s.AppID != appID {
			continue
		}
		if s.AppUserID == appUserID {
			cp := *s
			return &cp, nil
		}
		for _, alias := range s.Aliases {
			if alias == appUserID {
				cp := *s
				return &cp, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriberRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscriber, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriberRepo) CountSubscribers(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

//
// ---------------- product / entitlement repos ----------------
//

type memProductRepo struct {
	mu   sync.RWMutex
	byID map[string]*model.Product
}

func newMemProductRepo() *memProductRepo {
	return &memProductRepo{byID: map[string]*model.Product{}}
}

func (m *memProductRepo) Save(ctx context.Context, tx repository.Tx, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memProductRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memProductRepo) FindByStoreProductID(ctx context.Context, tx repository.Tx, appID string, platform model.Platform, storeProductID string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.byID {
		if p.AppID == appID && p.Platform == platform && p.StoreProductID == storeProductID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memProductRepo) ListByApp(ctx context.Context, tx repository.Tx, appID string) ([]*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Product
	for _, p := range m.byID {
		if p.AppID == appID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memEntitlementRepo struct {
	mu    sync.RWMutex
	byID  map[string]*model.Entitlement
	links map[string][]string // productID -> entitlementIDs
}

func newMemEntitlementRepo() *memEntitlementRepo {
	return &memEntitlementRepo{byID: map[string]*model.Entitlement{}, links: map[string][]string{}}
}

func (m *memEntitlementRepo) Save(ctx context.Context, tx repository.Tx, e *model.Entitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.byID[e.ID] = &cp
	return nil
}

func (m *memEntitlementRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *memEntitlementRepo) ListByApp(ctx context.Context, tx repository.Tx, appID string) ([]*model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Entitlement
	for _, e := range m.byID {
		if e.AppID == appID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEntitlementRepo) Link(ctx context.Context, tx repository.Tx, productID, entitlementID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.links[productID] {
		if id == entitlementID {
			return nil
		}
	}
	m.links[productID] = append(m.links[productID], entitlementID)
	return nil
}

func (m *memEntitlementRepo) ListByProduct(ctx context.Context, tx repository.Tx, productID string) ([]*model.Entitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Entitlement
	for _, id := range m.links[productID] {
		if e, ok := m.byID[id]; ok {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

//
// ---------------- purchase repo ----------------
//

type memPurchaseRepo struct {
	mu       sync.RWMutex
	byID     map[string]*model.Purchase
	products *memProductRepo // for the one-time product type filter
}

func newMemPurchaseRepo(products *memProductRepo) *memPurchaseRepo {
	return &memPurchaseRepo{byID: map[string]*model.Purchase{}, products: products}
}

func (m *memPurchaseRepo) Upsert(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.byID {
		if existing.Platform == p.Platform && existing.StoreTransactionID == p.StoreTransactionID {
			cp := *p
			cp.ID = id
			cp.CreatedAt = existing.CreatedAt
			m.byID[id] = &cp
			return nil
		}
	}
	cp := *p
	m.byID[p.ID] = &cp
	return nil
}

func (m *memPurchaseRepo) FindByStoreTransactionID(ctx context.Context, tx repository.Tx, platform model.Platform, storeTransactionID string) (*model.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.byID {
		if p.Platform == platform && p.StoreTransactionID == storeTransactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPurchaseRepo) ListBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Purchase
	for _, p := range m.byID {
		if p.SubscriberID == subscriberID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memPurchaseRepo) ListCompletedOneTime(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Purchase, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Purchase
	for _, p := range m.byID {
		if p.SubscriberID != subscriberID || p.Status != model.PurchaseStatusCompleted {
			continue
		}
		prod, ok := m.products.byID[p.ProductID]
		if !ok || prod.Type != model.ProductTypeNonConsumable {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memPurchaseRepo) UpdateStatus(ctx context.Context, tx repository.Tx, id string, status model.PurchaseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return nil
}

//
// ---------------- subscription repo ----------------
//

type memSubscriptionRepo struct {
	mu   sync.RWMutex
	byID map[string]*model.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{byID: map[string]*model.Subscription{}}
}

func (m *memSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.byID {
		if existing.Platform == s.Platform && existing.OriginalTransactionID == s.OriginalTransactionID {
			cp := *s
			cp.ID = id
			cp.CreatedAt = existing.CreatedAt
			m.byID[id] = &cp
			return nil
		}
	}
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptionRepo) FindByOriginalTransactionID(ctx context.Context, tx repository.Tx, platform model.Platform, originalTransactionID string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.byID {
		if s.Platform == platform && s.OriginalTransactionID == originalTransactionID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) ListBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.byID {
		if s.SubscriberID == subscriberID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) ListActiveBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.byID {
		if s.SubscriberID == subscriberID && s.GrantsAccess() {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) FindExpiringSoon(ctx context.Context, tx repository.Tx, now time.Time, lookahead time.Duration) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	end := now.Add(lookahead)
	var out []*model.Subscription
	for _, s := range m.byID {
		if s.Status != model.SubscriptionStatusActive || s.AutoRenew || s.ExpiresAt == nil {
			continue
		}
		if s.ExpiresAt.After(now) && !s.ExpiresAt.After(end) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) FindExpired(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.byID {
		if s.ExpiresAt == nil || s.ExpiresAt.After(now) || s.IsTrial {
			continue
		}
		if s.Status == model.SubscriptionStatusInBillingRetry ||
			(s.Status == model.SubscriptionStatusActive && !s.AutoRenew) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) FindEndedTrials(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.byID {
		if s.Status == model.SubscriptionStatusActive && s.IsTrial && s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) FindLapsedGracePeriods(ctx context.Context, tx repository.Tx, now time.Time) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.byID {
		if s.Status == model.SubscriptionStatusInGracePeriod && s.GracePeriodExpiresAt != nil && !s.GracePeriodExpiresAt.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) TransitionStatus(ctx context.Context, tx repository.Tx, id string, from, to model.SubscriptionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memSubscriptionRepo) ClearTrialFlag(ctx context.Context, tx repository.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok || !s.IsTrial {
		return false, nil
	}
	s.IsTrial = false
	s.UpdatedAt = time.Now()
	return true, nil
}

func (m *memSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range m.byID {
		out[s.Status]++
	}
	return out, nil
}

//
// ---------------- grant repo ----------------
//

type memGrantRepo struct {
	mu   sync.RWMutex
	byID map[string]*model.SubscriberEntitlement
}

func newMemGrantRepo() *memGrantRepo {
	return &memGrantRepo{byID: map[string]*model.SubscriberEntitlement{}}
}

func (m *memGrantRepo) Upsert(ctx context.Context, tx repository.Tx, g *model.SubscriberEntitlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.byID {
		if existing.SubscriberID == g.SubscriberID && existing.EntitlementID == g.EntitlementID {
			cp := *g
			cp.ID = id
			cp.GrantedAt = existing.GrantedAt
			m.byID[id] = &cp
			return nil
		}
	}
	cp := *g
	m.byID[g.ID] = &cp
	return nil
}

func (m *memGrantRepo) ListBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) ([]*model.SubscriberEntitlement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.SubscriberEntitlement
	for _, g := range m.byID {
		if g.SubscriberID == subscriberID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memGrantRepo) DeactivateStoreGrants(ctx context.Context, tx repository.Tx, subscriberID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range m.byID {
		if g.SubscriberID == subscriberID && g.Reason == model.GrantReasonStore {
			g.Active = false
			g.UpdatedAt = time.Now()
		}
	}
	return nil
}

func (m *memGrantRepo) DeactivateBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, g := range m.byID {
		if g.SubscriptionID != nil && *g.SubscriptionID == subscriptionID && g.Active {
			g.Active = false
			g.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

//
// ---------------- webhook event repo ----------------
//

type memWebhookEventRepo struct {
	mu         sync.RWMutex
	inbound    map[string]*model.StoreNotification // key platform+uuid
	deliveries map[string]*model.WebhookDelivery
}

func newMemWebhookEventRepo() *memWebhookEventRepo {
	return &memWebhookEventRepo{
		inbound:    map[string]*model.StoreNotification{},
		deliveries: map[string]*model.WebhookDelivery{},
	}
}

func inboundKey(platform model.Platform, uuid string) string {
	return string(platform) + "/" + uuid
}

func (m *memWebhookEventRepo) SaveInbound(ctx context.Context, tx repository.Tx, n *model.StoreNotification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := inboundKey(n.Platform, n.NotificationUUID)
	if _, ok := m.inbound[key]; ok {
		return nil
	}
	cp := *n
	m.inbound[key] = &cp
	return nil
}

func (m *memWebhookEventRepo) InboundExists(ctx context.Context, tx repository.Tx, platform model.Platform, notificationUUID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.inbound[inboundKey(platform, notificationUUID)]
	return ok, nil
}

func (m *memWebhookEventRepo) SaveDelivery(ctx context.Context, tx repository.Tx, d *model.WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.deliveries[d.ID] = &cp
	return nil
}

func (m *memWebhookEventRepo) UpdateDelivery(ctx context.Context, tx repository.Tx, id string, status model.DeliveryStatus, attempts int, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Status = status
	d.Attempts = attempts
	d.LastError = lastError
	d.UpdatedAt = time.Now()
	return nil
}

func (m *memWebhookEventRepo) Stats(ctx context.Context, tx repository.Tx, appID string) (*repository.WebhookStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := &repository.WebhookStats{}
	for _, d := range m.deliveries {
		if d.AppID != appID {
			continue
		}
		switch d.Status {
		case model.DeliveryStatusProcessed:
			st.Processed++
		case model.DeliveryStatusFailed:
			st.Failed++
		case model.DeliveryStatusPending:
			st.Pending++
		}
	}
	return st, nil
}

func (m *memWebhookEventRepo) RecentDeliveries(ctx context.Context, tx repository.Tx, appID string, limit int) ([]*model.WebhookDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.WebhookDelivery
	for _, d := range m.deliveries {
		if d.AppID != appID {
			continue
		}
		cp := *d
		out = append(out, &cp)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

//
// ---------------- adapters ----------------
//

// MockStoreAdapter returns canned transactions; FetchFunc overrides per test.
type MockStoreAdapter struct {
	PlatformVal model.Platform
	FetchFunc   func(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error)
	Calls       int
}

func (m *MockStoreAdapter) Platform() model.Platform { return m.PlatformVal }

func (m *MockStoreAdapter) FetchTransaction(ctx context.Context, ref adapter.TransactionRef) (*model.StoreTransaction, error) {
	m.Calls++
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, ref)
	}
	return nil, domain.ErrTransactionNotFound
}

// MockNotifier records every event it is asked to deliver.
type MockNotifier struct {
	mu     sync.Mutex
	Events []*model.WebhookEvent
}

func (m *MockNotifier) Notify(ctx context.Context, event *model.WebhookEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, event)
}

func (m *MockNotifier) EventTypes() []model.WebhookEventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.WebhookEventType, 0, len(m.Events))
	for _, e := range m.Events {
		out = append(out, e.Type)
	}
	return out
}

func (m *MockNotifier) Has(typ model.WebhookEventType) bool {
	for _, t := range m.EventTypes() {
		if t == typ {
			return true
		}
	}
	return false
}
