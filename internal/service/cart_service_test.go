package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaanyurdkl/storefront/internal/cache"
	"github.com/kaanyurdkl/storefront/internal/domain"
	"github.com/kaanyurdkl/storefront/internal/repository"
)

type mockRepository struct {
	m      sync.Mutex
	carts  map[string]*domain.Cart
	nextID int
	err    error
	// assignConflicts makes the next N AssignToUser calls fail with
	// ErrMergeConflict, simulating a lost ownership race.
	assignConflicts int
	// addRaces makes the next N AddItem calls lose to a simulated
	// concurrent add of the same SKU: the winner's line lands first
	// and the caller gets ErrItemExists.
	addRaces int
}

func newMockRepository(carts ...*domain.Cart) *mockRepository {
	m := &mockRepository{carts: make(map[string]*domain.Cart)}
	for _, c := range carts {
		m.nextID++
		if c.ID == "" {
			c.ID = fmt.Sprintf("cart-%d", m.nextID)
		}
		m.carts[c.ID] = c
	}
	return m
}

func (m *mockRepository) findActiveLocked(owner domain.Identity) *domain.Cart {
	for _, c := range m.carts {
		if c.Status != domain.CartStatusActive {
			continue
		}
		if owner.IsUser() && c.UserID == owner.UserID {
			return c
		}
		if !owner.IsUser() && c.GuestToken == owner.GuestToken {
			return c
		}
	}
	return nil
}

// cloneCart returns a snapshot so callers never observe mutations
// made by other goroutines through the shared map entry.
func cloneCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp
}

func (m *mockRepository) FindActive(_ context.Context, owner domain.Identity) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if c := m.findActiveLocked(owner); c != nil {
		return cloneCart(c), nil
	}
	return nil, repository.ErrCartNotFound
}

func (m *mockRepository) Create(_ context.Context, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.findActiveLocked(cart.Owner()) != nil {
		return repository.ErrCartExists
	}
	m.nextID++
	cart.ID = fmt.Sprintf("cart-%d", m.nextID)
	m.carts[cart.ID] = cart
	return nil
}

func (m *mockRepository) AddItem(_ context.Context, cartID string, item domain.CartItem) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	if m.addRaces > 0 {
		m.addRaces--
		c.Items = append(c.Items, domain.CartItem{
			Key:           fmt.Sprintf("key-%s", item.SKU),
			ProductID:     item.ProductID,
			SKU:           item.SKU,
			Quantity:      1,
			PriceSnapshot: item.PriceSnapshot,
		})
		return repository.ErrItemExists
	}
	for _, existing := range c.Items {
		if existing.SKU == item.SKU {
			return repository.ErrItemExists
		}
	}
	item.Key = fmt.Sprintf("key-%s", item.SKU)
	c.Items = append(c.Items, item)
	return nil
}

func (m *mockRepository) AddQuantity(_ context.Context, cartID, sku string, qty int) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].SKU == sku {
			c.Items[i].Quantity += qty
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockRepository) DecrementQuantity(_ context.Context, cartID, sku string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	for i := range c.Items {
		if c.Items[i].SKU == sku {
			if c.Items[i].Quantity > 1 {
				c.Items[i].Quantity--
			}
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockRepository) RemoveItem(_ context.Context, cartID, sku string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	for i, item := range c.Items {
		if item.SKU == sku {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return repository.ErrItemNotFound
}

func (m *mockRepository) ReplaceItems(_ context.Context, cartID string, items []domain.CartItem) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	c.Items = items
	return nil
}

func (m *mockRepository) AssignToUser(_ context.Context, cartID, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.assignConflicts > 0 {
		m.assignConflicts--
		return repository.ErrMergeConflict
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	c.UserID = userID
	c.GuestToken = ""
	c.ExpiresAt = nil
	return nil
}

func (m *mockRepository) UpdateCheckout(_ context.Context, cartID string, state domain.CheckoutState) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	c.Checkout = state
	return nil
}

func (m *mockRepository) SetStatus(_ context.Context, cartID string, status domain.CartStatus) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	c, ok := m.carts[cartID]
	if !ok {
		return repository.ErrCartNotFound
	}
	c.Status = status
	return nil
}

func (m *mockRepository) Delete(_ context.Context, cartID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, ok := m.carts[cartID]; !ok {
		return repository.ErrCartNotFound
	}
	delete(m.carts, cartID)
	return nil
}

func (m *mockRepository) get(cartID string) *domain.Cart {
	m.m.Lock()
	defer m.m.Unlock()
	return m.carts[cartID]
}

func (m *mockRepository) count() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.carts)
}

type mockCache struct {
	m     sync.RWMutex
	carts map[string]*domain.Cart
	err   error
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, owner domain.Identity) (*domain.Cart, error) {
	m.m.RLock()
	defer m.m.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.carts[owner.String()]; ok {
		return c, nil
	}
	return nil, cache.ErrCacheMiss
}

func (m *mockCache) Set(_ context.Context, owner domain.Identity, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.carts[owner.String()] = cart
	return m.err
}

func (m *mockCache) Delete(_ context.Context, owner domain.Identity) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, owner.String())
	return m.err
}

func (m *mockCache) getCart(owner domain.Identity) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[owner.String()]
}

type mockEvents struct {
	m       sync.Mutex
	markers []string
	orders  []*domain.Order
}

func (m *mockEvents) Invalidate(_ context.Context, markers ...string) {
	m.m.Lock()
	defer m.m.Unlock()
	m.markers = append(m.markers, markers...)
}

func (m *mockEvents) CartConverted(_ context.Context, order *domain.Order) {
	m.m.Lock()
	defer m.m.Unlock()
	m.orders = append(m.orders, order)
}

func (m *mockEvents) markerCount() int {
	m.m.Lock()
	defer m.m.Unlock()
	return len(m.markers)
}

func newCartService(repo *mockRepository, c *mockCache, events *mockEvents) *CartService {
	return NewCartService(repo, c, events, zap.NewNop(), 30*24*time.Hour)
}

func userCart(userID string, items ...domain.CartItem) *domain.Cart {
	return &domain.Cart{
		UserID: userID,
		Status: domain.CartStatusActive,
		Items:  items,
	}
}

func guestCart(token string, items ...domain.CartItem) *domain.Cart {
	expiry := time.Now().Add(24 * time.Hour)
	return &domain.Cart{
		GuestToken: token,
		Status:     domain.CartStatusActive,
		ExpiresAt:  &expiry,
		Items:      items,
	}
}

func item(sku string, qty int) domain.CartItem {
	return domain.CartItem{
		Key:           "key-" + sku,
		ProductID:     "prod-" + sku,
		SKU:           sku,
		Quantity:      qty,
		PriceSnapshot: decimal.NewFromInt(10),
		AddedAt:       time.Now(),
	}
}

func TestGetCart_CacheHit(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	cached := userCart("user-1", item("A", 3))
	mockRepo := newMockRepository() // repo must NOT be consulted
	mockC := newMockCache()
	require.NoError(t, mockC.Set(context.Background(), owner, cached))

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	ret, err := sut.GetCart(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, ret.Items, 1)
	assert.Equal(t, "A", ret.Items[0].SKU)
}

func TestGetCart_CacheMiss_PopulatesCache(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 2)))
	mockC := newMockCache()

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	ret, err := sut.GetCart(context.Background(), owner)
	require.NoError(t, err)
	assert.Len(t, ret.Items, 1)

	require.Eventually(t, func() bool {
		return mockC.getCart(owner) != nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cart was not set in cache")
}

func TestGetCart_NoCart_ReturnsEmptyWithoutPersisting(t *testing.T) {
	owner := domain.GuestIdentity("guest-token")
	mockRepo := newMockRepository()
	mockC := newMockCache()

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	ret, err := sut.GetCart(context.Background(), owner)
	require.NoError(t, err)
	assert.Empty(t, ret.Items)
	assert.Equal(t, "guest-token", ret.GuestToken)
	require.NotNil(t, ret.ExpiresAt)
	// Reading never creates a cart document.
	assert.Zero(t, mockRepo.count())
}

func TestGetCart_RepoError(t *testing.T) {
	mockRepo := newMockRepository()
	mockRepo.err = fmt.Errorf("database error")
	mockC := newMockCache()

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	ret, err := sut.GetCart(context.Background(), domain.UserIdentity("user-1"))
	require.ErrorContains(t, err, "database error")
	assert.Nil(t, ret)
}

func TestAddItem_CreatesCartOnFirstMutation(t *testing.T) {
	owner := domain.GuestIdentity("guest-token")
	mockRepo := newMockRepository()
	mockC := newMockCache()
	events := &mockEvents{}

	sut := newCartService(mockRepo, mockC, events)
	err := sut.AddItem(context.Background(), owner, "prod-A", "A", 2, decimal.NewFromInt(20))
	require.NoError(t, err)

	require.Equal(t, 1, mockRepo.count())
	created := mockRepo.get("cart-1")
	require.NotNil(t, created)
	require.Len(t, created.Items, 1)
	assert.Equal(t, 2, created.Items[0].Quantity)
	assert.NotNil(t, created.ExpiresAt)
	assert.Positive(t, events.markerCount())
}

func TestAddItem_SumsQuantityIntoExistingLine(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 2)))
	mockC := newMockCache()

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	err := sut.AddItem(context.Background(), owner, "prod-A", "A", 3, decimal.NewFromInt(20))
	require.NoError(t, err)

	stored := mockRepo.get("cart-1")
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 5, stored.Items[0].Quantity)
}

func TestAddItem_LostRaceFoldsQuantityIntoExistingLine(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1"))
	mockRepo.addRaces = 1

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	err := sut.AddItem(context.Background(), owner, "prod-A", "A", 2, decimal.NewFromInt(20))
	require.NoError(t, err)

	stored := mockRepo.get("cart-1")
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 3, stored.Items[0].Quantity)
}

func TestAddItem_ConcurrentAddsKeepSingleLinePerSKU(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1"))
	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})

	const adds = 8
	errs := make([]error, adds)
	var wg sync.WaitGroup
	for i := 0; i < adds; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sut.AddItem(context.Background(), owner, "prod-A", "A", 1, decimal.NewFromInt(20))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored := mockRepo.get("cart-1")
	require.Len(t, stored.Items, 1)
	assert.Equal(t, adds, stored.Items[0].Quantity)
}

func TestCartQuantity_ConcurrentMutationsSumDeltas(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 50)))
	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})

	const increments, decrements = 20, 10
	errs := make([]error, increments+decrements)
	var wg sync.WaitGroup
	for i := 0; i < increments; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = sut.IncrementItem(context.Background(), owner, "A")
		}(i)
	}
	for i := 0; i < decrements; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[increments+i] = sut.DecrementItem(context.Background(), owner, "A")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	stored := mockRepo.get("cart-1")
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 50+increments-decrements, stored.Items[0].Quantity)
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	sut := newCartService(newMockRepository(), newMockCache(), &mockEvents{})
	err := sut.AddItem(context.Background(), domain.UserIdentity("user-1"), "prod-A", "A", 0, decimal.Zero)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "quantity", validation.Field)
}

func TestAddItem_EmptySKU(t *testing.T) {
	sut := newCartService(newMockRepository(), newMockCache(), &mockEvents{})
	err := sut.AddItem(context.Background(), domain.UserIdentity("user-1"), "prod-A", "", 1, decimal.Zero)
	var validation *domain.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestAddItem_InvalidatesCache(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	cart := userCart("user-1", item("A", 1))
	mockRepo := newMockRepository(cart)
	mockC := newMockCache()
	require.NoError(t, mockC.Set(context.Background(), owner, cart))

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	err := sut.AddItem(context.Background(), owner, "prod-B", "B", 1, decimal.NewFromInt(5))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return mockC.getCart(owner) == nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cache was not invalidated")
}

func TestIncrementItem_Success(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 2)))

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.IncrementItem(context.Background(), owner, "A"))
	assert.Equal(t, 3, mockRepo.get("cart-1").Items[0].Quantity)
}

func TestIncrementItem_UnknownSKU(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 2)))

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	err := sut.IncrementItem(context.Background(), owner, "missing")
	require.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestDecrementItem_Lowers(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 3)))

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.DecrementItem(context.Background(), owner, "A"))
	assert.Equal(t, 2, mockRepo.get("cart-1").Items[0].Quantity)
}

func TestDecrementItem_FloorsAtOne(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 1)))

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.DecrementItem(context.Background(), owner, "A"))
	// Quantity 1 is the floor; the line survives.
	assert.Equal(t, 1, mockRepo.get("cart-1").Items[0].Quantity)
}

func TestRemoveItem_Success(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 1), item("B", 2)))

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.RemoveItem(context.Background(), owner, "A"))
	stored := mockRepo.get("cart-1")
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "B", stored.Items[0].SKU)
}

func TestRemoveItem_UnknownSKU(t *testing.T) {
	owner := domain.UserIdentity("user-1")
	mockRepo := newMockRepository(userCart("user-1", item("A", 1)))

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	err := sut.RemoveItem(context.Background(), owner, "missing")
	require.ErrorIs(t, err, repository.ErrItemNotFound)
}

func TestMergeOnLogin_SumsSharedSKUs(t *testing.T) {
	guest := guestCart("guest-token", item("A", 2))
	user := userCart("user-1", item("A", 1), item("B", 1))
	mockRepo := newMockRepository(guest, user)

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))

	merged := mockRepo.get(user.ID)
	require.NotNil(t, merged)
	require.Len(t, merged.Items, 2)
	assert.Equal(t, "A", merged.Items[0].SKU)
	assert.Equal(t, 3, merged.Items[0].Quantity)
	assert.Equal(t, "B", merged.Items[1].SKU)
	assert.Equal(t, 1, merged.Items[1].Quantity)

	// The guest cart is gone.
	assert.Nil(t, mockRepo.get(guest.ID))
}

func TestMergeOnLogin_NoUserCart_AssignsGuestCart(t *testing.T) {
	guest := guestCart("guest-token", item("A", 2))
	mockRepo := newMockRepository(guest)

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))

	converted := mockRepo.get(guest.ID)
	require.NotNil(t, converted)
	assert.Equal(t, "user-1", converted.UserID)
	assert.Empty(t, converted.GuestToken)
	assert.Nil(t, converted.ExpiresAt)
}

func TestMergeOnLogin_NoGuestCart_NoOp(t *testing.T) {
	user := userCart("user-1", item("A", 1))
	mockRepo := newMockRepository(user)

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))
	assert.Equal(t, 1, mockRepo.get(user.ID).Items[0].Quantity)
}

func TestMergeOnLogin_EmptyToken_NoOp(t *testing.T) {
	mockRepo := newMockRepository()
	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "", "user-1"))
	assert.Zero(t, mockRepo.count())
}

func TestMergeOnLogin_Idempotent(t *testing.T) {
	guest := guestCart("guest-token", item("A", 2))
	user := userCart("user-1", item("A", 1))
	mockRepo := newMockRepository(guest, user)

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))

	merged := mockRepo.get(user.ID)
	require.Len(t, merged.Items, 1)
	assert.Equal(t, 3, merged.Items[0].Quantity)
}

func TestMergeOnLogin_RetriesOnOwnershipConflict(t *testing.T) {
	guest := guestCart("guest-token", item("A", 2))
	mockRepo := newMockRepository(guest)
	mockRepo.assignConflicts = 1

	sut := newCartService(mockRepo, newMockCache(), &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))
	assert.Equal(t, "user-1", mockRepo.get(guest.ID).UserID)
}

func TestMergeOnLogin_InvalidatesBothIdentities(t *testing.T) {
	guest := guestCart("guest-token", item("A", 2))
	user := userCart("user-1", item("B", 1))
	mockRepo := newMockRepository(guest, user)
	mockC := newMockCache()
	require.NoError(t, mockC.Set(context.Background(), domain.GuestIdentity("guest-token"), guest))
	require.NoError(t, mockC.Set(context.Background(), domain.UserIdentity("user-1"), user))

	sut := newCartService(mockRepo, mockC, &mockEvents{})
	require.NoError(t, sut.MergeOnLogin(context.Background(), "guest-token", "user-1"))

	require.Eventually(t, func() bool {
		return mockC.getCart(domain.GuestIdentity("guest-token")) == nil &&
			mockC.getCart(domain.UserIdentity("user-1")) == nil
	}, 100*time.Millisecond, 10*time.Millisecond, "cache was not invalidated")
}
