package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fjod/freshmilk/internal/cart/cache"
	"github.com/fjod/freshmilk/internal/cart/repository"
	"github.com/fjod/freshmilk/internal/domain"
)

// maxSaveAttempts bounds retries of a mutation that lost an optimistic version race.
const maxSaveAttempts = 3

// noFill marks a read whose result must not be written to the cache.
const noFill int64 = -1

type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
}

type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Generation(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, cart *domain.Cart, generation int64) (bool, error)
	Delete(ctx context.Context, userID string) error
}

type Catalog interface {
	Get(ctx context.Context, id string) (domain.Product, error)
	LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error)
}

type AddItemRequest struct {
	ProductID      string
	Quantity       int
	Variant        string
	IsSubscription bool
}

type CartService struct {
	repo           CartRepository
	cache          CartCache
	catalog        Catalog
	deliveryCharge int64
	now            func() time.Time
	sfg            singleflight.Group
}

func NewCartService(repo CartRepository, cache CartCache, catalog Catalog, deliveryCharge int64) *CartService {
	return &CartService{
		repo:           repo,
		cache:          cache,
		catalog:        catalog,
		deliveryCharge: deliveryCharge,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// GetCart returns the user's cart with lines for deleted products removed.
// A user without a cart gets an empty one; nothing is stored for them.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	v, err, _ := s.sfg.Do(userID, func() (any, error) {
		cart, generation, err := s.load(ctx, userID)
		if err != nil {
			return nil, err
		}
		if cart == nil {
			return domain.NewCart(userID, s.deliveryCharge), nil
		}

		changed, err := s.repair(ctx, cart)
		if err != nil {
			return nil, err
		}
		if generation != noFill && !changed {
			s.fillCache(userID, cart, generation)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// CheckoutCart reads the cart from the store without touching the cache.
// Orders are built from it, so a cached copy that lags a save is never used.
func (s *CartService) CheckoutCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(userID, s.deliveryCharge), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if _, err := s.repair(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// load returns the cart and the cache generation taken before the store
// read, or noFill when the cart came from the cache or the generation is unknown.
func (s *CartService) load(ctx context.Context, userID string) (*domain.Cart, int64, error) {
	cart, err := s.cache.Get(ctx, userID)
	if err == nil {
		return cart, noFill, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		slog.WarnContext(ctx, "cart cache get failed", "user_id", userID, "error", err)
	}

	generation, err := s.cache.Generation(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "cart cache generation failed", "user_id", userID, "error", err)
		generation = noFill
	}

	cart, err = s.repo.GetCart(ctx, userID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return nil, noFill, nil
	}
	if err != nil {
		return nil, noFill, fmt.Errorf("get cart: %w", err)
	}
	return cart, generation, nil
}

// repair drops lines whose product no longer exists and stores the result.
// It reports whether the cart changed.
func (s *CartService) repair(ctx context.Context, cart *domain.Cart) (bool, error) {
	if len(cart.Items) == 0 {
		return false, nil
	}
	products, err := s.catalog.LookupMany(ctx, cart.ProductIDs())
	if err != nil {
		return false, fmt.Errorf("lookup cart products: %w", err)
	}

	dropped := cart.Retain(func(item domain.CartItem) bool {
		_, ok := products[item.ProductID]
		return ok
	})
	if dropped == 0 {
		return false, nil
	}

	cart.Recalculate()
	slog.InfoContext(ctx, "removed dangling cart lines", "user_id", cart.UserID, "dropped", dropped)

	// a concurrent writer already holds a newer cart; it gets repaired on its next read
	if err := s.repo.SaveCart(ctx, cart); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
		return false, fmt.Errorf("save repaired cart: %w", err)
	}
	s.invalidateCache(cart.UserID)
	return true, nil
}

func (s *CartService) AddItem(ctx context.Context, userID string, req AddItemRequest) (*domain.Cart, error) {
	if req.ProductID == "" {
		return nil, domain.Invalid("product_id is required")
	}
	if req.Quantity <= 0 || req.Quantity > domain.MaxLineQuantity {
		return nil, domain.Invalid("quantity must be between 1 and %d, got %d", domain.MaxLineQuantity, req.Quantity)
	}

	product, err := s.catalog.Get(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}

	item := domain.CartItem{
		ProductID:      product.ID,
		ProductName:    product.Name,
		ProductImage:   product.ImageURL,
		Variant:        req.Variant,
		Quantity:       req.Quantity,
		UnitPrice:      product.PriceFor(req.Variant),
		IsSubscription: req.IsSubscription,
		AddedAt:        s.now(),
	}

	return s.mutate(ctx, userID, true, func(cart *domain.Cart) error {
		return cart.AddLine(item)
	})
}

// UpdateItemQuantity sets a line's quantity. Zero or less removes the line.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID string, key domain.LineKey, quantity int) (*domain.Cart, error) {
	return s.mutate(ctx, userID, false, func(cart *domain.Cart) error {
		if err := cart.SetQuantity(key, quantity); err != nil {
			return fmt.Errorf("cart line %s/%s: %w", key.ProductID, key.Variant, err)
		}
		return nil
	})
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, key domain.LineKey) (*domain.Cart, error) {
	return s.mutate(ctx, userID, false, func(cart *domain.Cart) error {
		if !cart.RemoveLine(key) {
			return fmt.Errorf("cart line %s/%s: %w", key.ProductID, key.Variant, domain.ErrNotFound)
		}
		return nil
	})
}

// ClearCart empties the cart but keeps the record.
func (s *CartService) ClearCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.mutate(ctx, userID, false, func(cart *domain.Cart) error {
		cart.Clear()
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewCart(userID, s.deliveryCharge), nil
	}
	return cart, err
}

// mutate applies fn to the stored cart and saves it, retrying from a fresh
// read when another writer saved first.
func (s *CartService) mutate(ctx context.Context, userID string, create bool, fn func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		cart, err := s.repo.GetCart(ctx, userID)
		switch {
		case errors.Is(err, repository.ErrCartNotFound) && create:
			cart = domain.NewCart(userID, s.deliveryCharge)
		case errors.Is(err, repository.ErrCartNotFound):
			return nil, fmt.Errorf("cart of %s: %w", userID, domain.ErrNotFound)
		case err != nil:
			return nil, fmt.Errorf("get cart: %w", err)
		}

		cart.DeliveryCharge = s.deliveryCharge
		if err := fn(cart); err != nil {
			return nil, err
		}
		cart.Recalculate()

		err = s.repo.SaveCart(ctx, cart)
		if errors.Is(err, repository.ErrVersionConflict) {
			slog.DebugContext(ctx, "cart save conflict, retrying", "user_id", userID, "attempt", attempt)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save cart: %w", err)
		}

		s.invalidateCache(userID)
		return cart, nil
	}
	return nil, domain.ErrCartConflict
}

func (s *CartService) fillCache(userID string, cart *domain.Cart, generation int64) {
	snapshot := *cart
	snapshot.Items = append([]domain.CartItem(nil), cart.Items...)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		written, err := s.cache.Set(ctx, userID, &snapshot, generation)
		if err != nil {
			slog.Warn("cart cache set failed", "user_id", userID, "error", err)
			return
		}
		if !written {
			slog.Debug("cart changed during read, not cached", "user_id", userID, "version", snapshot.Version)
		}
	}()
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		slog.Warn("cart cache invalidate failed", "user_id", userID, "error", err)
	}
}
