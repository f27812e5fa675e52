package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/auth"
	"github.com/yourusername/lyntro/internal/store"
)

type stubCarts struct {
	addErr      error
	addedUserID int64
	addedItem   int64
	addedQty    int
	cart        *store.Cart
	checkout    *store.CheckoutResult
	checkoutErr error
	cleared     bool
}

func (s *stubCarts) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	if s.addErr != nil {
		return s.addErr
	}
	s.addedUserID = userID
	s.addedItem = productID
	s.addedQty = quantity
	return nil
}

func (s *stubCarts) CartItems(ctx context.Context, userID int64) (*store.Cart, error) {
	if s.cart == nil {
		return &store.Cart{Items: []store.CartItem{}}, nil
	}
	return s.cart, nil
}

func (s *stubCarts) UpdateCartItem(ctx context.Context, userID, cartItemID int64, quantity int) error {
	return nil
}

func (s *stubCarts) RemoveCartItem(ctx context.Context, userID, cartItemID int64) error {
	return nil
}

func (s *stubCarts) ClearCart(ctx context.Context, userID int64) error {
	s.cleared = true
	return nil
}

func (s *stubCarts) CreateOrders(ctx context.Context, userID int64, cartItemIDs []int64, shippingAddress, paymentMethod string) (*store.CheckoutResult, error) {
	if s.checkoutErr != nil {
		return nil, s.checkoutErr
	}
	return s.checkout, nil
}

func (s *stubCarts) OrdersByBuyer(ctx context.Context, userID int64, status string) ([]store.Order, error) {
	return []store.Order{}, nil
}

type stubNotifier struct {
	buyerID int64
	orders  []store.CreatedOrder
	err     error
}

func (s *stubNotifier) NotifyOrders(ctx context.Context, buyerID int64, orders []store.CreatedOrder) error {
	s.buyerID = buyerID
	s.orders = orders
	return s.err
}

func loginAs(userID int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(auth.ContextUserIDKey, userID)
		c.Set(auth.ContextUserTypeKey, "both")
		c.Next()
	}
}

func newCartRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(loginAs(7))
	router.GET("/api/cart", h.Get)
	router.POST("/api/cart/add", h.Add)
	router.POST("/api/cart/clear", h.Clear)
	router.POST("/api/cart/checkout", h.Checkout)
	return router
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestAddToCartDefaultsQuantity(t *testing.T) {
	carts := &stubCarts{}
	h := NewHandler(carts, nil, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/add", gin.H{"productId": 5})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if carts.addedUserID != 7 || carts.addedItem != 5 || carts.addedQty != 1 {
		t.Fatalf("unexpected add call: user=%d item=%d qty=%d", carts.addedUserID, carts.addedItem, carts.addedQty)
	}
}

func TestAddToCartRejectsOwnProduct(t *testing.T) {
	carts := &stubCarts{addErr: store.ErrOwnProduct}
	h := NewHandler(carts, nil, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/add", gin.H{"productId": 5})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAddToCartMissingProduct(t *testing.T) {
	carts := &stubCarts{addErr: store.ErrNotFound}
	h := NewHandler(carts, nil, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/add", gin.H{"productId": 999})

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCheckoutNotifiesSellers(t *testing.T) {
	carts := &stubCarts{checkout: &store.CheckoutResult{
		Orders: []store.CreatedOrder{
			{OrderID: 1, Reference: "ref-1", SellerID: 3, ProductID: 5, ProductTitle: "Infinix Hot 30", Quantity: 1, Price: 45000},
		},
		TotalPrice: 45000,
	}}
	notifier := &stubNotifier{}
	h := NewHandler(carts, notifier, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/checkout", gin.H{
		"cartItemIds":     []int64{11},
		"shippingAddress": "12 Allen Avenue, Ikeja, Lagos",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if notifier.buyerID != 7 || len(notifier.orders) != 1 {
		t.Fatalf("unexpected notification: buyer=%d orders=%#v", notifier.buyerID, notifier.orders)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if payload["totalPrice"] != float64(45000) {
		t.Fatalf("unexpected total: %#v", payload["totalPrice"])
	}
}

func TestCheckoutRequiresShippingAddress(t *testing.T) {
	carts := &stubCarts{}
	h := NewHandler(carts, nil, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/checkout", gin.H{
		"cartItemIds": []int64{11},
	})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCheckoutSucceedsWhenNotificationFails(t *testing.T) {
	carts := &stubCarts{checkout: &store.CheckoutResult{
		Orders: []store.CreatedOrder{
			{OrderID: 1, Reference: "ref-1", SellerID: 3, ProductID: 5, Quantity: 1, Price: 45000},
		},
		TotalPrice: 45000,
	}}
	notifier := &stubNotifier{err: context.DeadlineExceeded}
	h := NewHandler(carts, notifier, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/checkout", gin.H{
		"cartItemIds":     []int64{11},
		"shippingAddress": "12 Allen Avenue, Ikeja, Lagos",
	})

	// 通知の失敗は注文の成立を妨げない
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestClearCart(t *testing.T) {
	carts := &stubCarts{}
	h := NewHandler(carts, nil, nil)
	router := newCartRouter(h)

	rec := postJSON(t, router, "/api/cart/clear", gin.H{})

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if !carts.cleared {
		t.Fatal("expected the cart to be cleared")
	}
}
