// Package cart はカートと注文（チェックアウト）のエンドポイントを提供します。
package cart

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/auth"
	"github.com/yourusername/lyntro/internal/store"
)

// CartStore はカート・注文が必要とするストア操作です。
type CartStore interface {
	AddToCart(ctx context.Context, userID, productID int64, quantity int) error
	CartItems(ctx context.Context, userID int64) (*store.Cart, error)
	UpdateCartItem(ctx context.Context, userID, cartItemID int64, quantity int) error
	RemoveCartItem(ctx context.Context, userID, cartItemID int64) error
	ClearCart(ctx context.Context, userID int64) error
	CreateOrders(ctx context.Context, userID int64, cartItemIDs []int64, shippingAddress, paymentMethod string) (*store.CheckoutResult, error)
	OrdersByBuyer(ctx context.Context, userID int64, status string) ([]store.Order, error)
}

// OrderNotifier はチェックアウト後の出品者通知をキューに投入します。
type OrderNotifier interface {
	NotifyOrders(ctx context.Context, buyerID int64, orders []store.CreatedOrder) error
}

// Handler はカート系エンドポイントのハンドラー集です。
type Handler struct {
	carts    CartStore
	notifier OrderNotifier
	logger   *log.Logger
}

// NewHandler は Handler を作成します。notifier は nil でも動作します。
func NewHandler(carts CartStore, notifier OrderNotifier, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{carts: carts, notifier: notifier, logger: logger}
}

// Get は GET /api/cart のハンドラーです。
func (h *Handler) Get(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	cart, err := h.carts.CartItems(c.Request.Context(), userID)
	if err != nil {
		h.storeFailure(c, "failed to load cart", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"cart":    cart,
	})
}

type addRequest struct {
	ProductID int64 `json:"productId" binding:"required"`
	Quantity  int   `json:"quantity"`
}

// Add は POST /api/cart/add のハンドラーです。
func (h *Handler) Add(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req addRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "productId を JSON で送ってください",
		})
		return
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	err := h.carts.AddToCart(c.Request.Context(), userID, req.ProductID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "商品が見つからないか、販売が終了しています",
			})
		case errors.Is(err, store.ErrOwnProduct):
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"message": "自分の出品はカートに追加できません",
			})
		default:
			h.storeFailure(c, "failed to add to cart", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "カートに追加しました",
	})
}

type updateRequest struct {
	CartItemID int64 `json:"cartItemId" binding:"required"`
	Quantity   int   `json:"quantity" binding:"required"`
}

// Update は POST /api/cart/update のハンドラーです。
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "cartItemId と quantity を JSON で送ってください",
		})
		return
	}

	if err := h.carts.UpdateCartItem(c.Request.Context(), userID, req.CartItemID, req.Quantity); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "カートに該当する商品がありません",
			})
			return
		}
		h.storeFailure(c, "failed to update cart item", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "カートを更新しました",
	})
}

type removeRequest struct {
	CartItemID int64 `json:"cartItemId" binding:"required"`
}

// Remove は POST /api/cart/remove のハンドラーです。
func (h *Handler) Remove(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req removeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "cartItemId を JSON で送ってください",
		})
		return
	}

	if err := h.carts.RemoveCartItem(c.Request.Context(), userID, req.CartItemID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "カートに該当する商品がありません",
			})
			return
		}
		h.storeFailure(c, "failed to remove cart item", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "カートから削除しました",
	})
}

// Clear は POST /api/cart/clear のハンドラーです。
func (h *Handler) Clear(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	if err := h.carts.ClearCart(c.Request.Context(), userID); err != nil {
		h.storeFailure(c, "failed to clear cart", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "カートを空にしました",
	})
}

type checkoutRequest struct {
	CartItemIDs     []int64 `json:"cartItemIds" binding:"required"`
	ShippingAddress string  `json:"shippingAddress" binding:"required"`
	PaymentMethod   string  `json:"paymentMethod"`
}

// Checkout は POST /api/cart/checkout のハンドラーです。
// カートアイテムごとに1注文を作成し、出品者への通知ジョブを投入します。
func (h *Handler) Checkout(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.CartItemIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "cartItemIds と shippingAddress を JSON で送ってください",
		})
		return
	}

	result, err := h.carts.CreateOrders(c.Request.Context(), userID, req.CartItemIDs, req.ShippingAddress, req.PaymentMethod)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "カートに該当する商品がありません",
			})
			return
		}
		h.storeFailure(c, "failed to create orders", err)
		return
	}

	if h.notifier != nil {
		if err := h.notifier.NotifyOrders(c.Request.Context(), userID, result.Orders); err != nil {
			// 通知は後追いできるため、注文自体は成功として返す
			h.logger.Printf("failed to enqueue order notification: %v", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "注文を受け付けました",
		"orders":     result.Orders,
		"totalPrice": result.TotalPrice,
	})
}

// Orders は GET /api/orders のハンドラーです。
func (h *Handler) Orders(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	status := c.Query("status")
	switch status {
	case "", "confirmed", "shipped", "delivered", "cancelled":
	default:
		status = ""
	}

	orders, err := h.carts.OrdersByBuyer(c.Request.Context(), userID, status)
	if err != nil {
		h.storeFailure(c, "failed to list orders", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"orders":  orders,
	})
}

func (h *Handler) storeFailure(c *gin.Context, msg string, err error) {
	h.logger.Printf("%s: %v", msg, err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "処理に失敗しました。時間をおいて再度お試しください",
	})
}
