// Package catalog は商品カタログ（一覧・詳細・出品管理）のエンドポイントを提供します。
package catalog

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/auth"
	"github.com/yourusername/lyntro/internal/config"
	"github.com/yourusername/lyntro/internal/store"
)

// ProductStore はカタログが必要とする商品操作です。
type ProductStore interface {
	CreateProduct(ctx context.Context, p *store.Product) (int64, error)
	CategoryExists(ctx context.Context, id int64) (bool, error)
	ListProducts(ctx context.Context, f store.ProductFilter) (*store.ProductPage, error)
	ProductByID(ctx context.Context, id int64) (*store.ProductDetail, error)
	ProductsBySeller(ctx context.Context, sellerID int64, status string) ([]store.Product, error)
	UpdateProduct(ctx context.Context, p *store.Product) error
	DeactivateProduct(ctx context.Context, id, sellerID int64) error
	Categories(ctx context.Context) ([]store.Category, error)
	FeaturedProducts(ctx context.Context, limit int) ([]store.Product, error)
}

// ViewBumper は閲覧数カウンタの加算です。
type ViewBumper interface {
	Bump(ctx context.Context, productID int64) error
}

// Handler はカタログ系エンドポイントのハンドラー集です。
type Handler struct {
	cfg      *config.Config
	products ProductStore
	views    ViewBumper
	logger   *log.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(cfg *config.Config, products ProductStore, views ViewBumper, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{cfg: cfg, products: products, views: views, logger: logger}
}

// List は GET /api/products のハンドラーです。
func (h *Handler) List(c *gin.Context) {
	filter := store.ProductFilter{
		Page:       queryInt(c, "page", 1),
		PerPage:    h.cfg.ProductsPerPage,
		CategoryID: int64(queryInt(c, "category_id", 0)),
		Search:     c.Query("search"),
		Location:   c.Query("location"),
		Sort:       c.DefaultQuery("sort", "newest"),
	}
	if v, err := strconv.ParseFloat(c.Query("min_price"), 64); err == nil {
		filter.MinPrice = &v
	}
	if v, err := strconv.ParseFloat(c.Query("max_price"), 64); err == nil {
		filter.MaxPrice = &v
	}

	page, err := h.products.ListProducts(c.Request.Context(), filter)
	if err != nil {
		h.storeFailure(c, "failed to list products", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"products":    page.Products,
		"total":       page.Total,
		"pages":       page.Pages,
		"currentPage": page.CurrentPage,
	})
}

// Detail は GET /api/products/:id のハンドラーです。
func (h *Handler) Detail(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "商品IDが正しくありません",
		})
		return
	}

	product, err := h.products.ProductByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "商品が見つかりません",
			})
			return
		}
		h.storeFailure(c, "failed to load product", err)
		return
	}

	// 閲覧数はRedis側で加算し、反映はジョブに任せる
	if err := h.views.Bump(c.Request.Context(), id); err != nil {
		h.logger.Printf("failed to bump view counter for product %d: %v", id, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"product": product,
	})
}

// Mine は GET /api/my-products のハンドラーです。自分の出品一覧を返します。
func (h *Handler) Mine(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)
	status := c.DefaultQuery("status", "active")
	switch status {
	case "active", "sold", "inactive":
	default:
		status = "active"
	}

	products, err := h.products.ProductsBySeller(c.Request.Context(), userID, status)
	if err != nil {
		h.storeFailure(c, "failed to list seller products", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"products": products,
	})
}

// Categories は GET /api/categories のハンドラーです。
func (h *Handler) Categories(c *gin.Context) {
	categories, err := h.products.Categories(c.Request.Context())
	if err != nil {
		h.storeFailure(c, "failed to list categories", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"categories": categories,
	})
}

// Featured は GET /api/products/featured のハンドラーです。
func (h *Handler) Featured(c *gin.Context) {
	limit := queryInt(c, "limit", 8)
	if limit < 1 || limit > 50 {
		limit = 8
	}

	products, err := h.products.FeaturedProducts(c.Request.Context(), limit)
	if err != nil {
		h.storeFailure(c, "failed to list featured products", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"products": products,
	})
}

type productRequest struct {
	CategoryID  int64    `json:"categoryId"`
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Negotiable  *bool    `json:"negotiable"`
	Condition   string   `json:"condition"`
	Location    string   `json:"location"`
	Images      []string `json:"images"`
	Status      string   `json:"status"`
}

// Create は POST /api/products のハンドラーです。出品者権限が必要です。
func (h *Handler) Create(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)
	if !canSell(auth.CurrentUserType(c)) {
		c.JSON(http.StatusForbidden, gin.H{
			"success": false,
			"message": "出品するには出品者アカウントが必要です",
		})
		return
	}

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "商品情報を JSON で送ってください",
		})
		return
	}
	if req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "価格は0より大きくしてください",
		})
		return
	}

	exists, err := h.products.CategoryExists(c.Request.Context(), req.CategoryID)
	if err != nil {
		h.storeFailure(c, "failed to check category", err)
		return
	}
	if !exists {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "カテゴリが正しくありません",
		})
		return
	}

	product := &store.Product{
		SellerID:    userID,
		CategoryID:  req.CategoryID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Negotiable:  req.Negotiable == nil || *req.Negotiable,
		Condition:   normalizeCondition(req.Condition),
		Location:    req.Location,
		Images:      req.Images,
	}

	id, err := h.products.CreateProduct(c.Request.Context(), product)
	if err != nil {
		h.storeFailure(c, "failed to create product", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"message":   "商品を登録しました",
		"productId": id,
	})
}

// Update は POST /api/products/:id のハンドラーです。本人の出品のみ更新できます。
func (h *Handler) Update(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "商品IDが正しくありません",
		})
		return
	}

	var req productRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "商品情報を JSON で送ってください",
		})
		return
	}
	if req.Price <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "価格は0より大きくしてください",
		})
		return
	}

	status := req.Status
	switch status {
	case "active", "sold", "inactive":
	default:
		status = "active"
	}

	product := &store.Product{
		ID:          id,
		SellerID:    userID,
		Title:       req.Title,
		Description: req.Description,
		Price:       req.Price,
		Negotiable:  req.Negotiable == nil || *req.Negotiable,
		Condition:   normalizeCondition(req.Condition),
		Location:    req.Location,
		Status:      status,
	}

	if err := h.products.UpdateProduct(c.Request.Context(), product); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "商品が見つからないか、編集権限がありません",
			})
			return
		}
		h.storeFailure(c, "failed to update product", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "商品を更新しました",
	})
}

// Delete は POST /api/products/:id/delete のハンドラーです。
// 物理削除ではなく非表示化します。
func (h *Handler) Delete(c *gin.Context) {
	userID, _ := auth.CurrentUserID(c)

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "商品IDが正しくありません",
		})
		return
	}

	if err := h.products.DeactivateProduct(c.Request.Context(), id, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "商品が見つからないか、削除権限がありません",
			})
			return
		}
		h.storeFailure(c, "failed to deactivate product", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "商品を削除しました",
	})
}

func (h *Handler) storeFailure(c *gin.Context, msg string, err error) {
	h.logger.Printf("%s: %v", msg, err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "処理に失敗しました。時間をおいて再度お試しください",
	})
}

func canSell(userType string) bool {
	return userType == "seller" || userType == "both"
}

func normalizeCondition(condition string) string {
	switch condition {
	case "new", "used", "refurbished":
		return condition
	default:
		return "used"
	}
}

func queryInt(c *gin.Context, key string, defaultValue int) int {
	value, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return defaultValue
	}
	return value
}
