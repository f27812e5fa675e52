package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/auth"
	"github.com/yourusername/lyntro/internal/config"
	"github.com/yourusername/lyntro/internal/store"
)

type stubProducts struct {
	page       *store.ProductPage
	detail     *store.ProductDetail
	detailErr  error
	created    *store.Product
	createdID  int64
	updated    *store.Product
	updateErr  error
	deactivate struct {
		id       int64
		sellerID int64
		called   bool
	}
	categoryOK bool
	filter     store.ProductFilter
}

func (s *stubProducts) CreateProduct(ctx context.Context, p *store.Product) (int64, error) {
	s.created = p
	return s.createdID, nil
}

func (s *stubProducts) CategoryExists(ctx context.Context, id int64) (bool, error) {
	return s.categoryOK, nil
}

func (s *stubProducts) ListProducts(ctx context.Context, f store.ProductFilter) (*store.ProductPage, error) {
	s.filter = f
	if s.page == nil {
		return &store.ProductPage{Products: []store.Product{}, CurrentPage: f.Page}, nil
	}
	return s.page, nil
}

func (s *stubProducts) ProductByID(ctx context.Context, id int64) (*store.ProductDetail, error) {
	if s.detailErr != nil {
		return nil, s.detailErr
	}
	return s.detail, nil
}

func (s *stubProducts) ProductsBySeller(ctx context.Context, sellerID int64, status string) ([]store.Product, error) {
	return []store.Product{}, nil
}

func (s *stubProducts) UpdateProduct(ctx context.Context, p *store.Product) error {
	s.updated = p
	return s.updateErr
}

func (s *stubProducts) DeactivateProduct(ctx context.Context, id, sellerID int64) error {
	s.deactivate.id = id
	s.deactivate.sellerID = sellerID
	s.deactivate.called = true
	return nil
}

func (s *stubProducts) Categories(ctx context.Context) ([]store.Category, error) {
	return []store.Category{{ID: 1, Name: "Electronics", ProductCount: 3}}, nil
}

func (s *stubProducts) FeaturedProducts(ctx context.Context, limit int) ([]store.Product, error) {
	return make([]store.Product, limit), nil
}

type stubViews struct {
	bumped []int64
}

func (s *stubViews) Bump(ctx context.Context, productID int64) error {
	s.bumped = append(s.bumped, productID)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{ProductsPerPage: 12, MessagesPerPage: 20}
}

// loginAs はセッションミドルウェアの代わりに認証済みコンテキストを仕込みます。
func loginAs(userID int64, userType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(auth.ContextUserIDKey, userID)
		c.Set(auth.ContextUserTypeKey, userType)
		c.Next()
	}
}

func newCatalogRouter(h *Handler, userType string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/products", h.List)
	router.GET("/api/products/:id", h.Detail)
	router.POST("/api/products", loginAs(7, userType), h.Create)
	router.POST("/api/products/:id/update", loginAs(7, userType), h.Update)
	router.POST("/api/products/:id/delete", loginAs(7, userType), h.Delete)
	return router
}

func jsonBody(t *testing.T, payload any) *bytes.Reader {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return bytes.NewReader(body)
}

func TestListAppliesPerPageFromConfig(t *testing.T) {
	products := &stubProducts{}
	h := NewHandler(testConfig(), products, &stubViews{}, nil)
	router := newCatalogRouter(h, "both")

	req := httptest.NewRequest(http.MethodGet, "/api/products?page=3&category_id=2&sort=price_low", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if products.filter.PerPage != 12 {
		t.Fatalf("unexpected per page: %d", products.filter.PerPage)
	}
	if products.filter.Page != 3 || products.filter.CategoryID != 2 || products.filter.Sort != "price_low" {
		t.Fatalf("unexpected filter: %#v", products.filter)
	}
}

func TestDetailBumpsViewCounter(t *testing.T) {
	products := &stubProducts{detail: &store.ProductDetail{
		Product: store.Product{ID: 5, Title: "Infinix Hot 30"},
	}}
	views := &stubViews{}
	h := NewHandler(testConfig(), products, views, nil)
	router := newCatalogRouter(h, "both")

	req := httptest.NewRequest(http.MethodGet, "/api/products/5", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if len(views.bumped) != 1 || views.bumped[0] != 5 {
		t.Fatalf("expected one view bump for product 5, got %#v", views.bumped)
	}
}

func TestDetailNotFound(t *testing.T) {
	products := &stubProducts{detailErr: store.ErrNotFound}
	views := &stubViews{}
	h := NewHandler(testConfig(), products, views, nil)
	router := newCatalogRouter(h, "both")

	req := httptest.NewRequest(http.MethodGet, "/api/products/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if len(views.bumped) != 0 {
		t.Fatal("missing products must not bump the view counter")
	}
}

func TestCreateRequiresSellerAccount(t *testing.T) {
	products := &stubProducts{categoryOK: true, createdID: 10}
	h := NewHandler(testConfig(), products, &stubViews{}, nil)
	router := newCatalogRouter(h, "buyer")

	req := httptest.NewRequest(http.MethodPost, "/api/products", jsonBody(t, gin.H{
		"categoryId": 1,
		"title":      "Infinix Hot 30",
		"price":      45000,
	}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if products.created != nil {
		t.Fatal("buyers must not create products")
	}
}

func TestCreateProduct(t *testing.T) {
	products := &stubProducts{categoryOK: true, createdID: 10}
	h := NewHandler(testConfig(), products, &stubViews{}, nil)
	router := newCatalogRouter(h, "seller")

	req := httptest.NewRequest(http.MethodPost, "/api/products", jsonBody(t, gin.H{
		"categoryId": 1,
		"title":      "Infinix Hot 30",
		"price":      45000,
		"condition":  "fairly-used", // 未知の値は used に正規化される
	}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if products.created == nil {
		t.Fatal("expected a product to be created")
	}
	if products.created.SellerID != 7 {
		t.Fatalf("unexpected seller id: %d", products.created.SellerID)
	}
	if products.created.Condition != "used" {
		t.Fatalf("unexpected condition: %s", products.created.Condition)
	}
}

func TestCreateRejectsInvalidPrice(t *testing.T) {
	products := &stubProducts{categoryOK: true}
	h := NewHandler(testConfig(), products, &stubViews{}, nil)
	router := newCatalogRouter(h, "seller")

	req := httptest.NewRequest(http.MethodPost, "/api/products", jsonBody(t, gin.H{
		"categoryId": 1,
		"title":      "Free stuff",
		"price":      0,
	}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestUpdateOwnershipFailure(t *testing.T) {
	products := &stubProducts{updateErr: store.ErrNotFound}
	h := NewHandler(testConfig(), products, &stubViews{}, nil)
	router := newCatalogRouter(h, "seller")

	req := httptest.NewRequest(http.MethodPost, "/api/products/5/update", jsonBody(t, gin.H{
		"title": "Renamed",
		"price": 1000,
	}))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestDeleteDeactivatesOwnProduct(t *testing.T) {
	products := &stubProducts{}
	h := NewHandler(testConfig(), products, &stubViews{}, nil)
	router := newCatalogRouter(h, "seller")

	req := httptest.NewRequest(http.MethodPost, "/api/products/5/delete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if !products.deactivate.called || products.deactivate.id != 5 || products.deactivate.sellerID != 7 {
		t.Fatalf("unexpected deactivate call: %#v", products.deactivate)
	}
}
