package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Product は商品の1行と、一覧表示に必要な結合済みの項目を表します。
type Product struct {
	ID            int64     `json:"id"`
	SellerID      int64     `json:"sellerId"`
	CategoryID    int64     `json:"categoryId"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Price         float64   `json:"price"`
	Negotiable    bool      `json:"negotiable"`
	Condition     string    `json:"condition"`
	Location      string    `json:"location"`
	Images        []string  `json:"images"`
	Status        string    `json:"status"`
	Views         int       `json:"views"`
	Featured      bool      `json:"featured"`
	CreatedAt     time.Time `json:"createdAt"`
	SellerName    string    `json:"sellerName,omitempty"`
	SellerRating  float64   `json:"sellerRating,omitempty"`
	CategoryName  string    `json:"categoryName,omitempty"`
	FavoriteCount int       `json:"favoriteCount,omitempty"`
}

// Review は商品レビューです。
type Review struct {
	ID           int64     `json:"id"`
	ReviewerID   int64     `json:"reviewerId"`
	ReviewerName string    `json:"reviewerName"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment"`
	CreatedAt    time.Time `json:"createdAt"`
}

// ProductDetail は商品詳細と出品者情報・直近レビューをまとめたものです。
type ProductDetail struct {
	Product
	SellerPhone        string   `json:"sellerPhone"`
	SellerLocation     string   `json:"sellerLocation"`
	SellerTotalReviews int      `json:"sellerTotalReviews"`
	Reviews            []Review `json:"reviews"`
}

// Category はカテゴリと有効な商品数です。
type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ProductCount int    `json:"productCount"`
}

// ProductFilter は商品一覧の絞り込み条件です。
type ProductFilter struct {
	Page       int
	PerPage    int
	CategoryID int64
	Search     string
	Location   string
	Sort       string
	MinPrice   *float64
	MaxPrice   *float64
}

// ProductPage は1ページ分の商品とページング情報です。
type ProductPage struct {
	Products    []Product `json:"products"`
	Total       int       `json:"total"`
	Pages       int       `json:"pages"`
	CurrentPage int       `json:"currentPage"`
}

// CreateProduct は商品を登録し、新しいIDを返します。
func (s *Store) CreateProduct(ctx context.Context, p *Product) (int64, error) {
	images := p.Images
	if images == nil {
		images = []string{}
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
        INSERT INTO products (seller_id, category_id, title, description, price, negotiable, condition, location, images)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id`,
		p.SellerID, p.CategoryID, p.Title, p.Description, p.Price,
		p.Negotiable, p.Condition, p.Location, images,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return id, nil
}

// CategoryExists はカテゴリの存在を確認します。
func (s *Store) CategoryExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM categories WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

// ListProducts は条件に合う有効な商品を1ページ分返します。
func (s *Store) ListProducts(ctx context.Context, f ProductFilter) (*ProductPage, error) {
	where := []string{`p.status = 'active'`}
	args := []any{}

	add := func(cond string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.CategoryID > 0 {
		add(`p.category_id = $%d`, f.CategoryID)
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		where = append(where, fmt.Sprintf(`(p.title ILIKE $%d OR p.description ILIKE $%d)`, n, n))
	}
	if f.Location != "" {
		add(`p.location ILIKE $%d`, "%"+f.Location+"%")
	}
	if f.MinPrice != nil {
		add(`p.price >= $%d`, *f.MinPrice)
	}
	if f.MaxPrice != nil {
		add(`p.price <= $%d`, *f.MaxPrice)
	}

	orderBy := `p.created_at DESC`
	switch f.Sort {
	case "price_low":
		orderBy = `p.price ASC`
	case "price_high":
		orderBy = `p.price DESC`
	case "popular":
		orderBy = `p.views DESC`
	case "rating":
		orderBy = `u.rating DESC`
	}

	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM products p JOIN users u ON p.seller_id = u.id WHERE ` + whereClause
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if f.Page < 1 {
		f.Page = 1
	}
	offset := (f.Page - 1) * f.PerPage
	args = append(args, f.PerPage, offset)

	query := fmt.Sprintf(`
        SELECT p.id, p.seller_id, p.category_id, p.title, p.description, p.price,
               p.negotiable, p.condition, p.location, p.images, p.status, p.views,
               p.featured, p.created_at,
               u.username, u.rating, c.name,
               (SELECT COUNT(*) FROM favorites f WHERE f.product_id = p.id)
        FROM products p
        JOIN users u ON p.seller_id = u.id
        JOIN categories c ON p.category_id = c.id
        WHERE %s
        ORDER BY %s
        LIMIT $%d OFFSET $%d`,
		whereClause, orderBy, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.SellerID, &p.CategoryID, &p.Title, &p.Description, &p.Price,
			&p.Negotiable, &p.Condition, &p.Location, &p.Images, &p.Status, &p.Views,
			&p.Featured, &p.CreatedAt,
			&p.SellerName, &p.SellerRating, &p.CategoryName, &p.FavoriteCount,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	pages := (total + f.PerPage - 1) / f.PerPage
	return &ProductPage{
		Products:    products,
		Total:       total,
		Pages:       pages,
		CurrentPage: f.Page,
	}, nil
}

// ProductByID は商品詳細を返します。直近のレビュー5件を含みます。
func (s *Store) ProductByID(ctx context.Context, id int64) (*ProductDetail, error) {
	d := &ProductDetail{}
	err := s.pool.QueryRow(ctx, `
        SELECT p.id, p.seller_id, p.category_id, p.title, p.description, p.price,
               p.negotiable, p.condition, p.location, p.images, p.status, p.views,
               p.featured, p.created_at,
               u.username, u.rating, u.phone, u.location, u.total_reviews, c.name
        FROM products p
        JOIN users u ON p.seller_id = u.id
        JOIN categories c ON p.category_id = c.id
        WHERE p.id = $1`, id).Scan(
		&d.ID, &d.SellerID, &d.CategoryID, &d.Title, &d.Description, &d.Price,
		&d.Negotiable, &d.Condition, &d.Location, &d.Images, &d.Status, &d.Views,
		&d.Featured, &d.CreatedAt,
		&d.SellerName, &d.SellerRating, &d.SellerPhone, &d.SellerLocation,
		&d.SellerTotalReviews, &d.CategoryName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
        SELECT r.id, r.reviewer_id, u.username, r.rating, r.comment, r.created_at
        FROM reviews r
        JOIN users u ON r.reviewer_id = u.id
        WHERE r.product_id = $1
        ORDER BY r.created_at DESC
        LIMIT 5`, id)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	d.Reviews = []Review{}
	for rows.Next() {
		var r Review
		if err := rows.Scan(&r.ID, &r.ReviewerID, &r.ReviewerName, &r.Rating, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d.Reviews = append(d.Reviews, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return d, nil
}

// ProductsBySeller は出品者自身の商品一覧を返します。
func (s *Store) ProductsBySeller(ctx context.Context, sellerID int64, status string) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT p.id, p.seller_id, p.category_id, p.title, p.description, p.price,
               p.negotiable, p.condition, p.location, p.images, p.status, p.views,
               p.featured, p.created_at, c.name
        FROM products p
        JOIN categories c ON p.category_id = c.id
        WHERE p.seller_id = $1 AND p.status = $2
        ORDER BY p.created_at DESC`, sellerID, status)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.SellerID, &p.CategoryID, &p.Title, &p.Description, &p.Price,
			&p.Negotiable, &p.Condition, &p.Location, &p.Images, &p.Status, &p.Views,
			&p.Featured, &p.CreatedAt, &p.CategoryName,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return products, nil
}

// UpdateProduct は出品者本人の商品のみ更新します。該当がなければ ErrNotFound を返します。
func (s *Store) UpdateProduct(ctx context.Context, p *Product) error {
	tag, err := s.pool.Exec(ctx, `
        UPDATE products
        SET title = $1, description = $2, price = $3, negotiable = $4,
            condition = $5, location = $6, status = $7
        WHERE id = $8 AND seller_id = $9`,
		p.Title, p.Description, p.Price, p.Negotiable,
		p.Condition, p.Location, p.Status, p.ID, p.SellerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateProduct は商品を非表示にします。物理削除はしません。
func (s *Store) DeactivateProduct(ctx context.Context, id, sellerID int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE products SET status = 'inactive' WHERE id = $1 AND seller_id = $2`,
		id, sellerID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Categories は全カテゴリを有効な商品数付きで返します。
func (s *Store) Categories(ctx context.Context) ([]Category, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT c.id, c.name,
               (SELECT COUNT(*) FROM products p WHERE p.category_id = c.id AND p.status = 'active')
        FROM categories c
        ORDER BY c.name`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	categories := []Category{}
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ProductCount); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return categories, nil
}

// FeaturedProducts はおすすめ商品（featured指定または閲覧数100超）を返します。
func (s *Store) FeaturedProducts(ctx context.Context, limit int) ([]Product, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT p.id, p.seller_id, p.category_id, p.title, p.description, p.price,
               p.negotiable, p.condition, p.location, p.images, p.status, p.views,
               p.featured, p.created_at, u.username, u.rating, c.name
        FROM products p
        JOIN users u ON p.seller_id = u.id
        JOIN categories c ON p.category_id = c.id
        WHERE p.status = 'active' AND (p.featured = TRUE OR p.views > 100)
        ORDER BY p.views DESC
        LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(
			&p.ID, &p.SellerID, &p.CategoryID, &p.Title, &p.Description, &p.Price,
			&p.Negotiable, &p.Condition, &p.Location, &p.Images, &p.Status, &p.Views,
			&p.Featured, &p.CreatedAt, &p.SellerName, &p.SellerRating, &p.CategoryName,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return products, nil
}

// AddProductViews は閲覧数カウンタの値を商品行に反映します。
func (s *Store) AddProductViews(ctx context.Context, id int64, delta int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE products SET views = views + $1 WHERE id = $2`, delta, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
