package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CartItem はカート内の1件と表示用の結合項目です。
type CartItem struct {
	CartItemID     int64    `json:"cartItemId"`
	Quantity       int      `json:"quantity"`
	ProductID      int64    `json:"productId"`
	Title          string   `json:"title"`
	Price          float64  `json:"price"`
	Images         []string `json:"images"`
	Condition      string   `json:"condition"`
	SellerName     string   `json:"sellerName"`
	SellerLocation string   `json:"sellerLocation"`
	CategoryName   string   `json:"categoryName"`
	Subtotal       float64  `json:"subtotal"`
}

// Cart はカートの内容と合計です。
type Cart struct {
	Items      []CartItem `json:"items"`
	TotalItems int        `json:"totalItems"`
	TotalPrice float64    `json:"totalPrice"`
	ItemCount  int        `json:"itemCount"`
}

// Order は注文の1行と表示用の結合項目です。
type Order struct {
	ID              int64     `json:"id"`
	Reference       string    `json:"reference"`
	BuyerID         int64     `json:"buyerId"`
	SellerID        int64     `json:"sellerId"`
	ProductID       int64     `json:"productId"`
	Quantity        int       `json:"quantity"`
	TotalPrice      float64   `json:"totalPrice"`
	ShippingAddress string    `json:"shippingAddress"`
	PaymentMethod   string    `json:"paymentMethod"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"createdAt"`
	ProductTitle    string    `json:"productTitle,omitempty"`
	SellerName      string    `json:"sellerName,omitempty"`
}

// CreatedOrder はチェックアウトで作成された注文の要約です。
type CreatedOrder struct {
	OrderID      int64   `json:"orderId"`
	Reference    string  `json:"reference"`
	SellerID     int64   `json:"sellerId"`
	ProductID    int64   `json:"productId"`
	ProductTitle string  `json:"productTitle"`
	Quantity     int     `json:"quantity"`
	Price        float64 `json:"price"`
}

// CheckoutResult はチェックアウト全体の結果です。
type CheckoutResult struct {
	Orders     []CreatedOrder `json:"orders"`
	TotalPrice float64        `json:"totalPrice"`
}

// AddToCart は有効な商品をカートに追加します。既にある場合は数量を加算します。
// 商品が存在しないか有効でない場合は ErrNotFound、自分の出品なら ErrOwnProduct を返します。
func (s *Store) AddToCart(ctx context.Context, userID, productID int64, quantity int) error {
	var sellerID int64
	err := s.pool.QueryRow(ctx,
		`SELECT seller_id FROM products WHERE id = $1 AND status = 'active'`,
		productID).Scan(&sellerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	if sellerID == userID {
		return ErrOwnProduct
	}

	if quantity < 1 {
		quantity = 1
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO cart_items (user_id, product_id, quantity)
        VALUES ($1, $2, $3)
        ON CONFLICT (user_id, product_id)
        DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity`,
		userID, productID, quantity)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CartItems はカートの内容を小計・合計付きで返します。
func (s *Store) CartItems(ctx context.Context, userID int64) (*Cart, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT ci.id, ci.quantity,
               p.id, p.title, p.price, p.images, p.condition,
               u.username, u.location, c.name
        FROM cart_items ci
        JOIN products p ON ci.product_id = p.id
        JOIN users u ON p.seller_id = u.id
        JOIN categories c ON p.category_id = c.id
        WHERE ci.user_id = $1 AND p.status = 'active'
        ORDER BY ci.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	cart := &Cart{Items: []CartItem{}}
	for rows.Next() {
		var item CartItem
		if err := rows.Scan(
			&item.CartItemID, &item.Quantity,
			&item.ProductID, &item.Title, &item.Price, &item.Images, &item.Condition,
			&item.SellerName, &item.SellerLocation, &item.CategoryName,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		item.Subtotal = item.Price * float64(item.Quantity)
		cart.TotalItems += item.Quantity
		cart.TotalPrice += item.Subtotal
		cart.Items = append(cart.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	cart.ItemCount = len(cart.Items)
	return cart, nil
}

// UpdateCartItem は本人のカートアイテムの数量を変更します。
func (s *Store) UpdateCartItem(ctx context.Context, userID, cartItemID int64, quantity int) error {
	if quantity < 1 {
		quantity = 1
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE cart_items SET quantity = $1 WHERE id = $2 AND user_id = $3`,
		quantity, cartItemID, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveCartItem は本人のカートアイテムを削除します。
func (s *Store) RemoveCartItem(ctx context.Context, userID, cartItemID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2`, cartItemID, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearCart はカートを空にします。
func (s *Store) ClearCart(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// CreateOrders は指定したカートアイテムから注文を作成します。
// カートアイテムごとに1注文を作り、処理全体を1トランザクションで行います。
func (s *Store) CreateOrders(ctx context.Context, userID int64, cartItemIDs []int64, shippingAddress, paymentMethod string) (*CheckoutResult, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer tx.Rollback(ctx)

	result := &CheckoutResult{Orders: []CreatedOrder{}}

	for _, cartItemID := range cartItemIDs {
		var (
			quantity  int
			productID int64
			price     float64
			sellerID  int64
			title     string
		)
		err := tx.QueryRow(ctx, `
            SELECT ci.quantity, ci.product_id, p.price, p.seller_id, p.title
            FROM cart_items ci
            JOIN products p ON ci.product_id = p.id
            WHERE ci.id = $1 AND ci.user_id = $2`,
			cartItemID, userID).Scan(&quantity, &productID, &price, &sellerID, &title)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("db error: %w", err)
		}

		itemTotal := price * float64(quantity)
		reference := uuid.NewString()

		var orderID int64
		err = tx.QueryRow(ctx, `
            INSERT INTO orders (reference, buyer_id, seller_id, product_id, quantity,
                                total_price, shipping_address, payment_method, status)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 'confirmed')
            RETURNING id`,
			reference, userID, sellerID, productID, quantity,
			itemTotal, shippingAddress, paymentMethod).Scan(&orderID)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}

		result.TotalPrice += itemTotal
		result.Orders = append(result.Orders, CreatedOrder{
			OrderID:      orderID,
			Reference:    reference,
			SellerID:     sellerID,
			ProductID:    productID,
			ProductTitle: title,
			Quantity:     quantity,
			Price:        itemTotal,
		})
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM cart_items WHERE id = ANY($1) AND user_id = $2`,
		cartItemIDs, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

// OrdersByBuyer は購入者の注文一覧を返します。status が空なら全件です。
func (s *Store) OrdersByBuyer(ctx context.Context, userID int64, status string) ([]Order, error) {
	query := `
        SELECT o.id, o.reference, o.buyer_id, o.seller_id, o.product_id, o.quantity,
               o.total_price, o.shipping_address, o.payment_method, o.status, o.created_at,
               p.title, u.username
        FROM orders o
        JOIN products p ON o.product_id = p.id
        JOIN users u ON o.seller_id = u.id
        WHERE o.buyer_id = $1`
	args := []any{userID}
	if status != "" {
		query += ` AND o.status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY o.created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		var o Order
		if err := rows.Scan(
			&o.ID, &o.Reference, &o.BuyerID, &o.SellerID, &o.ProductID, &o.Quantity,
			&o.TotalPrice, &o.ShippingAddress, &o.PaymentMethod, &o.Status, &o.CreatedAt,
			&o.ProductTitle, &o.SellerName,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return orders, nil
}
