package store

import (
	"context"
	"fmt"
	"time"
)

// Message はユーザー間メッセージの1行です。
type Message struct {
	ID           int64     `json:"id"`
	SenderID     int64     `json:"senderId"`
	ReceiverID   int64     `json:"receiverId"`
	ProductID    *int64    `json:"productId,omitempty"`
	Body         string    `json:"message"`
	IsRead       bool      `json:"isRead"`
	CreatedAt    time.Time `json:"createdAt"`
	SenderName   string    `json:"senderName,omitempty"`
	ReceiverName string    `json:"receiverName,omitempty"`
	ProductTitle string    `json:"productTitle,omitempty"`
}

// Conversation は会話相手ごとの集計です。
type Conversation struct {
	OtherUserID     int64     `json:"otherUserId"`
	Username        string    `json:"username"`
	FullName        string    `json:"fullName"`
	LastMessageTime time.Time `json:"lastMessageTime"`
	UnreadCount     int       `json:"unreadCount"`
}

// SendMessage はメッセージを1件保存します。
// 宛先ユーザーや指定された商品が存在しない場合は ErrNotFound を返します。
func (s *Store) SendMessage(ctx context.Context, senderID, receiverID int64, productID *int64, body string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, receiverID).Scan(&exists); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if !exists {
		return ErrNotFound
	}

	if productID != nil {
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, *productID).Scan(&exists); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (sender_id, receiver_id, product_id, message) VALUES ($1, $2, $3, $4)`,
		senderID, receiverID, productID, body)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ConversationMessages は2者間の会話を1ページ分、時系列順で返します。
// 取得と同時に、相手から自分宛ての未読メッセージを既読にします。
func (s *Store) ConversationMessages(ctx context.Context, userID, otherUserID int64, productID *int64, page, perPage int) ([]Message, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * perPage

	query := `
        SELECT m.id, m.sender_id, m.receiver_id, m.product_id, m.message, m.is_read, m.created_at,
               u_s.username, u_r.username, COALESCE(p.title, '')
        FROM messages m
        JOIN users u_s ON m.sender_id = u_s.id
        JOIN users u_r ON m.receiver_id = u_r.id
        LEFT JOIN products p ON m.product_id = p.id
        WHERE ((m.sender_id = $1 AND m.receiver_id = $2) OR
               (m.sender_id = $2 AND m.receiver_id = $1))`
	args := []any{userID, otherUserID}
	if productID != nil {
		args = append(args, *productID)
		query += fmt.Sprintf(` AND m.product_id = $%d`, len(args))
	}
	args = append(args, perPage, offset)
	query += fmt.Sprintf(` ORDER BY m.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID, &m.SenderID, &m.ReceiverID, &m.ProductID, &m.Body, &m.IsRead, &m.CreatedAt,
			&m.SenderName, &m.ReceiverName, &m.ProductTitle,
		); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// 相手からの未読を既読化
	markRead := `
        UPDATE messages SET is_read = TRUE
        WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE`
	markArgs := []any{userID, otherUserID}
	if productID != nil {
		markRead += ` AND product_id = $3`
		markArgs = append(markArgs, *productID)
	}
	if _, err := s.pool.Exec(ctx, markRead, markArgs...); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// 新しい順で取得したものを時系列順に並べ替える
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Conversations は会話相手の一覧を未読件数付きで返します。
func (s *Store) Conversations(ctx context.Context, userID int64) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT other.other_user_id, u.username, u.full_name,
               MAX(other.created_at) AS last_message_time,
               (SELECT COUNT(*) FROM messages
                WHERE receiver_id = $1 AND sender_id = other.other_user_id AND is_read = FALSE)
        FROM (
            SELECT CASE WHEN m.sender_id = $1 THEN m.receiver_id ELSE m.sender_id END AS other_user_id,
                   m.created_at
            FROM messages m
            WHERE m.sender_id = $1 OR m.receiver_id = $1
        ) other
        JOIN users u ON other.other_user_id = u.id
        GROUP BY other.other_user_id, u.username, u.full_name
        ORDER BY last_message_time DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	conversations := []Conversation{}
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.OtherUserID, &c.Username, &c.FullName, &c.LastMessageTime, &c.UnreadCount); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return conversations, nil
}

// UnreadCount は自分宛ての未読メッセージ数を返します。
func (s *Store) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE receiver_id = $1 AND is_read = FALSE`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return count, nil
}

// MarkConversationRead は指定相手からの未読を既読にします。
func (s *Store) MarkConversationRead(ctx context.Context, userID, otherUserID int64) error {
	_, err := s.pool.Exec(ctx, `
        UPDATE messages SET is_read = TRUE
        WHERE receiver_id = $1 AND sender_id = $2 AND is_read = FALSE`,
		userID, otherUserID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteMessage は送信者または受信者本人のメッセージを削除します。
func (s *Store) DeleteMessage(ctx context.Context, messageID, userID int64) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE id = $1 AND (sender_id = $2 OR receiver_id = $2)`,
		messageID, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
