package auth

import (
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/store"
)

const (
	// SessionCookieName はセッションクッキーの名前です。
	SessionCookieName = "lyntro_session"

	sessionKeyUserID   = "user_id"
	sessionKeyUserType = "user_type"
	sessionKeyCreated  = "created"
	sessionKeyCSRF     = "csrf_token"
	sessionKeyCSRFTime = "csrf_token_time"
)

// ContextUserIDKey は、ハンドラー間でログイン済みユーザーIDを共有するためのキーです。
const ContextUserIDKey = "auth.userID"

// ContextUserTypeKey はログイン済みユーザーの種別（buyer/seller/both）のキーです。
const ContextUserTypeKey = "auth.userType"

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int((12 * time.Hour).Seconds())
}

// establishSession はログイン成功時にセッションを張り替えます。
// 既存の内容を破棄して新しい値を設定することで、セッション固定化を防ぎます。
func establishSession(c *gin.Context, account *store.Account) error {
	session := sessions.Default(c)
	session.Clear()
	session.Set(sessionKeyUserID, account.ID)
	session.Set(sessionKeyUserType, account.UserType)
	session.Set(sessionKeyCreated, time.Now().Unix())
	return session.Save()
}

// CurrentUserID はログイン中のユーザーIDを返します。
// RequireLogin を通ったリクエストでのみ有効です。
func CurrentUserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}

// CurrentUserType はログイン中のユーザー種別を返します。
func CurrentUserType(c *gin.Context) string {
	v, ok := c.Get(ContextUserTypeKey)
	if !ok {
		return ""
	}
	t, _ := v.(string)
	return t
}

// RequireLogin はセッションを検証するミドルウェアを返します。
// セッション作成からの経過時間がタイムアウトを超えていた場合は、
// セッションを破棄するのではなく作成時刻をリセットして継続します（スライド更新）。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		userID, ok := session.Get(sessionKeyUserID).(int64)
		if !ok || userID == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "ログインが必要です",
			})
			return
		}

		now := time.Now()
		created := readUnix(session.Get(sessionKeyCreated))
		if created.IsZero() || now.Sub(created) > m.cfg.SessionTimeout {
			// 作成時刻をリセットして識別子を張り替える
			session.Set(sessionKeyCreated, now.Unix())
			if err := session.Save(); err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"message": "セッションの更新に失敗しました",
				})
				return
			}
		}

		userType, _ := session.Get(sessionKeyUserType).(string)
		c.Set(ContextUserIDKey, userID)
		c.Set(ContextUserTypeKey, userType)
		c.Next()
	}
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
