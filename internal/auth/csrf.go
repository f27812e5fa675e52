package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// CSRFHeader はトークンの受け渡しに使うHTTPヘッダー名です。
const CSRFHeader = "X-CSRF-Token"

// EnsureCSRFToken はセッションの現在のトークンを返します。
// トークンが存在しないか有効期限を過ぎている場合は新しく発行します。
func (m *Manager) EnsureCSRFToken(c *gin.Context) (string, error) {
	session := sessions.Default(c)

	token, _ := session.Get(sessionKeyCSRF).(string)
	issued := readUnix(session.Get(sessionKeyCSRFTime))
	if token != "" && !issued.IsZero() && time.Since(issued) <= m.cfg.CSRFTokenExpiry {
		return token, nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	session.Set(sessionKeyCSRF, token)
	session.Set(sessionKeyCSRFTime, time.Now().Unix())
	if err := session.Save(); err != nil {
		return "", err
	}
	return token, nil
}

// CSRFToken は GET /api/auth/csrf のハンドラーです。
// ブラウザクライアントはフォーム送信前にここでトークンを取得します。
func (m *Manager) CSRFToken(c *gin.Context) {
	token, err := m.EnsureCSRFToken(c)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "CSRFトークンの発行に失敗しました",
		})
		return
	}
	c.Header(CSRFHeader, token)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"csrfToken": token,
	})
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
// 状態を変更しないメソッドは素通しします。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "CSRFトークンが設定されていません",
			})
			return
		}

		issued := readUnix(session.Get(sessionKeyCSRFTime))
		if issued.IsZero() || time.Since(issued) > m.cfg.CSRFTokenExpiry {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "CSRFトークンの有効期限が切れています",
			})
			return
		}

		received := c.GetHeader(CSRFHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"message": "CSRFトークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

// generateToken は256ビットの乱数トークンを16進文字列で返します。
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
