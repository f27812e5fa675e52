package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/mail"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/lyntro/internal/config"
	"github.com/yourusername/lyntro/internal/store"
)

// AccountStore は認証コアが必要とするアカウント操作です。
type AccountStore interface {
	CreateAccount(ctx context.Context, a *store.Account) (int64, error)
	AccountByEmail(ctx context.Context, email string) (*store.Account, error)
	AccountByID(ctx context.Context, id int64) (*store.Account, error)
	UpdateProfile(ctx context.Context, id int64, fullName, phone, location string) error
	UpdatePasswordHash(ctx context.Context, id int64, hash string) error
	IncrementLoginAttempts(ctx context.Context, id int64) (int, error)
	ResetLoginAttempts(ctx context.Context, id int64) error
	LockAccount(ctx context.Context, id int64, until time.Time) error
	UnlockAccount(ctx context.Context, id int64) error
}

// AttemptStore はログイン試行履歴の追記と集計です。
type AttemptStore interface {
	RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error
	CountAttemptsSince(ctx context.Context, email string, since time.Time) (int, error)
	CountAttemptsFromIPSince(ctx context.Context, ipAddress string, since time.Time) (int, error)
}

// Manager は認証処理とアカウント保護の状態遷移をまとめた構造体です。
type Manager struct {
	cfg      *config.Config
	accounts AccountStore
	attempts AttemptStore
	logger   *log.Logger
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, accounts AccountStore, attempts AttemptStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:      cfg,
		accounts: accounts,
		attempts: attempts,
		logger:   logger,
	}
}

type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
	UserType string `json:"userType"`
}

// Register は POST /api/auth/register のハンドラーです。
// 登録成功時はそのままログイン状態にします。
func (m *Manager) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "username・email・password を JSON で送ってください",
		})
		return
	}

	if len(req.Password) < m.cfg.PasswordMinLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": fmt.Sprintf("パスワードは%d文字以上にしてください", m.cfg.PasswordMinLength),
		})
		return
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "メールアドレスの形式が正しくありません",
		})
		return
	}

	userType := req.UserType
	switch userType {
	case "buyer", "seller", "both":
	default:
		userType = "both"
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		m.logger.Printf("failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "登録に失敗しました。時間をおいて再度お試しください",
		})
		return
	}

	account := &store.Account{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Phone:        req.Phone,
		Location:     req.Location,
		UserType:     userType,
	}

	id, err := m.accounts.CreateAccount(c.Request.Context(), account)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{
				"success": false,
				"message": "ユーザー名またはメールアドレスは既に使用されています",
			})
			return
		}
		m.logger.Printf("failed to create account: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "登録に失敗しました。時間をおいて再度お試しください",
		})
		return
	}
	account.ID = id

	if err := establishSession(c, account); err != nil {
		m.logger.Printf("failed to save session after register: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "セッションの保存に失敗しました",
		})
		return
	}
	m.issueTokenAfterLogin(c)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "登録が完了しました",
		"userId":  id,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /api/auth/login のハンドラーです。
//
// 判定の順序:
//  1. レート制限（送信元IP、対象メールアドレスそれぞれのウィンドウ集計）
//  2. アカウントの存在（存在しない場合も他の失敗と区別できない応答を返す）
//  3. ロック状態（期限切れなら解除して続行）
//  4. パスワード検証（成功で失敗回数リセット、失敗で加算・上限でロック）
//
// レート制限で弾いた場合を除き、結果を問わず試行を1件記録します。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "email と password を JSON で送ってください",
		})
		return
	}

	ctx := c.Request.Context()
	ip := c.ClientIP()
	now := time.Now()
	windowStart := now.Add(-m.cfg.LoginAttemptWindow)

	ipCount, err := m.attempts.CountAttemptsFromIPSince(ctx, ip, windowStart)
	if err != nil {
		m.storeFailure(c, "failed to count attempts by ip", err)
		return
	}
	emailCount, err := m.attempts.CountAttemptsSince(ctx, req.Email, windowStart)
	if err != nil {
		m.storeFailure(c, "failed to count attempts by email", err)
		return
	}
	if ipCount >= m.cfg.MaxLoginAttempts || emailCount >= m.cfg.MaxLoginAttempts {
		c.Header("Retry-After", strconv.FormatInt(int64(m.cfg.LoginAttemptWindow.Seconds()), 10))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"message": "ログイン試行が多すぎます。しばらくしてから再度お試しください",
		})
		return
	}

	account, err := m.accounts.AccountByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// 未登録メールでも他の失敗と同じ応答にし、存在の有無を漏らさない
			if err := m.attempts.RecordLoginAttempt(ctx, req.Email, ip, false); err != nil {
				m.logger.Printf("failed to record login attempt: %v", err)
			}
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "メールアドレスまたはパスワードが正しくありません",
			})
			return
		}
		m.storeFailure(c, "failed to look up account", err)
		return
	}

	if account.Locked {
		if account.LockedUntil != nil && account.LockedUntil.After(now) {
			if err := m.attempts.RecordLoginAttempt(ctx, req.Email, ip, false); err != nil {
				m.logger.Printf("failed to record login attempt: %v", err)
			}
			retryAfter := int64(time.Until(*account.LockedUntil).Seconds())
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			c.JSON(http.StatusLocked, gin.H{
				"success": false,
				"message": "アカウントは一時的にロックされています。しばらくしてから再度お試しください",
			})
			return
		}
		// ロック期限切れ: 解除してから通常の検証に進む
		if err := m.accounts.UnlockAccount(ctx, account.ID); err != nil {
			m.storeFailure(c, "failed to unlock account", err)
			return
		}
		account.Attempts = 0
	}

	if CheckPassword(req.Password, account.PasswordHash) {
		if err := m.accounts.ResetLoginAttempts(ctx, account.ID); err != nil {
			m.storeFailure(c, "failed to reset login attempts", err)
			return
		}
		if err := m.attempts.RecordLoginAttempt(ctx, req.Email, ip, true); err != nil {
			m.logger.Printf("failed to record login attempt: %v", err)
		}

		if err := establishSession(c, account); err != nil {
			m.logger.Printf("failed to save session after login: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "セッションの保存に失敗しました",
			})
			return
		}
		m.issueTokenAfterLogin(c)

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": "ログインしました",
			"user":    account,
		})
		return
	}

	attempts, err := m.accounts.IncrementLoginAttempts(ctx, account.ID)
	if err != nil {
		m.storeFailure(c, "failed to increment login attempts", err)
		return
	}
	if err := m.attempts.RecordLoginAttempt(ctx, req.Email, ip, false); err != nil {
		m.logger.Printf("failed to record login attempt: %v", err)
	}

	if attempts >= m.cfg.MaxLoginAttempts {
		until := now.Add(m.cfg.AccountLockoutTime)
		if err := m.accounts.LockAccount(ctx, account.ID, until); err != nil {
			m.storeFailure(c, "failed to lock account", err)
			return
		}
		c.Header("Retry-After", strconv.FormatInt(int64(m.cfg.AccountLockoutTime.Seconds()), 10))
		c.JSON(http.StatusLocked, gin.H{
			"success": false,
			"message": "失敗が続いたためアカウントをロックしました。しばらくしてから再度お試しください",
		})
		return
	}

	remaining := m.cfg.MaxLoginAttempts - attempts
	c.JSON(http.StatusUnauthorized, gin.H{
		"success":           false,
		"message":           "メールアドレスまたはパスワードが正しくありません",
		"remainingAttempts": remaining,
	})
}

// Logout は POST /api/auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "ログアウトしました",
	})
}

// Me は GET /api/auth/me のハンドラーです。ログイン中のプロフィールを返します。
func (m *Manager) Me(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "ログインが必要です",
		})
		return
	}

	account, err := m.accounts.AccountByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "ユーザーが見つかりません",
			})
			return
		}
		m.storeFailure(c, "failed to load account", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user":    account,
	})
}

type updateProfileRequest struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Location string `json:"location"`
}

// UpdateProfile は POST /api/auth/profile のハンドラーです。
func (m *Manager) UpdateProfile(c *gin.Context) {
	userID, _ := CurrentUserID(c)

	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "プロフィール項目を JSON で送ってください",
		})
		return
	}

	if err := m.accounts.UpdateProfile(c.Request.Context(), userID, req.FullName, req.Phone, req.Location); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "ユーザーが見つかりません",
			})
			return
		}
		m.storeFailure(c, "failed to update profile", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "プロフィールを更新しました",
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword は POST /api/auth/password のハンドラーです。
func (m *Manager) ChangePassword(c *gin.Context) {
	userID, _ := CurrentUserID(c)

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "currentPassword と newPassword を JSON で送ってください",
		})
		return
	}

	if len(req.NewPassword) < m.cfg.PasswordMinLength {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": fmt.Sprintf("パスワードは%d文字以上にしてください", m.cfg.PasswordMinLength),
		})
		return
	}

	account, err := m.accounts.AccountByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "ユーザーが見つかりません",
			})
			return
		}
		m.storeFailure(c, "failed to load account", err)
		return
	}

	if !CheckPassword(req.CurrentPassword, account.PasswordHash) {
		c.JSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"message": "現在のパスワードが正しくありません",
		})
		return
	}

	hash, err := HashPassword(req.NewPassword)
	if err != nil {
		m.logger.Printf("failed to hash password: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "パスワードの変更に失敗しました",
		})
		return
	}

	if err := m.accounts.UpdatePasswordHash(c.Request.Context(), userID, hash); err != nil {
		m.storeFailure(c, "failed to update password hash", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "パスワードを変更しました",
	})
}

// issueTokenAfterLogin はログイン直後にCSRFトークンを発行し直し、ヘッダーで返します。
// establishSession がセッションを破棄しているため、トークンは必ず新規になります。
func (m *Manager) issueTokenAfterLogin(c *gin.Context) {
	token, err := m.EnsureCSRFToken(c)
	if err != nil {
		m.logger.Printf("failed to issue csrf token: %v", err)
		return
	}
	c.Header(CSRFHeader, token)
}

// storeFailure はストア層の失敗を詳細付きでログに残し、
// クライアントには内部情報を含まない汎用メッセージだけを返します。
func (m *Manager) storeFailure(c *gin.Context, msg string, err error) {
	m.logger.Printf("%s: %v", msg, err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"message": "処理に失敗しました。時間をおいて再度お試しください",
	})
}
