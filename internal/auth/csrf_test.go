package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

func newCSRFRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	sessionStore := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions(SessionCookieName, sessionStore))
	router.GET("/api/auth/csrf", m.CSRFToken)
	router.POST("/mutate", m.VerifyCSRF(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})
	return router
}

func fetchToken(t *testing.T, router *gin.Engine) (string, []*http.Cookie) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/auth/csrf", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status fetching token: %d", rec.Code)
	}
	token := rec.Header().Get(CSRFHeader)
	if token == "" {
		t.Fatal("expected a CSRF token in the response header")
	}
	return token, rec.Result().Cookies()
}

func TestVerifyCSRFAcceptsValidToken(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	router := newCSRFRouter(m)

	token, cookies := fetchToken(t, router)

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFHeader, token)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerifyCSRFRejectsMissingSessionToken(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	router := newCSRFRouter(m)

	// セッションにトークンが無いままのPOSTは通さない
	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFHeader, "some-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerifyCSRFRejectsMismatchedToken(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	router := newCSRFRouter(m)

	_, cookies := fetchToken(t, router)

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFHeader, "forged-token")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerifyCSRFRejectsTokenFromAnotherSession(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	router := newCSRFRouter(m)

	tokenA, _ := fetchToken(t, router)
	_, cookiesB := fetchToken(t, router)

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFHeader, tokenA)
	for _, c := range cookiesB {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerifyCSRFRejectsExpiredToken(t *testing.T) {
	cfg := testConfig()
	cfg.CSRFTokenExpiry = -time.Second // 発行した瞬間に期限切れ扱いになる
	m := NewManager(cfg, &stubAccounts{}, &stubAttempts{}, nil)
	router := newCSRFRouter(m)

	token, cookies := fetchToken(t, router)

	req := httptest.NewRequest(http.MethodPost, "/mutate", nil)
	req.Header.Set(CSRFHeader, token)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestVerifyCSRFPassesSafeMethods(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	sessionStore := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions(SessionCookieName, sessionStore))
	router.GET("/read", m.VerifyCSRF(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"success": true})
	})

	req := httptest.NewRequest(http.MethodGet, "/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}
