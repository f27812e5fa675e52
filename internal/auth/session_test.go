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

// newSessionRouter は、テストからセッション値を直接仕込めるようにした
// プライミング用ルートと RequireLogin 配下の保護ルートを持つルーターを返します。
func newSessionRouter(m *Manager, createdAt time.Time) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	sessionStore := cookie.NewStore([]byte("test-secret"))
	router.Use(sessions.Sessions(SessionCookieName, sessionStore))

	router.POST("/prime", func(c *gin.Context) {
		session := sessions.Default(c)
		session.Set(sessionKeyUserID, int64(7))
		session.Set(sessionKeyUserType, "both")
		session.Set(sessionKeyCreated, createdAt.Unix())
		if err := session.Save(); err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusOK)
	})

	router.GET("/protected", m.RequireLogin(), func(c *gin.Context) {
		userID, _ := CurrentUserID(c)
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"userId":   userID,
			"userType": CurrentUserType(c),
		})
	})
	return router
}

func primeSession(t *testing.T, router *gin.Engine) []*http.Cookie {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/prime", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("failed to prime session: %d", rec.Code)
	}
	return rec.Result().Cookies()
}

func TestRequireLoginRejectsAnonymous(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	router := newSessionRouter(m, time.Now())

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestRequireLoginExposesIdentity(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	router := newSessionRouter(m, time.Now())
	cookies := primeSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	payload := decodeEnvelope(t, rec)
	if payload["userId"] != float64(7) {
		t.Fatalf("unexpected userId: %#v", payload["userId"])
	}
	if payload["userType"] != "both" {
		t.Fatalf("unexpected userType: %#v", payload["userType"])
	}
}

func TestRequireLoginRenewsStaleSession(t *testing.T) {
	m := NewManager(testConfig(), &stubAccounts{}, &stubAttempts{}, nil)
	// 作成時刻をタイムアウトより古くしておく
	router := newSessionRouter(m, time.Now().Add(-2*time.Hour))
	cookies := primeSession(t, router)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// 期限超過はログアウトではなく、作成時刻を更新して継続する
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d body=%s", rec.Code, rec.Body.String())
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("expected the session cookie to be re-issued on renewal")
	}
}
