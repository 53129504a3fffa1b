package fake

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	erpauth "github.com/plazma-edu/erpauth-go"
	"github.com/plazma-edu/erpauth-go/api"
)

// NewServer builds a gin engine serving the ERP auth endpoints backed by
// store, plus a bearer-protected echo endpoint for exercising the
// intercepting transport. Mount it on httptest.NewServer in tests.
func NewServer(store *AccountStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.POST(api.SignInPath, func(c *gin.Context) {
		var req erpauth.SignInRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request"})
			return
		}

		result, err := store.SignIn(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	r.POST(api.RefreshPath+"/:userId", func(c *gin.Context) {
		result, err := store.Refresh(c.Request.Context(), c.Param("userId"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh rejected"})
			return
		}
		c.JSON(http.StatusOK, result)
	})

	// Stand-in for any protected ERP resource.
	r.GET("/api/me", func(c *gin.Context) {
		tok := bearerToken(c.Request)
		userID, ok := store.TokenValid(tok)
		if tok == "" || !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": userID})
	})

	return r
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}
