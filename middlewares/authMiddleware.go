package middlewares

import (
	"net/http"
	"strings"

	"bitbucket.org/safeplayhq/inspect_backend/utils"
	"github.com/gin-gonic/gin"
)

// AuthMiddleware accepts a JWT bearer token as an alternative to the session
// token, for API clients that authenticate once and hold a signed claim set.
// It stamps the same context keys SessionMiddleware does, so handlers never
// care which path authenticated the request.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := strings.TrimSpace(c.Request.Header.Get("Authorization"))
		if auth == "" || !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
			c.Next()
			return
		}
		// Session tokens ride the "token" header; a request carrying both is
		// already authenticated and the bearer value is ignored.
		if c.Request.Header.Get("token") != "" {
			c.Next()
			return
		}

		validate, err := utils.JwtValidate(strings.TrimSpace(auth[len("bearer "):]))
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		claim, ok := validate.Claims.(*utils.JwtCustomClaim)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), claim.ID)
		if claim.Role == "A" {
			ctx = utils.SetIsAdminInContext(ctx, true)
		} else {
			ctx = utils.SetTenantIdInContext(ctx, claim.TenantID)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
