package exts

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

const (
	RoleMonitor = "monitor"
	RoleClient  = "client"
	RoleAdmin   = "admin"
	RoleSupport = "support"
)

var Roles = []string{RoleMonitor, RoleClient, RoleAdmin, RoleSupport}

// Identity is the verified caller, taken from the identity provider access token.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (v Identity) HasRole(roles ...string) bool {
	return lo.Contains(roles, v.Role)
}

func ParseIdentity(token string, secret []byte) (Identity, error) {
	var identity Identity
	if len(secret) == 0 {
		return identity, fmt.Errorf("jwt secret is not configured")
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})); err != nil {
		return identity, err
	}

	sub, err := claims.GetSubject()
	if err != nil || len(sub) == 0 {
		return identity, fmt.Errorf("token has no subject")
	}
	identity.ID = sub
	identity.Email, _ = claims["email"].(string)
	identity.Role = RoleMonitor
	if meta, ok := claims["user_metadata"].(map[string]any); ok {
		if role, ok := meta["role"].(string); ok && lo.Contains(Roles, role) {
			identity.Role = role
		}
		identity.Name, _ = meta["name"].(string)
	}

	return identity, nil
}

// Authenticate resolves the bearer token into c.Locals("user"). Requests
// without a token pass through anonymous, invalid tokens are rejected.
func Authenticate(c *fiber.Ctx) error {
	header := c.Get(fiber.HeaderAuthorization)
	if len(header) == 0 {
		return c.Next()
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid authorization header")
	}

	identity, err := ParseIdentity(strings.TrimSpace(token), []byte(viper.GetString("security.jwt_secret")))
	if err != nil {
		return fiber.NewError(fiber.StatusUnauthorized, err.Error())
	}
	c.Locals("user", identity)

	return c.Next()
}

func EnsureAuthenticated(c *fiber.Ctx) error {
	if _, ok := c.Locals("user").(Identity); !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return nil
}

func EnsureRole(c *fiber.Ctx, roles ...string) error {
	if err := EnsureAuthenticated(c); err != nil {
		return err
	}
	if user := c.Locals("user").(Identity); !user.HasRole(roles...) {
		return fiber.NewError(fiber.StatusForbidden, fmt.Sprintf("requires role %s", strings.Join(roles, " or ")))
	}
	return nil
}
