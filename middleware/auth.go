package middleware

import (
	"strings"

	"dapp_payroll/config"
	"dapp_payroll/types"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

func extractToken(c *fiber.Ctx) (string, error) {
	auth := c.Get("Authorization")
	if auth == "" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "No token provided")
	}

	parts := strings.Split(auth, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fiber.NewError(fiber.StatusUnauthorized, "Invalid token format")
	}

	return parts[1], nil
}

// RequireAuth validates the bearer JWT and exposes its claims and the raw token,
// which is forwarded to the ledger on the caller's behalf.
func RequireAuth(c *fiber.Ctx) error {
	token, err := extractToken(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(types.APIResponse{
			Success: false,
			Error:   err.Error(),
		})
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(config.AppConfig.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(types.APIResponse{
			Success: false,
			Error:   "Invalid or expired token",
		})
	}

	// Add claims to context for use in handlers
	c.Locals("claims", claims)
	c.Locals("token", token)
	c.Locals("user_id", claims["user_id"])
	c.Locals("role", claims["role"])

	return c.Next()
}

// RequireRoot must be mounted after RequireAuth.
func RequireRoot(c *fiber.Ctx) error {
	if role, _ := c.Locals("role").(string); role != "root" {
		return c.Status(fiber.StatusForbidden).JSON(types.APIResponse{
			Success: false,
			Error:   "Root access required",
		})
	}

	return c.Next()
}
