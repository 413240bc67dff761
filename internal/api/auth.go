package api

import (
	"net"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// requireAuth guards destructive endpoints with the configured bearer
// token. An empty token hash disables the guard entirely, which is the
// expected state for a kiosk on a closed ward network.
func (s *Server) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		security := &s.settings.Security
		if security.BearerTokenHash == "" {
			return next(ctx)
		}
		if s.fromAllowedSubnet(ctx.RealIP()) {
			return next(ctx)
		}

		token, ok := bearerToken(ctx.Request().Header.Get("Authorization"))
		if !ok {
			return ctx.JSON(http.StatusUnauthorized, map[string]string{
				"error": "authorization required",
			})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(security.BearerTokenHash), []byte(token)); err != nil {
			s.logger.Warn("rejected API token",
				"ip", ctx.RealIP(),
				"path", ctx.Request().URL.Path)
			return ctx.JSON(http.StatusUnauthorized, map[string]string{
				"error": "invalid token",
			})
		}
		return next(ctx)
	}
}

// bearerToken extracts the credential from an Authorization header.
func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// fromAllowedSubnet reports whether the client address falls inside a
// configured bypass subnet. Loopback is always trusted once bypass is
// enabled; the subnet list is comma separated CIDR ranges.
func (s *Server) fromAllowedSubnet(ipStr string) bool {
	bypass := s.settings.Security.AllowSubnetBypass
	if !bypass.Enabled || ipStr == "" {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	for _, cidr := range strings.Split(bypass.Subnet, ",") {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		_, subnet, err := net.ParseCIDR(cidr)
		if err != nil {
			s.logger.Warn("unparseable bypass subnet", "cidr", cidr, "error", err)
			continue
		}
		if subnet.Contains(ip) {
			return true
		}
	}
	return false
}
