// Package auth guards the daemon's admin routes and keeps the credentials
// used to replay queued writes.
package auth

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/nark2019/careerforgeai-sub001/pkg/types"
)

// ValidatorOptions selects where tokens and client CAs come from.
type ValidatorOptions struct {
	// Tokens are accepted in addition to those read from TokensFile.
	Tokens []string
	// TokensFile holds one token per line. A missing file is not an error.
	TokensFile string
	// ClientCAFile enables client certificate authentication when set.
	ClientCAFile string
}

// Validator handles authentication validation
type Validator struct {
	clientCAs      *x509.CertPool
	clientCALoaded bool            // Whether client CA certificates were loaded
	apiTokens      map[string]bool // Simple token validation
}

// NewValidator creates a new authentication validator
func NewValidator(opts ValidatorOptions) (*Validator, error) {
	validator := &Validator{
		clientCAs: x509.NewCertPool(),
		apiTokens: make(map[string]bool),
	}

	if err := validator.loadClientCAs(opts.ClientCAFile); err != nil {
		return nil, fmt.Errorf("failed to load client CAs: %w", err)
	}

	for _, token := range opts.Tokens {
		if token = strings.TrimSpace(token); token != "" {
			validator.apiTokens[token] = true
		}
	}
	if err := validator.loadAPITokens(opts.TokensFile); err != nil {
		return nil, fmt.Errorf("failed to load API tokens: %w", err)
	}

	if len(validator.apiTokens) == 0 && !validator.clientCALoaded {
		logrus.Warn("No API tokens or client CA configured; admin routes will reject every request")
	}
	return validator, nil
}

// loadClientCAs loads client certificate authorities
func (v *Validator) loadClientCAs(caCertPath string) error {
	if caCertPath == "" {
		return nil
	}

	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA cert: %w", err)
	}

	if !v.clientCAs.AppendCertsFromPEM(caCert) {
		return fmt.Errorf("failed to parse CA cert")
	}

	v.clientCALoaded = true
	return nil
}

// loadAPITokens loads API tokens for authentication
func (v *Validator) loadAPITokens(tokenFile string) error {
	if tokenFile == "" {
		return nil
	}

	content, err := os.ReadFile(tokenFile)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithField("file", tokenFile).Debug("API token file not found")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read API tokens: %w", err)
	}

	// Simple token list (one per line)
	for _, line := range strings.Split(string(content), "\n") {
		token := strings.TrimSpace(line)
		if token != "" && !strings.HasPrefix(token, "#") {
			v.apiTokens[token] = true
		}
	}

	return nil
}

// Middleware returns Gin middleware for authentication
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v.validateAPIToken(c) {
			c.Next()
			return
		}

		// Verified chains are only present when the TLS config checked them.
		if tlsState := c.Request.TLS; tlsState != nil && len(tlsState.VerifiedChains) > 0 {
			c.Next()
			return
		}

		c.AbortWithStatusJSON(http.StatusUnauthorized, types.ErrorResponse{
			Error:   "authentication required",
			Message: "provide valid API token or client certificate",
			Code:    http.StatusUnauthorized,
		})
	}
}

// validateAPIToken validates API token from Authorization or X-API-Token headers
func (v *Validator) validateAPIToken(c *gin.Context) bool {
	authHeader := c.GetHeader("Authorization")

	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && token != "" {
		return v.apiTokens[token]
	}

	token := c.GetHeader("X-API-Token")
	if token != "" {
		return v.apiTokens[token]
	}

	return false
}

// GetClientCAs returns the client CA certificate pool
func (v *Validator) GetClientCAs() *x509.CertPool {
	return v.clientCAs
}

// IsClientCALoaded returns whether client CA certificates were loaded
func (v *Validator) IsClientCALoaded() bool {
	return v.clientCALoaded
}
