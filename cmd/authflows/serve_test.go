package main

import (
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-flows/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestFiberConfigIgnoresProxyHeadersByDefault(t *testing.T) {
	cfg := fiberConfig(config.Server{}, nil)

	assert.False(t, cfg.EnableTrustedProxyCheck)
	assert.Empty(t, cfg.ProxyHeader)
	assert.True(t, cfg.PassLocalsToViews)
}

func TestFiberConfigTrustedProxies(t *testing.T) {
	cfg := fiberConfig(config.Server{TrustedProxies: []string{"10.0.0.0/8"}}, nil)

	assert.True(t, cfg.EnableTrustedProxyCheck)
	assert.Equal(t, []string{"10.0.0.0/8"}, cfg.TrustedProxies)
	assert.Equal(t, fiber.HeaderXForwardedFor, cfg.ProxyHeader)

	cfg = fiberConfig(config.Server{TrustedProxies: []string{"127.0.0.1"}, ProxyHeader: "X-Real-Ip"}, nil)
	assert.Equal(t, "X-Real-Ip", cfg.ProxyHeader)
}
