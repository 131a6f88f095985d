package main

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestConnectRedisDisabled(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	tests := []struct {
		name string
		url  string
	}{
		{name: "empty url", url: ""},
		{name: "blank url", url: "   "},
		{name: "unparseable url", url: "not-a-redis-url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if client := connectRedis(context.Background(), tt.url, logger); client != nil {
				t.Fatalf("expected nil client for %q", tt.url)
			}
		})
	}
}
