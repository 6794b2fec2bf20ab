package main

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/Gabriel171203/flowershop-project/internal/config"
)

func TestRun_ReturnsErrorWithoutKafka(t *testing.T) {
	err := run(config.Config{ServiceName: "flowershop"}, "flowershop-worker", zap.NewNop())
	if err == nil {
		t.Fatal("expected error when no brokers are configured")
	}
	if !strings.Contains(err.Error(), "KAFKA_BROKERS") {
		t.Errorf("expected error to name KAFKA_BROKERS, got %v", err)
	}
}
