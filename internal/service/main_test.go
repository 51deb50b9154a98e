package service

import (
	"os"
	"testing"

	"go.uber.org/zap"

	"github.com/evalforge/evalforge/api/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}
