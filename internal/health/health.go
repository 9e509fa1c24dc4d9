package health

import (
	"net/http"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"

	"mailtester/backend/internal/storage"
)

// Pingable 队列等可探活的外部依赖。
type Pingable interface {
	Health() error
}

// Checker 健康检查器
type Checker struct {
	handler healthcheck.Handler
	log     *zap.Logger
}

// NewChecker 创建健康检查器。
//
// 存储是存活检查，队列可选，为 nil 时跳过。
func NewChecker(store storage.Store, queue Pingable, log *zap.Logger) *Checker {
	if log == nil {
		log = zap.NewNop()
	}

	handler := healthcheck.NewHandler()
	handler.AddLivenessCheck("storage", store.Health)
	if queue != nil {
		handler.AddReadinessCheck("queue", queue.Health)
	}

	return &Checker{handler: handler, log: log}
}

// Handler 返回健康检查处理器，暴露 /live 与 /ready。
func (c *Checker) Handler() http.Handler {
	return c.handler
}
