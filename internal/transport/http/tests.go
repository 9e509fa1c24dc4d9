package httptransport

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtester/backend/internal/domain"
	"mailtester/backend/internal/service"
	"mailtester/backend/internal/storage"
)

// TestsHandler 投递测试相关的 HTTP 处理逻辑。
type TestsHandler struct {
	inboxes *service.InboxService
	log     *zap.Logger
}

// NewTestsHandler 创建测试处理器。
func NewTestsHandler(inboxes *service.InboxService, log *zap.Logger) *TestsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TestsHandler{inboxes: inboxes, log: log}
}

// createTestRequest 创建测试的请求体，全部字段可选。
type createTestRequest struct {
	OwnerID string `json:"ownerId"`
}

// testView 对外的收件箱视图。
type testView struct {
	Inbox  *domain.TestInbox      `json:"inbox"`
	Report *domain.AnalysisReport `json:"report,omitempty"`
}

// Create 处理 POST /api/tests：生成一次性测试地址。
func (h *TestsHandler) Create(c *gin.Context) {
	var req createTestRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, "invalid request body")
			return
		}
	}

	input := service.CreateInput{OriginIP: c.ClientIP()}
	if owner := strings.TrimSpace(req.OwnerID); owner != "" {
		input.OwnerID = &owner
	}

	inbox, err := h.inboxes.Create(c.Request.Context(), input)
	if err != nil {
		h.log.Error("create test inbox failed", zap.Error(err))
		InternalError(c, "could not create test inbox")
		return
	}
	Created(c, testView{Inbox: inbox})
}

// Get 处理 GET /api/tests/:address：查询状态与报告。
func (h *TestsHandler) Get(c *gin.Context) {
	address := strings.ToLower(strings.TrimSpace(c.Param("address")))
	if address == "" || !strings.Contains(address, "@") {
		BadRequest(c, "invalid test address")
		return
	}

	result, err := h.inboxes.Lookup(address)
	if err != nil {
		if errors.Is(err, storage.ErrInboxNotFound) {
			NotFound(c, "test inbox not found")
			return
		}
		h.log.Error("lookup test inbox failed", zap.String("address", address), zap.Error(err))
		InternalError(c, "could not load test inbox")
		return
	}
	Success(c, testView{Inbox: result.Inbox, Report: result.Report})
}

// Trigger 处理 POST /api/tests/:address/trigger：补发分析触发。
func (h *TestsHandler) Trigger(c *gin.Context) {
	address := strings.ToLower(strings.TrimSpace(c.Param("address")))
	if address == "" || !strings.Contains(address, "@") {
		BadRequest(c, "invalid test address")
		return
	}

	if err := h.inboxes.Trigger(c.Request.Context(), address); err != nil {
		if errors.Is(err, storage.ErrInboxNotFound) {
			NotFound(c, "test inbox not found")
			return
		}
		h.log.Error("trigger analysis failed", zap.String("address", address), zap.Error(err))
		InternalError(c, "could not trigger analysis")
		return
	}
	Success(c, gin.H{"address": address})
}
