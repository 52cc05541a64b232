package interfaces

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"seckill/internal/pkg/logger"
	"seckill/internal/service/seckill/application"
	"seckill/internal/service/seckill/domain"
)

const (
	// 浏览器端登录后写入的 cookie，没有 Authorization 头时使用
	credentialCookie = "LY_TOKEN"
	// 运维接口的口令头
	adminTokenHeader = "X-Admin-Token"
)

// SeckillHandler 封装了秒杀服务的 HTTP 处理器
type SeckillHandler struct {
	service    *application.SeckillService
	adminToken string
}

// NewSeckillHandler 创建一个新的 HTTP 处理器实例。
// adminToken 为空时不暴露窗口激活接口。
func NewSeckillHandler(service *application.SeckillService, adminToken string) *SeckillHandler {
	return &SeckillHandler{service: service, adminToken: adminToken}
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *SeckillHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /seckill/get_path/{goodsId}", h.handleGetPath)
	mux.HandleFunc("POST /seckill/{path}/seck", h.handleSeckill)
	mux.HandleFunc("GET /seckill/orderId", h.handleCheckOrder)
	mux.HandleFunc("GET /seckill/list", h.handleList)
	if h.adminToken != "" {
		mux.HandleFunc("POST /seckill/window/activate", h.handleActivate)
	}
}

func (h *SeckillHandler) currentUser(w http.ResponseWriter, r *http.Request) (*domain.UserInfo, bool) {
	credential := r.Header.Get("Authorization")
	if credential == "" {
		if c, err := r.Cookie(credentialCookie); err == nil {
			credential = c.Value
		}
	}
	user, err := h.service.Authenticate(r.Context(), credential)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
		} else {
			logger.Ctx(r.Context()).Error().Err(err).Msg("auth service call failed")
			http.Error(w, domain.ErrSystemBusy.Error(), http.StatusServiceUnavailable)
		}
		return nil, false
	}
	return user, true
}

func (h *SeckillHandler) handleGetPath(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(extract(r))

	goodsID, err := strconv.ParseInt(r.PathValue("goodsId"), 10, 64)
	if err != nil {
		http.Error(w, "invalid goodsId", http.StatusBadRequest)
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	resp, err := h.service.RequestToken(r.Context(), user, goodsID)
	if err != nil {
		var statusCode int
		switch {
		case errors.Is(err, domain.ErrUnauthorized):
			statusCode = http.StatusUnauthorized
		case errors.Is(err, domain.ErrRateLimited):
			statusCode = http.StatusTooManyRequests
		case errors.Is(err, domain.ErrNotEligible):
			statusCode = http.StatusNotFound
		default:
			statusCode = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), statusCode)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SeckillHandler) handleSeckill(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(extract(r))

	var body application.PurchaseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	decision := h.service.AttemptPurchase(r.Context(), domain.PurchaseRequest{
		Token:   r.PathValue("path"),
		UserID:  user.ID,
		GoodsID: body.GoodsID,
		SkuID:   body.SkuID,
	})

	if decision.IsAdmitted() {
		writeJSON(w, http.StatusOK, application.PurchaseResponse{Status: "queued", IntentID: decision.Intent.IntentID})
		return
	}
	// sold_out 是正常结果，和 system_busy 用不同的状态码区分
	var statusCode int
	switch err := decision.Err(); {
	case errors.Is(err, domain.ErrSoldOut):
		statusCode = http.StatusOK
	case errors.Is(err, domain.ErrBadToken), errors.Is(err, domain.ErrNotEligible):
		statusCode = http.StatusNotFound
	default:
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, application.PurchaseResponse{Status: string(decision.Reason)})
}

func (h *SeckillHandler) handleCheckOrder(w http.ResponseWriter, r *http.Request) {
	r = r.WithContext(extract(r))

	user, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	orderID, err := h.service.CheckOrder(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"orderId": orderID})
}

func (h *SeckillHandler) handleList(w http.ResponseWriter, r *http.Request) {
	goods, err := h.service.ListGoods(extract(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, goods)
}

// handleActivate 是运维接口，需要 X-Admin-Token。
// force=true 时整体重写账本，窗口正在售卖时返回 409。
func (h *SeckillHandler) handleActivate(w http.ResponseWriter, r *http.Request) {
	ctx := extract(r)
	if subtle.ConstantTimeCompare([]byte(r.Header.Get(adminTokenHeader)), []byte(h.adminToken)) != 1 {
		logger.Ctx(ctx).Warn().Str("remote", r.RemoteAddr).Msg("🚫 window activation without a valid admin token")
		http.Error(w, domain.ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	resp, err := h.service.Activate(ctx, force)
	if err != nil {
		if errors.Is(err, domain.ErrWindowSelling) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func extract(r *http.Request) context.Context {
	return otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
