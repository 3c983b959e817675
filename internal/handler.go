package internal

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Handler HTTP 請求處理器
//
// 只負責創建房間與加入前檢查，真正的加入走 WebSocket 的 join-room。
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	mux.HandleFunc("POST /api/v1/rooms", wrap(h.createRoom))
	mux.HandleFunc("POST /api/v1/rooms/{code}/join", wrap(h.checkJoin))
	mux.HandleFunc("GET /api/v1/rooms/{code}", wrap(h.getRoomState))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	// 客戶端效能回報（sendBeacon 友善）
	mux.HandleFunc("POST /perf-collect", wrap(h.perfCollect))

	return mux
}

type joinCheckRequest struct {
	PlayerID string `json:"playerId,omitempty"`
}

// createRoom 創建房間
func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	code, err := h.manager.CreateRoom()
	if err != nil {
		h.logger.Error("創建房間失敗", "error", err)
		h.errorResponse(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success":  true,
		"roomCode": code,
	}, http.StatusCreated)
}

// checkJoin 加入前檢查：房間不存在與房間已滿分開回報
func (h *Handler) checkJoin(w http.ResponseWriter, r *http.Request) {
	code := normalizeCode(r.PathValue("code"))

	var req joinCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.errorResponse(w, "無效的請求格式", http.StatusBadRequest)
		return
	}

	if err := h.manager.CheckJoin(code, req.PlayerID); err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrRoomNotFound):
			status = http.StatusNotFound
		case errors.Is(err, ErrRoomFull):
			status = http.StatusConflict
		}
		h.errorResponse(w, err.Error(), status)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success":  true,
		"roomCode": code,
	}, http.StatusOK)
}

// getRoomState 房間快照
func (h *Handler) getRoomState(w http.ResponseWriter, r *http.Request) {
	state, err := h.manager.RoomState(r.PathValue("code"))
	if err != nil {
		h.errorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	h.jsonResponse(w, state, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 統計資訊
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.manager.Stats(), http.StatusOK)
}

// maxPerfPayload 效能回報的 body 上限
const maxPerfPayload = 64 << 10

// perfCollect 收下客戶端的效能資料，只寫日誌
//
// sendBeacon 常以 text/plain 送出，所以不看 Content-Type：能解析成 JSON 物件就照物件記錄，
// 否則記錄原始文字。
func (h *Handler) perfCollect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPerfPayload))
	if err != nil {
		h.errorResponse(w, "invalid payload", http.StatusBadRequest)
		return
	}

	kind := "unknown"
	var payload any = string(body)

	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err == nil && fields != nil {
		payload = fields
		if t, ok := fields["type"].(string); ok && t != "" {
			kind = t
		}
	}

	h.logger.Info("perf-collect", "type", kind, "payload", payload)
	w.WriteHeader(http.StatusNoContent)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"success": false,
		"error":   message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
