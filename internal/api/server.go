package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"shared-workers/internal/channel"
	"shared-workers/internal/events"
	"shared-workers/internal/logger"
	"shared-workers/internal/pool"
	"shared-workers/internal/reduce"
	"shared-workers/internal/task"
	"shared-workers/internal/workers"

	"golang.org/x/net/websocket"
)

// DefaultReceiveTimeout はロングポーリング受信のデフォルトタイムアウト
const DefaultReceiveTimeout = 30 * time.Second

// maxBodySize は受け付けるリクエストボディの上限
const maxBodySize = 1 << 20

// Server はAPIサーバー
type Server struct {
	addr string
	rt   *workers.Runtime

	mu        sync.RWMutex
	wsClients map[*websocket.Conn]bool

	server *http.Server
}

// NewServer は新しいAPIサーバーを作成する
func NewServer(addr string, rt *workers.Runtime) *Server {
	return &Server{
		addr:      addr,
		rt:        rt,
		wsClients: make(map[*websocket.Conn]bool),
	}
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/sum", s.handleSum)
	mux.HandleFunc("POST /api/channel/send", s.handleChannelSend)
	mux.HandleFunc("POST /api/channel/receive", s.handleChannelReceive)
	mux.HandleFunc("GET /api/map/{key}", s.handleMapGet)
	mux.HandleFunc("PUT /api/map/{key}", s.handleMapPut)
	mux.HandleFunc("GET /api/workers", s.handleWorkers)
	mux.HandleFunc("POST /api/workers/{id}/restart", s.handleWorkerRestart)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	// WebSocket
	mux.Handle("/ws", websocket.Handler(s.handleWebSocket))

	return mux
}

// Start はサーバーを開始し、ctx が終了するまでブロックする
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	// バックグラウンドでイベント配信
	go s.broadcastLoop(ctx)

	logger.Info("", "API Server starting on http://%s", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// StatusResponse はステータスレスポンス
type StatusResponse struct {
	Initialized bool   `json:"initialized"`
	Workers     int    `json:"workers"`
	Ready       int    `json:"ready"`
	Pending     int    `json:"pending"`
	Region      string `json:"region,omitempty"`
	Image       string `json:"image,omitempty"`
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{Initialized: s.rt.Initialized()}
	if m := s.rt.Pool(); m != nil {
		resp.Workers = m.Size()
		resp.Ready = m.ReadyCount()
		resp.Pending = m.PendingCount()
		resp.Region = m.Region().ID().String()
		resp.Image = m.Region().Image().String()
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status())
}

// SumRequest は総和リクエスト。From/To を省略するとデフォルト区間を使う
type SumRequest struct {
	From    *int64 `json:"from,omitempty"`
	To      *int64 `json:"to,omitempty"`
	Retries int    `json:"retries,omitempty"`
}

// SumResponse は総和レスポンス
type SumResponse struct {
	Range   string `json:"range"`
	Sum     int64  `json:"sum"`
	Elapsed string `json:"elapsed"`
}

func (s *Server) handleSum(w http.ResponseWriter, r *http.Request) {
	var req SumRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rg := reduce.DefaultRange
	if req.From != nil || req.To != nil {
		if req.From == nil || req.To == nil || *req.From > *req.To {
			http.Error(w, "from and to must both be set with from <= to", http.StatusBadRequest)
			return
		}
		rg = task.Range{From: *req.From, To: *req.To}
		if err := rg.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	start := time.Now()
	var sum int64
	var err error
	if req.Retries > 0 {
		sum, err = s.rt.SumWithRetry(r.Context(), rg, req.Retries+1)
	} else {
		sum, err = s.rt.SumRangeInWorkers(rg).Await(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, SumResponse{
		Range:   rg.String(),
		Sum:     sum,
		Elapsed: time.Since(start).String(),
	})
}

func (s *Server) handleChannelSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.rt.SendToChannel(body); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// handleChannelReceive は値が届くまで待つ（ロングポーリング）。
// タイムアウトした場合は待機登録を取り消して 204 を返す
func (s *Server) handleChannelReceive(w http.ResponseWriter, r *http.Request) {
	timeout := DefaultReceiveTimeout
	if q := r.URL.Query().Get("timeout"); q != "" {
		d, err := time.ParseDuration(q)
		if err != nil || d <= 0 {
			http.Error(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	f := s.rt.ReceiveFromChannel()
	v, err := f.Await(ctx)
	if err != nil && ctx.Err() != nil && f.Cancel() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil && ctx.Err() != nil {
		// 取り消し前に値が渡されていた
		v, err, _ = f.Result()
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(v)
}

func (s *Server) handleMapGet(w http.ResponseWriter, r *http.Request) {
	if !s.rt.Initialized() {
		s.writeError(w, workers.ErrNotInitialized)
		return
	}
	v, ok := s.rt.GetFromMap(r.PathValue("key"))
	if !ok {
		http.Error(w, "Key not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(v)
}

func (s *Server) handleMapPut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.rt.AddToMap(r.PathValue("key"), body); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	m := s.rt.Pool()
	if m == nil {
		s.writeError(w, workers.ErrNotInitialized)
		return
	}
	s.writeJSON(w, http.StatusOK, m.Workers())
}

func (s *Server) handleWorkerRestart(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid worker id", http.StatusBadRequest)
		return
	}
	if err := s.rt.Restart(r.Context(), pool.WorkerID(id)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "restarted", "worker": id})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	mt := s.rt.Metrics()
	if mt == nil {
		http.Error(w, "Metrics disabled", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, mt.Snapshot())
}

// WebSocket handling
func (s *Server) handleWebSocket(ws *websocket.Conn) {
	s.mu.Lock()
	s.wsClients[ws] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.wsClients, ws)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	// Keep connection alive
	for {
		var msg string
		if err := websocket.Message.Receive(ws, &msg); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.wsClients)
}

func (s *Server) broadcast(data any) {
	s.mu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.wsClients))
	for ws := range s.wsClients {
		clients = append(clients, ws)
	}
	s.mu.RUnlock()

	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}

	for _, ws := range clients {
		_ = websocket.Message.Send(ws, string(jsonData))
	}
}

// broadcastLoop はプールのイベントと定期的なステータスを WebSocket クライアントに配信する
func (s *Server) broadcastLoop(ctx context.Context) {
	var evCh <-chan events.Event
	if bus := s.rt.Events(); bus != nil {
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)
		evCh = ch
	}

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evCh:
			if !ok {
				evCh = nil
				continue
			}
			s.broadcast(map[string]any{
				"type":  "event",
				"event": ev,
			})
		case <-ticker.C:
			if s.clientCount() == 0 {
				continue
			}
			s.broadcast(map[string]any{
				"type":   "status",
				"status": s.status(),
			})
		}
	}
}

// statusFor はエラーに対応する HTTP ステータスを返す
func statusFor(err error) int {
	switch {
	case errors.Is(err, workers.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, pool.ErrPoolClosed), errors.Is(err, channel.ErrChannelClosed):
		return http.StatusGone
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pool.ErrNoEligibleWorker):
		return http.StatusServiceUnavailable
	case errors.Is(err, task.ErrRangeTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrSumOverflow):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		logger.Error("", "Request failed: %v", err)
	}
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("", "Failed to encode JSON: %v", err)
	}
}
