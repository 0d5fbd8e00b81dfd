package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"obsim/internal/depth"
	"obsim/internal/metrics"
	"obsim/internal/sim"
)

const maxBody = 1 << 20

type HTTPServer struct {
	sim *sim.Simulator
	met *metrics.Metrics
	log *slog.Logger
	mux *http.ServeMux
}

func NewHTTPServer(s *sim.Simulator, m *metrics.Metrics, logger *slog.Logger) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &HTTPServer{
		sim: s,
		met: m,
		log: logger,
		mux: http.NewServeMux(),
	}
	srv.routes()
	return srv
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/ws", s.serveWS)

	s.mux.HandleFunc("/isRunning", s.apiIsRunning)
	s.mux.HandleFunc("/snapshot", s.apiSnapshot)
	s.mux.HandleFunc("/setSnapshot", s.apiSetSnapshot)
	s.mux.HandleFunc("/addLevel", s.apiAddLevel)
	s.mux.HandleFunc("/removeLevel", s.apiRemoveLevel)
	s.mux.HandleFunc("/sendIncrementalUpdate", s.apiFlush)
	s.mux.HandleFunc("/generateIncrement", s.apiFlush)
	s.mux.HandleFunc("/disconnectSubscriber", s.apiDisconnect)
	s.mux.HandleFunc("/subscriberCount", s.apiSubscriberCount)
	s.mux.HandleFunc("/processPendingSnapshotRequests", s.apiRelease)
	s.mux.HandleFunc("/releasePendingSnapshotRequests", s.apiRelease)

	if s.met != nil {
		s.mux.Handle("/metrics", s.met.Handler())
	}
}

func (s *HTTPServer) apiIsRunning(w http.ResponseWriter, r *http.Request) {
	mode := "autonomous"
	if s.sim.OnDemand() {
		mode = "on_demand"
	}
	writeJSON(w, map[string]any{
		"ok":      true,
		"running": s.sim.Running(),
		"mode":    mode,
		"symbol":  s.sim.Symbol(),
	})
}

// GET /snapshot blocks on demand until the harness releases pending requests.
func (s *HTTPServer) apiSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.sim.Snapshot(r.Context())
	switch {
	case errors.Is(err, sim.ErrBarrierClosed):
		writeError(w, http.StatusServiceUnavailable, "simulator shutting down")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Debug("snapshot request abandoned", slog.String("err", err.Error()))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, snap.Message())
}

// POST /setSnapshot accepts the snapshot envelope or its bare data object.
func (s *HTTPServer) apiSetSnapshot(w http.ResponseWriter, r *http.Request) {
	if !requirePOST(w, r) {
		return
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	snap, err := depth.DecodeSnapshot(b)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sim.SetSnapshot(snap); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true, "sequence": strconv.FormatUint(snap.Sequence, 10)})
}

// levelRequest is the body of /addLevel and /removeLevel. The harness sends
// every field as a string, e.g. {"isBid":"True","price":"99","size":"3"}.
type levelRequest struct {
	IsBid *flexBool           `json:"isBid"`
	Price decimal.NullDecimal `json:"price"`
	Size  decimal.NullDecimal `json:"size"`
}

func (req levelRequest) side() depth.Side {
	if *req.IsBid {
		return depth.Bid
	}
	return depth.Ask
}

func decodeLevel(r *http.Request, needSize bool) (levelRequest, error) {
	var req levelRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBody)).Decode(&req); err != nil {
		return req, fmt.Errorf("bad json: %w", err)
	}
	switch {
	case req.IsBid == nil:
		return req, errors.New("isBid required")
	case !req.Price.Valid:
		return req, errors.New("price required")
	case needSize && !req.Size.Valid:
		return req, errors.New("size required")
	}
	return req, nil
}

func (s *HTTPServer) apiAddLevel(w http.ResponseWriter, r *http.Request) {
	if !requirePOST(w, r) {
		return
	}
	req, err := decodeLevel(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := s.sim.AddLevel(req.side(), req.Price.Decimal, req.Size.Decimal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, map[string]any{
		"ok":       true,
		"side":     req.side().String(),
		"entry":    e,
		"sequence": strconv.FormatUint(e.Sequence, 10),
	})
}

func (s *HTTPServer) apiRemoveLevel(w http.ResponseWriter, r *http.Request) {
	if !requirePOST(w, r) {
		return
	}
	req, err := decodeLevel(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, found := s.sim.RemoveLevel(req.side(), req.Price.Decimal)
	resp := map[string]any{"ok": true, "side": req.side().String(), "found": found}
	if found {
		resp["entry"] = e
		resp["sequence"] = strconv.FormatUint(e.Sequence, 10)
	}
	writeJSON(w, resp)
}

// flush pushes buffered diffs to the subscriber and echoes them back.
func (s *HTTPServer) apiFlush(w http.ResponseWriter, r *http.Request) {
	inc, ok, err := s.sim.Flush()
	if err != nil {
		s.log.Error("flush", slog.String("err", err.Error()))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := map[string]any{"ok": true, "sent": ok, "increment": nil}
	if ok {
		resp["increment"] = inc.Message(s.sim.Symbol())
	}
	writeJSON(w, resp)
}

func (s *HTTPServer) apiDisconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "disconnected": s.sim.Disconnect()})
}

func (s *HTTPServer) apiSubscriberCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "count": s.sim.SubscriberCount()})
}

func (s *HTTPServer) apiRelease(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ok": true, "released": s.sim.ReleasePending()})
}

// flexBool accepts JSON booleans as well as "True"/"false"/"1" strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid boolean %s", data)
	}
	*b = flexBool(v)
	return nil
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
