package console

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/BudEcosystem/bud-runtime-sub002/internal/live"
	"github.com/BudEcosystem/bud-runtime-sub002/internal/model"
)

// wsFilter is the client-sent filter message on the WebSocket. A paused
// client stays connected but receives no updates until it unpauses.
type wsFilter struct {
	Service    string `json:"service"`
	ErrorsOnly bool   `json:"errors_only"`
	Paused     bool   `json:"paused"`
}

// wsUpdate is the server-sent update message on the WebSocket. Spans
// carries only the arrivals since the last update for this client.
type wsUpdate struct {
	Generation uint64          `json:"generation"`
	Stats      live.Stats      `json:"stats"`
	Spans      []wsSpanSummary `json:"spans,omitempty"`
	Detail     *detailView     `json:"detail,omitempty"`
}

type wsSpanSummary struct {
	TraceID     string  `json:"trace_id"`
	SpanID      string  `json:"span_id"`
	Service     string  `json:"service"`
	Name        string  `json:"name"`
	DurationSec float64 `json:"duration_seconds"`
	OffsetSec   float64 `json:"start_offset_seconds"`
	Status      string  `json:"status"`
	HasError    bool    `json:"has_error"`
}

// MarshalJSON emits null for a NaN offset. encoding/json rejects NaN and
// a single malformed timestamp must not kill the whole update.
func (sum wsSpanSummary) MarshalJSON() ([]byte, error) {
	type alias wsSpanSummary
	aux := struct {
		alias
		OffsetSec any `json:"start_offset_seconds"`
	}{alias: alias(sum)}
	if !math.IsNaN(sum.OffsetSec) {
		aux.OffsetSec = sum.OffsetSec
	}
	return json.Marshal(aux)
}

// handleWebSocket upgrades to WebSocket and streams live-session deltas.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for localhost dev
	})
	if err != nil {
		return
	}
	defer conn.CloseNow()

	if s.mtr != nil {
		s.mtr.WSClients.Inc()
		defer s.mtr.WSClients.Dec()
	}

	ctx := r.Context()

	notifyCh, unsubscribe := s.session.Subscribe()
	defer unsubscribe()

	// Back up from the current arrival position so a fresh client gets
	// recent history on connect.
	const backfill = 50
	lastPos := max(0, s.session.ArrivalPos()-backfill)

	var filter wsFilter

	// Read filter messages from client in a goroutine
	filterCh := make(chan wsFilter, 4)
	go func() {
		defer close(filterCh)
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var f wsFilter
			if json.Unmarshal(data, &f) == nil {
				select {
				case filterCh <- f:
				default:
				}
			}
		}
	}()

	// Send initial state immediately
	lastGen := s.sendWSUpdate(ctx, conn, &lastPos, 0, filter, true)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "server shutting down")
			return

		case f, ok := <-filterCh:
			if !ok {
				// Client disconnected
				return
			}
			filter = f

		case <-notifyCh:
			if filter.Paused {
				continue
			}
			lastGen = s.sendWSUpdate(ctx, conn, &lastPos, lastGen, filter, false)

		case <-keepalive.C:
			if filter.Paused {
				continue
			}
			lastGen = s.sendWSUpdate(ctx, conn, &lastPos, lastGen, filter, true)
		}
	}
}

// buildWSUpdate assembles the arrival delta since lastPos and returns
// the position the caller should commit once the update is delivered.
func (s *Server) buildWSUpdate(lastPos int, filter wsFilter) (wsUpdate, int) {
	update := wsUpdate{
		Generation: s.session.Generation(),
		Stats:      s.session.Snapshot(),
	}

	curPos := s.session.ArrivalPos()
	if curPos > lastPos {
		for _, e := range s.session.ArrivalRange(lastPos, curPos-1) {
			if !matchesFilter(e, filter) {
				continue
			}
			update.Spans = append(update.Spans, wsSpanSummary{
				TraceID:     e.TraceID,
				SpanID:      e.SpanID,
				Service:     e.ServiceName,
				Name:        e.SpanName,
				DurationSec: e.Duration,
				OffsetSec:   e.StartOffsetSec,
				Status:      e.StatusCode,
				HasError:    e.HasException,
			})
		}
		lastPos = curPos
	}

	s.detailMu.RLock()
	update.Detail = s.detail
	s.detailMu.RUnlock()

	return update, lastPos
}

// sendWSUpdate builds and sends one JSON update. Returns the generation
// it sent so ticks with no changes can be skipped. Position and
// generation advance only after the write succeeds, so a failed send
// re-yields the same delta on the next attempt instead of dropping it.
func (s *Server) sendWSUpdate(ctx context.Context, conn *websocket.Conn,
	lastPos *int, lastGen uint64, filter wsFilter, force bool) uint64 {

	if !force && s.session.Generation() == lastGen {
		return lastGen
	}

	update, newPos := s.buildWSUpdate(*lastPos, filter)

	data, err := json.Marshal(update)
	if err != nil {
		return lastGen
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return lastGen
	}
	*lastPos = newPos
	return update.Generation
}

func matchesFilter(e *model.LogEntry, f wsFilter) bool {
	if f.Service != "" && e.ServiceName != f.Service {
		return false
	}
	if f.ErrorsOnly && !e.HasException {
		return false
	}
	return true
}
