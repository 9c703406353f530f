package livepredict

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/livefir/livepredict/internal/template"
	"github.com/livefir/livepredict/internal/wire"
)

// maxPending bounds the predictions a connection keeps for verification
const maxPending = 256

type handlerConfig struct {
	upgrader *websocket.Upgrader
	auth     Authenticator
}

// HandlerOption configures the websocket handler
type HandlerOption func(*handlerConfig)

// WithUpgrader sets a custom WebSocket upgrader
func WithUpgrader(upgrader *websocket.Upgrader) HandlerOption {
	return func(c *handlerConfig) {
		c.upgrader = upgrader
	}
}

// WithSubjectParam names the query parameter carrying the subject id.
// Connections without it get a random subject.
func WithSubjectParam(name string) HandlerOption {
	return func(c *handlerConfig) {
		c.auth = &QueryAuthenticator{Param: name}
	}
}

// WithAuthenticator sets how connections are mapped to subjects
func WithAuthenticator(auth Authenticator) HandlerOption {
	return func(c *handlerConfig) {
		c.auth = auth
	}
}

// Handler returns an http.Handler serving one subject per websocket
// connection. Clients send change, observe and schema messages; the
// engine answers with predictions, misses, verifications and corrections.
// The subject is torn down when its last connection closes.
func (e *Engine) Handler(opts ...HandlerOption) http.Handler {
	config := handlerConfig{
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		auth: &QueryAuthenticator{Param: "subject"},
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &wsHandler{engine: e, config: config}
}

type wsHandler struct {
	engine *Engine
	config handlerConfig
}

// connState holds the predictions awaiting verification on one
// connection, oldest first
type connState struct {
	handle  Handle
	pending map[string]*Prediction
	order   []string
}

func (c *connState) remember(p *Prediction) {
	if len(c.order) >= maxPending {
		delete(c.pending, c.order[0])
		c.order = c.order[1:]
	}
	c.pending[p.ID] = p
	c.order = append(c.order, p.ID)
}

func (c *connState) take(id string) *Prediction {
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	for i, pid := range c.order {
		if pid == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return p
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}

	subjectID, err := h.config.auth.Subject(r)
	if errors.Is(err, ErrUnauthorized) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	if err != nil {
		h.engine.logger.Error("authentication failed", "err", err)
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	conn, err := h.config.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.engine.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.engine.config.Server.ReadLimit)

	logger := h.engine.logger.With("subject", subjectID, "remote", conn.RemoteAddr().String())

	handle, err := h.engine.Open(subjectID)
	if err != nil {
		logger.Warn("failed to open subject", "err", err)
		_ = writeMessage(conn, &wire.Error{Error: err.Error()})
		return
	}
	defer func() {
		if err := h.engine.Teardown(handle); err != nil && !errors.Is(err, ErrStaleHandle) {
			logger.Warn("teardown failed", "err", err)
		}
	}()

	if err := writeMessage(conn, &wire.Hello{Subject: handle.Subject, Generation: handle.Generation}); err != nil {
		logger.Warn("failed to send hello", "err", err)
		return
	}
	logger.Info("client connected")

	state := &connState{handle: handle, pending: make(map[string]*Prediction)}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket error", "err", err)
			}
			break
		}

		reply := h.handle(state, data)
		if reply == nil {
			continue
		}
		if err := writeMessage(conn, reply); err != nil {
			logger.Warn("websocket write failed", "err", err)
			break
		}
	}

	logger.Info("client disconnected")
}

// handle processes one client message and returns the reply
func (h *wsHandler) handle(state *connState, data []byte) any {
	msg, err := wire.Decode(data)
	if err != nil {
		return &wire.Error{Error: err.Error()}
	}

	switch m := msg.(type) {
	case *wire.Change:
		h.engine.metrics.RecordMessage(string(wire.TypeChange))
		m.Change.SubjectID = state.handle.Subject
		pred, err := h.engine.Predict(state.handle, m.Change, m.State)
		if err != nil {
			return &wire.Miss{Ref: m.Ref, Reason: template.Reason(err)}
		}
		state.remember(pred)
		return &wire.Prediction{
			Ref:          m.Ref,
			PredictionID: pred.ID,
			Rule:         pred.Rule,
			Confidence:   pred.Confidence,
			Patches:      pred.Patches,
		}

	case *wire.Observe:
		h.engine.metrics.RecordMessage(string(wire.TypeObserve))
		m.Change.SubjectID = state.handle.Subject
		obs := Observation{Change: m.Change, State: m.State, OldTree: m.OldTree, NewTree: m.NewTree}
		out, err := h.engine.Verify(state.handle, obs, state.take(m.PredictionID))
		if err != nil {
			return &wire.Error{Ref: m.Ref, Error: err.Error()}
		}
		if out.Mismatch {
			return &wire.Correction{
				Ref:          m.Ref,
				PredictionID: out.PredictionID,
				Patches:      out.Correction,
				Reason:       template.Reason(out.Err),
				Learned:      out.Learned,
			}
		}
		return &wire.Verified{Ref: m.Ref, PredictionID: out.PredictionID, Hit: out.Hit, Learned: out.Learned}

	case *wire.Schema:
		h.engine.metrics.RecordMessage(string(wire.TypeSchema))
		if err := h.engine.SetSchema(state.handle, m.Fields...); err != nil {
			return &wire.Error{Error: err.Error()}
		}
		return nil
	}
	return &wire.Error{Error: "unhandled message"}
}

func writeMessage(conn *websocket.Conn, msg any) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}
