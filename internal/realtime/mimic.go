package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paper-mimic/internal/capture"
	"paper-mimic/internal/config"
	"paper-mimic/internal/generation"
	"paper-mimic/internal/history"
	"paper-mimic/internal/protocol"
	"paper-mimic/internal/session"
)

const internalErrorMessage = "Internal server error during question generation"

// resourceError is a staging failure the client should see verbatim.
type resourceError struct {
	msg string
	err error
}

func (e *resourceError) Error() string { return e.msg }
func (e *resourceError) Unwrap() error { return e.err }

func newResourceError(err error, format string, args ...any) error {
	return &resourceError{msg: fmt.Sprintf(format, args...), err: err}
}

// handleMimic upgrades the connection and runs one streaming session.
func (s *Server) handleMimic(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "error", err)
		return
	}
	s.serveMimic(context.Background(), conn)
}

// mimicSession is the controller state of one connection.
type mimicSession struct {
	server *Server
	conn   *websocket.Conn
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue       *session.Queue
	pusher      *session.Pusher
	interceptor *capture.Interceptor

	idMu sync.Mutex
	id   string

	stopPing     chan struct{}
	readerDone   chan struct{}
	teardownOnce sync.Once
}

func (m *mimicSession) sessionID() string {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	return m.id
}

func (m *mimicSession) setState(state session.State) {
	if id := m.sessionID(); id != "" {
		m.server.sessionMgr.SetState(id, state)
	}
}

// Send implements session.Sender. It is only called from the pusher
// goroutine, the connection's single data writer.
func (m *mimicSession) Send(ev protocol.Event) error {
	data, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	m.conn.SetWriteDeadline(time.Now().Add(m.server.opts.WriteTimeout))
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	if id := m.sessionID(); id != "" {
		m.server.sessionMgr.Record(id, ev)
	}
	return nil
}

func (s *Server) serveMimic(parent context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parent)
	m := &mimicSession{
		server:     s,
		conn:       conn,
		logger:     s.logger.With("remote", conn.RemoteAddr().String()),
		ctx:        ctx,
		cancel:     cancel,
		stopPing:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	defer cancel()

	if s.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(s.opts.MaxMessageBytes)
	}
	if s.opts.InitTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.opts.InitTimeout))
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		m.logger.Debug("connection closed before init message", "error", err)
		close(m.readerDone)
		m.closeConn()
		return
	}
	conn.SetReadDeadline(time.Time{})

	m.queue = session.NewQueue(s.opts.QueueLimit)
	m.pusher = session.StartPusher(m.queue, m, m.logger)
	go m.watchPusher()
	go m.readLoop()
	go m.pingLoop()

	defer m.teardown()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("mimic session panicked", "panic", r, "stack", string(debug.Stack()))
			m.setState(session.StateError)
			m.queue.Enqueue(protocol.Error{Content: internalErrorMessage})
		}
	}()

	m.run(raw)
}

func (m *mimicSession) run(raw []byte) {
	s := m.server

	msg, err := protocol.ParseInitMessage(raw)
	if err != nil {
		m.logger.Info("rejected init message", "error", err)
		m.fail(err.Error())
		return
	}

	sess, err := s.sessionMgr.Register(session.Session{
		Mode:         msg.Mode,
		KBName:       msg.KBName,
		MaxQuestions: msg.Limit(),
	}, m.cancel)
	if err != nil {
		m.logger.Warn("session rejected", "error", err)
		m.fail(fmt.Sprintf("Cannot start session: %v", err))
		return
	}
	m.idMu.Lock()
	m.id = sess.ID
	m.idMu.Unlock()
	m.logger = m.logger.With("session_id", sess.ID)
	m.logger.Info("starting mimic generation", "mode", msg.Mode, "kb", msg.KBName)

	ctx := m.ctx
	if s.opts.Interception == config.InterceptGlobal {
		ic, err := capture.Install(ctx, m.queue)
		if err != nil {
			m.fail(fmt.Sprintf("Cannot start session: %v", err))
			return
		}
		m.interceptor = ic
	} else {
		m.interceptor = capture.NewScoped(m.queue, nil)
		ctx = m.interceptor.WithContext(ctx)
	}

	m.status("init", "Initializing...")

	m.setState(session.StateStaging)
	req, err := m.stage(msg)
	if err != nil {
		var rerr *resourceError
		if !errors.As(err, &rerr) {
			m.logger.Error("staging failed", "error", err)
		}
		m.fail(err.Error())
		return
	}
	s.sessionMgr.Update(sess.ID, func(ss *session.Session) {
		ss.Name = filepath.Base(req.OutputDir)
		ss.OutputDir = req.OutputDir
	})

	// The workflow reports parsing first; processing follows once the
	// paper is ready.
	req.OnPrepared = func() {
		m.status("processing", "Executing question generation workflow...")
	}
	m.setState(session.StateProcessing)

	runCtx := ctx
	if s.opts.WorkflowTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.WorkflowTimeout)
		defer cancel()
	}

	result := s.generator.Run(runCtx, req, session.NewProgressSink(m.queue))

	if m.ctx.Err() != nil {
		m.logger.Info("client disconnected during generation")
		return
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && !result.Success {
		m.fail(fmt.Sprintf("Generation timed out after %s", s.opts.WorkflowTimeout))
		return
	}
	if !result.Success {
		reason := result.Error
		if reason == "" {
			reason = "Unknown error"
		}
		m.logger.Error("mimic generation failed", "error", reason)
		m.fail(reason)
		return
	}

	m.logger.Info("mimic generation complete",
		"succeeded", len(result.GeneratedQuestions),
		"failed", len(result.FailedQuestions))
	m.setState(session.StateComplete)
	m.queue.Enqueue(protocol.Complete{})
}

// stage materializes the input: a decoded and persisted upload, or a
// resolved parsed paper directory. Both get a fresh output directory.
func (m *mimicSession) stage(msg *protocol.InitMessage) (generation.MimicRequest, error) {
	s := m.server
	req := generation.MimicRequest{
		KBName:       msg.KBName,
		MaxQuestions: msg.Limit(),
	}

	switch msg.Mode {
	case protocol.ModeUpload:
		pdfName := filepath.Base(strings.ReplaceAll(msg.PDFName, `\`, "/"))
		data, err := decodePDF(msg.PDFData)
		if err != nil {
			return req, newResourceError(err, "Invalid PDF data: %v", err)
		}

		_, dir, err := s.history.CreateSessionDir(pdfName)
		if err != nil {
			return req, newResourceError(err, "Failed to create output directory: %v", err)
		}
		req.OutputDir = dir

		m.status("upload", fmt.Sprintf("Saving PDF: %s", pdfName))
		pdfPath := filepath.Join(dir, pdfName)
		if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
			return req, newResourceError(err, "Failed to save PDF: %v", err)
		}
		m.logger.Info("saved uploaded PDF", "path", pdfPath, "bytes", len(data))
		req.PDFPath = pdfPath

	case protocol.ModeParsed:
		dir, err := resolvePaperDir(s.opts.ParsedDir, msg.PaperPath)
		if err != nil {
			return req, err
		}
		m.status("locate", fmt.Sprintf("Using parsed paper: %s", filepath.Base(dir)))
		req.PaperDir = dir

		_, out, err := s.history.CreateSessionDir(filepath.Base(dir))
		if err != nil {
			return req, newResourceError(err, "Failed to create output directory: %v", err)
		}
		req.OutputDir = out

	default:
		return req, fmt.Errorf("Unknown mode: %s", msg.Mode)
	}
	return req, nil
}

func decodePDF(data string) ([]byte, error) {
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+len(";base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, errors.New("empty file")
	}
	return decoded, nil
}

// resolvePaperDir resolves paperPath against root. With a root set, the
// result must stay inside it.
func resolvePaperDir(root, paperPath string) (string, error) {
	dir := filepath.Clean(paperPath)
	if root != "" {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return "", newResourceError(err, "Invalid parsed paper root: %v", err)
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(absRoot, dir)
		}
		rel, err := filepath.Rel(absRoot, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", newResourceError(history.ErrInvalidID, "paper_path must be inside the parsed papers directory")
		}
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", newResourceError(err, "Paper directory not found: %s", paperPath)
	}
	return dir, nil
}

func (m *mimicSession) status(stage, content string) {
	m.queue.Enqueue(protocol.Status{Stage: stage, Content: content})
}

func (m *mimicSession) fail(msg string) {
	m.setState(session.StateError)
	m.queue.Enqueue(protocol.Error{Content: msg})
}

// readLoop drains client frames so that control frames are processed and
// a disconnect is noticed. Data frames after the init message are
// ignored.
func (m *mimicSession) readLoop() {
	defer close(m.readerDone)

	interval := m.server.opts.PingInterval
	if interval > 0 {
		m.conn.SetReadDeadline(time.Now().Add(2 * interval))
		m.conn.SetPongHandler(func(string) error {
			m.conn.SetReadDeadline(time.Now().Add(2 * interval))
			return nil
		})
	}

	for {
		if _, _, err := m.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Debug("websocket read error", "error", err)
			}
			m.cancel()
			return
		}
	}
}

func (m *mimicSession) pingLoop() {
	interval := m.server.opts.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopPing:
			return
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(m.server.opts.WriteTimeout)
			if err := m.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				m.cancel()
				return
			}
		}
	}
}

// watchPusher treats a failed send as a disconnect.
func (m *mimicSession) watchPusher() {
	select {
	case <-m.pusher.Done():
		if m.pusher.Err() != nil {
			m.cancel()
		}
	case <-m.stopPing:
	}
}

// teardown stops interception, closes the queue, waits for the pusher
// to deliver what is pending, then closes the connection. It runs once.
func (m *mimicSession) teardown() {
	m.teardownOnce.Do(func() {
		if m.interceptor != nil {
			m.interceptor.Uninstall()
		}
		m.queue.Close()
		m.pusher.Stop(m.server.opts.DrainTimeout)
		close(m.stopPing)
		m.closeConn()
		<-m.readerDone
		m.cancel()

		if id := m.sessionID(); id != "" {
			m.server.sessionMgr.SetState(id, session.StateClosed)
			m.server.sessionMgr.Remove(id)
		}
		if n := m.queue.Dropped(); n > 0 {
			m.logger.Debug("events dropped", "count", n)
		}
		m.logger.Debug("session closed", "sent", m.pusher.Sent())
	})
}

func (m *mimicSession) closeConn() {
	deadline := time.Now().Add(time.Second)
	m.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	m.conn.Close()
}
