// Package server exposes the interactive surface: a line-oriented TCP
// endpoint on loopback. Each line is either the literal "ping" or a
// JSON object with a "prompt" field; responses are single JSON lines.
// This is what the desktop shell talks to.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// promptTimeout bounds one conversation turn end to end.
const promptTimeout = 5 * time.Minute

// writeTimeout bounds one response write.
const writeTimeout = 10 * time.Second

// maxLineBytes caps one request line.
const maxLineBytes = 64 * 1024

// PromptHandler answers one user prompt. Satisfied by the mode
// controller.
type PromptHandler interface {
	HandlePrompt(ctx context.Context, prompt string) (string, error)
}

type request struct {
	Prompt string `json:"prompt"`
}

type response struct {
	Status   string `json:"status,omitempty"`
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Server accepts connections and routes prompts to the handler.
type Server struct {
	addr    string
	handler PromptHandler
	log     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a server for addr, which should stay on loopback.
func New(addr string, handler PromptHandler, log *zap.Logger) *Server {
	return &Server{addr: addr, handler: handler, log: log}
}

// ListenAndServe accepts connections until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("server listening", zap.String("addr", listener.Addr().String()))

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(ctx, conn)
		}()
	}
}

// Addr returns the bound address, empty before ListenAndServe.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.log.Debug("connection opened", zap.String("remote", remote))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		s.write(conn, s.handle(ctx, line))
		if ctx.Err() != nil {
			return
		}
	}
	s.log.Debug("connection closed", zap.String("remote", remote))
}

func (s *Server) handle(ctx context.Context, line string) response {
	if line == "ping" {
		return response{Status: "ok"}
	}

	var req request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return response{Error: "malformed request: " + err.Error()}
	}
	if req.Prompt == "" {
		return response{Error: "empty prompt"}
	}

	pctx, cancel := context.WithTimeout(ctx, promptTimeout)
	defer cancel()

	reply, err := s.handler.HandlePrompt(pctx, req.Prompt)
	if err != nil {
		s.log.Warn("prompt failed", zap.Error(err))
		return response{Error: err.Error()}
	}
	return response{Response: reply}
}

func (s *Server) write(conn net.Conn, resp response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("marshal failed", zap.Error(err))
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Warn("write failed", zap.Error(err))
	}
}
