package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/lodestar-dev/lodestar/internal/logging"
	"github.com/lodestar-dev/lodestar/internal/protocol"
)

// maxRequestBytes bounds one request line. Message bodies top out at
// 16 KiB, so anything near this is malformed input, not real use.
const maxRequestBytes = 1 << 20

// Server speaks the serve transport: one JSON request per line on in,
// one envelope per line on out. Requests run concurrently and
// responses may interleave out of order; request_id is the
// correlation key. There is no daemon and no socket - the process
// lives exactly as long as its stdin.
type Server struct {
	dispatcher *Dispatcher
	in         io.Reader

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

// NewServer wires a dispatcher to a request stream.
func NewServer(d *Dispatcher, in io.Reader, out io.Writer) *Server {
	return &Server{dispatcher: d, in: in, out: out}
}

// Run reads requests until in reaches EOF, then drains in-flight
// handlers and returns. Cancelling ctx aborts handlers mid-flight but
// cannot unblock a pending read; closing stdin is the shutdown signal.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestBytes)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		// The scanner reuses its buffer across Scan calls; the handler
		// goroutine needs its own copy.
		frame := make([]byte, len(line))
		copy(frame, line)

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.write(s.handleFrame(ctx, frame))
		}()
	}
	wg.Wait()

	if err := scanner.Err(); err != nil {
		if err == bufio.ErrTooLong {
			return fmt.Errorf("request exceeds %d bytes", maxRequestBytes)
		}
		return fmt.Errorf("reading requests: %w", err)
	}
	logging.Logf("serve: stdin closed, session over")
	return nil
}

func (s *Server) handleFrame(ctx context.Context, frame []byte) *protocol.Envelope {
	var req protocol.Request
	if err := json.Unmarshal(frame, &req); err != nil {
		return protocol.Fail(protocol.Invalid("request", "each line must be one JSON object: "+err.Error()))
	}
	if req.Operation == "" {
		return protocol.Fail(protocol.Invalid("operation", "is required"))
	}
	return s.dispatcher.Handle(ctx, &req)
}

func (s *Server) write(env *protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		// Envelope of last resort: the payload would not serialize.
		data, _ = json.Marshal(protocol.Fail(
			protocol.NewError(protocol.CodeUnknown, "response serialization failed: %v", err)))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.out.Write(data)
	_, _ = s.out.Write([]byte{'\n'})
}
