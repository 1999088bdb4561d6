package protocol

import (
	"context"
	"sync"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Handler implements the kernel-side behavior for each Jupyter request the
// Protocol Adapter routes. Control-channel requests
// (Interrupt, Shutdown) MUST NOT block, since they are serviced on a
// goroutine distinct from the shell channel precisely so they can
// interleave with a long-running Execute.
type Handler interface {
	KernelInfo() KernelInfo
	Execute(ctx context.Context, r Receipt) error
	Complete(r Receipt) error
	Interrupt(r Receipt) error
	Shutdown(r Receipt, restart bool) error
	IsComplete(code string) (status, indent string)
}

// Server owns the socket group and dispatches incoming shell/control
// messages to a Handler.
type Server struct {
	sockets *SocketGroup
	handler Handler
	log     *zap.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer binds sockets for connInfo and returns a Server ready to Run.
func NewServer(connInfo ConnectionInfo, handler Handler, log *zap.Logger) (*Server, error) {
	sockets, err := BindSockets(connInfo)
	if err != nil {
		return nil, err
	}
	return &Server{sockets: sockets, handler: handler, log: log, stop: make(chan struct{})}, nil
}

// Stop signals Run's polling goroutines to exit and closes every socket.
// Safe to call more than once (shutdown_request stops the server and the
// entrypoint's deferred Stop runs after).
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		_ = s.sockets.Shell.Socket.Close()
		_ = s.sockets.Control.Socket.Close()
		_ = s.sockets.Stdin.Socket.Close()
		_ = s.sockets.IOPub.Socket.Close()
		_ = s.sockets.HB.Socket.Close()
	})
}

type wireResult struct {
	frames [][]byte
	err    error
}

// Run starts the heartbeat responder and polls the shell and control
// sockets on separate goroutines, dispatching parsed messages to
// the Handler until ctx is canceled or Stop is called.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.pollHeartbeat(ctx) })
	g.Go(func() error { return s.pollChannel(ctx, &s.sockets.Shell, s.dispatch) })
	g.Go(func() error { return s.pollChannel(ctx, &s.sockets.Control, s.dispatch) })

	return g.Wait()
}

func (s *Server) pollChannel(ctx context.Context, sck *Socket, handle func(ComposedMsg, [][]byte, *Socket)) error {
	msgs := make(chan wireResult)
	go func() {
		defer close(msgs)
		for {
			m, err := sck.Socket.Recv()
			var res wireResult
			if err != nil {
				res.err = err
			} else {
				res.frames = m.Frames
			}
			select {
			case msgs <- res:
			case <-s.stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stop:
			return nil
		case res, ok := <-msgs:
			if !ok {
				return nil
			}
			if res.err != nil {
				s.log.Warn("socket receive error", zap.Error(res.err))
				continue
			}
			msg, ids, err := FromWireMsg(res.frames, s.sockets.Key)
			if err != nil {
				s.log.Warn("dropping malformed message", zap.Error(err))
				continue
			}
			handle(msg, ids, sck)
		}
	}
}

func (s *Server) dispatch(msg ComposedMsg, ids [][]byte, origin *Socket) {
	receipt := Receipt{Msg: msg, Identities: ids, Sockets: s.sockets, Origin: origin}

	if err := receipt.PublishKernelStatus(StatusBusy); err != nil {
		s.log.Warn("publish busy status", zap.Error(err))
	}
	defer func() {
		if err := receipt.PublishKernelStatus(StatusIdle); err != nil {
			s.log.Warn("publish idle status", zap.Error(err))
		}
	}()

	var err error
	switch msg.Header.MsgType {
	case "kernel_info_request":
		err = receipt.Reply("kernel_info_reply", s.handler.KernelInfo())
	case "execute_request":
		err = s.handler.Execute(context.Background(), receipt)
	case "complete_request":
		err = s.handler.Complete(receipt)
	case "interrupt_request":
		err = s.handler.Interrupt(receipt)
	case "shutdown_request":
		restart, _ := contentBool(msg.Content, "restart")
		err = s.handler.Shutdown(receipt, restart)
		s.Stop()
	case "is_complete_request":
		code, _ := contentString(msg.Content, "code")
		status, indent := s.handler.IsComplete(code)
		err = receipt.Reply("is_complete_reply", IsCompleteReply{Status: status, Indent: indent})
	default:
		s.log.Info("unhandled message type", zap.String("msg_type", msg.Header.MsgType))
	}
	if err != nil {
		s.log.Error("handling message failed", zap.String("msg_type", msg.Header.MsgType), zap.Error(err))
	}
}

func (s *Server) pollHeartbeat(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := s.sockets.HB.Socket.Recv()
			if err != nil {
				errCh <- err
				return
			}
			err = s.sockets.HB.RunLocked(func(echo zmq4.Socket) error {
				return echo.Send(msg)
			})
			if err != nil {
				errCh <- err
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case <-s.stop:
		return nil
	case err := <-errCh:
		return err
	}
}

func contentString(content interface{}, key string) (string, bool) {
	m, ok := content.(map[string]interface{})
	if !ok {
		return "", false
	}
	v, ok := m[key].(string)
	return v, ok
}

func contentBool(content interface{}, key string) (bool, bool) {
	m, ok := content.(map[string]interface{})
	if !ok {
		return false, false
	}
	v, ok := m[key].(bool)
	return v, ok
}
