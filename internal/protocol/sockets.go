package protocol

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
)

// ConnectionInfo stores the contents of the kernel connection file that
// Jupyter writes before launching the kernel process.
type ConnectionInfo struct {
	SignatureScheme string `json:"signature_scheme"`
	Transport       string `json:"transport"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	IOPubPort       int    `json:"iopub_port"`
	HBPort          int    `json:"hb_port"`
	ShellPort       int    `json:"shell_port"`
	Key             string `json:"key"`
	IP              string `json:"ip"`
}

// Socket pairs a zmq socket with the mutex that serializes writes to it.
// Only one goroutine may Send on a zmq socket at a time.
type Socket struct {
	Socket zmq4.Socket
	mu     sync.Mutex
}

// RunLocked acquires the socket's lock, runs fn, and releases it.
func (s *Socket) RunLocked(fn func(zmq4.Socket) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.Socket)
}

// SocketGroup holds every socket the kernel communicates over plus the
// signing key shared across them.
type SocketGroup struct {
	Shell   Socket
	Control Socket
	Stdin   Socket
	IOPub   Socket
	HB      Socket
	Key     []byte
}

// BindSockets creates and binds the five Jupyter sockets described by
// connInfo.
func BindSockets(connInfo ConnectionInfo) (*SocketGroup, error) {
	ctx := context.Background()
	sg := &SocketGroup{
		Key: []byte(connInfo.Key),
	}
	sg.Shell.Socket = zmq4.NewRouter(ctx)
	sg.Control.Socket = zmq4.NewRouter(ctx)
	sg.Stdin.Socket = zmq4.NewRouter(ctx)
	sg.IOPub.Socket = zmq4.NewPub(ctx)
	sg.HB.Socket = zmq4.NewRep(ctx)

	address := fmt.Sprintf("%v://%v:%%v", connInfo.Transport, connInfo.IP)
	binds := []struct {
		name string
		sck  zmq4.Socket
		port int
	}{
		{"shell", sg.Shell.Socket, connInfo.ShellPort},
		{"control", sg.Control.Socket, connInfo.ControlPort},
		{"stdin", sg.Stdin.Socket, connInfo.StdinPort},
		{"iopub", sg.IOPub.Socket, connInfo.IOPubPort},
		{"heartbeat", sg.HB.Socket, connInfo.HBPort},
	}
	for _, b := range binds {
		if err := b.sck.Listen(fmt.Sprintf(address, b.port)); err != nil {
			return nil, errors.Wrapf(err, "could not listen on %s socket", b.name)
		}
	}
	return sg, nil
}
