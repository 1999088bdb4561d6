package protocol

import (
	"io"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
)

// Receipt wraps an inbound ComposedMsg together with everything needed to
// reply to it or publish related messages on the IOPub channel: the
// routing identities, the socket the message arrived on, and the socket
// group to send over.
type Receipt struct {
	Msg        ComposedMsg
	Identities [][]byte
	Sockets    *SocketGroup

	// Origin is the socket the request arrived on; replies go back on
	// it so control-channel requests (interrupt, shutdown) are answered
	// on the control channel, not shell. Nil defaults to shell.
	Origin *Socket
}

// sendOn signs msg and writes it, preceded by this receipt's routing
// identities and the wire delimiter, to sck.
func (r Receipt) sendOn(sck *Socket, msg *ComposedMsg) error {
	parts, err := ToWireMsg(msg, r.Sockets.Key)
	if err != nil {
		return err
	}
	frames := make([][]byte, 0, len(r.Identities)+1+len(parts))
	frames = append(frames, r.Identities...)
	frames = append(frames, []byte(delimiter))
	frames = append(frames, parts...)
	return sck.RunLocked(func(s zmq4.Socket) error {
		return s.SendMulti(zmq4.NewMsgFrom(frames...))
	})
}

// Reply builds a ComposedMsg of msgType addressed to r.Msg and sends it
// back over the socket the request arrived on.
func (r Receipt) Reply(msgType string, content interface{}) error {
	msg, err := NewComposed(msgType, r.Msg)
	if err != nil {
		return err
	}
	msg.Content = content
	origin := r.Origin
	if origin == nil {
		origin = &r.Sockets.Shell
	}
	return r.sendOn(origin, msg)
}

// Publish builds a ComposedMsg of msgType addressed to r.Msg and sends it
// over the IOPub socket, for status/stream/display/error broadcasts.
func (r Receipt) Publish(msgType string, content interface{}) error {
	msg, err := NewComposed(msgType, r.Msg)
	if err != nil {
		return err
	}
	msg.Content = content
	return r.sendOn(&r.Sockets.IOPub, msg)
}

// PublishOnStdin sends msg over the stdin (request-for-input) socket.
func (r Receipt) PublishOnStdin(msgType string, content interface{}) error {
	msg, err := NewComposed(msgType, r.Msg)
	if err != nil {
		return err
	}
	msg.Content = content
	return r.sendOn(&r.Sockets.Stdin, msg)
}

const (
	StatusStarting = "starting"
	StatusBusy     = "busy"
	StatusIdle     = "idle"
)

// PublishKernelStatus notifies the front-end the kernel entered status.
func (r Receipt) PublishKernelStatus(status string) error {
	return r.Publish("status", struct {
		ExecutionState string `json:"execution_state"`
	}{ExecutionState: status})
}

// PublishExecutionInput notifies the front-end which code is executing.
func (r Receipt) PublishExecutionInput(execCount int, code string) error {
	return r.Publish("execute_input", struct {
		ExecCount int    `json:"execution_count"`
		Code      string `json:"code"`
	}{ExecCount: execCount, Code: code})
}

// PublishExecutionResult publishes the rendered value of the last
// expression of a cell.
func (r Receipt) PublishExecutionResult(execCount int, data Data) error {
	return r.Publish("execute_result", struct {
		ExecCount int     `json:"execution_count"`
		Data      MIMEMap `json:"data"`
		Metadata  MIMEMap `json:"metadata"`
	}{ExecCount: execCount, Data: data.Data, Metadata: ensureMIMEMap(data.Metadata)})
}

// PublishExecutionError publishes a structured error encountered while
// evaluating a cell.
func (r Receipt) PublishExecutionError(name, value string, traceback []string) error {
	return r.Publish("error", struct {
		Name  string   `json:"ename"`
		Value string   `json:"evalue"`
		Trace []string `json:"traceback"`
	}{Name: name, Value: value, Trace: traceback})
}

// PublishDisplayData publishes an out-of-band display (e.g. install
// progress, rich media).
func (r Receipt) PublishDisplayData(data Data) error {
	return r.Publish("display_data", struct {
		Data      MIMEMap `json:"data"`
		Metadata  MIMEMap `json:"metadata"`
		Transient MIMEMap `json:"transient"`
	}{Data: data.Data, Metadata: ensureMIMEMap(data.Metadata), Transient: ensureMIMEMap(data.Transient)})
}

const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// PublishStream writes data to the named stream (stdout/stderr) on the
// front-end, keyed to this receipt's parent header so stdout ordering
// is preserved per-cell.
func (r Receipt) PublishStream(stream, data string) error {
	return r.Publish("stream", struct {
		Stream string `json:"name"`
		Data   string `json:"text"`
	}{Stream: stream, Data: data})
}

// StreamWriter is an io.Writer that forwards every Write to a Jupyter
// stream message under the given receipt's parent header.
type StreamWriter struct {
	Stream  string
	Receipt Receipt
}

func (w *StreamWriter) Write(p []byte) (int, error) {
	if err := w.Receipt.PublishStream(w.Stream, string(p)); err != nil {
		return 0, errors.Wrapf(err, "forwarding %d bytes to stream %q", len(p), w.Stream)
	}
	return len(p), nil
}

var _ io.Writer = (*StreamWriter)(nil)
