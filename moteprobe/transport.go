package moteprobe

import (
	"net"
	"sync"
	"time"

	"github.com/juju/errors"
	"go.bug.st/serial"
)

const DefaultBaudrate = 115200

// SocketPort is the well-known TCP port of socket-attached testbed motes.
const SocketPort = "20000"

const socketChunkSize = 1024

// Transport is the byte-stream attachment of a single mote.
//
// ReadChunk blocks for the next unit of input. A (nil, nil) result is a
// benign timeout: the caller should just poll again. Any error terminates
// the acquisition loop.
type Transport interface {
	ReadChunk() ([]byte, error)
	// WriteFrame transmits a complete wire frame, retrying partial writes.
	WriteFrame(wire []byte) error
	// DoneReading signals that the consumer finished with the last chunk.
	// Only the emulated transport cares; everywhere else it is a no-op.
	DoneReading()
	Close() error
}

var ErrTransportClosed = errors.New("transport closed")

// serialTransport attaches a physical mote over a serial device.
type serialTransport struct {
	port serial.Port
	name string
	rx   [64]byte

	closelk sync.Mutex
	closed  bool
}

func NewSerial(device string, baud int) (*serialTransport, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, errors.Annotatef(err, "serial open device=%s", device)
	}
	// bounded read so the acquisition loop can observe a stop request
	if err = port.SetReadTimeout(1 * time.Second); err != nil {
		port.Close()
		return nil, errors.Annotatef(err, "serial timeout device=%s", device)
	}
	return &serialTransport{port: port, name: device}, nil
}

func (self *serialTransport) ReadChunk() ([]byte, error) {
	n, err := self.port.Read(self.rx[:])
	if err != nil {
		self.closelk.Lock()
		closed := self.closed
		self.closelk.Unlock()
		if closed {
			return nil, ErrTransportClosed
		}
		return nil, errors.Annotatef(err, "serial read device=%s", self.name)
	}
	// n==0 is a read timeout, not an error
	return self.rx[:n], nil
}

func (self *serialTransport) WriteFrame(wire []byte) error {
	// let pending output leave the device before a new frame
	if err := self.port.Drain(); err != nil {
		return errors.Annotatef(err, "serial drain device=%s", self.name)
	}
	return writeFull(self.port, wire, "serial device="+self.name)
}

func (self *serialTransport) DoneReading() {}

func (self *serialTransport) Close() error {
	self.closelk.Lock()
	defer self.closelk.Unlock()
	if self.closed {
		return nil
	}
	self.closed = true
	return self.port.Close()
}

// socketTransport attaches a remote mote over plain TCP. No framing beyond
// HDLC on the byte stream.
type socketTransport struct {
	conn net.Conn
	name string
	rx   [socketChunkSize]byte

	closelk sync.Mutex
	closed  bool
}

func NewSocket(host string, timeout time.Duration) (*socketTransport, error) {
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, SocketPort)
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Annotatef(err, "socket connect addr=%s", addr)
	}
	return &socketTransport{conn: conn, name: host}, nil
}

func (self *socketTransport) ReadChunk() ([]byte, error) {
	n, err := self.conn.Read(self.rx[:])
	if err != nil {
		self.closelk.Lock()
		closed := self.closed
		self.closelk.Unlock()
		if closed {
			return nil, ErrTransportClosed
		}
		return nil, errors.Annotatef(err, "socket read addr=%s", self.name)
	}
	if n == 0 {
		// remote closed the stream
		return nil, ErrTransportClosed
	}
	return self.rx[:n], nil
}

func (self *socketTransport) WriteFrame(wire []byte) error {
	return writeFull(self.conn, wire, "socket addr="+self.name)
}

func (self *socketTransport) DoneReading() {}

func (self *socketTransport) Close() error {
	self.closelk.Lock()
	defer self.closelk.Unlock()
	if self.closed {
		return nil
	}
	self.closed = true
	return self.conn.Close()
}

type writer interface {
	Write([]byte) (int, error)
}

func writeFull(w writer, p []byte, tag string) error {
	sent := 0
	for sent < len(p) {
		n, err := w.Write(p[sent:])
		if err != nil {
			return errors.Annotatef(err, "write %s", tag)
		}
		sent += n
	}
	return nil
}
