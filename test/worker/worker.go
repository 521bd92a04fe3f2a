package worker

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"go-fleet/internal/fleet"
	"go-fleet/internal/transport"
)

// Reply produces the raw bytes written back for a received envelope. A nil
// reply closes the connection without answering.
type Reply func(envelope transport.Envelope) []byte

func Success(transport.Envelope) []byte { return []byte("command executed with success") }

func Failure(transport.Envelope) []byte { return []byte("command failed") }

// Fake is a TCP worker answering one envelope per connection.
type Fake struct {
	listener net.Listener
	reply    Reply

	lock     sync.Mutex
	received []transport.Envelope
	wg       sync.WaitGroup
}

func Start(t *testing.T, reply Reply) *Fake {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not start fake worker: %v", err)
	}
	fake := &Fake{listener: listener, reply: reply}
	fake.wg.Add(1)
	go fake.serve()
	t.Cleanup(fake.Close)
	return fake
}

func (f *Fake) Worker(id fleet.WorkerId, capacity int) fleet.Worker {
	host, port, _ := net.SplitHostPort(f.listener.Addr().String())
	portNumber, _ := strconv.Atoi(port)
	return fleet.Worker{Id: id, Address: host, Port: uint16(portNumber), Capacity: capacity}
}

func (f *Fake) SetReply(reply Reply) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.reply = reply
}

func (f *Fake) Received() []transport.Envelope {
	f.lock.Lock()
	defer f.lock.Unlock()
	return append([]transport.Envelope(nil), f.received...)
}

func (f *Fake) Commands() []string {
	commands := make([]string, 0)
	for _, envelope := range f.Received() {
		commands = append(commands, envelope.Command)
	}
	return commands
}

func (f *Fake) Close() {
	f.listener.Close()
	f.wg.Wait()
}

func (f *Fake) serve() {
	defer f.wg.Done()
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		f.wg.Add(1)
		go f.handle(conn)
	}
}

func (f *Fake) handle(conn net.Conn) {
	defer f.wg.Done()
	defer conn.Close()

	buffer := make([]byte, 64*1024)
	n, err := conn.Read(buffer)
	if err != nil && n == 0 {
		return
	}
	envelope, err := transport.DecodeEnvelope(buffer[:n])
	if err != nil {
		conn.Write([]byte("malformed envelope"))
		return
	}

	f.lock.Lock()
	f.received = append(f.received, envelope)
	reply := f.reply
	f.lock.Unlock()

	if response := reply(envelope); response != nil {
		conn.Write(response)
	}
}

// Unreachable returns a worker whose address refuses connections.
func Unreachable(t *testing.T, id fleet.WorkerId, capacity int) fleet.Worker {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not reserve port: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	listener.Close()
	return fleet.Worker{Id: id, Address: "127.0.0.1", Port: uint16(addr.Port), Capacity: capacity}
}
