package ingest

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vburojevic/uelog/internal/diag"
	"github.com/vburojevic/uelog/internal/domain"
)

const component = "UDP"

// maxDatagramSize is the largest useful payload; UE's log forwarder
// never emits more than one UDP datagram per entry.
const maxDatagramSize = 65536

// Inserter is the slice of the store the receiver needs.
type Inserter interface {
	Insert(entry domain.Entry) (int64, error)
}

// Receiver reads one JSON log entry per UDP datagram. Malformed
// datagrams are diagnosed and dropped; the receive loop never
// terminates on its own.
type Receiver struct {
	store   Inserter
	port    int
	conn    *net.UDPConn
	running atomic.Bool
	wg      sync.WaitGroup
}

// NewReceiver creates a receiver bound to the given port on start. Port
// 0 picks an ephemeral port, reported by Port after Start.
func NewReceiver(store Inserter, port int) *Receiver {
	return &Receiver{store: store, port: port}
}

// Start binds the socket and launches the receive worker.
func (r *Receiver) Start() error {
	if r.running.Load() {
		return nil
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: r.port})
	if err != nil {
		return err
	}
	r.conn = conn
	r.running.Store(true)

	diag.Logf(component, "Listening on port %d", r.Port())

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.receiveLoop()
	}()

	return nil
}

// Stop closes the socket and waits for the worker to drain.
func (r *Receiver) Stop() {
	if !r.running.Swap(false) {
		return
	}
	r.conn.Close()
	r.wg.Wait()
}

// Port returns the bound UDP port.
func (r *Receiver) Port() int {
	if r.conn == nil {
		return r.port
	}
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *Receiver) receiveLoop() {
	buf := make([]byte, maxDatagramSize)

	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if !r.running.Load() {
			return
		}
		if err != nil {
			diag.Errorf(component, "Receive error: %v", err)
			continue
		}
		if n == 0 {
			diag.Error(component, "Dropped empty datagram")
			continue
		}

		entry, err := ParseDatagram(buf[:n])
		if err != nil {
			diag.Errorf(component, "Failed to parse log: %v", err)
			continue
		}

		entry.ReceivedAt = float64(time.Now().UnixNano()) / 1e9
		if _, err := r.store.Insert(entry); err != nil {
			diag.Errorf(component, "Failed to store log: %v", err)
		}
	}
}
