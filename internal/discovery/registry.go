package discovery

import (
	"context"
	"net"
	"strconv"
)

// Instance is one registered endpoint of a logical service, as reported by
// the registry. Healthy is the registry's liveness bit; Enabled is the
// administrative-availability bit.
type Instance struct {
	Host    string
	Port    int
	Healthy bool
	Enabled bool
}

// Addr returns the instance address in host:port form.
func (i Instance) Addr() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Registry abstracts the registration/discovery backend. Implementations must
// be safe for concurrent use; the dispatcher resolves on every call.
type Registry interface {
	Register(ctx context.Context, service, host string, port int) error
	Deregister(ctx context.Context, service, host string, port int) error
	Resolve(ctx context.Context, service string) ([]Instance, error)
}

// LocalIP returns the machine's outbound LAN address by opening a UDP socket
// toward a non-routable address; no packet is actually sent. Falls back to
// loopback when no interface is available.
func LocalIP() string {
	conn, err := net.Dial("udp", "10.255.255.255:1")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "127.0.0.1"
	}
	return addr.IP.String()
}
