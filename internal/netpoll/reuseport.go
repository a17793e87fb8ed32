package netpoll

import (
	"net"

	"github.com/libp2p/go-reuseport"
)

func ReusePortListen(proto, addr string) (net.Listener, error) {
	return reuseport.Listen(proto, addr)
}
