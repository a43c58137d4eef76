//go:build !unix

package collector

import "net"

func setReceiveBuffer(conn *net.UDPConn, size int) error {
	return conn.SetReadBuffer(size)
}

func receiveBuffer(*net.UDPConn) (int, error) {
	return 0, nil
}
