package main

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Conn is a connection to a client or peer server.
type Conn struct {
	conn net.Conn
	rw   *bufio.ReadWriter

	ioWait time.Duration

	IP net.IP

	Logger *logrus.Logger
}

// NewConn wraps an accepted net.Conn.
func NewConn(conn net.Conn, ioWait time.Duration, logger *logrus.Logger) (Conn, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", conn.RemoteAddr().String())
	if err != nil {
		return Conn{}, errors.Wrap(err, "resolve remote address")
	}

	return Conn{
		conn:   conn,
		rw:     bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		ioWait: ioWait,
		IP:     tcpAddr.IP,
		Logger: logger,
	}, nil
}

func (c Conn) Close() error {
	return c.conn.Close()
}

func (c Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read reads one line from the connection, with a deadline so a dead
// peer is eventually noticed rather than leaking a goroutine forever.
func (c Conn) Read() (string, error) {
	if err := c.conn.SetDeadline(time.Now().Add(c.ioWait)); err != nil {
		return "", errors.Wrap(err, "set read deadline")
	}

	line, err := c.rw.ReadString('\n')
	if err != nil {
		return "", err
	}

	line = strings.TrimRight(line, "\r\n")
	c.Logger.WithField("line", line).Debug("read")
	return line, nil
}

// Write writes s, appending no terminator of its own — callers supply
// \r\n themselves.
func (c Conn) Write(s string) error {
	if err := c.conn.SetDeadline(time.Now().Add(c.ioWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}

	sz, err := c.rw.WriteString(s)
	if err != nil {
		return err
	}
	if sz != len(s) {
		return errors.New("short write")
	}

	if err := c.rw.Flush(); err != nil {
		return errors.Wrap(err, "flush")
	}

	c.Logger.WithField("line", strings.TrimRight(s, "\r\n")).Debug("sent")
	return nil
}
