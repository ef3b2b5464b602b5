package chat

import (
	"net"
)

// serveConn is the per-connection read loop. One Read (up to 1024 bytes)
// is treated as one command line; there is no newline reframing, so
// clients must send one command per write (the bundled client does).
//
// The loop itself never touches chat state: joining, request handling, and
// teardown all run as hub tasks, and the task queue preserves their order.
func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()

	joined := make(chan *Session, 1)
	s.do(func() {
		joined <- s.join(conn)
	})

	var sess *Session
	select {
	case sess = <-joined:
	case <-s.ctx.Done():
		// Shutdown began before the join task ran.
		conn.Close()
		return
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			request := string(buf[:n])
			s.do(func() {
				s.handleRequest(sess, request)
			})
		}
		if err != nil {
			// EOF or connection error; either way the session is done.
			break
		}
	}

	s.do(func() {
		s.leave(sess)
	})
}
