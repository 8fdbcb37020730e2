package main

// Server is a peer (other server) known to this server, local or
// reached through another peer. A local peer has LocalServer set.
type Server struct {
	SID         string
	Name        string
	Description string
	HopCount    int

	// LocalServer is set iff we have a direct connection to this peer.
	LocalServer *LocalServer
}

func (s *Server) isLocal() bool {
	return s.LocalServer != nil
}
