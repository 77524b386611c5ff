// Package ssdp advertises the provisioning control plane on the local
// network: peers discover the device by M-SEARCHing for its service type
// and get back its current address as the location.
package ssdp

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"golang.org/x/net/ipv4"
)

const (
	multicastAddr = "239.255.255.250"
	multicastPort = 1900
	maxAge        = 1800
	serverName    = "wifimgrd"
)

// Server is an SSDP responder: it joins the SSDP multicast group on one
// interface and answers M-SEARCH requests matching its service type with
// the configured USN and the location supplied to Start.
type Server struct {
	usn   string
	st    string
	iface string

	mu       sync.Mutex
	location string
	conn     *ipv4.PacketConn
}

func New(usn, st, iface string) *Server {
	return &Server{usn: usn, st: st, iface: iface}
}

// Start (re)binds the responder advertising location. An empty location is
// rejected; a running responder is shut down first, so an address change is
// a plain restart.
func (s *Server) Start(location string) {
	if location == "" {
		log.Warn().Msg("invalid ssdp location, skipping server start")
		return
	}
	s.Shutdown()

	conn, err := s.listen()
	if err != nil {
		log.Err(err).Msg("failed to bind ssdp responder")
		return
	}

	s.mu.Lock()
	s.location = location
	s.conn = conn
	s.mu.Unlock()

	log.Info().Str("usn", s.usn).Str("st", s.st).Str("location", location).
		Msg("starting ssdp responder")
	go s.serve(conn, location)
}

// Shutdown stops the responder. Idempotent.
func (s *Server) Shutdown() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Location returns the address currently advertised, or "" when stopped.
func (s *Server) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.location
}

func (s *Server) listen() (*ipv4.PacketConn, error) {
	c, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", multicastPort))
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %d: %w", multicastPort, err)
	}
	p := ipv4.NewPacketConn(c)
	iface, err := net.InterfaceByName(s.iface)
	if err != nil {
		c.Close()
		return nil, err
	}
	group := &net.UDPAddr{IP: net.ParseIP(multicastAddr)}
	if err := p.JoinGroup(iface, group); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to join multicast group: %w", err)
	}
	return p, nil
}

func (s *Server) serve(conn *ipv4.PacketConn, location string) {
	buf := make([]byte, 4096)
	for {
		n, _, src, err := conn.ReadFrom(buf)
		if err != nil {
			// Closed by Shutdown; anything else is equally terminal for
			// this binding and the next Start rebinds.
			return
		}
		resp := s.respond(buf[:n], location)
		if resp == nil {
			continue
		}
		if _, err := conn.WriteTo(resp, nil, src); err != nil {
			log.Err(err).Str("peer", src.String()).Msg("failed to send ssdp response")
		}
	}
}

// respond parses one SSDP packet and returns the search response it
// deserves, or nil for packets addressed to other device types (NOTIFY
// traffic from other devices included).
func (s *Server) respond(packet []byte, location string) []byte {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(packet)))
	if err != nil {
		return nil
	}
	if req.Method != "M-SEARCH" {
		return nil
	}
	if req.Header.Get("Man") != `"ssdp:discover"` {
		return nil
	}
	st := req.Header.Get("St")
	if st != s.st && st != "ssdp:all" {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 200 OK\r\n")
	fmt.Fprintf(&b, "CACHE-CONTROL: max-age=%d\r\n", maxAge)
	fmt.Fprintf(&b, "LOCATION: %s\r\n", location)
	fmt.Fprintf(&b, "ST: %s\r\n", s.st)
	fmt.Fprintf(&b, "USN: %s\r\n", s.usn)
	fmt.Fprintf(&b, "SERVER: %s\r\n", serverName)
	fmt.Fprintf(&b, "EXT:\r\n")
	fmt.Fprintf(&b, "\r\n")
	return []byte(b.String())
}
