// Package ssdp is an optional real discovery transport: it advertises a
// runtime.Host's attached device over SSDP (NOTIFY ssdp:alive/byebye, plus
// M-SEARCH responses) so a control point elsewhere on the network can find
// it without a separate discovery component. Consuming discovery
// announcements is out of scope (spec.md §1 treats a discovery collaborator
// as external); this package only covers the advertise side, adapted from
// the teacher's SSDP server.
package ssdp

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	// MulticastAddr is the SSDP multicast group address.
	MulticastAddr = "239.255.255.250"
	// Port is the SSDP multicast port.
	Port = 1900
	// MaxAge is the CACHE-CONTROL max-age advertised with every alive and
	// M-SEARCH response; alive is re-sent at half this interval.
	MaxAge = 1800
)

// Announcer advertises one root device's notification types over SSDP.
// NTs are derived once at construction time from deviceType and
// serviceTypes, per the UPnP discovery rule that a root device announces
// itself, upnp:rootdevice, its device type and every contained service
// type.
type Announcer struct {
	udn        string
	deviceType string
	nts        []string
	location   string
	server     string

	mu   sync.Mutex
	conn *net.UDPConn
}

// NewAnnouncer builds an Announcer for one root device. location is the
// device description URL; server is the SERVER header value (matching the
// Server: value runtime.Host sends over HTTP keeps the two discovery paths
// consistent).
func NewAnnouncer(udn, deviceType string, serviceTypes []string, location, server string) *Announcer {
	nts := []string{"upnp:rootdevice", udn, deviceType}
	nts = append(nts, serviceTypes...)
	return &Announcer{
		udn:        udn,
		deviceType: deviceType,
		nts:        nts,
		location:   location,
		server:     server,
	}
}

// Start opens the multicast socket, sends an initial ssdp:alive burst for
// every NT, and launches the periodic re-announce and M-SEARCH responder
// goroutines. It returns once the socket is listening; both goroutines run
// until ctx is done.
func (a *Announcer) Start(ctx context.Context) error {
	addr := &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port}
	conn, err := net.ListenMulticastUDP("udp4", nil, addr)
	if err != nil {
		return fmt.Errorf("ssdp: listen: %w", err)
	}
	conn.SetReadBuffer(8192)

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()

	log.Infof("ssdp: advertising %s at %s", a.udn, a.location)
	a.sendAliveAll()

	go a.reannounceLoop(ctx)
	go a.searchResponderLoop(ctx, conn)
	return nil
}

func (a *Announcer) reannounceLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(MaxAge/2) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sendAliveAll()
		}
	}
}

func (a *Announcer) searchResponderLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 8192)
	for {
		select {
		case <-ctx.Done():
			log.Infof("ssdp: stopping, sending byebye for %s", a.udn)
			a.sendByeByeAll()
			conn.Close()
			return
		default:
			conn.SetReadDeadline(time.Now().Add(time.Second))
			n, src, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				log.Warnf("ssdp: read: %v", err)
				continue
			}
			data := string(buf[:n])
			if strings.HasPrefix(data, "M-SEARCH") {
				a.handleMSearch(conn, src, data)
			}
		}
	}
}

func (a *Announcer) sendAliveAll() {
	for _, nt := range a.nts {
		a.sendAlive(nt)
	}
}

func (a *Announcer) sendByeByeAll() {
	for _, nt := range a.nts {
		a.sendByeBye(nt)
	}
}

func (a *Announcer) send(msg string) error {
	addr := &net.UDPAddr{IP: net.ParseIP(MulticastAddr), Port: Port}
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("ssdp: not started")
	}
	_, err := conn.WriteToUDP([]byte(msg), addr)
	return err
}

func (a *Announcer) sendAlive(nt string) {
	msg := fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
		"HOST: %s:%d\r\n"+
		"CACHE-CONTROL: max-age=%d\r\n"+
		"LOCATION: %s\r\n"+
		"NT: %s\r\n"+
		"NTS: ssdp:alive\r\n"+
		"SERVER: %s\r\n"+
		"USN: %s::%s\r\n\r\n",
		MulticastAddr, Port, MaxAge, a.location, nt, a.server, a.udn, nt)
	if err := a.send(msg); err != nil {
		log.Warnf("ssdp: alive %s::%s: %v", a.udn, nt, err)
	}
}

func (a *Announcer) sendByeBye(nt string) {
	msg := fmt.Sprintf("NOTIFY * HTTP/1.1\r\n"+
		"HOST: %s:%d\r\n"+
		"NT: %s\r\n"+
		"NTS: ssdp:byebye\r\n"+
		"USN: %s::%s\r\n\r\n",
		MulticastAddr, Port, nt, a.udn, nt)
	if err := a.send(msg); err != nil {
		log.Warnf("ssdp: byebye %s::%s: %v", a.udn, nt, err)
	}
}

// handleMSearch replies unicast to src for every NT matching the
// M-SEARCH's ST header ("ssdp:all" matches every NT this Announcer owns).
func (a *Announcer) handleMSearch(conn *net.UDPConn, src *net.UDPAddr, req string) {
	st := parseST(req)
	if st == "" {
		return
	}
	var matches []string
	if st == "ssdp:all" {
		matches = a.nts
	} else if slices.Contains(a.nts, st) {
		matches = []string{st}
	}
	for _, nt := range matches {
		resp := fmt.Sprintf("HTTP/1.1 200 OK\r\n"+
			"CACHE-CONTROL: max-age=%d\r\n"+
			"DATE: %s\r\n"+
			"EXT:\r\n"+
			"LOCATION: %s\r\n"+
			"SERVER: %s\r\n"+
			"ST: %s\r\n"+
			"USN: %s::%s\r\n\r\n",
			MaxAge, time.Now().UTC().Format(time.RFC1123), a.location, a.server, nt, a.udn, nt)
		if _, err := conn.WriteToUDP([]byte(resp), src); err != nil {
			log.Warnf("ssdp: M-SEARCH response to %v: %v", src, err)
		}
	}
}

// parseST extracts the ST header from an M-SEARCH request.
func parseST(req string) string {
	scanner := bufio.NewScanner(strings.NewReader(req))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.ToUpper(line), "ST:") {
			return strings.TrimSpace(line[3:])
		}
	}
	return ""
}
