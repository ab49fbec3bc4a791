package udp

import (
	"context"
	"net"
	"sync"
	"time"

	"palmcontroller/internal/netutil"
)

// announceLoop sends the announcement immediately and then every interval.
// If a whole cycle fails the next one waits ErrorBackoff instead.
func (s *Server) announceLoop(ctx context.Context, conn *net.UDPConn) {
	defer s.wg.Done()

	for {
		wait := s.cfg.Interval
		if sent := s.broadcastOnce(conn); sent == 0 {
			s.logger.Warn("discovery_cycle_failed", "retry_in", s.cfg.ErrorBackoff)
			wait = s.cfg.ErrorBackoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// broadcastOnce sends one announcement to every target concurrently and
// returns how many sends succeeded. A failed destination never affects the
// others.
func (s *Server) broadcastOnce(conn *net.UDPConn) int {
	a := s.announcement()
	data, err := a.ToJSON()
	if err != nil {
		s.logger.Error("announcement_marshal_failed", "error", err)
		return 0
	}

	port := s.cfg.Port
	if la, ok := conn.LocalAddr().(*net.UDPAddr); ok && port == 0 {
		// ephemeral bind: broadcast to the port we actually hold
		port = la.Port
	}
	targets := netutil.BroadcastTargets(a.IPAddress, port, s.cfg.ExtraTargets)

	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0
	for _, target := range targets {
		wg.Add(1)
		go func(addr *net.UDPAddr) {
			defer wg.Done()
			if _, err := conn.WriteToUDP(data, addr); err != nil {
				s.logger.Debug("discovery_send_failed", "to", addr.String(), "error", err)
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	s.announcements.Add(uint64(sent))
	s.logger.Debug("discovery_announced",
		"ip", a.IPAddress,
		"service_port", a.Port,
		"targets", len(targets),
		"sent", sent,
	)
	return sent
}
