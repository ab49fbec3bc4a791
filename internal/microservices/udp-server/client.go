package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Discover sends a probe to every target and collects the distinct
// announcements that come back before ctx is done. Passive broadcasts that
// happen to reach the socket are collected as well.
func Discover(ctx context.Context, targets []*net.UDPAddr) ([]*Announcement, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("failed to open UDP socket: %w", err)
	}
	defer conn.Close()

	sent := 0
	for _, t := range targets {
		if _, err := conn.WriteToUDP([]byte(ProbeToken), t); err == nil {
			sent++
		}
	}
	if sent == 0 && len(targets) > 0 {
		return nil, errors.New("no discovery probe could be sent")
	}

	go func() {
		<-ctx.Done()
		conn.SetReadDeadline(time.Now())
	}()

	seen := make(map[string]bool)
	var found []*Announcement
	buffer := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return found, nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return found, nil
			}
			return found, err
		}
		a, err := ParseAnnouncement(buffer[:n])
		if err != nil {
			continue
		}
		key := a.HostName + "|" + a.Address()
		if seen[key] {
			continue
		}
		seen[key] = true
		found = append(found, a)
	}
}

// Listen binds the discovery port and reports every announcement heard until
// ctx is done.
func Listen(ctx context.Context, port int, onAnnouncement func(*Announcement)) error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buffer := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if a, err := ParseAnnouncement(buffer[:n]); err == nil {
			onAnnouncement(a)
		}
	}
}
