package udp

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
)

const (
	ServiceType    = "palm_controller"
	ServiceVersion = "1.0.0"
	// ProbeToken marks a datagram as a discovery request.
	ProbeToken = "PALM_CONTROLLER_DISCOVERY"
)

// Announcement is the presence record a host broadcasts and returns to probes.
type Announcement struct {
	ServiceName string `json:"serviceName"`
	ServiceType string `json:"serviceType"`
	HostName    string `json:"hostName"`
	IPAddress   string `json:"ipAddress"`
	Port        int    `json:"port"`
	Version     string `json:"version"`
	Timestamp   int64  `json:"timestamp"` // unix seconds
}

// NewAnnouncement builds the record for a service reachable at ip:port.
func NewAnnouncement(serviceName, ip string, port int) *Announcement {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return &Announcement{
		ServiceName: serviceName,
		ServiceType: ServiceType,
		HostName:    host,
		IPAddress:   ip,
		Port:        port,
		Version:     ServiceVersion,
		Timestamp:   time.Now().Unix(),
	}
}

// Address returns the TCP endpoint a controller should connect to.
func (a *Announcement) Address() string {
	return fmt.Sprintf("%s:%d", a.IPAddress, a.Port)
}

// ToJSON converts the announcement to JSON bytes
func (a *Announcement) ToJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal(a)
}

// ParseAnnouncement decodes a datagram, rejecting records of other services.
func ParseAnnouncement(data []byte) (*Announcement, error) {
	var a Announcement
	if err := sonic.ConfigStd.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("invalid announcement: %w", err)
	}
	if a.ServiceType != ServiceType {
		return nil, fmt.Errorf("unexpected service type %q", a.ServiceType)
	}
	return &a, nil
}

// IsProbe reports whether a datagram is a discovery request.
func IsProbe(data []byte) bool {
	return bytes.Contains(data, []byte(ProbeToken))
}
