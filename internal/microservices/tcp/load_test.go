package tcp

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"palmcontroller/pkg/protocol"
)

// LoadTestSuite checks the session manager under many clients and many
// messages, without the event recorder in the way.
type LoadTestSuite struct {
	suite.Suite
	server *TCPServer
	addr   string
}

func (s *LoadTestSuite) SetupTest() {
	s.server = NewServer(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	s.Require().NoError(s.server.Start(0))
	s.addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(s.server.Port()))
}

func (s *LoadTestSuite) TearDownTest() {
	s.server.Stop()
}

func (s *LoadTestSuite) dial() (net.Conn, *bufio.Reader) {
	conn, err := net.DialTimeout("tcp", s.addr, 2*time.Second)
	s.Require().NoError(err)
	return conn, bufio.NewReader(conn)
}

func (s *LoadTestSuite) TestConcurrentClients() {
	const numClients = 30
	t := s.T()

	var wg sync.WaitGroup
	errs := make(chan error, numClients)
	release := make(chan struct{})

	for i := 0; i < numClients; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			conn, err := net.DialTimeout("tcp", s.addr, 5*time.Second)
			if err != nil {
				errs <- fmt.Errorf("client %d: %w", n, err)
				return
			}
			defer conn.Close()
			conn.SetDeadline(time.Now().Add(10 * time.Second))

			id := fmt.Sprintf("hb-%d", n)
			line, _ := protocol.EncodeLine(protocol.NewHeartbeat(id))
			if _, err := conn.Write(line); err != nil {
				errs <- fmt.Errorf("client %d: %w", n, err)
				return
			}
			ack, err := bufio.NewReader(conn).ReadBytes('\n')
			if err != nil {
				errs <- fmt.Errorf("client %d: %w", n, err)
				return
			}
			msg, err := protocol.Decode(ack)
			if err != nil || msg.ID != id {
				errs <- fmt.Errorf("client %d: bad ack %s", n, ack)
				return
			}
			<-release
		}(i)
	}

	assert.Eventually(t, func() bool { return s.server.Manager.Count() == numClients },
		5*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Eventually(t, func() bool { return s.server.Manager.Count() == 0 },
		5*time.Second, 10*time.Millisecond, "closed clients must leave the registry")
}

func (s *LoadTestSuite) TestRapidConnectDisconnect() {
	const iterations = 100
	for i := 0; i < iterations; i++ {
		conn, err := net.DialTimeout("tcp", s.addr, 2*time.Second)
		s.Require().NoError(err, "connection %d", i)
		s.NoError(conn.Close())
	}
	s.Eventually(func() bool { return s.server.Manager.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	s.True(s.server.IsRunning())
}

// one client, many acknowledged messages: every ack arrives, in order
func (s *LoadTestSuite) TestAckOrderAndLatency() {
	const iterations = 200
	conn, reader := s.dial()
	defer conn.Close()

	latencies := make([]time.Duration, 0, iterations)
	for i := 0; i < iterations; i++ {
		id := strconv.Itoa(i)
		line, err := protocol.EncodeLine(protocol.NewMouseControl(id, "move", float64(i), -1, "", 0))
		s.Require().NoError(err)

		start := time.Now()
		_, err = conn.Write(line)
		s.Require().NoError(err)

		conn.SetReadDeadline(time.Now().Add(time.Second))
		ack, err := reader.ReadBytes('\n')
		s.Require().NoError(err, "ack for message %d", i)
		latencies = append(latencies, time.Since(start))

		msg, err := protocol.Decode(ack)
		s.Require().NoError(err)
		s.Equal(id, msg.ID)
	}

	slices.Sort(latencies)
	p95 := latencies[len(latencies)*95/100]
	s.Less(p95, 200*time.Millisecond)
	s.T().Logf("ack latency p50=%v p95=%v max=%v", latencies[len(latencies)/2], p95, latencies[len(latencies)-1])
}

func TestLoadTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("load tests skipped in -short mode")
	}
	suite.Run(t, new(LoadTestSuite))
}

func BenchmarkProcessLine(b *testing.B) {
	server := NewServer(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	local, remote := net.Pipe()
	defer local.Close()
	go io.Copy(io.Discard, remote)

	client := NewClientConnection(local, server.opts)
	line, err := protocol.Encode(protocol.NewMouseControl("bench", "move", 3, 4, "", 0))
	require.NoError(b, err)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		server.processLine(client, line)
	}
}
