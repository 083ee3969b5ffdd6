package peer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Statistics is the point-in-time snapshot GetStatistics returns, and the
// same values the Collector implementation below exposes as metrics
// (a gauge for ConnectedSystems, counters for the other two).
type Statistics struct {
	ConnectedSystems int
	BytesReceived    uint64
	DatagramsDropped uint64
}

// GetStatistics reports a snapshot across every connected slot plus the
// underlying transport's lifetime counters (spec §4.5).
func (p *Peer) GetStatistics() Statistics {
	received, dropped := p.t.Stats()
	return Statistics{
		ConnectedSystems: p.connectionCount(),
		BytesReceived:    received,
		DatagramsDropped: dropped,
	}
}

// statsCollector adapts Peer.GetStatistics to prometheus.Collector so a
// caller can register one Peer's stats with a registry alongside any
// other instrumented subsystem.
type statsCollector struct {
	peer *Peer

	connectedSystems *prometheus.Desc
	bytesReceived    *prometheus.Desc
	datagramsDropped *prometheus.Desc
}

// Collector returns a prometheus.Collector backed by this Peer's live
// statistics, per [DOMAIN STACK]'s prometheus/client_golang wiring.
func (p *Peer) Collector() prometheus.Collector {
	return &statsCollector{
		peer: p,
		connectedSystems: prometheus.NewDesc(
			"raknet_peer_connected_systems", "Number of currently connected remote systems.", nil, nil),
		bytesReceived: prometheus.NewDesc(
			"raknet_peer_bytes_received_total", "Total bytes received by the bound transport.", nil, nil),
		datagramsDropped: prometheus.NewDesc(
			"raknet_peer_datagrams_dropped_total", "Datagrams dropped due to a full arrival queue.", nil, nil),
	}
}

func (c *statsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.connectedSystems
	ch <- c.bytesReceived
	ch <- c.datagramsDropped
}

func (c *statsCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.peer.GetStatistics()
	ch <- prometheus.MustNewConstMetric(c.connectedSystems, prometheus.GaugeValue, float64(s.ConnectedSystems))
	ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(s.BytesReceived))
	ch <- prometheus.MustNewConstMetric(c.datagramsDropped, prometheus.CounterValue, float64(s.DatagramsDropped))
}
