package metrics

import "github.com/prometheus/client_golang/prometheus"

// WifiMetrics are the gauges/counters the orchestrator updates as it drives
// mode transitions; exposed on the wired Registry/MetricsServer above.
type WifiMetrics struct {
	Mode            prometheus.Gauge
	SwitchFailures  prometheus.Counter
	ConnMonFailures prometheus.Gauge
}

// NewWifiMetrics registers and returns the daemon's metric set on reg.
func NewWifiMetrics(reg *Registry) *WifiMetrics {
	m := &WifiMetrics{
		Mode: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wifimgrd_mode",
			Help: "Current arbitration mode: 0=WIFI_OFF, 1=CLIENT, 2=HOTSPOT, 3=AMBIGUOUS.",
		}),
		SwitchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wifimgrd_mode_switch_terminal_failures_total",
			Help: "Times the switch-fail-limit was reached and the terminal-failure command ran.",
		}),
		ConnMonFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wifimgrd_connmon_consecutive_failures",
			Help: "Consecutive connection-monitor probe failures since the last success or restore chain run.",
		}),
	}
	reg.MustRegister(m.Mode, m.SwitchFailures, m.ConnMonFailures)
	return m
}
