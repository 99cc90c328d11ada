package pulse

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// CheckResult is the outcome of a single reachability check.
type CheckResult struct {
	CheckType    string    `json:"check_type"`
	Target       string    `json:"target"`
	Success      bool      `json:"success"`
	LatencyMs    float64   `json:"latency_ms"`
	PacketLoss   float64   `json:"packet_loss"`
	StatusCode   int       `json:"status_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// Checker executes a health check against a target and returns the result.
// Network failures are reported through CheckResult, not the error; the
// error is reserved for a check that could not be attempted at all.
type Checker interface {
	Check(ctx context.Context, target string) (*CheckResult, error)
}

// ICMPChecker pings targets using ICMP via pro-bing.
type ICMPChecker struct {
	timeout time.Duration
	count   int
}

// NewICMPChecker creates a new ICMP checker with the given timeout and ping count.
func NewICMPChecker(timeout time.Duration, count int) *ICMPChecker {
	return &ICMPChecker{
		timeout: timeout,
		count:   count,
	}
}

// Check pings the target and returns the result.
func (c *ICMPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	pinger, err := probing.NewPinger(target)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = c.count
	pinger.Timeout = c.timeout
	pinger.SetPrivileged(runtime.GOOS == "windows")

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	result := &CheckResult{CheckType: "icmp", Target: target}
	select {
	case runErr := <-done:
		result.CheckedAt = time.Now().UTC()
		if runErr != nil {
			result.ErrorMessage = runErr.Error()
			result.PacketLoss = 1.0
			return result, nil
		}

		stats := pinger.Statistics()
		result.LatencyMs = float64(stats.AvgRtt) / float64(time.Millisecond)
		result.PacketLoss = stats.PacketLoss / 100.0 // pro-bing returns 0-100
		result.Success = stats.PacketsRecv > 0
		if !result.Success {
			result.ErrorMessage = "all packets lost"
		}
		return result, nil

	case <-ctx.Done():
		pinger.Stop()
		result.PacketLoss = 1.0
		result.ErrorMessage = "check cancelled"
		result.CheckedAt = time.Now().UTC()
		return result, nil
	}
}

// TCPChecker attempts a TCP connection to host:port targets.
type TCPChecker struct {
	timeout time.Duration
	dialer  *net.Dialer
}

// NewTCPChecker creates a TCP connect checker.
func NewTCPChecker(timeout time.Duration) *TCPChecker {
	return &TCPChecker{timeout: timeout, dialer: &net.Dialer{}}
}

// Check dials target, which must be in host:port form.
func (c *TCPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	if _, _, err := net.SplitHostPort(target); err != nil {
		return nil, fmt.Errorf("tcp target %q: %w", target, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	conn, err := c.dialer.DialContext(ctx, "tcp", target)
	result := &CheckResult{CheckType: "tcp", Target: target, CheckedAt: time.Now().UTC()}
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	_ = conn.Close()

	result.Success = true
	result.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
	return result, nil
}

// HTTPChecker issues GET requests and succeeds on any 2xx status.
// Certificates are not verified: monitored appliances commonly serve
// self-signed certificates.
type HTTPChecker struct {
	client *http.Client
}

// NewHTTPChecker creates an HTTP checker with the given per-request timeout.
func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				TLSClientConfig:   &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed targets
				DisableKeepAlives: true,
			},
		},
	}
}

// Check fetches target, which must be an absolute URL.
func (c *HTTPChecker) Check(ctx context.Context, target string) (*CheckResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("http target %q: %w", target, err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	result := &CheckResult{CheckType: "http", Target: target, CheckedAt: time.Now().UTC()}
	if err != nil {
		result.ErrorMessage = err.Error()
		return result, nil
	}
	_ = resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.LatencyMs = float64(time.Since(start)) / float64(time.Millisecond)
	result.Success = resp.StatusCode >= 200 && resp.StatusCode <= 299
	if !result.Success {
		result.ErrorMessage = "status " + strconv.Itoa(resp.StatusCode)
	}
	return result, nil
}
