package alerting

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"driftwatch/internal/model"
)

// ConsoleChannel writes a formatted alert block to a writer, stdout in
// production. It is the must-succeed channel: its error is the overall
// processing verdict.
type ConsoleChannel struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleChannel(w io.Writer) *ConsoleChannel {
	return &ConsoleChannel{w: w}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(alert model.Alert) error {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(&b, "%s\n", rule)
	fmt.Fprintf(&b, "ALERT [%s] - %s\n", alert.Severity, alert.Endpoint)
	fmt.Fprintf(&b, "Time: %s\n", alert.CreatedAt.UTC().Format(time.RFC3339))
	if alert.Explanation != "" {
		fmt.Fprintf(&b, "Explanation: %s\n", alert.Explanation)
	}
	for _, s := range alert.Signals {
		fmt.Fprintf(&b, "  signal %s: %.4g (baseline %.4g, z=%.2f)\n",
			s.MetricName, s.CurrentValue, s.BaselineValue, s.ZScore)
	}
	if len(alert.Insights) > 0 {
		b.WriteString("Insights:\n")
		for _, line := range alert.Insights {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	if len(alert.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, line := range alert.Recommendations {
			fmt.Fprintf(&b, "  - %s\n", line)
		}
	}
	fmt.Fprintf(&b, "%s\n", rule)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, b.String())
	return err
}
