// Package preflight provides startup validation checks for the daemon.
package preflight

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"syscall"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Options describes what the daemon is about to bind and run.
type Options struct {
	MgmtHost    string
	MgmtPort    int    // 0 skips the port checks
	MetricsAddr string // empty skips the metrics check
	DemoInputs  int
}

// portRangePath is replaced in tests.
var portRangePath = "/proc/sys/net/ipv4/ip_local_port_range"

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 4),
		Passed: true,
	}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	add(checkFileDescriptors(opts.DemoInputs))

	if opts.MgmtPort > 0 {
		addr := net.JoinHostPort(opts.MgmtHost, strconv.Itoa(opts.MgmtPort))
		add(checkBindable("mgmt_port", addr))
		// Warning only
		add(checkEphemeralRange(opts.MgmtPort))
	}

	if opts.MetricsAddr != "" {
		add(checkBindable("metrics_addr", opts.MetricsAddr))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(inputs int) Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Two listeners, one management connection, the metrics server's
	// connections and the runtime's own descriptors
	required := 64 + inputs
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkBindable verifies nothing else listens on addr.
func checkBindable(name, addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("cannot bind %s: %v", addr, err),
		}
	}
	_ = ln.Close()

	return Check{
		Name:    name,
		Passed:  true,
		Message: fmt.Sprintf("%s is free", addr),
	}
}

// checkEphemeralRange warns if port lies in the kernel's ephemeral port
// range, where an outgoing connection may take it before a restart rebinds.
func checkEphemeralRange(port int) Check {
	data, err := os.ReadFile(portRangePath)
	if err != nil {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: "unable to read port range (non-Linux?)",
		}
	}

	var low, high int
	if _, err := fmt.Sscanf(string(data), "%d %d", &low, &high); err != nil {
		return Check{
			Name:    "ephemeral_ports",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to parse port range %q", string(data)),
		}
	}

	inRange := port >= low && port <= high
	msg := fmt.Sprintf("port %d is outside %d-%d", port, low, high)
	if inRange {
		msg = fmt.Sprintf("port %d is inside the ephemeral range %d-%d", port, low, high)
	}

	return Check{
		Name:    "ephemeral_ports",
		Passed:  true, // Don't fail on this
		Warning: inRange,
		Message: msg,
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "mgmt_port":
		return "stop the other process or choose another -mgmt-port"
	case "metrics_addr":
		return `stop the other process, choose another -metrics or pass -metrics ""`
	case "ephemeral_ports":
		return "choose a -mgmt-port below the range in /proc/sys/net/ipv4/ip_local_port_range"
	default:
		return "see documentation"
	}
}
