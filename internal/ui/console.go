// Package ui provides cyberpunk-styled console output for the HPN Adapter.
// It prints colorized per-invocation lines, token refresh notices, status
// badges and ASCII art next to the structured JSON logs.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR DEFINITIONS - Cyberpunk Theme
// ══════════════════════════════════════════════════════════════════════════════

var (
	// Badge colors
	successBadge = color.New(color.BgGreen, color.FgBlack, color.Bold)
	warningBadge = color.New(color.FgYellow, color.Bold)
	errorBadge   = color.New(color.BgRed, color.FgWhite, color.Bold)
	infoBadge    = color.New(color.FgCyan, color.Bold)
	debugBadge   = color.New(color.FgMagenta)

	// Text colors
	successText = color.New(color.FgGreen, color.Bold)
	warningText = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed)
	infoText    = color.New(color.FgCyan)
	mutedText   = color.New(color.FgHiBlack)
	accentText  = color.New(color.FgMagenta, color.Bold)

	// Special colors
	neonPink = color.New(color.FgHiMagenta, color.Bold)
	neonBlue = color.New(color.FgHiCyan, color.Bold)

	// Method colors
	methodPOST   = color.New(color.BgHiMagenta, color.FgBlack, color.Bold)
	methodGET    = color.New(color.BgHiCyan, color.FgBlack, color.Bold)
	methodPUT    = color.New(color.BgHiYellow, color.FgBlack, color.Bold)
	methodDELETE = color.New(color.BgHiRed, color.FgBlack, color.Bold)
)

var (
	outMu sync.Mutex
	out   io.Writer = color.Output
)

// SetOutput redirects console output. Pass io.Discard to silence it.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

// line serializes one console line so concurrent requests do not interleave.
func line(fn func(w io.Writer)) {
	outMu.Lock()
	defer outMu.Unlock()
	fn(out)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS BADGES
// ══════════════════════════════════════════════════════════════════════════════

// PrintAdapterInfo logs general adapter information.
// Format: [ADAPTER] message
func PrintAdapterInfo(msg string) {
	line(func(w io.Writer) {
		infoBadge.Fprint(w, "[ADAPTER]")
		fmt.Fprint(w, " ")
		infoText.Fprintln(w, msg)
	})
}

// PrintInvocation logs a completed provider call.
// Format: ⚡ provider | kind | output | size | latency
func PrintInvocation(provider, feature, output string, size int, latency time.Duration) {
	line(func(w io.Writer) {
		neonBlue.Fprint(w, "⚡ ")
		accentText.Fprint(w, provider)
		mutedText.Fprint(w, " | ")
		fmt.Fprint(w, feature)
		mutedText.Fprint(w, " | ")
		infoText.Fprint(w, output)
		mutedText.Fprintf(w, " | %s | ", formatSize(size))
		printLatency(w, latency)
		fmt.Fprintln(w)
	})
}

// PrintInvocationFailed logs a failed provider call with its error kind.
// Format: 💥 [KIND] provider | latency
func PrintInvocationFailed(provider, kind string, latency time.Duration) {
	line(func(w io.Writer) {
		fmt.Fprint(w, "💥 ")
		errorBadge.Fprintf(w, " %s ", kind)
		fmt.Fprint(w, " ")
		errorText.Fprint(w, provider)
		mutedText.Fprint(w, " | ")
		printLatency(w, latency)
		fmt.Fprintln(w)
	})
}

// PrintTokenRefresh logs the outcome of a login call.
// Format: 🔑 [TOKEN] provider refreshed in Xms
func PrintTokenRefresh(provider string, elapsed time.Duration, err error) {
	line(func(w io.Writer) {
		fmt.Fprint(w, "🔑 ")
		if err != nil {
			errorBadge.Fprint(w, " TOKEN ")
			fmt.Fprint(w, " ")
			errorText.Fprint(w, provider)
			mutedText.Fprintf(w, " refresh failed (%s)\n", err)
			return
		}
		warningBadge.Fprint(w, "[TOKEN]")
		fmt.Fprint(w, " ")
		neonPink.Fprint(w, provider)
		mutedText.Fprintf(w, " refreshed in %dms\n", elapsed.Milliseconds())
	})
}

// PrintReload logs a configuration reload.
func PrintReload(providers int, err error) {
	line(func(w io.Writer) {
		if err != nil {
			errorBadge.Fprint(w, " RELOAD ")
			fmt.Fprint(w, " ")
			errorText.Fprintf(w, "configuration rejected: %s\n", err)
			return
		}
		successBadge.Fprint(w, " RELOAD ")
		fmt.Fprint(w, " ")
		successText.Fprintf(w, "%d providers loaded\n", providers)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// PrintRequest logs a request with styled output.
// Color-codes status, method, and latency for quick visual parsing.
func PrintRequest(method, path string, status int, latency time.Duration, provider string) {
	line(func(w io.Writer) {
		// Timestamp
		mutedText.Fprintf(w, "%s ", time.Now().Format("15:04:05"))

		printMethodBadge(w, method)
		fmt.Fprint(w, " ")

		fmt.Fprintf(w, "%-30s ", truncatePath(path, 30))

		printStatusBadge(w, status)
		fmt.Fprint(w, " ")

		printLatency(w, latency)
		fmt.Fprint(w, " ")

		if provider != "" {
			mutedText.Fprintf(w, "provider:%s", provider)
		}

		fmt.Fprintln(w)
	})
}

// printMethodBadge prints the HTTP method with appropriate color.
func printMethodBadge(w io.Writer, method string) {
	switch method {
	case "POST":
		methodPOST.Fprintf(w, " %s ", method)
	case "GET":
		methodGET.Fprintf(w, " %s ", method)
	case "PUT":
		methodPUT.Fprintf(w, " %s ", method)
	case "DELETE":
		methodDELETE.Fprintf(w, " %s ", method)
	default:
		debugBadge.Fprintf(w, " %s ", method)
	}
}

// printStatusBadge prints the status code with appropriate color.
func printStatusBadge(w io.Writer, status int) {
	switch {
	case status >= 200 && status < 300:
		successBadge.Fprintf(w, " %d ", status)
	case status >= 300 && status < 400:
		infoBadge.Fprintf(w, " %d ", status)
	case status >= 400 && status < 500:
		warningBadge.Fprintf(w, " %d ", status)
	default:
		errorBadge.Fprintf(w, " %d ", status)
	}
}

// printLatency prints latency with color gradient.
// Green: < 500ms, Yellow: < 3s, Red: >= 3s. Model calls are slow.
func printLatency(w io.Writer, latency time.Duration) {
	ms := latency.Milliseconds()
	latencyStr := fmt.Sprintf("%5dms", ms)

	switch {
	case ms < 500:
		successText.Fprint(w, latencyStr)
	case ms < 3000:
		warningText.Fprint(w, latencyStr)
	default:
		errorText.Fprint(w, latencyStr)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// formatSize renders a byte count.
func formatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fKB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
	}
}

// truncatePath truncates a path to maxLen characters.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return path[:maxLen-3] + "..."
}

// ══════════════════════════════════════════════════════════════════════════════
// STARTUP MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// ProviderLine is one row of the startup provider table.
type ProviderLine struct {
	ID       string
	Kind     string
	Encoding string
	Active   bool
	Login    bool
}

// PrintStartupInfo prints styled server startup information.
func PrintStartupInfo(host string, port int, providers []ProviderLine) {
	line(func(w io.Writer) {
		fmt.Fprintln(w)
		infoBadge.Fprint(w, "[ADAPTER]")
		fmt.Fprint(w, " Server starting on ")
		neonBlue.Fprintf(w, "http://%s:%d\n", host, port)

		active := 0
		for _, p := range providers {
			if p.Active {
				active++
			}
		}
		infoBadge.Fprint(w, "[ADAPTER]")
		fmt.Fprint(w, " Providers: ")
		if active > 0 {
			successText.Fprintf(w, "%d active", active)
		} else {
			errorText.Fprintf(w, "%d active", active)
		}
		mutedText.Fprintf(w, " / %d configured\n", len(providers))

		for _, p := range providers {
			mutedText.Fprint(w, "    • ")
			if p.Active {
				successText.Fprintf(w, "%-20s", p.ID)
			} else {
				mutedText.Fprintf(w, "%-20s", p.ID)
			}
			fmt.Fprintf(w, " %-6s %-7s", p.Kind, p.Encoding)
			if p.Login {
				warningText.Fprint(w, " login")
			}
			fmt.Fprintln(w)
		}

		fmt.Fprintln(w)
		printEndpoints(w)
	})
}

// printEndpoints prints the available API endpoints.
func printEndpoints(w io.Writer) {
	endpoints := []struct {
		method, path, desc string
	}{
		{"POST", "/v1/chat/completions", "Chat completion (OpenAI-compatible)"},
		{"POST", "/v1/images/generations", "Image generation                   "},
		{"POST", "/v1/audio/speech", "Speech synthesis                   "},
		{"GET ", "/v1/providers", "List configured providers          "},
		{"GET ", "/health", "Health check                       "},
	}

	mutedText.Fprintln(w, "  ┌───────────────────────────────────────────────────────────────────┐")
	for _, e := range endpoints {
		mutedText.Fprint(w, "  │ ")
		if e.method == "POST" {
			methodPOST.Fprintf(w, " %s ", e.method)
		} else {
			methodGET.Fprintf(w, " %s ", e.method)
		}
		fmt.Fprintf(w, " %-24s ", e.path)
		mutedText.Fprint(w, e.desc)
		mutedText.Fprintln(w, " │")
	}
	mutedText.Fprintln(w, "  └───────────────────────────────────────────────────────────────────┘")
	fmt.Fprintln(w)
}

// PrintShutdown prints a styled shutdown message.
func PrintShutdown() {
	line(func(w io.Writer) {
		fmt.Fprintln(w)
		warningBadge.Fprint(w, "[SHUTDOWN]")
		warningText.Fprintln(w, " Graceful shutdown initiated...")
	})
}

// PrintGoodbye prints a styled goodbye message.
func PrintGoodbye() {
	line(func(w io.Writer) {
		successBadge.Fprint(w, " OK ")
		fmt.Fprint(w, " ")
		successText.Fprintln(w, "Server stopped. Goodbye! 👋")
	})
}
