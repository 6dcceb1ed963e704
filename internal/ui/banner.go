package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASCII ART BANNER - Cyberpunk Theme
// ══════════════════════════════════════════════════════════════════════════════

var (
	hpnArt = [3][6]string{
		{"██╗  ██╗", "██║  ██║", "███████║", "██╔══██║", "██║  ██║", "╚═╝  ╚═╝"},
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
		{"███╗   ██╗", "████╗  ██║", "██╔██╗ ██║", "██║╚██╗██║", "██║ ╚████║", "╚═╝  ╚═══╝"},
	}
	adapterArt = [6]string{
		" █████╗ ██████╗  █████╗ ██████╗ ████████╗███████╗██████╗ ",
		"██╔══██╗██╔══██╗██╔══██╗██╔══██╗╚══██╔══╝██╔════╝██╔══██╗",
		"███████║██║  ██║███████║██████╔╝   ██║   █████╗  ██████╔╝",
		"██╔══██║██║  ██║██╔══██║██╔═══╝    ██║   ██╔══╝  ██╔══██╗",
		"██║  ██║██████╔╝██║  ██║██║        ██║   ███████╗██║  ██║",
		"╚═╝  ╚═╝╚═════╝ ╚═╝  ╚═╝╚═╝        ╚═╝   ╚══════╝╚═╝  ╚═╝",
	}
)

// bannerWidth is the inner width of the frame, measured from the art itself.
func bannerWidth() int {
	return 2 + utf8.RuneCountInString(hpnArt[0][0]+hpnArt[1][0]+hpnArt[2][0]) + 2 +
		utf8.RuneCountInString(adapterArt[0]) + 1
}

// PrintBanner displays the ASCII art startup banner with cyberpunk styling.
func PrintBanner(version string) {
	line(func(w io.Writer) {
		cyan := color.New(color.FgCyan, color.Bold)
		magenta := color.New(color.FgMagenta, color.Bold)
		hiCyan := color.New(color.FgHiCyan)
		hiMagenta := color.New(color.FgHiMagenta)
		yellow := color.New(color.FgYellow, color.Bold)
		white := color.New(color.FgWhite)
		dim := color.New(color.FgHiBlack)

		width := bannerWidth()
		fmt.Fprintln(w)
		cyan.Fprintln(w, "╔"+strings.Repeat("═", width)+"╗")

		for row := range adapterArt {
			cyan.Fprint(w, "║  ")
			hiCyan.Fprint(w, hpnArt[0][row])
			white.Fprint(w, hpnArt[1][row])
			hiMagenta.Fprint(w, hpnArt[2][row])
			dim.Fprint(w, "  ")
			magenta.Fprint(w, adapterArt[row])
			cyan.Fprintln(w, " ║")
		}

		cyan.Fprintln(w, "╠"+strings.Repeat("═", width)+"╣")

		// The flame emoji renders two cells wide.
		info := "🔥 PROVIDER ADAPTER  │  DECLARATIVE MODE  │  " + version
		pad := width - 2 - utf8.RuneCountInString(info) - 1
		if pad < 0 {
			pad = 0
		}
		cyan.Fprint(w, "║  ")
		yellow.Fprint(w, "🔥 PROVIDER ADAPTER")
		dim.Fprint(w, "  │  ")
		hiMagenta.Fprint(w, "DECLARATIVE MODE")
		dim.Fprint(w, "  │  ")
		white.Fprint(w, version)
		fmt.Fprint(w, strings.Repeat(" ", pad))
		cyan.Fprintln(w, "║")

		cyan.Fprintln(w, "╚"+strings.Repeat("═", width)+"╝")
		fmt.Fprintln(w)
	})
}

// PrintMiniBanner displays a smaller, simpler banner for constrained terminals.
func PrintMiniBanner() {
	line(func(w io.Writer) {
		cyan := color.New(color.FgCyan, color.Bold)
		magenta := color.New(color.FgMagenta, color.Bold)
		yellow := color.New(color.FgYellow)

		fmt.Fprintln(w)
		cyan.Fprintln(w, "╔══════════════════════════════════════╗")
		cyan.Fprint(w, "║  ")
		magenta.Fprint(w, "HPN ADAPTER")
		yellow.Fprint(w, " 🔥 ")
		cyan.Fprint(w, "DECLARATIVE MODE ")
		cyan.Fprintln(w, "║")
		cyan.Fprintln(w, "╚══════════════════════════════════════╝")
		fmt.Fprintln(w)
	})
}
