package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set at build time via ldflags
var Version = "dev"

const pidFile = "academyd.pid"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "start":
		err = cmdStart()
	case "stop":
		err = cmdStop()
	case "status":
		err = cmdStatus()
	case "logs":
		err = cmdLogs()
	case "assignment":
		err = cmdAssignment(os.Args[2:])
	case "progress":
		err = cmdProgress(os.Args[2:])
	case "complete":
		err = cmdComplete(os.Args[2:])
	case "reset":
		err = cmdReset(os.Args[2:])
	case "stats":
		err = cmdStats()
	case "mcp":
		err = cmdMCP(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	case "version", "-v", "--version":
		fmt.Printf("academy %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Academy - assignment progress tracker

Usage:
  academy <command> [arguments]

Daemon Commands:
  start           Start the academy daemon
  stop            Stop the academy daemon
  status          Show daemon status
  logs            View daemon logs

Curriculum Commands:
  assignment list [chapter]   List chapters, or the assignments of one chapter
  assignment find <query>     Search assignments by title or skill
  assignment show <id>        Show an assignment's exercises

Progress Commands:
  progress <id>   Show progress on an assignment
  complete <id>   Mark an assignment completed
  reset <id>      Discard all progress on an assignment
  stats           Show totals across assignments

Integration Commands:
  mcp [--http <addr>]
                  Start MCP server on stdio, or on HTTP at addr

Other:
  help            Show this help message
  version         Show version information

Examples:
  academy start                     # Start daemon
  academy assignment list ch01      # Assignments of chapter ch01
  academy progress ch01-01          # Progress on the first assignment
  academy mcp                       # Start MCP server for an editor agent
  academy mcp --http :7433          # Serve the MCP tools over HTTP`)
}

// renderProgressBar creates a visual progress bar for a percentage
func renderProgressBar(percent, width int) string {
	filled := percent * width / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

// formatDuration renders seconds as 1h 05m or 4m 10s
func formatDuration(seconds int) string {
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
