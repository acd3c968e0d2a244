package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/sheerbytes/once/internal/cli/fetch"
	"github.com/sheerbytes/once/internal/cli/serve"
	"github.com/sheerbytes/once/internal/termio"
)

const (
	version = "v0.1.0"
	banner  = `
 ██████╗ ███╗   ██╗ ██████╗███████╗
██╔═══██╗████╗  ██║██╔════╝██╔════╝
██║   ██║██╔██╗ ██║██║     █████╗  
██║   ██║██║╚██╗██║██║     ██╔══╝  
╚██████╔╝██║ ╚████║╚██████╗███████╗
 ╚═════╝ ╚═╝  ╚═══╝ ╚═════╝╚══════╝
once ` + version + `
Share a file over HTTP, a set number of times, then vanish.
`
)

var (
	startupMessages = []string{
		"Counting downloads so you don't have to.",
		"One link, one file, no leftovers.",
		"The server leaves when the party's over.",
		"Archiving on the fly.",
		"No accounts, no cloud, just HTTP.",
		"Nothing to clean up afterwards.",
		"Ready when the browser is.",
		"Your LAN, your bytes.",
	}
	rng = rand.New(rand.NewSource(time.Now().UnixNano()))
)

func main() {
	termio.Init()
	args := os.Args[1:]
	if len(args) == 0 {
		printBanner()
		printUsage()
		termio.Flush()
		return
	}
	if args[0] == "--version" || args[0] == "-v" {
		printBanner()
		termio.Flush()
		return
	}

	cmdName := args[0]
	switch cmdName {
	case "serve":
		if shouldPrintStartupMessage(args[1:]) {
			fmt.Fprintf(termio.Stdout(), ">>.. %s\n", pickStartupMessage())
		}
		os.Exit(serve.Run(args[1:]))
	case "fetch":
		os.Exit(fetch.Run(args[1:]))
	default:
		if hasHelpFlag(args) {
			printUsage()
			termio.Flush()
			return
		}
		fmt.Fprintf(termio.Stderr(), "unknown command: %s\n", cmdName)
		printUsage()
		termio.Flush()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Fprintln(termio.Stderr(), "usage: once <command> [args]")
	fmt.Fprintln(termio.Stderr(), "commands:")
	fmt.Fprintln(termio.Stderr(), "  serve a file or directory for a fixed number of downloads")
	fmt.Fprintln(termio.Stderr(), "  fetch a URL into a new file")
	fmt.Fprintln(termio.Stderr(), "quick examples:")
	fmt.Fprintln(termio.Stderr(), "  once serve report.pdf")
	fmt.Fprintln(termio.Stderr(), "  once serve --count 3 --compression zip ./photos")
	fmt.Fprintln(termio.Stderr(), "  once serve --upload --upload-dir ./inbox")
	fmt.Fprintln(termio.Stderr(), "  once fetch http://192.168.1.20:8080/report.pdf")
	fmt.Fprintln(termio.Stderr(), "to learn detailed usage:")
	fmt.Fprintln(termio.Stderr(), "  once serve --help")
	fmt.Fprintln(termio.Stderr(), "  once fetch --help")
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func shouldPrintStartupMessage(args []string) bool {
	if len(args) == 0 || hasHelpFlag(args) {
		return false
	}
	for _, arg := range args {
		if arg == "--quiet" || arg == "-quiet" {
			return false
		}
	}
	return true
}

func pickStartupMessage() string {
	return startupMessages[rng.Intn(len(startupMessages))]
}

func printBanner() {
	fmt.Fprint(termio.Stdout(), banner)
}
