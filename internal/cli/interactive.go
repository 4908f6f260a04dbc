package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

const historyPreviewChars = 50

// clearScreen is the ANSI sequence for "erase display, cursor home".
const clearScreen = "\033[2J\033[H"

// Handler processes one line of input and returns the text to print.
type Handler func(ctx context.Context, input string) (string, error)

type HistoryEntry struct {
	Input  string
	Output string
}

// Session is a line-oriented REPL with exit, help, history and clear
// meta-commands. It keeps the inputs of the current session only.
type Session struct {
	Title   string
	Action  string // e.g. "analysis"
	Busy    string // printed before each request
	In      io.Reader
	Out     io.Writer
	Handler Handler

	history []HistoryEntry
}

func (s *Session) History() []HistoryEntry {
	return s.history
}

func (s *Session) printBanner() {
	fmt.Fprintf(s.Out, "\n===== %s Interactive Mode =====\n", s.Title)
	fmt.Fprintln(s.Out, "Type 'exit', 'quit', or 'q' to end the session.")
	fmt.Fprintln(s.Out, "Type 'help' or '?' for instructions.")
	fmt.Fprintf(s.Out, "Enter your text for %s below:\n\n", s.Action)
}

func (s *Session) printHelp() {
	fmt.Fprintln(s.Out, "\nInstructions:")
	fmt.Fprintf(s.Out, "  - Type your text and press Enter to get a%s %s\n", article(s.Action), s.Action)
	fmt.Fprintln(s.Out, "  - Type 'exit', 'quit', or 'q' to end the session")
	fmt.Fprintln(s.Out, "  - Type 'history' to see your previous inputs")
	fmt.Fprintln(s.Out, "  - Type 'clear' to clear the screen")
}

func article(word string) string {
	if word != "" && strings.ContainsRune("aeiou", rune(word[0])) {
		return "n"
	}
	return ""
}

func (s *Session) printHistory() {
	if len(s.history) == 0 {
		fmt.Fprintln(s.Out, "No history yet.")
		return
	}
	for i, entry := range s.history {
		fmt.Fprintf(s.Out, "%d. %s\n", i+1, preview(entry.Input))
	}
}

func preview(input string) string {
	runes := []rune(input)
	if len(runes) <= historyPreviewChars {
		return input
	}
	return string(runes[:historyPreviewChars]) + "..."
}

// Run reads lines until EOF, an exit command, or ctx is done. Handler
// errors are printed and the session continues.
func (s *Session) Run(ctx context.Context) error {
	s.printBanner()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(s.In)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(s.Out, "> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.Out, "\nExiting interactive mode.")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(s.Out, "\nExiting interactive mode.")
			return <-scanErr
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "exit", "quit", "q":
			fmt.Fprintln(s.Out, "Exiting interactive mode.")
			return nil
		case "help", "?":
			s.printHelp()
			continue
		case "history":
			s.printHistory()
			continue
		case "clear":
			fmt.Fprint(s.Out, clearScreen)
			continue
		case "":
			continue
		}

		if s.Busy != "" {
			fmt.Fprintf(s.Out, "\n%s\n", s.Busy)
		}
		output, err := s.Handler(ctx, line)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				fmt.Fprintln(s.Out, "\nExiting interactive mode.")
				return nil
			}
			fmt.Fprintf(s.Out, "ERROR: %v\n", err)
			continue
		}
		fmt.Fprintf(s.Out, "\nRESULT:\n%s\n\n", output)
		s.history = append(s.history, HistoryEntry{Input: line, Output: output})
	}
}

// PromptOnce asks for a single line of text.
func PromptOnce(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	reader := bufio.NewReader(in)
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
