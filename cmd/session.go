// File: cmd/session.go
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/xkilldash9x/pagepilot/internal/agent"
	"github.com/xkilldash9x/pagepilot/internal/engine"
	"github.com/xkilldash9x/pagepilot/internal/intent"
)

const prompt = "pagepilot > "

const sessionHelp = `Commands:
  go <address>     open a URL, or search for anything that is not one
  back | forward | reload
  stop             clear the queue and abandon the running action
  state            show the engine state
  help             show this text
  exit | quit      leave
Anything else is an instruction for the planner.`

// session is the interactive command line of a run.
type session struct {
	agent     *agent.Agent
	searchURL string
	out       io.Writer
	// terminal enables line editing; piped input is read line by line.
	terminal    bool
	historyFile string
}

// loop reads lines from in until EOF, an exit command or ctx ends. quit
// reports whether the user asked to leave.
func (s *session) loop(ctx context.Context, in io.Reader) (quit bool, err error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       s.historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             readline.NewCancelableStdin(in),
		Stdout:            s.out,
		Stderr:            s.out,
		FuncIsTerminal:    func() bool { return s.terminal },
	})
	if err != nil {
		return false, fmt.Errorf("failed to initialize readline: %w", err)
	}
	var closeOnce sync.Once
	closeReader := func() { closeOnce.Do(func() { _ = rl.Close() }) }
	defer closeReader()
	// Closing the instance interrupts a pending Readline.
	stop := context.AfterFunc(ctx, closeReader)
	defer stop()

	for {
		line, err := rl.Readline()
		if ctx.Err() != nil {
			return false, nil
		}
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return true, nil
			}
			continue
		case errors.Is(err, io.EOF):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("error reading input: %w", err)
		}

		quit, err := s.execute(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				return false, nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
		if quit {
			return true, nil
		}
	}
}

// execute runs one line. Errors are reported to the user; they do not end
// the session.
func (s *session) execute(ctx context.Context, line string) (quit bool, err error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	word, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	eng := s.agent.Engine()

	switch strings.ToLower(word) {
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Fprintln(s.out, sessionHelp)
		return false, nil
	case "stop":
		if err := eng.StopAll(ctx); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "Stopped.")
		return false, nil
	case "state":
		state, err := eng.Snapshot(ctx)
		if err != nil {
			return false, err
		}
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, string(data))
		return false, nil
	case "go":
		target := intent.ResolveAddress(rest, s.searchURL)
		if target == "" {
			return false, fmt.Errorf("go needs an address")
		}
		return false, s.enqueue(ctx, intent.Intent{Kind: intent.KindNavigate, URL: target})
	case "back", "forward", "reload":
		if rest == "" {
			return false, s.enqueue(ctx, intent.Intent{Kind: intent.ParseKind(word)})
		}
	}

	resp, err := s.agent.Handle(ctx, line)
	if err != nil {
		return false, err
	}
	if resp.Message != "" {
		fmt.Fprintf(s.out, "pagepilot: %s\n", resp.Message)
	}
	s.printReport(resp.Report)
	return false, nil
}

func (s *session) enqueue(ctx context.Context, in intent.Intent) error {
	report, err := s.agent.Engine().Enqueue(ctx, []intent.Intent{in})
	if err != nil {
		return err
	}
	s.printReport(report)
	return nil
}

func (s *session) printReport(r engine.EnqueueReport) {
	if r.Duplicates > 0 {
		fmt.Fprintf(s.out, "(%d duplicate actions skipped)\n", r.Duplicates)
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(s.out, "(rejected %s: %s)\n", rej.Intent, rej.Error)
	}
}

// formatOutcome renders an outcome as one line for the terminal.
func formatOutcome(o engine.Outcome) string {
	if o.Intent.Kind == intent.KindRespond && o.Succeeded {
		return fmt.Sprintf("pagepilot: %s", o.Intent.Message)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] ", o.Seq)
	if o.Succeeded {
		b.WriteString("ok ")
	} else {
		b.WriteString("FAILED ")
	}
	b.WriteString(o.Intent.String())
	switch {
	case !o.Succeeded:
		fmt.Fprintf(&b, ": %s", o.Error)
		if o.ErrorKind != "" {
			fmt.Fprintf(&b, " (%s)", o.ErrorKind)
		}
	case o.ErrorKind != "":
		fmt.Fprintf(&b, " (%s)", o.ErrorKind)
	case o.Intent.Kind == intent.KindExtract && len(o.Detail) > 0:
		fmt.Fprintf(&b, " -> %s", o.Detail)
	}
	return b.String()
}
