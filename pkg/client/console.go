// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package client

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/kadirpekel/stratus/pkg/event"
	"github.com/kadirpekel/stratus/pkg/task"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// Printer renders session output as text.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Connected implements Presenter.
func (p *Printer) Connected(info Info) {
	fmt.Fprintf(p.w, "Connected to %s (%s)\n", bold(info.Name), info.URL)
	if info.Streaming {
		fmt.Fprintln(p.w, "Streaming: supported")
	} else {
		fmt.Fprintln(p.w, yellow("Streaming: not supported"))
	}
	fmt.Fprintln(p.w, gray("Type 'exit', 'quit' or 'q' to leave."))
	fmt.Fprintln(p.w)
}

// Event implements Presenter.
func (p *Printer) Event(ev event.Event) {
	switch e := ev.(type) {
	case event.StatusChanged:
		switch e.State {
		case task.StateWorking:
			if e.Message != "" {
				fmt.Fprintf(p.w, "%s %s\n", cyan("…"), gray(e.Message))
			}
		case task.StateFailed:
			if e.Reason != "" {
				fmt.Fprintf(p.w, "%s (%s): %s\n\n", red("Task failed"), e.Reason, e.Message)
			} else {
				fmt.Fprintf(p.w, "%s: %s\n\n", red("Task failed"), e.Message)
			}
		}
	case event.ArtifactDelivered:
		if e.Artifact.Name != "" {
			fmt.Fprintf(p.w, "\n%s\n", green(e.Artifact.Name))
		}
		fmt.Fprintf(p.w, "%s\n\n", e.Artifact.Text)
	}
}

// Error implements Presenter.
func (p *Printer) Error(err error) {
	fmt.Fprintf(p.w, "\n%s %v\n\n", red("Error:"), err)
}

// Console is the interactive terminal front end.
type Console struct {
	*Printer
	rl *readline.Instance
}

// NewConsole opens the terminal for line editing. History is kept in
// historyFile when it is not empty.
func NewConsole(historyFile string) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		UniqueEditLine:    true,

		Stdin:  readline.NewCancelableStdin(os.Stdin),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize readline: %w", err)
	}
	return &Console{Printer: NewPrinter(rl.Stdout()), rl: rl}, nil
}

// Prompt implements Prompter. A non-empty label is the agent's question.
// Ctrl+C on an empty line and Ctrl+D end the session.
func (c *Console) Prompt(ctx context.Context, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if label != "" {
		fmt.Fprintf(c.w, "%s\n", yellow(label))
	}

	line, err := c.rl.Readline()
	if err == readline.ErrInterrupt {
		if len(line) == 0 {
			return "", io.EOF
		}
		return "", nil
	}
	return line, err
}

// Close restores the terminal.
func (c *Console) Close() error {
	return c.rl.Close()
}

var (
	_ Prompter  = (*Console)(nil)
	_ Presenter = (*Printer)(nil)
)
