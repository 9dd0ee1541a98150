package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MegaGrindStone/local-chat/internal/models"
	"github.com/MegaGrindStone/local-chat/internal/session"
)

const helpText = `Commands:
  /models        list the models offered by the backend
  /model <id>    switch to model <id>
  /reset         forget the conversation
  /history       print the conversation
  /quit          leave
Anything else is sent to the model.`

// repl is a line-oriented front end over a session. It prints streamed tokens as they arrive and
// completed messages once.
type repl struct {
	sess *session.Session
	in   io.Reader

	mu       sync.Mutex
	out      io.Writer
	printed  int
	streamed string
}

func newREPL(sess *session.Session, in io.Reader, out io.Writer) *repl {
	return &repl{sess: sess, in: in, out: out}
}

func (r *repl) run(ctx context.Context) error {
	st := r.sess.Store.State()
	r.printed = len(st.Messages)
	for _, m := range st.Messages {
		r.printMessage(m)
	}
	if st.SelectedModel != "" {
		fmt.Fprintf(r.out, "Using model %s\n", st.SelectedModel)
	}
	fmt.Fprintln(r.out, "Type /help for commands.")

	dispose := r.sess.Store.Observe(r.render)
	defer dispose()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(r.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-scanErr:
			return err
		case line := <-lines:
			quit, err := r.handleLine(ctx, line)
			if err != nil {
				r.println("!", err.Error())
			}
			if quit {
				return nil
			}
		}
	}
}

func (r *repl) handleLine(ctx context.Context, line string) (bool, error) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
		return false, nil
	case "/quit", "/exit":
		return true, nil
	case "/help":
		r.println(helpText)
	case "/models":
		ms := r.sess.Registry.FetchModels(ctx)
		if len(ms) == 0 {
			r.println("No models available")
		}
		current := r.sess.Store.State().SelectedModel
		for _, m := range ms {
			marker := " "
			if m.ID == current {
				marker = "*"
			}
			r.println(marker, m.ID)
		}
	case "/model":
		if len(r.sess.Registry.Models()) == 0 {
			r.sess.Registry.FetchModels(ctx)
		}
		return false, r.sess.Registry.SelectModel(ctx, strings.TrimSpace(arg))
	case "/reset":
		if err := r.sess.Store.Reset(ctx); err != nil {
			return false, err
		}
		r.mu.Lock()
		r.printed, r.streamed = 0, ""
		r.mu.Unlock()
		r.println("Conversation cleared")
	case "/history":
		for _, m := range r.sess.Store.State().Messages {
			r.printMessage(m)
		}
	default:
		err := r.sess.Store.AppendUserMessage(ctx, line)
		if errors.Is(err, session.ErrValidation) {
			return false, nil
		}
		return false, err
	}
	return false, nil
}

// render runs as a store observer: it prints the unseen part of the streaming buffer and every
// message appended since the last call.
func (r *repl) render(st session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st.IsStreaming {
		if len(st.StreamingBuffer) > len(r.streamed) {
			fmt.Fprint(r.out, st.StreamingBuffer[len(r.streamed):])
			r.streamed = st.StreamingBuffer
		}
		return
	}

	if r.streamed != "" {
		fmt.Fprintln(r.out)
	}
	streamed := r.streamed
	r.streamed = ""

	if r.printed > len(st.Messages) {
		r.printed = len(st.Messages)
	}
	for _, m := range st.Messages[r.printed:] {
		// The user's own input and an already streamed reply need no echo.
		if m.Role == models.RoleUser {
			continue
		}
		if streamed != "" && m.Role == models.RoleAssistant && m.Content == streamed {
			continue
		}
		fmt.Fprintf(r.out, "%s: %s\n", m.Role, m.Content)
	}
	r.printed = len(st.Messages)
}

func (r *repl) printMessage(m models.Message) {
	r.println(fmt.Sprintf("%s: %s", m.Role, m.Content))
}

func (r *repl) println(a ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, a...)
}
