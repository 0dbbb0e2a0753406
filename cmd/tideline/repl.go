package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/nevindra/tideline"
)

const helpText = `commands:
  /attach <path>   attach a file to the next message
  /browse          toggle web search
  /tools           toggle tool calling
  /retry           answer the last message again
  /delete <id>     delete a message and its supplements
  /history         list the conversation
  /help            show this help
  /quit            exit`

type repl struct {
	session *tideline.Session
	out     io.Writer
	sigs    <-chan os.Signal
	opts    tideline.TurnOptions
	pending []tideline.Attachment
}

func newREPL(session *tideline.Session, out io.Writer, sigs <-chan os.Signal) *repl {
	return &repl{session: session, out: out, sigs: sigs}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for {
		fmt.Fprint(r.out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(r.out)
			return sc.Err()
		}
		quit, err := r.handle(ctx, strings.TrimSpace(sc.Text()))
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// handle runs one input line and reports whether the REPL should exit.
func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		in := tideline.TurnInput{Text: line, Attachments: r.pending, Options: r.opts}
		r.pending = nil
		return false, r.wait(r.session.Submit(ctx, in, newRenderer(r.out).render))
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, helpText)
	case "/browse":
		r.opts.Browsing = !r.opts.Browsing
		fmt.Fprintf(r.out, "web search %s\n", onOff(r.opts.Browsing))
	case "/tools":
		r.opts.Tools = !r.opts.Tools
		fmt.Fprintf(r.out, "tool calling %s\n", onOff(r.opts.Tools))
	case "/attach":
		if arg == "" {
			return false, errors.New("usage: /attach <path>")
		}
		att, err := loadAttachment(arg)
		if err != nil {
			return false, err
		}
		r.pending = append(r.pending, att)
		fmt.Fprintf(r.out, "attached %s (%s)\n", att.Name, att.Type)
	case "/retry":
		msgs := r.session.Messages()
		if len(msgs) == 0 {
			return false, errors.New("nothing to retry")
		}
		turn, err := r.session.Retry(ctx, msgs[len(msgs)-1].ID, r.opts, newRenderer(r.out).render)
		if err != nil {
			return false, err
		}
		return false, r.wait(turn)
	case "/delete":
		if arg == "" {
			return false, errors.New("usage: /delete <id>")
		}
		return false, r.session.DeleteMessage(ctx, arg)
	case "/history":
		r.history()
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

// wait blocks until the turn finishes. An interrupt cancels it.
func (r *repl) wait(turn *tideline.Turn) error {
	drain(r.sigs)
	select {
	case <-turn.Done():
	case <-r.sigs:
		turn.Cancel()
	}
	err := turn.Wait()
	fmt.Fprintln(r.out)
	if errors.Is(err, tideline.ErrUserCancelled) {
		fmt.Fprintln(r.out, "(cancelled)")
		return nil
	}
	return err
}

func (r *repl) history() {
	for _, m := range r.session.Messages() {
		doc := m.Document
		if m.Role == tideline.RoleWebSearch {
			doc = fmt.Sprintf("searched %d queries, %d results", m.WebSearchStatus.NumberOfQueries, m.WebSearchStatus.NumberOfResults)
		}
		fmt.Fprintf(r.out, "%s [%s] %s\n", m.ID, m.Role, firstLine(doc, 80))
	}
}

// renderer prints the growing content of streamed inference messages.
type renderer struct {
	out     io.Writer
	printed string
}

func newRenderer(out io.Writer) *renderer { return &renderer{out: out} }

func (p *renderer) render(m tideline.InferenceMessage) {
	if m.Content == "" {
		return
	}
	if rest, ok := strings.CutPrefix(m.Content, p.printed); ok {
		fmt.Fprint(p.out, rest)
	} else {
		// A new round started a new assistant message.
		fmt.Fprint(p.out, "\n"+m.Content)
	}
	p.printed = m.Content
}

// loadAttachment reads a file as an image or a text document. Documents
// are extracted during the turn.
func loadAttachment(path string) (tideline.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tideline.Attachment{}, err
	}
	if len(data) == 0 {
		return tideline.Attachment{}, fmt.Errorf("%s is empty", path)
	}
	att := tideline.Attachment{Name: filepath.Base(path), StorageSuffix: tideline.NewID()}
	if strings.HasPrefix(http.DetectContentType(data), "image/") {
		att.Type = tideline.AttachmentImage
		att.ImageRepresentation = data
		return att, nil
	}
	att.Type = tideline.AttachmentText
	att.RawData = data
	return att, nil
}

func drain(ch <-chan os.Signal) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func firstLine(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
