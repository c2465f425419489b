package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kharomchat/internal/models"
	"kharomchat/internal/service/chat"
	"kharomchat/internal/service/session"
)

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the advisor in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	core, err := openSessionCore(ctx, cfg)
	if err != nil {
		return err
	}
	defer core.Close()
	<-core.coord.Start(ctx)

	return newREPL(core.coord, core.turns, out).run(ctx, in)
}

const replHelp = `commands:
  /new                       start a new chat
  /list                      show chat history
  /select <n|id>             open a chat from the history list
  /rename <n|id> <title>     rename a chat
  /delete <n|id>             delete a chat
  /history                   show messages of the open chat
  /retry                     resend the prompt that failed
  /like <n>                  like reply number n
  /dislike <n> [presets] [comment]
                             dislike reply n; presets: inaccurate,offensive,unhelpful,other
  /quit                      leave`

var errQuit = errors.New("quit")

type repl struct {
	sessions *session.Coordinator
	turns    *chat.Orchestrator
	out      io.Writer
}

func newREPL(sessions *session.Coordinator, turns *chat.Orchestrator, out io.Writer) *repl {
	return &repl{sessions: sessions, turns: turns, out: out}
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, "Kharom is listening. Type /help for commands.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if err := r.handle(ctx, scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

// handle processes one input line. Only errQuit ends the loop; other failures are printed.
func (r *repl) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		r.printTurn(r.turns.Send(ctx, line))
		return nil
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(r.out, replHelp)
	case "/new":
		r.turns.Reset()
		if id := r.sessions.CreateNewSession(ctx); id == "" {
			fmt.Fprintln(r.out, "could not create a new chat")
		} else {
			fmt.Fprintln(r.out, "new chat started")
		}
	case "/list":
		r.sessions.RefreshSessionSummaries(ctx)
		r.printList()
	case "/select":
		id, ok := r.resolveSession(rest)
		if !ok {
			return nil
		}
		if id != r.sessions.ActiveSessionID() {
			r.turns.Reset()
		}
		r.sessions.SelectSession(ctx, id)
		r.printHistory()
	case "/rename":
		ref, title, _ := strings.Cut(rest, " ")
		title = strings.TrimSpace(title)
		if title == "" {
			fmt.Fprintln(r.out, "usage: /rename <n|id> <title>")
			return nil
		}
		id, ok := r.resolveSession(ref)
		if !ok {
			return nil
		}
		if err := r.sessions.RenameSession(ctx, id, title); err != nil {
			fmt.Fprintf(r.out, "rename failed: %v\n", err)
		}
	case "/delete":
		id, ok := r.resolveSession(rest)
		if !ok {
			return nil
		}
		if id == r.sessions.ActiveSessionID() {
			r.turns.Reset()
		}
		if err := r.sessions.DeleteSession(ctx, id); err != nil {
			fmt.Fprintf(r.out, "delete failed: %v\n", err)
		}
	case "/history":
		r.printHistory()
	case "/retry":
		r.printTurn(r.turns.Retry(ctx))
	case "/like", "/dislike":
		r.feedback(ctx, name == "/like", rest)
	default:
		fmt.Fprintf(r.out, "unknown command %s, type /help\n", name)
	}
	return nil
}

func (r *repl) printTurn(reply *models.Message, err error) {
	var turnErr *chat.TurnError
	switch {
	case err == nil:
		fmt.Fprintf(r.out, "Kharom: %s\n", reply.Text)
	case errors.As(err, &turnErr):
		fmt.Fprintf(r.out, "[%s] %s\n", turnErr.Key, turnErr.Message)
		fmt.Fprintln(r.out, "type /retry to send it again")
	default:
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
}

func (r *repl) printList() {
	sessions := r.sessions.Sessions()
	if len(sessions) == 0 {
		fmt.Fprintln(r.out, "no chats yet")
		return
	}
	active := r.sessions.ActiveSessionID()
	for i, s := range sessions {
		marker := " "
		if s.ID == active {
			marker = "*"
		}
		fmt.Fprintf(r.out, "%s %d. %s  (%s)\n", marker, i+1, s.DisplayTitle(), s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
}

func (r *repl) printHistory() {
	if r.sessions.ActiveSessionID() == "" {
		fmt.Fprintln(r.out, "no chat is open")
		return
	}
	msgs := r.sessions.ActiveSessionMessages()
	if len(msgs) == 0 {
		fmt.Fprintln(r.out, "(empty chat)")
		return
	}
	for i, m := range msgs {
		who := "Kharom"
		if m.IsUser {
			who = "You"
		}
		suffix := ""
		if m.Feedback != models.FeedbackNone {
			suffix = " [" + string(m.Feedback) + "]"
		}
		fmt.Fprintf(r.out, "%d. %s: %s%s\n", i+1, who, m.Text, suffix)
	}
}

// resolveSession accepts a 1-based position in the history list or a session id.
func (r *repl) resolveSession(ref string) (string, bool) {
	if ref == "" {
		fmt.Fprintln(r.out, "which chat? give its number from /list or its id")
		return "", false
	}
	sessions := r.sessions.Sessions()
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(sessions) {
			fmt.Fprintf(r.out, "no chat number %d\n", n)
			return "", false
		}
		return sessions[n-1].ID, true
	}
	return ref, true
}

func (r *repl) feedback(ctx context.Context, liked bool, args string) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		fmt.Fprintln(r.out, "usage: /like <n> or /dislike <n> [presets] [comment]")
		return
	}
	msgs := r.sessions.ActiveSessionMessages()
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 1 || n > len(msgs) {
		fmt.Fprintf(r.out, "no message number %s\n", fields[0])
		return
	}
	msg := msgs[n-1]
	if msg.IsUser {
		fmt.Fprintln(r.out, "only replies can be rated")
		return
	}

	fb := models.FeedbackLiked
	var detailed *models.DetailedFeedback
	if !liked {
		fb = models.FeedbackDisliked
		detailed = parseDislike(fields[1:])
	}
	if err := r.sessions.UpdateMessageFeedbackInActiveSession(ctx, msg.ID, fb, detailed); err != nil {
		fmt.Fprintf(r.out, "feedback failed: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, "thanks for the feedback")
}

// parseDislike reads an optional comma separated preset list followed by a free comment.
func parseDislike(fields []string) *models.DetailedFeedback {
	if len(fields) == 0 {
		return nil
	}
	detailed := &models.DetailedFeedback{Presets: []string{}}
	rest := fields
	if presets, ok := parsePresets(fields[0]); ok {
		detailed.Presets = presets
		rest = fields[1:]
	}
	detailed.Comment = strings.Join(rest, " ")
	return detailed
}

func parsePresets(field string) ([]string, bool) {
	var presets []string
	for _, p := range strings.Split(field, ",") {
		switch p {
		case models.PresetInaccurate, models.PresetOffensive, models.PresetUnhelpful, models.PresetOther:
			presets = append(presets, p)
		default:
			return nil, false
		}
	}
	return presets, true
}
