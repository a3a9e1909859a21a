// Package console is the line-oriented staff front end of a desk.Desk.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"retail-ops/support-chat/internal/desk"
	"retail-ops/support-chat/internal/models"
)

const helpText = `commands:
  list                  show sessions (numbers are used by other commands)
  open N | close        open session N / leave the conversation
  accept N | end [N]    take a waiting session / hand it back to the assistant
  show                  print the open conversation
  send TEXT             post to the open session
  search [QUERY]        filter the conversation; no query returns to live view
  edit M TEXT | rm M    edit or delete message M from the last show
  pin N | unpin N | mute N | unmute N
  delete N              delete session N
  quit`

// Confirm asks a yes/no question before destructive actions.
type Confirm func(question string) bool

type Console struct {
	desk    *desk.Desk
	out     io.Writer
	confirm Confirm

	listed []models.ChatSession
	shown  []models.ChatMessage
}

func New(d *desk.Desk, out io.Writer, confirm Confirm) *Console {
	return &Console{desk: d, out: out, confirm: confirm}
}

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// Exec runs one command line.
func (c *Console) Exec(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))

	switch cmd {
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
	case "quit", "exit":
		return ErrQuit
	case "list", "ls":
		c.list()
	case "open":
		id, err := c.sessionArg(args)
		if err != nil {
			return err
		}
		if err := c.desk.Open(id); err != nil {
			return err
		}
		c.show()
	case "close":
		c.desk.Close()
	case "accept":
		id, err := c.sessionArg(args)
		if err != nil {
			return err
		}
		res, err := c.desk.Accept(ctx, id)
		if err != nil {
			if who, ok := models.AssigneeOf(err); ok {
				c.listed = nil
				return fmt.Errorf("already taken by %s", orUnknown(who))
			}
			return err
		}
		c.listed = nil
		if res.Current.IsZero() {
			fmt.Fprintln(c.out, "accepted; session no longer listed")
			return nil
		}
		fmt.Fprintln(c.out, "accepted")
		c.show()
	case "end":
		id, err := c.sessionOrSelected(args)
		if err != nil {
			return err
		}
		if err := c.desk.End(ctx, id); err != nil {
			return err
		}
		c.listed = nil
		fmt.Fprintln(c.out, "chat handed back to the assistant")
	case "show":
		if _, ok := c.desk.Selected(); !ok {
			return desk.ErrNoSession
		}
		c.show()
	case "send":
		if rest == "" {
			return errors.New("usage: send TEXT")
		}
		if _, err := c.desk.Send(ctx, rest, models.MessageText); err != nil {
			return err
		}
		c.show()
	case "search":
		if err := c.desk.Search(ctx, rest); err != nil {
			return err
		}
		c.show()
	case "edit":
		if len(args) < 2 {
			return errors.New("usage: edit M TEXT")
		}
		id, err := c.messageArg(args[0])
		if err != nil {
			return err
		}
		text := strings.TrimSpace(strings.TrimPrefix(rest, args[0]))
		if err := c.desk.EditMessage(ctx, id, text); err != nil {
			return err
		}
		c.show()
	case "rm":
		if len(args) != 1 {
			return errors.New("usage: rm M")
		}
		id, err := c.messageArg(args[0])
		if err != nil {
			return err
		}
		if err := c.desk.DeleteMessage(ctx, id, c.confirm("Delete this message?")); err != nil {
			return err
		}
		c.show()
	case "delete":
		id, err := c.sessionArg(args)
		if err != nil {
			return err
		}
		if err := c.desk.DeleteSession(ctx, id, c.confirm("Delete this session and all its messages?")); err != nil {
			return err
		}
		c.listed = nil
	case "pin", "unpin":
		id, err := c.sessionArg(args)
		if err != nil {
			return err
		}
		if err := c.desk.SetPinned(ctx, id, cmd == "pin"); err != nil {
			return err
		}
		c.listed = nil
	case "mute", "unmute":
		id, err := c.sessionArg(args)
		if err != nil {
			return err
		}
		return c.desk.SetMuted(ctx, id, cmd == "mute")
	default:
		return fmt.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func (c *Console) list() {
	c.listed = c.desk.Sessions()
	if len(c.listed) == 0 {
		fmt.Fprintln(c.out, "no sessions")
		return
	}
	selected, _ := c.desk.Selected()
	for i, s := range c.listed {
		fmt.Fprintln(c.out, formatSession(i+1, s, s.ID == selected))
	}
}

func formatSession(n int, s models.ChatSession, open bool) string {
	var b strings.Builder
	marker := " "
	if open {
		marker = ">"
	}
	name := s.CustomerName
	if name == "" {
		name = s.CustomerID
	}
	fmt.Fprintf(&b, "%s%2d. %-16s %s", marker, n, s.Mode, name)
	if s.UnreadCount > 0 {
		fmt.Fprintf(&b, " (%d unread)", s.UnreadCount)
	}
	if s.IsPinned {
		b.WriteString(" [pinned]")
	}
	if s.IsMuted {
		b.WriteString(" [muted]")
	}
	if s.LastMessage != nil {
		fmt.Fprintf(&b, " : %s", truncate(s.LastMessage.Content, 40))
	}
	return b.String()
}

func (c *Console) show() {
	c.shown = c.desk.Messages()
	if c.desk.SearchActive() {
		fmt.Fprintf(c.out, "-- search results (%d) --\n", len(c.shown))
	}
	index := make(map[primitive.ObjectID]int, len(c.shown))
	for i, m := range c.shown {
		index[m.ID] = i + 1
	}
	for _, entry := range c.desk.Timeline() {
		if entry.Divider {
			fmt.Fprintf(c.out, "---------- %s ----------\n", entry.At.Local().Format("Jan 2 15:04"))
			continue
		}
		fmt.Fprintf(c.out, "%s:\n", senderLabel(entry.Messages[0]))
		for _, m := range entry.Messages {
			edited := ""
			if m.IsEdited {
				edited = " (edited)"
			}
			fmt.Fprintf(c.out, "  [%d] %s %s%s\n", index[m.ID], m.CreatedAt.Local().Format("15:04"), m.Content, edited)
		}
	}
}

func senderLabel(m models.ChatMessage) string {
	switch {
	case m.SenderName != "":
		return m.SenderName
	case m.SenderRole == models.RoleAI:
		return "assistant"
	default:
		return m.SenderID
	}
}

func (c *Console) sessionArg(args []string) (primitive.ObjectID, error) {
	if len(args) != 1 {
		return primitive.NilObjectID, errors.New("expected a session number, see list")
	}
	if c.listed == nil {
		c.listed = c.desk.Sessions()
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 || n > len(c.listed) {
		return primitive.NilObjectID, fmt.Errorf("no session %q, see list", args[0])
	}
	return c.listed[n-1].ID, nil
}

func (c *Console) sessionOrSelected(args []string) (primitive.ObjectID, error) {
	if len(args) == 0 {
		id, ok := c.desk.Selected()
		if !ok {
			return primitive.NilObjectID, desk.ErrNoSession
		}
		return id, nil
	}
	return c.sessionArg(args)
}

func (c *Console) messageArg(arg string) (primitive.ObjectID, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(c.shown) {
		return primitive.NilObjectID, fmt.Errorf("no message %q, see show", arg)
	}
	return c.shown[n-1].ID, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func orUnknown(s string) string {
	if s == "" {
		return "another staff member"
	}
	return s
}
