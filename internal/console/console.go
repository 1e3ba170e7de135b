// Package console is a line-oriented front end for the sync engine. Each input line runs
// through a cobra command tree; changes apply locally at once and sync in the background.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"freecanvas/internal/engine"
	"freecanvas/internal/model"
)

// ErrQuit is returned by Exec for the quit command.
var ErrQuit = errors.New("quit")

// Engine is the part of *engine.Engine the console drives.
type Engine interface {
	Snapshot() []model.CanvasItem
	Item(id string) (model.CanvasItem, error)
	CreateItem(draft model.CanvasItem) (model.CanvasItem, error)
	Move(id string, x, y float64) error
	Resize(id string, width, height float64) error
	ResizeBy(id string, dw, dh float64) error
	SetContent(id, content string) error
	CycleColor(id string) error
	AddChecklistEntry(id, text string) (model.ChecklistEntry, error)
	SetChecklistEntryDone(id, entryID string, done bool) error
	EditChecklistEntry(id, entryID, text string) error
	RemoveChecklistEntry(id, entryID string) error
	DeleteItem(id string) error
	ReconcileAll(ctx context.Context) error
	Sync(ctx context.Context) error
	Subscribe(fn func(engine.Event)) (unsubscribe func())
}

// Console executes commands against an engine and writes results to out.
type Console struct {
	eng Engine
	out *syncWriter
}

// syncWriter serializes command output with sync errors printed from engine events.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

// New returns a console writing to out. Sync errors reported by the engine are printed as they arrive.
func New(eng Engine, out io.Writer) (*Console, func()) {
	c := &Console{eng: eng, out: &syncWriter{w: out}}
	unsubscribe := eng.Subscribe(func(ev engine.Event) {
		if ev.Type == engine.EventError {
			c.printf("! %v\n", ev.Err)
		}
	})
	return c, unsubscribe
}

// Run reads commands from in until EOF, quit or ctx is done.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	for {
		c.printf("> ")
		if !sc.Scan() {
			c.printf("\n")
			return sc.Err()
		}
		if err := c.Exec(ctx, sc.Text()); err != nil {
			if errors.Is(err, ErrQuit) {
				return nil
			}
			c.printf("error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Exec runs a single command line. The tree is built per line so each run
// sees its own context.
func (c *Console) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	args[0] = strings.ToLower(args[0])
	root := c.newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// newRootCmd builds the command tree. Flag parsing is off so negative
// coordinates and free text reach the commands untouched.
func (c *Console) newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:                "canvas",
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		SilenceErrors:      true,
		CompletionOptions:  cobra.CompletionOptions{DisableDefaultCmd: true},
		RunE: func(_ *cobra.Command, args []string) error {
			return fmt.Errorf("unknown command %q, try help", args[0])
		},
	}
	root.SetOut(c.out)
	root.SetErr(c.out)
	root.SetHelpCommand(&cobra.Command{
		Use:                "help",
		Short:              "show this list",
		Aliases:            []string{"?"},
		Args:               cobra.ArbitraryArgs,
		DisableFlagParsing: true,
		Run: func(cmd *cobra.Command, _ []string) {
			c.help(cmd.Root())
		},
	})

	root.AddCommand(
		c.newListCmd(),
		c.newNoteCmd(),
		c.newChecklistCmd(),
		c.newImageCmd(),
		c.newGeometryCmd("move <id> <x> <y>", "move an item", c.eng.Move),
		c.newGeometryCmd("resize <id> <w> <h>", "resize a note or image", c.eng.Resize),
		c.newGeometryCmd("grow <id> <dw> <dh>", "resize by a delta", c.eng.ResizeBy),
		c.newTextCmd(),
		c.newColorCmd(),
		c.newAddCmd(),
		c.newEntryCmd("check <id> <entry>", "tick a checklist entry", 2, func(id, entry string, _ []string) error {
			return c.eng.SetChecklistEntryDone(id, entry, true)
		}),
		c.newEntryCmd("uncheck <id> <entry>", "untick a checklist entry", 2, func(id, entry string, _ []string) error {
			return c.eng.SetChecklistEntryDone(id, entry, false)
		}),
		c.newEntryCmd("edit <id> <entry> <text>", "edit a checklist entry", 3, func(id, entry string, rest []string) error {
			return c.eng.EditChecklistEntry(id, entry, strings.Join(rest, " "))
		}),
		c.newEntryCmd("drop <id> <entry>", "remove a checklist entry", 2, func(id, entry string, _ []string) error {
			return c.eng.RemoveChecklistEntry(id, entry)
		}),
		c.newDeleteCmd(),
		c.newSyncCmd(),
		c.newReconcileCmd(),
		c.newQuitCmd(),
	)
	for _, cmd := range root.Commands() {
		cmd.DisableFlagParsing = true
	}
	return root
}

func (c *Console) help(root *cobra.Command) {
	c.printf("commands:\n")
	for _, cmd := range root.Commands() {
		if cmd.Hidden {
			continue
		}
		c.printf("  %-29s %s\n", cmd.Use, cmd.Short)
	}
	c.printf("ids and entry ids may be abbreviated to any unique prefix.\n")
}

// usageArgs accepts between lo and hi args; hi < 0 means no upper bound.
func usageArgs(lo, hi int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) < lo || (hi >= 0 && len(args) > hi) {
			return fmt.Errorf("usage: %s", cmd.Use)
		}
		return nil
	}
}

func (c *Console) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "show items",
		Aliases: []string{"ls"},
		Args:    cobra.ArbitraryArgs,
		Run: func(*cobra.Command, []string) {
			c.list()
		},
	}
}

func (c *Console) newNoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "note <x> <y> [text]",
		Short: "add a note",
		Args:  cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			x, y, err := point(args)
			if err != nil {
				return err
			}
			draft := model.NewNote(x, y)
			draft.Content = strings.Join(args[2:], " ")
			return c.create(draft)
		},
	}
}

func (c *Console) newChecklistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checklist <x> <y>",
		Short: "add a checklist",
		Args:  cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			x, y, err := point(args)
			if err != nil {
				return err
			}
			return c.create(model.NewChecklist(x, y))
		},
	}
}

func (c *Console) newImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "image <x> <y> <ref> [caption]",
		Short: "add an image",
		Args:  usageArgs(3, -1),
		RunE: func(_ *cobra.Command, args []string) error {
			x, y, err := point(args)
			if err != nil {
				return err
			}
			return c.create(model.NewImage(x, y, args[2], strings.Join(args[3:], " ")))
		},
	}
}

// newGeometryCmd covers the commands that take an item and two numbers.
func (c *Console) newGeometryCmd(use, summary string, apply func(id string, a, b float64) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: summary,
		Args:  usageArgs(3, 3),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			a, b, err := point(args[1:])
			if err != nil {
				return err
			}
			return apply(id, a, b)
		},
	}
}

func (c *Console) newTextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "text <id> <text>",
		Short: "replace content",
		Args:  usageArgs(1, -1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			return c.eng.SetContent(id, strings.Join(args[1:], " "))
		},
	}
}

func (c *Console) newColorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "color <id>",
		Short: "next palette color",
		Args:  usageArgs(1, 1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			return c.eng.CycleColor(id)
		},
	}
}

func (c *Console) newAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <id> <text>",
		Short: "append a checklist entry",
		Args:  usageArgs(2, -1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			entry, err := c.eng.AddChecklistEntry(id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			c.printf("entry %s\n", short(entry.ID))
			return nil
		},
	}
}

// newEntryCmd covers the commands addressing one checklist entry.
func (c *Console) newEntryCmd(use, summary string, nargs int, apply func(id, entry string, rest []string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: summary,
		Args:  usageArgs(nargs, -1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, entryID, err := c.resolveEntry(args[0], args[1])
			if err != nil {
				return err
			}
			return apply(id, entryID, args[2:])
		},
	}
}

func (c *Console) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Short:   "delete an item",
		Aliases: []string{"rm"},
		Args:    usageArgs(1, 1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := c.resolve(args[0])
			if err != nil {
				return err
			}
			return c.eng.DeleteItem(id)
		},
	}
}

func (c *Console) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "wait for pending writes",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.eng.Sync(cmd.Context())
		},
	}
}

func (c *Console) newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "reload from the server",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.eng.ReconcileAll(cmd.Context()); err != nil {
				return err
			}
			c.list()
			return nil
		},
	}
}

func (c *Console) newQuitCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "quit",
		Short:   "leave the console",
		Aliases: []string{"exit"},
		Args:    cobra.ArbitraryArgs,
		RunE: func(*cobra.Command, []string) error {
			return ErrQuit
		},
	}
}

func (c *Console) create(draft model.CanvasItem) error {
	item, err := c.eng.CreateItem(draft)
	if err != nil {
		return err
	}
	c.printf("created %s %s\n", item.Kind, short(item.ID))
	return nil
}

func (c *Console) list() {
	items := c.eng.Snapshot()
	if len(items) == 0 {
		c.printf("(empty canvas)\n")
		return
	}
	for _, it := range items {
		c.printf("%s\n", Describe(it))
	}
}

// Describe renders an item on one line, followed by its checklist entries.
func Describe(it model.CanvasItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-8s %-9s @(%.0f,%.0f)", short(it.ID), it.Kind, it.X, it.Y)
	if it.Kind.HasSize() {
		fmt.Fprintf(&b, " %.0fx%.0f", it.Width, it.Height)
	}
	if it.Color != "" {
		fmt.Fprintf(&b, " %s", it.Color)
	}
	if it.ImageRef != "" {
		fmt.Fprintf(&b, " [%s]", it.ImageRef)
	}
	if it.Content != "" {
		fmt.Fprintf(&b, " %q", it.Content)
	}
	for _, e := range it.Checklist {
		mark := " "
		if e.Done {
			mark = "x"
		}
		fmt.Fprintf(&b, "\n    [%s] %s %s", mark, short(e.ID), e.Text)
	}
	return b.String()
}

// resolve expands an id prefix against the current snapshot.
func (c *Console) resolve(prefix string) (string, error) {
	var ids []string
	for _, it := range c.eng.Snapshot() {
		ids = append(ids, it.ID)
	}
	return match("item", prefix, ids)
}

func (c *Console) resolveEntry(itemPrefix, entryPrefix string) (string, string, error) {
	id, err := c.resolve(itemPrefix)
	if err != nil {
		return "", "", err
	}
	it, err := c.eng.Item(id)
	if err != nil {
		return "", "", err
	}
	ids := make([]string, 0, len(it.Checklist))
	for _, e := range it.Checklist {
		ids = append(ids, e.ID)
	}
	entryID, err := match("entry", entryPrefix, ids)
	return id, entryID, err
}

func match(what, prefix string, ids []string) (string, error) {
	var found []string
	for _, id := range ids {
		if id == prefix {
			return id, nil
		}
		if strings.HasPrefix(id, prefix) {
			found = append(found, id)
		}
	}
	switch len(found) {
	case 0:
		return "", fmt.Errorf("no %s matches %q", what, prefix)
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%q matches %d %ss", prefix, len(found), what)
}

func point(args []string) (float64, float64, error) {
	if len(args) < 2 {
		return 0, 0, errors.New("expected two numbers")
	}
	a, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad number %q", args[0])
	}
	b, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return 0, 0, fmt.Errorf("bad number %q", args[1])
	}
	return a, b, nil
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (c *Console) printf(format string, a ...any) {
	fmt.Fprintf(c.out, format, a...)
}
