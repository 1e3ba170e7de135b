package console

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"freecanvas/internal/engine"
	"freecanvas/internal/model"
	"freecanvas/internal/remote/memstore"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func setup(t *testing.T, seed ...model.CanvasItem) (*Console, *memstore.Store, *engine.Engine, *syncBuffer) {
	t.Helper()
	store := memstore.New(seed)
	eng, err := engine.New(store, engine.WithDelays(time.Millisecond, time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, eng.Start(ctx))

	out := &syncBuffer{}
	c, unsubscribe := New(eng, out)
	t.Cleanup(unsubscribe)
	return c, store, eng, out
}

func exec(t *testing.T, c *Console, lines ...string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, l := range lines {
		require.NoError(t, c.Exec(ctx, l), l)
	}
}

func TestConsole_NoteLifecycle(t *testing.T) {
	c, store, eng, out := setup(t)

	exec(t, c, "note 300 40 remember the milk", "sync")
	items := eng.Snapshot()
	require.Len(t, items, 1)
	id := items[0].ID
	assert.Contains(t, out.String(), "created note "+short(id))
	assert.Equal(t, "remember the milk", items[0].Content)
	assert.Equal(t, 200.0, items[0].X)

	exec(t, c, "move "+id[:6]+" 5 6", "resize "+id[:6]+" 10 10", "text "+id[:6]+" done", "sync")

	remote := store.Items()
	require.Len(t, remote, 1)
	assert.Equal(t, 5.0, remote[0].X)
	assert.Equal(t, 6.0, remote[0].Y)
	assert.Equal(t, model.MinWidth, remote[0].Width)
	assert.Equal(t, model.MinHeight, remote[0].Height)
	assert.Equal(t, "done", remote[0].Content)

	exec(t, c, "delete "+id, "sync")
	assert.Empty(t, store.Items())
	assert.Empty(t, eng.Snapshot())
}

func TestConsole_Checklist(t *testing.T) {
	c, store, eng, out := setup(t)

	exec(t, c, "checklist 0 0")
	id := eng.Snapshot()[0].ID
	exec(t, c, "add "+id+" Buy milk")

	it, err := eng.Item(id)
	require.NoError(t, err)
	require.Len(t, it.Checklist, 1)
	entry := it.Checklist[0].ID
	assert.Contains(t, out.String(), "entry "+short(entry))

	exec(t, c, "check "+id+" "+entry[:5], "sync")
	remote := store.Items()
	require.Len(t, remote, 1)
	require.Len(t, remote[0].Checklist, 1)
	assert.True(t, remote[0].Checklist[0].Done)
	assert.Equal(t, "Buy milk", remote[0].Checklist[0].Text)

	exec(t, c, "edit "+id+" "+entry+" Buy oat milk", "uncheck "+id+" "+entry, "sync")
	remote = store.Items()
	assert.Equal(t, "Buy oat milk", remote[0].Checklist[0].Text)
	assert.False(t, remote[0].Checklist[0].Done)

	exec(t, c, "drop "+id+" "+entry, "sync")
	assert.Empty(t, store.Items()[0].Checklist)
}

func TestConsole_ListAndColor(t *testing.T) {
	seed := model.CanvasItem{ID: "note-1", Kind: model.KindNote, Width: 200, Height: 150, Color: "yellow", Content: "hi"}
	c, store, _, out := setup(t, seed)

	exec(t, c, "list")
	assert.Contains(t, out.String(), `note-1   note      @(0,0) 200x150 yellow "hi"`)

	exec(t, c, "color note", "sync")
	assert.Equal(t, "pink", store.Items()[0].Color)
}

func TestConsole_Errors(t *testing.T) {
	seed := []model.CanvasItem{
		{ID: "aa1", Kind: model.KindNote, Width: 200, Height: 150},
		{ID: "aa2", Kind: model.KindNote, Width: 200, Height: 150},
	}
	c, _, _, _ := setup(t, seed...)
	ctx := context.Background()

	tests := []struct {
		line string
		want string
	}{
		{"bogus", "unknown command"},
		{"move aa 1 2", "matches 2 items"},
		{"move zz 1 2", "no item matches"},
		{"move aa1 x 2", "bad number"},
		{"note 1", "expected two numbers"},
		{"image 1 2", "usage: image"},
		{"check aa1 e1", "no entry matches"},
		{"color", "usage: color <id>"},
		{"move aa1 1", "usage: move <id> <x> <y>"},
		{"edit aa1 e1", "usage: edit <id> <entry> <text>"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := c.Exec(ctx, tt.line)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.ErrorIs(t, c.Exec(ctx, "quit"), ErrQuit)
	assert.NoError(t, c.Exec(ctx, "   "))
}

func TestConsole_AliasesAndNegativeNumbers(t *testing.T) {
	c, store, _, out := setup(t, model.CanvasItem{ID: "n1", Kind: model.KindNote, Width: 200, Height: 150})

	exec(t, c, "MOVE n1 -40 -12.5", "sync", "ls", "?")
	remote := store.Items()
	require.Len(t, remote, 1)
	assert.Equal(t, -40.0, remote[0].X)
	assert.Equal(t, -12.5, remote[0].Y)
	assert.Contains(t, out.String(), "n1       note      @(-40,-12)")
	assert.Contains(t, out.String(), "move <id> <x> <y>")

	exec(t, c, "text n1 -v --help", "sync")
	assert.Equal(t, "-v --help", store.Items()[0].Content)

	exec(t, c, "rm n1", "sync")
	assert.Empty(t, store.Items())
	assert.ErrorIs(t, c.Exec(context.Background(), "exit"), ErrQuit)
}

func TestConsole_SyncErrorsArePrinted(t *testing.T) {
	c, store, _, out := setup(t, model.CanvasItem{ID: "n1", Kind: model.KindNote, Width: 200, Height: 150})

	store.FailNext(engine.OpUpdate, errors.New("boom"))
	exec(t, c, "move n1 1 1", "sync")

	assert.Contains(t, out.String(), "! update n1:")
}

func TestConsole_Run(t *testing.T) {
	c, store, _, out := setup(t)

	in := strings.NewReader("help\nnote 0 0 first\nnonsense\nsync\nquit\nnote 0 0 never\n")
	require.NoError(t, c.Run(context.Background(), in))

	assert.Contains(t, out.String(), "commands:")
	assert.Contains(t, out.String(), `error: unknown command "nonsense"`)
	items := store.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "first", items[0].Content)
}
