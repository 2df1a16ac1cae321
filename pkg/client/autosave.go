package client

import (
	"context"
	"sync"
	"time"
)

const (
	TitleSaveDelay   = 500 * time.Millisecond
	ContentSaveDelay = time.Second
)

// PageUpdater is the part of Client an Autosaver needs.
type PageUpdater interface {
	UpdatePage(ctx context.Context, update PageUpdate) (Page, error)
}

type AutosaveOptions struct {
	TitleDelay   time.Duration
	ContentDelay time.Duration
	// OnSave is called after every write attempt.
	OnSave func(Page, error)
}

// Autosaver coalesces title and content edits of one page. Each edit pushes
// the write back to at least its field's delay after the edit; all fields
// edited before the write fires go out in a single UpdatePage.
type Autosaver struct {
	api    PageUpdater
	pageID string
	opts   AutosaveOptions
	ctx    context.Context

	saveMu sync.Mutex

	mu      sync.Mutex
	title   *string
	content *string
	due     time.Time
	timer   *time.Timer
	gen     uint64
	closed  bool
}

// NewAutosaver saves page edits using ctx for every write.
func NewAutosaver(ctx context.Context, api PageUpdater, pageID string, opts AutosaveOptions) *Autosaver {
	if opts.TitleDelay <= 0 {
		opts.TitleDelay = TitleSaveDelay
	}
	if opts.ContentDelay <= 0 {
		opts.ContentDelay = ContentSaveDelay
	}
	return &Autosaver{api: api, pageID: pageID, opts: opts, ctx: ctx}
}

func (a *Autosaver) SetTitle(title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.title = &title
	a.schedule(a.opts.TitleDelay)
}

func (a *Autosaver) SetContent(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.content = &content
	a.schedule(a.opts.ContentDelay)
}

// schedule must be called with mu held.
func (a *Autosaver) schedule(delay time.Duration) {
	due := time.Now().Add(delay)
	if a.timer != nil && a.due.After(due) {
		return
	}
	a.due = due
	if a.timer != nil {
		a.timer.Stop()
	}
	a.gen++
	gen := a.gen
	a.timer = time.AfterFunc(delay, func() { a.fire(gen) })
}

// fire runs a timed save unless the timer was superseded.
func (a *Autosaver) fire(gen uint64) {
	a.mu.Lock()
	current := a.gen == gen && a.timer != nil
	a.mu.Unlock()
	if current {
		_ = a.Flush(a.ctx)
	}
}

// Flush writes any pending edits now.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	update := PageUpdate{ID: a.pageID, Title: a.title, Content: a.content}
	a.title, a.content = nil, nil
	a.mu.Unlock()

	if update.Title == nil && update.Content == nil {
		return nil
	}
	page, err := a.api.UpdatePage(ctx, update)
	if a.opts.OnSave != nil {
		a.opts.OnSave(page, err)
	}
	return err
}

// Close flushes pending edits and ignores later ones.
func (a *Autosaver) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.Flush(ctx)
}
