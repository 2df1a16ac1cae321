package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ItemAPI is the part of Client a Canvas needs.
type ItemAPI interface {
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
	CreateItem(ctx context.Context, in ItemInput) (Item, error)
	UpdateItem(ctx context.Context, update ItemUpdate) (Item, error)
	DeleteItem(ctx context.Context, id string) error
}

// ErrUnknownItem is returned for edits to an item the canvas does not hold.
var ErrUnknownItem = errors.New("item not on canvas")

type pendingOp struct {
	itemID string
}

// Canvas holds the items of one workspace board. Edits are applied locally
// before the request is sent. Each in-flight edit holds a pending token; if
// any edit fails, all tentative state is dropped and the canvas reloads the
// board from the server.
type Canvas struct {
	api         ItemAPI
	workspaceID string
	log         *zap.Logger

	mu        sync.Mutex
	items     []Item
	pending   map[uint64]pendingOp
	latest    map[string]uint64
	nextToken uint64
}

func NewCanvas(api ItemAPI, workspaceID string) *Canvas {
	return &Canvas{
		api:         api,
		workspaceID: workspaceID,
		log:         zap.L().With(zap.String("component", "canvas"), zap.String("workspace_id", workspaceID)),
		pending:     make(map[uint64]pendingOp),
		latest:      make(map[string]uint64),
	}
}

// Refresh replaces local state with the server's and forgets pending edits.
func (c *Canvas) Refresh(ctx context.Context) error {
	items, err := c.api.ListItems(ctx, ItemFilter{WorkspaceID: c.workspaceID})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
	c.pending = make(map[uint64]pendingOp)
	c.latest = make(map[string]uint64)
	return nil
}

// Items returns a copy of the current, possibly tentative, items.
func (c *Canvas) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

func (c *Canvas) Item(id string) (Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOf(id)
	if idx < 0 {
		return Item{}, false
	}
	return c.items[idx], true
}

// Pending reports how many edits are still waiting for the server.
func (c *Canvas) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Add creates an item on the server and puts it at the front of the board.
// Creation is not optimistic since the server assigns the id.
func (c *Canvas) Add(ctx context.Context, in ItemInput) (Item, error) {
	in.WorkspaceID = c.workspaceID
	item, err := c.api.CreateItem(ctx, in)
	if err != nil {
		return Item{}, err
	}
	c.mu.Lock()
	c.items = append([]Item{item}, c.items...)
	c.mu.Unlock()
	return item, nil
}

// Move drags an item to (x, y).
func (c *Canvas) Move(ctx context.Context, id string, x, y float64) error {
	return c.Update(ctx, ItemUpdate{ID: id, PositionX: &x, PositionY: &y})
}

// Update applies update locally, then sends it. On success the server's copy
// replaces the tentative one unless a newer edit of the same item is pending.
func (c *Canvas) Update(ctx context.Context, update ItemUpdate) error {
	c.mu.Lock()
	idx := c.indexOf(update.ID)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownItem
	}
	c.items[idx] = update.apply(c.items[idx])
	token := c.begin(update.ID)
	c.mu.Unlock()

	saved, err := c.api.UpdateItem(ctx, update)
	if err != nil {
		return c.resync(ctx, update.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finish(token) {
		if idx := c.indexOf(saved.ID); idx >= 0 {
			c.items[idx] = saved
		}
	}
	return nil
}

// Delete removes the item locally, then on the server.
func (c *Canvas) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknownItem
	}
	c.items = append(c.items[:idx], c.items[idx+1:]...)
	token := c.begin(id)
	c.mu.Unlock()

	if err := c.api.DeleteItem(ctx, id); err != nil {
		return c.resync(ctx, id, err)
	}

	c.mu.Lock()
	c.finish(token)
	c.mu.Unlock()
	return nil
}

func (c *Canvas) begin(itemID string) uint64 {
	c.nextToken++
	token := c.nextToken
	c.pending[token] = pendingOp{itemID: itemID}
	c.latest[itemID] = token
	return token
}

// finish clears token and reports whether it was the newest edit of its item.
// A token dropped by a resync reports false.
func (c *Canvas) finish(token uint64) bool {
	op, ok := c.pending[token]
	if !ok {
		return false
	}
	delete(c.pending, token)
	if c.latest[op.itemID] != token {
		return false
	}
	delete(c.latest, op.itemID)
	return true
}

func (c *Canvas) resync(ctx context.Context, itemID string, cause error) error {
	c.log.Warn("item edit failed, reloading board", zap.String("item_id", itemID), zap.Error(cause))
	if err := c.Refresh(ctx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (c *Canvas) indexOf(id string) int {
	for i := range c.items {
		if c.items[i].ID == id {
			return i
		}
	}
	return -1
}
