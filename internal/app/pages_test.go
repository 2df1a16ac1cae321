package app

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flux/api/internal/events"
	"flux/api/internal/gitrepo"
	"flux/api/internal/store"
)

func strptr(s string) *string { return &s }

func listPages(t *testing.T, env *testEnv, userID, workspaceID string, includeArchived bool) []*store.Page {
	t.Helper()
	path := "/api/pages?workspaceId=" + workspaceID
	if includeArchived {
		path += "&includeArchived=true"
	}
	rr := env.do(http.MethodGet, path, env.token(userID), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var payload struct {
		Pages []*store.Page `json:"pages"`
	}
	decodeJSON(t, rr, &payload)
	return payload.Pages
}

func TestCreatePageDefaultsAndPositions(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")

	first := env.createPage("owner", map[string]any{"workspaceId": ws})
	assert.Equal(t, "Untitled", first.Title)
	assert.Equal(t, "📝", first.Icon)
	assert.Equal(t, "", first.Content)
	assert.Nil(t, first.ParentID)
	assert.Equal(t, "owner", first.UserID)

	second := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Roadmap"})
	child := env.createPage("owner", map[string]any{"workspaceId": ws, "parentId": first.ID})
	sibling := env.createPage("owner", map[string]any{"workspaceId": ws, "parentId": first.ID})

	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 0, child.Position)
	assert.Equal(t, 1, sibling.Position)
	require.NotNil(t, child.ParentID)
	assert.Equal(t, first.ID, *child.ParentID)
}

func TestCreatePageErrors(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	other := env.createWorkspace("owner", "Elsewhere")
	foreign := env.createPage("owner", map[string]any{"workspaceId": other})

	tests := []struct {
		name    string
		caller  string
		body    map[string]any
		status  int
		message string
	}{
		{"missing workspace", "owner", map[string]any{"title": "x"}, http.StatusBadRequest, "Workspace ID required"},
		{"non member", "stranger", map[string]any{"workspaceId": ws}, http.StatusForbidden, "Access denied"},
		{"missing parent", "owner", map[string]any{"workspaceId": ws, "parentId": "nope"}, http.StatusNotFound, "Parent page not found"},
		{"parent in other workspace", "owner", map[string]any{"workspaceId": ws, "parentId": foreign.ID}, http.StatusNotFound, "Parent page not found"},
		{"unknown template", "owner", map[string]any{"workspaceId": ws, "template": "poem"}, http.StatusBadRequest, "Unknown template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/pages", env.token(tt.caller), tt.body)
			requireError(t, rr, tt.status, tt.message)
		})
	}
}

func TestCreatePageFromTemplate(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")

	todo := env.createPage("owner", map[string]any{"workspaceId": ws, "template": "todo"})
	assert.Equal(t, "To-Do List", todo.Title)
	assert.Equal(t, "✅", todo.Icon)
	assert.Contains(t, todo.Content, "<h2>My Tasks</h2>")

	titled := env.createPage("owner", map[string]any{"workspaceId": ws, "template": "notes", "title": "Standup"})
	assert.Equal(t, "Standup", titled.Title)
	assert.Equal(t, "📋", titled.Icon)
	assert.Contains(t, titled.Content, "<h2>Attendees</h2>")

	rr := env.do(http.MethodGet, "/api/pages/templates", env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var payload struct {
		Templates []map[string]string `json:"templates"`
	}
	decodeJSON(t, rr, &payload)
	ids := make([]string, 0, len(payload.Templates))
	for _, tmpl := range payload.Templates {
		ids = append(ids, tmpl["id"])
	}
	assert.Equal(t, []string{"blank", "todo", "notes", "project", "doc", "table"}, ids)
}

func TestListPagesBuildsForest(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	root := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Root"})
	other := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Other"})
	child := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Child", "parentId": root.ID})
	grandchild := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Grandchild", "parentId": child.ID})

	pages := listPages(t, env, "owner", ws, false)
	require.Len(t, pages, 2)
	assert.Equal(t, root.ID, pages[0].ID)
	assert.Equal(t, other.ID, pages[1].ID)
	require.Len(t, pages[0].Children, 1)
	assert.Equal(t, child.ID, pages[0].Children[0].ID)
	require.Len(t, pages[0].Children[0].Children, 1)
	assert.Equal(t, grandchild.ID, pages[0].Children[0].Children[0].ID)
}

func TestListPagesArchivedFilter(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	keep := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Keep"})
	gone := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Gone"})
	orphan := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Orphan", "parentId": gone.ID})

	rr := env.do(http.MethodDelete, "/api/pages?id="+gone.ID, env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	live := listPages(t, env, "owner", ws, false)
	require.Len(t, live, 1)
	assert.Equal(t, keep.ID, live[0].ID)
	assert.Empty(t, live[0].Children)

	all := listPages(t, env, "owner", ws, true)
	require.Len(t, all, 2)
	var archived *store.Page
	for _, page := range all {
		if page.ID == gone.ID {
			archived = page
		}
	}
	require.NotNil(t, archived)
	assert.True(t, archived.IsArchived)
	require.Len(t, archived.Children, 1)
	assert.Equal(t, orphan.ID, archived.Children[0].ID)
	assert.False(t, archived.Children[0].IsArchived, "archival does not cascade")
}

func TestListPagesRequiresMembership(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")

	rr := env.do(http.MethodGet, "/api/pages?workspaceId="+ws, env.token("stranger"), nil)
	requireError(t, rr, http.StatusForbidden, "Access denied")

	rr = env.do(http.MethodGet, "/api/pages", env.token("owner"), nil)
	requireError(t, rr, http.StatusBadRequest, "Workspace ID required")
}

func TestUpdatePage(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	page := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Draft"})

	rr := env.do(http.MethodPatch, "/api/pages", env.token("owner"), map[string]any{
		"id":         page.ID,
		"title":      "Final",
		"content":    "<p>Done</p>",
		"coverImage": "https://cdn.flux.test/cover.png",
		"position":   4,
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var payload struct {
		Page store.Page `json:"page"`
	}
	decodeJSON(t, rr, &payload)
	assert.Equal(t, "Final", payload.Page.Title)
	assert.Equal(t, "<p>Done</p>", payload.Page.Content)
	assert.Equal(t, "https://cdn.flux.test/cover.png", payload.Page.CoverImage)
	assert.Equal(t, 4, payload.Page.Position)
	assert.Equal(t, "📝", payload.Page.Icon, "untouched fields keep their value")

	stored, err := env.store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Final", stored.Title)
}

func TestMovedPageGoesAfterNewSiblings(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	top := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Top"})
	parent := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Parent"})
	child := env.createPage("owner", map[string]any{"workspaceId": ws, "parentId": parent.ID})
	require.Equal(t, 0, top.Position)
	require.Equal(t, 0, child.Position)

	rr := env.do(http.MethodPatch, "/api/pages", env.token("owner"), map[string]any{"id": child.ID, "parentId": nil})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var payload struct {
		Page store.Page `json:"page"`
	}
	decodeJSON(t, rr, &payload)
	assert.Nil(t, payload.Page.ParentID)
	assert.Equal(t, 2, payload.Page.Position)

	rr = env.do(http.MethodPatch, "/api/pages", env.token("owner"), map[string]any{"id": child.ID, "parentId": parent.ID, "position": 7})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	decodeJSON(t, rr, &payload)
	assert.Equal(t, 7, payload.Page.Position, "explicit position wins")
}

func TestNonOwnerCannotEditPage(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	env.invite("owner", ws, "m", "member")
	page := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Owner's"})

	rr := env.do(http.MethodDelete, "/api/pages?id="+page.ID, env.token("m"), nil)
	requireError(t, rr, http.StatusForbidden, "Only the page owner can edit this page")

	rr = env.do(http.MethodPatch, "/api/pages", env.token("m"), map[string]any{"id": page.ID, "title": "Hijacked"})
	requireError(t, rr, http.StatusForbidden, "Only the page owner can edit this page")

	stored, err := env.store.GetPage(context.Background(), page.ID)
	require.NoError(t, err)
	assert.Equal(t, "Owner's", stored.Title)
	assert.False(t, stored.IsArchived)
}

func TestDemotedOwnerCannotEditPage(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	env.invite("owner", ws, "m", "member")
	page := env.createPage("m", map[string]any{"workspaceId": ws})

	rr := env.do(http.MethodPatch, "/api/invites", env.token("owner"), map[string]any{"workspaceId": ws, "userId": "m", "role": "viewer"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodPatch, "/api/pages", env.token("m"), map[string]any{"id": page.ID, "title": "Still mine?"})
	requireError(t, rr, http.StatusForbidden, "Viewers cannot edit pages")
}

func TestUpdatePageErrors(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	parent := env.createPage("owner", map[string]any{"workspaceId": ws})
	child := env.createPage("owner", map[string]any{"workspaceId": ws, "parentId": parent.ID})

	tests := []struct {
		name    string
		body    map[string]any
		status  int
		message string
	}{
		{"missing id", map[string]any{"title": "x"}, http.StatusBadRequest, "Page ID required"},
		{"missing page", map[string]any{"id": "nope"}, http.StatusNotFound, "Page not found"},
		{"self parent", map[string]any{"id": parent.ID, "parentId": parent.ID}, http.StatusBadRequest, "A page cannot be moved under itself"},
		{"descendant parent", map[string]any{"id": parent.ID, "parentId": child.ID}, http.StatusBadRequest, "A page cannot be moved under itself"},
		{"missing parent", map[string]any{"id": child.ID, "parentId": "nope"}, http.StatusNotFound, "Parent page not found"},
		{"negative position", map[string]any{"id": child.ID, "position": -1}, http.StatusBadRequest, "Invalid position"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPatch, "/api/pages", env.token("owner"), tt.body)
			requireError(t, rr, tt.status, tt.message)
		})
	}
}

func TestUpdatePageMovesToTopLevel(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	parent := env.createPage("owner", map[string]any{"workspaceId": ws})
	child := env.createPage("owner", map[string]any{"workspaceId": ws, "parentId": parent.ID})

	rr := env.do(http.MethodPatch, "/api/pages", env.token("owner"), `{"id":"`+child.ID+`","parentId":null}`)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	stored, err := env.store.GetPage(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ParentID)

	rr = env.do(http.MethodPatch, "/api/pages", env.token("owner"), map[string]any{"id": child.ID, "title": "Renamed"})
	require.Equal(t, http.StatusOK, rr.Code)
	stored, err = env.store.GetPage(context.Background(), child.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.ParentID, "absent parentId leaves the parent untouched")
}

func TestArchivePageIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	page := env.createPage("owner", map[string]any{"workspaceId": ws})

	for i := 0; i < 2; i++ {
		rr := env.do(http.MethodDelete, "/api/pages?id="+page.ID, env.token("owner"), nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var payload map[string]any
		decodeJSON(t, rr, &payload)
		assert.Equal(t, true, payload["success"])

		stored, err := env.store.GetPage(context.Background(), page.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsArchived)
	}

	archived := 0
	for _, topic := range env.events.Topics() {
		if topic == events.TopicPageArchived {
			archived++
		}
	}
	assert.Equal(t, 1, archived)

	rr := env.do(http.MethodDelete, "/api/pages", env.token("owner"), nil)
	requireError(t, rr, http.StatusBadRequest, "Page ID required")
}

func TestSearchPages(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Quarterly Roadmap"})
	env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Notes", "content": "<p>the ROADMAP lives elsewhere</p>"})
	hidden := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Old roadmap"})
	env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Unrelated"})
	rr := env.do(http.MethodDelete, "/api/pages?id="+hidden.ID, env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/api/pages/search?workspaceId="+ws+"&query=roadmap", env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var payload struct {
		Results []map[string]any `json:"results"`
		Query   string           `json:"query"`
	}
	decodeJSON(t, rr, &payload)
	assert.Equal(t, "roadmap", payload.Query)
	assert.Len(t, payload.Results, 2)

	rr = env.do(http.MethodGet, "/api/pages/search?workspaceId="+ws, env.token("owner"), nil)
	requireError(t, rr, http.StatusBadRequest, "Workspace ID and query required")

	rr = env.do(http.MethodGet, "/api/pages/search?workspaceId="+ws+"&query=roadmap", env.token("stranger"), nil)
	requireError(t, rr, http.StatusForbidden, "Access denied")
}

func TestExportPage(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	env.invite("owner", ws, "v", "viewer")
	page := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Sprint Plan", "content": "<h2>Goals</h2><p>Ship it</p>"})

	rr := env.do(http.MethodGet, "/api/pages/export?id="+page.ID+"&format=md", env.token("v"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, `attachment; filename="sprint_plan.md"`, rr.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/markdown"))
	assert.Equal(t, "# Sprint Plan\n\n## Goals\n\nShip it", rr.Body.String())

	rr = env.do(http.MethodGet, "/api/pages/export?id="+page.ID+"&format=pdf", env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rr.Body.String(), "%PDF"))

	rr = env.do(http.MethodGet, "/api/pages/export?id="+page.ID+"&format=docx", env.token("owner"), nil)
	requireError(t, rr, http.StatusBadRequest, "Unsupported export format")

	rr = env.do(http.MethodGet, "/api/pages/export?id="+page.ID, env.token("stranger"), nil)
	requireError(t, rr, http.StatusForbidden, "Access denied")
}

func TestPageHistory(t *testing.T) {
	env := newTestEnv(t)
	ws := env.createWorkspace("owner", "Design")
	page := env.createPage("owner", map[string]any{"workspaceId": ws, "title": "Roadmap"})

	rr := env.do(http.MethodPatch, "/api/pages", env.token("owner"), map[string]any{"id": page.ID, "content": "<p>v2</p>"})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = env.do(http.MethodPatch, "/api/pages", env.token("owner"), map[string]any{"id": page.ID, "position": 3})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = env.do(http.MethodGet, "/api/pages/history?id="+page.ID, env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var history struct {
		Revisions []gitrepo.Revision `json:"revisions"`
	}
	decodeJSON(t, rr, &history)
	require.Len(t, history.Revisions, 2, "position changes are not revisions")
	assert.Equal(t, `Update "Roadmap" (content)`, history.Revisions[0].Message)
	assert.Equal(t, `Create "Roadmap"`, history.Revisions[1].Message)

	rr = env.do(http.MethodGet, "/api/pages/history?id="+page.ID+"&hash="+history.Revisions[1].Hash, env.token("owner"), nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var snapshot struct {
		Snapshot gitrepo.Snapshot `json:"snapshot"`
	}
	decodeJSON(t, rr, &snapshot)
	assert.Equal(t, "Roadmap", snapshot.Snapshot.Title)
	assert.Equal(t, "", snapshot.Snapshot.Content)

	rr = env.do(http.MethodGet, "/api/pages/history?id="+page.ID+"&hash=deadbeef", env.token("owner"), nil)
	requireError(t, rr, http.StatusNotFound, "Revision not found")

	rr = env.do(http.MethodGet, "/api/pages/history?id="+page.ID+"&limit=zero", env.token("owner"), nil)
	requireError(t, rr, http.StatusBadRequest, "limit must be a positive integer")
}

func TestBuildForestDropsOrphans(t *testing.T) {
	pages := []store.Page{
		{ID: "a"},
		{ID: "b", ParentID: strptr("a")},
		{ID: "c", ParentID: strptr("missing")},
		{ID: "d", ParentID: strptr("c")},
		{ID: "e"},
	}

	roots := buildForest(pages)

	require.Len(t, roots, 2)
	assert.Equal(t, "a", roots[0].ID)
	assert.Equal(t, "e", roots[1].ID)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, "b", roots[0].Children[0].ID)
}
