package app

import (
	"strings"
	"time"
)

type PageTemplate struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Icon        string `json:"icon"`

	title   string
	content func(now time.Time) string
}

func staticContent(html string) func(time.Time) string {
	return func(time.Time) string { return html }
}

var pageTemplates = []PageTemplate{
	{
		ID:          "blank",
		Name:        "Blank Page",
		Description: "Start with an empty page",
		Icon:        "📝",
		title:       "Untitled",
		content:     staticContent(""),
	},
	{
		ID:          "todo",
		Name:        "To-Do List",
		Description: "Track tasks and check them off",
		Icon:        "✅",
		title:       "To-Do List",
		content:     staticContent(`<h2>My Tasks</h2><ul><li>First task</li><li>Second task</li><li>Third task</li></ul>`),
	},
	{
		ID:          "notes",
		Name:        "Meeting Notes",
		Description: "Capture meeting discussions",
		Icon:        "📋",
		title:       "Meeting Notes",
		content: func(now time.Time) string {
			return `<h1>Meeting Notes</h1><h2>Date</h2><p>` + now.Format("1/2/2006") + `</p>` +
				`<h2>Attendees</h2><ul><li>Person 1</li><li>Person 2</li></ul>` +
				`<h2>Agenda</h2><ol><li>Topic 1</li><li>Topic 2</li></ol>` +
				`<h2>Action Items</h2><ul><li>Task 1</li></ul>`
		},
	},
	{
		ID:          "project",
		Name:        "Project Plan",
		Description: "Plan and track a project",
		Icon:        "📊",
		title:       "Project Plan",
		content: staticContent(`<h1>Project Name</h1><h2>Overview</h2><p>Brief description of the project...</p>` +
			`<h2>Goals</h2><ul><li>Goal 1</li><li>Goal 2</li><li>Goal 3</li></ul>` +
			`<h2>Timeline</h2><p>Start Date: <strong>TBD</strong></p><p>End Date: <strong>TBD</strong></p>` +
			`<h2>Milestones</h2><ol><li>Milestone 1</li><li>Milestone 2</li></ol>`),
	},
	{
		ID:          "doc",
		Name:        "Documentation",
		Description: "Write technical docs",
		Icon:        "📚",
		title:       "Documentation",
		content: staticContent(`<h1>Documentation</h1><h2>Overview</h2><p>What does this do?</p>` +
			`<h2>Getting Started</h2><pre><code>npm install package-name</code></pre>` +
			`<h2>Usage</h2><p>How to use this...</p>` +
			`<h2>Examples</h2><pre><code>// Example code here</code></pre>`),
	},
	{
		ID:          "table",
		Name:        "Table",
		Description: "Organize data in rows and columns",
		Icon:        "📑",
		title:       "Table",
		content: staticContent(`<h2>Data Table</h2><table><thead><tr><th>Column 1</th><th>Column 2</th><th>Column 3</th></tr></thead>` +
			`<tbody><tr><td>Data 1</td><td>Data 2</td><td>Data 3</td></tr><tr><td>Data 4</td><td>Data 5</td><td>Data 6</td></tr></tbody></table>`),
	},
}

func PageTemplates() []PageTemplate {
	out := make([]PageTemplate, len(pageTemplates))
	copy(out, pageTemplates)
	return out
}

func findTemplate(id string) (PageTemplate, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, tmpl := range pageTemplates {
		if tmpl.ID == id {
			return tmpl, true
		}
	}
	return PageTemplate{}, false
}
