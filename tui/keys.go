package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

type keyMap struct {
	Quit   key.Binding
	Focus  key.Binding
	Up     key.Binding
	Down   key.Binding
	Select key.Binding
	Help   key.Binding
	Back   key.Binding

	Add            key.Binding
	Edit           key.Binding
	Category       key.Binding
	Toggle         key.Binding
	Delete         key.Binding
	ClearCompleted key.Binding
	MoveUp         key.Binding
	MoveDown       key.Binding
	PriorityLow    key.Binding
	PriorityMedium key.Binding
	PriorityHigh   key.Binding
	Undo           key.Binding

	StatusFilter   key.Binding
	PriorityFilter key.Binding
	Search         key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Focus:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("Tab", "switch pane")),
		Up:     key.NewBinding(key.WithKeys("k", "up"), key.WithHelp("k/↑", "up")),
		Down:   key.NewBinding(key.WithKeys("j", "down"), key.WithHelp("j/↓", "down")),
		Select: key.NewBinding(key.WithKeys("enter"), key.WithHelp("Enter", "filter by category")),
		Help:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "shortcuts")),
		Back:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("Esc", "close / clear search")),

		Add:            key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		Edit:           key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		Category:       key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "set category")),
		Toggle:         key.NewBinding(key.WithKeys("x", " "), key.WithHelp("x/space", "done / reopen")),
		Delete:         key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		ClearCompleted: key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "clear completed")),
		MoveUp:         key.NewBinding(key.WithKeys("K"), key.WithHelp("K", "move up")),
		MoveDown:       key.NewBinding(key.WithKeys("J"), key.WithHelp("J", "move down")),
		PriorityLow:    key.NewBinding(key.WithKeys("1"), key.WithHelp("1", "low")),
		PriorityMedium: key.NewBinding(key.WithKeys("2"), key.WithHelp("2", "medium")),
		PriorityHigh:   key.NewBinding(key.WithKeys("3"), key.WithHelp("3", "high")),
		Undo:           key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo")),

		StatusFilter:   key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "cycle status")),
		PriorityFilter: key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "cycle priority")),
		Search:         key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	}
}

type bindingGroup struct {
	name     string
	bindings []key.Binding
}

func (k keyMap) groups() []bindingGroup {
	return []bindingGroup{
		{"General", []key.Binding{k.Focus, k.Up, k.Down, k.Undo, k.Help, k.Back, k.Quit}},
		{"Tasks", []key.Binding{k.Add, k.Edit, k.Category, k.Toggle, k.Delete, k.MoveUp, k.MoveDown,
			k.PriorityLow, k.PriorityMedium, k.PriorityHigh, k.ClearCompleted}},
		{"Filters", []key.Binding{k.StatusFilter, k.PriorityFilter, k.Search, k.Select}},
	}
}

func matches(msg tea.KeyMsg, b key.Binding) bool {
	return key.Matches(msg, b)
}

// chunkBindings renders bindings as "key desc" pairs, perRow to a line.
func chunkBindings(bindings []key.Binding, perRow int) []string {
	var rows []string
	var row []string
	for _, b := range bindings {
		h := b.Help()
		row = append(row, h.Key+" "+h.Desc)
		if len(row) == perRow {
			rows = append(rows, strings.Join(row, " • "))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, strings.Join(row, " • "))
	}
	return rows
}
