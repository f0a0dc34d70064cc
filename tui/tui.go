package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"taskboard/app"
	"taskboard/event"
	"taskboard/model"
	"taskboard/store"
	"taskboard/validate"
)

type focusPane int

const (
	focusCategories focusPane = iota
	focusTasks
)

func (f focusPane) String() string {
	if f == focusTasks {
		return "tasks"
	}
	return "categories"
}

type uiMode int

const (
	modeNormal uiMode = iota
	modeAddTask
	modeEditTask
	modeEditCategory
	modeSearch
	modeConfirmDelete
	modeConfirmClear
)

// syncMsg reports that another instance's save replaced the board.
type syncMsg struct{}

// storageMsg carries a storage diagnostic published outside Update.
type storageMsg struct{ ev event.Event }

type Model struct {
	ctx context.Context
	st  *app.State
	svc *store.Service

	focus          focusPane
	mode           uiMode
	categoryCursor int
	taskCursor     int
	input          textinput.Model

	confirmID   string
	confirmName string

	showHelp bool

	status    string
	statusErr bool

	width  int
	height int

	keys keyMap
	now  func() time.Time
}

func NewModel(ctx context.Context, st *app.State, svc *store.Service, startupStatus string) *Model {
	status := strings.TrimSpace(startupStatus)
	if status == "" {
		status = "Ready"
	}

	input := textinput.New()
	input.CharLimit = model.MaxTextLength
	input.Prompt = ""

	m := &Model{
		ctx:    ctx,
		st:     st,
		svc:    svc,
		focus:  focusTasks,
		mode:   modeNormal,
		input:  input,
		status: status,
		keys:   defaultKeyMap(),
		now:    time.Now,
	}
	if startupStatus == "" && len(st.Tasks()) == 0 {
		m.setStatus("Welcome. Press 'a' to add your first task.", false)
	}
	m.ensureSelection()
	return m
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case syncMsg:
		m.ensureSelection()
		m.setStatus("Board updated by another instance", false)
	case storageMsg:
		m.setStatus(describeEvent(msg.ev), msg.ev.Kind != event.Recovered)
	case tea.KeyMsg:
		switch m.mode {
		case modeAddTask, modeEditTask, modeEditCategory, modeSearch:
			return m, m.updateInputMode(msg)
		case modeConfirmDelete, modeConfirmClear:
			m.updateConfirmMode(msg)
		default:
			if quit := m.updateNormalMode(msg); quit {
				return m, tea.Quit
			}
		}
	}
	return m, nil
}

func (m *Model) updateNormalMode(msg tea.KeyMsg) bool {
	k := m.keys
	switch {
	case matches(msg, k.Quit):
		return true
	case matches(msg, k.Focus):
		if m.focus == focusCategories {
			m.focus = focusTasks
		} else {
			m.focus = focusCategories
		}
		m.setStatus(fmt.Sprintf("Focus on %s", m.focus), false)
	case matches(msg, k.Down):
		m.moveCursor(1)
	case matches(msg, k.Up):
		m.moveCursor(-1)
	case matches(msg, k.Select):
		m.applyCategory()
	case matches(msg, k.Add):
		m.startInput(modeAddTask, "")
	case matches(msg, k.Edit):
		m.startEdit(modeEditTask)
	case matches(msg, k.Category):
		m.startEdit(modeEditCategory)
	case matches(msg, k.Toggle):
		m.toggleSelected()
	case matches(msg, k.Delete):
		m.startDeleteConfirm()
	case matches(msg, k.ClearCompleted):
		m.startClearConfirm()
	case matches(msg, k.MoveDown):
		m.moveSelectedTask(1)
	case matches(msg, k.MoveUp):
		m.moveSelectedTask(-1)
	case matches(msg, k.PriorityLow):
		m.setSelectedPriority(model.PriorityLow)
	case matches(msg, k.PriorityMedium):
		m.setSelectedPriority(model.PriorityMedium)
	case matches(msg, k.PriorityHigh):
		m.setSelectedPriority(model.PriorityHigh)
	case matches(msg, k.StatusFilter):
		m.cycleStatusFilter()
	case matches(msg, k.PriorityFilter):
		m.cyclePriorityFilter()
	case matches(msg, k.Search):
		m.startInput(modeSearch, m.st.Filters().Search)
		m.setStatus("Incremental search: type to filter", false)
	case matches(msg, k.Undo):
		m.undo()
	case matches(msg, k.Help):
		m.showHelp = !m.showHelp
		if m.showHelp {
			m.setStatus("Shortcuts open (? or Esc closes)", false)
		} else {
			m.setStatus("Shortcuts hidden", false)
		}
	case matches(msg, k.Back):
		if m.showHelp {
			m.showHelp = false
			m.setStatus("Shortcuts hidden", false)
			break
		}
		if m.st.Filters().Search != "" {
			m.setSearch("")
			m.persist("Search cleared")
		}
	}

	m.ensureSelection()
	return false
}

func (m *Model) updateInputMode(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "esc":
		if m.mode == modeSearch {
			m.setSearch("")
			m.persist("Search cleared")
		} else {
			m.setStatus("Cancelled", false)
		}
		m.stopInput()
		return nil
	case "enter":
		m.applyInput()
		return nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == modeSearch {
		m.setSearch(m.input.Value())
		m.ensureSelection()
	}
	return cmd
}

func (m *Model) updateConfirmMode(msg tea.KeyMsg) {
	switch strings.ToLower(msg.String()) {
	case "y":
		if m.mode == modeConfirmClear {
			m.confirmClear()
			return
		}
		m.confirmDelete()
	case "n", "esc", "enter":
		m.confirmID = ""
		m.confirmName = ""
		m.mode = modeNormal
		m.setStatus("Cancelled", false)
	}
}

func (m *Model) startInput(mode uiMode, value string) {
	m.mode = mode
	m.input.Reset()
	m.input.SetValue(value)
	m.input.CursorEnd()
	m.input.Focus()
}

func (m *Model) stopInput() {
	m.mode = modeNormal
	m.input.Blur()
	m.input.Reset()
}

func (m *Model) applyInput() {
	text := m.input.Value()
	switch m.mode {
	case modeAddTask:
		category := ""
		if f := m.st.Filters(); f.Category != model.FilterAll {
			category = f.Category
		}
		task, res := m.st.CreateTask(validate.Candidate{Text: text, Category: category})
		if !res.Valid {
			m.setStatus("Task not added: "+res.Error(), true)
			return
		}
		m.stopInput()
		m.selectTask(task.ID)
		if len(res.Warnings) > 0 {
			m.persist("Task added (" + res.Warnings[0] + ")")
			return
		}
		m.persist("Task added")
	case modeEditTask, modeEditCategory:
		task, ok := m.selectedTask()
		if !ok {
			m.stopInput()
			m.setStatus("No task selected", true)
			return
		}
		field := "text"
		if m.mode == modeEditCategory {
			field = "category"
		}
		ok, res := m.st.UpdateFields(task.ID, map[string]any{field: text})
		if !res.Valid {
			m.setStatus("Not changed: "+res.Error(), true)
			return
		}
		m.stopInput()
		if !ok {
			m.setStatus("Task no longer exists", true)
			return
		}
		m.selectTask(task.ID)
		m.persist("Task updated")
	case modeSearch:
		m.stopInput()
		m.persist("Search: " + quoteOrNone(m.st.Filters().Search))
	}
}

func (m *Model) moveCursor(delta int) {
	if m.focus == focusCategories {
		items := m.categoryItems()
		m.categoryCursor = clamp(m.categoryCursor+delta, 0, len(items)-1)
		return
	}
	tasks := m.visibleTasks()
	if len(tasks) == 0 {
		return
	}
	m.taskCursor = clamp(m.taskCursor+delta, 0, len(tasks)-1)
}

func (m *Model) applyCategory() {
	if m.focus != focusCategories {
		return
	}
	items := m.categoryItems()
	category := items[clamp(m.categoryCursor, 0, len(items)-1)]
	m.st.SetFilters(app.FilterPatch{Category: &category})
	m.taskCursor = 0
	m.persist("Category: " + category)
}

func (m *Model) startEdit(mode uiMode) {
	if m.focus != focusTasks {
		m.setStatus("Editing works on tasks: switch focus with Tab", false)
		return
	}
	task, ok := m.selectedTask()
	if !ok {
		m.setStatus("No task selected", true)
		return
	}
	value := task.Text
	if mode == modeEditCategory {
		value = task.Category
	}
	m.startInput(mode, value)
}

func (m *Model) toggleSelected() {
	task, ok := m.selectedTask()
	if !ok {
		m.setStatus("No task selected", true)
		return
	}
	if !m.st.ToggleTask(task.ID) {
		m.setStatus("Task no longer exists", true)
		return
	}
	if task.Completed {
		m.persist("Task reopened")
	} else {
		m.persist("Task completed")
	}
}

func (m *Model) moveSelectedTask(delta int) {
	if m.focus != focusTasks {
		m.setStatus("Reordering works on tasks: switch focus with Tab", false)
		return
	}
	task, ok := m.selectedTask()
	if !ok {
		m.setStatus("No task selected", true)
		return
	}

	if err := m.st.MoveTask(task.ID, delta); err != nil {
		switch {
		case errors.Is(err, app.ErrTaskAlreadyAtTop):
			m.setStatus("Task is already at the top", false)
		case errors.Is(err, app.ErrTaskAlreadyAtBottom):
			m.setStatus("Task is already at the bottom", false)
		default:
			m.setStatus("Move failed: "+err.Error(), true)
		}
		return
	}
	m.selectTask(task.ID)
	m.persist("Order updated")
}

func (m *Model) setSelectedPriority(priority model.Priority) {
	task, ok := m.selectedTask()
	if !ok {
		m.setStatus("No task selected", true)
		return
	}
	m.st.UpdateTask(task.ID, model.Patch{Priority: &priority})
	m.selectTask(task.ID)
	m.persist("Priority: " + string(priority))
}

func (m *Model) undo() {
	if err := m.st.Undo(); err != nil {
		if errors.Is(err, app.ErrNothingToUndo) {
			m.setStatus("Nothing to undo", false)
			return
		}
		m.setStatus("Undo failed: "+err.Error(), true)
		return
	}
	m.persist("Undone")
}

func (m *Model) cycleStatusFilter() {
	next := model.StatusAll
	switch m.st.Filters().Status {
	case model.StatusAll:
		next = model.StatusPending
	case model.StatusPending:
		next = model.StatusCompleted
	}
	m.st.SetFilters(app.FilterPatch{Status: &next})
	m.taskCursor = 0
	m.persist("Status: " + string(next))
}

func (m *Model) cyclePriorityFilter() {
	order := []string{model.FilterAll, string(model.PriorityHigh), string(model.PriorityMedium), string(model.PriorityLow)}
	current := m.st.Filters().Priority
	next := order[0]
	for i, p := range order {
		if p == current {
			next = order[(i+1)%len(order)]
			break
		}
	}
	m.st.SetFilters(app.FilterPatch{Priority: &next})
	m.taskCursor = 0
	m.persist("Priority filter: " + next)
}

func (m *Model) setSearch(query string) {
	m.st.SetFilters(app.FilterPatch{Search: &query})
	m.taskCursor = 0
}

func (m *Model) startDeleteConfirm() {
	task, ok := m.selectedTask()
	if !ok {
		m.setStatus("No task selected", true)
		return
	}
	m.mode = modeConfirmDelete
	m.confirmID = task.ID
	m.confirmName = task.Text
}

func (m *Model) confirmDelete() {
	if m.st.RemoveTask(m.confirmID) {
		m.persist("Task deleted • u undoes")
	} else {
		m.setStatus("Task no longer exists", true)
	}
	m.mode = modeNormal
	m.confirmID = ""
	m.confirmName = ""
	m.ensureSelection()
}

func (m *Model) startClearConfirm() {
	if m.st.Stats().Completed == 0 {
		m.setStatus("No completed tasks", false)
		return
	}
	m.mode = modeConfirmClear
}

func (m *Model) confirmClear() {
	n := m.st.ClearCompleted()
	m.mode = modeNormal
	m.taskCursor = 0
	m.persist(fmt.Sprintf("%d completed task(s) cleared • u undoes", n))
	m.ensureSelection()
}

func (m *Model) persist(success string) {
	m.ensureSelection()
	if m.svc == nil {
		m.setStatus(success+" • not saved", false)
		return
	}
	if err := m.svc.Save(m.ctx, m.st); err != nil {
		m.setStatus("Change applied but not saved: "+describeError(err), true)
		return
	}
	m.setStatus(success, false)
}

func (m *Model) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

func (m *Model) ensureSelection() {
	items := m.categoryItems()
	m.categoryCursor = clamp(m.categoryCursor, 0, len(items)-1)

	tasks := m.visibleTasks()
	if len(tasks) == 0 {
		m.taskCursor = 0
		return
	}
	m.taskCursor = clamp(m.taskCursor, 0, len(tasks)-1)
}

func (m *Model) categoryItems() []string {
	return append([]string{model.FilterAll}, m.st.Categories()...)
}

func (m *Model) visibleTasks() []model.Task {
	return m.st.FilteredTasks()
}

func (m *Model) selectedTask() (model.Task, bool) {
	tasks := m.visibleTasks()
	if len(tasks) == 0 {
		return model.Task{}, false
	}
	if m.taskCursor < 0 || m.taskCursor >= len(tasks) {
		m.taskCursor = 0
	}
	return tasks[m.taskCursor], true
}

// selectTask moves the cursor onto id when it is visible.
func (m *Model) selectTask(id string) {
	for i, t := range m.visibleTasks() {
		if t.ID == id {
			m.taskCursor = i
			return
		}
	}
	m.ensureSelection()
}

func (m *Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "loading..."
	}

	viewW := m.viewportWidth()
	header := m.renderHeader(viewW)

	const paneGap = 1
	const rightInset = 6
	outerPaneW := viewW - rightInset
	if outerPaneW < 40 {
		outerPaneW = viewW
	}
	innerPaneW := outerPaneW - 2
	if innerPaneW < 20 {
		innerPaneW = outerPaneW
	}

	panelH := m.height - 6
	if panelH < 8 {
		panelH = 8
	}
	innerPaneH := panelH - 2
	if innerPaneH < 6 {
		innerPaneH = 6
	}

	leftW, rightW := m.paneWidths(innerPaneW, paneGap)
	split := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderCategoriesPanel(leftW, innerPaneH),
		lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render("│"),
		m.renderTasksPanel(rightW, innerPaneH),
	)

	frameColor := lipgloss.Color("240")
	if m.mode == modeNormal {
		frameColor = lipgloss.Color("39")
	}
	panes := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(frameColor).
		Width(outerPaneW).
		Height(panelH).
		Render(split)

	if outerPaneW < viewW {
		panes = lipgloss.JoinHorizontal(lipgloss.Top, panes, strings.Repeat(" ", viewW-outerPaneW))
	}

	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("70"))
	if m.statusErr {
		statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	}
	rightHint := "? shortcuts"
	if m.showHelp {
		rightHint = "Esc/? close"
	}
	footerLine := m.renderFooter(m.status, statusStyle, rightHint)

	promptLine := ""
	switch m.mode {
	case modeAddTask:
		promptLine = "New task: " + m.input.View()
	case modeEditTask:
		promptLine = "Edit task: " + m.input.View()
	case modeEditCategory:
		promptLine = "Category: " + m.input.View()
	case modeSearch:
		promptLine = "Search (/): " + m.input.View() + "  (Enter keeps, Esc clears)"
	case modeConfirmDelete:
		promptLine = fmt.Sprintf("Delete task \"%s\"? [y/N]", truncateRunes(m.confirmName, 40))
	case modeConfirmClear:
		promptLine = fmt.Sprintf("Clear %d completed task(s)? [y/N]", m.st.Stats().Completed)
	}
	if promptLine != "" {
		promptLine = lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Width(viewW).Render(promptLine)
	}

	if m.showHelp {
		popupW := viewW - 8
		if popupW > 96 {
			popupW = 96
		}
		if popupW < 40 {
			popupW = viewW - 2
		}
		panes = lipgloss.Place(viewW, panelH, lipgloss.Center, lipgloss.Center, m.renderHelpOverlay(popupW))
	}

	parts := []string{header, panes, footerLine}
	if promptLine != "" && !m.showHelp {
		parts = append(parts, promptLine)
	}
	return strings.Join(parts, "\n")
}

func (m *Model) renderHeader(width int) string {
	stats := m.st.Stats()
	title := lipgloss.NewStyle().Bold(true).Render("taskboard")
	summary := fmt.Sprintf("%d tasks • %d done • %d pending", stats.Total, stats.Completed, stats.Pending)
	f := m.st.Filters()
	summary += " • " + filterSummary(f)

	synced := "not saved yet"
	if m.svc == nil {
		synced = "storage unavailable"
	} else if t, ok := m.st.LastSync(); ok {
		synced = "saved " + humanize.RelTime(t, m.now(), "ago", "from now")
	}

	left := lipgloss.JoinHorizontal(lipgloss.Left,
		title,
		"  ",
		progressBar(stats.CompletionRate, 12),
		lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Render(fmt.Sprintf(" %3d%%", stats.CompletionRate)),
		lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("  "+summary),
	)
	right := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(synced)
	pad := width - lipgloss.Width(left) - lipgloss.Width(right)
	if pad < 1 {
		return left
	}
	return left + strings.Repeat(" ", pad) + right
}

func (m *Model) viewportWidth() int {
	if m.width <= 0 {
		return 1
	}
	// One column is left free: some terminals wrap on the last cell.
	if m.width > 1 {
		return m.width - 1
	}
	return m.width
}

func (m *Model) paneWidths(total, gap int) (int, int) {
	if total <= 0 {
		return 24, 30
	}
	if gap < 0 {
		gap = 0
	}

	minLeft := 18
	minRight := 30
	if total < minLeft+minRight+gap {
		left := total / 3
		if left < 12 {
			left = 12
		}
		right := total - left - gap
		if right < 12 {
			right = 12
			left = total - right - gap
			if left < 10 {
				left = 10
			}
		}
		return left, right
	}

	left := total / 5
	if left < 20 {
		left = 20
	}
	if left > 30 {
		left = 30
	}

	right := total - left - gap
	if right < minRight {
		right = minRight
		left = total - right - gap
	}
	if left < minLeft {
		left = minLeft
		right = total - left - gap
	}
	return left, right
}

func (m *Model) renderFooter(statusText string, statusStyle lipgloss.Style, rightHint string) string {
	left := strings.TrimSpace(statusText)
	right := strings.TrimSpace(rightHint)
	if left == "" {
		left = "Ready"
	}

	leftW := utf8.RuneCountInString(left)
	rightW := utf8.RuneCountInString(right)
	width := m.viewportWidth()

	if leftW+rightW+1 > width {
		maxLeft := width - rightW - 1
		if maxLeft < 8 {
			maxLeft = 8
		}
		left = truncateRunes(left, maxLeft)
		leftW = utf8.RuneCountInString(left)
	}

	padding := width - leftW - rightW
	if padding < 1 {
		padding = 1
	}

	rightStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	line := statusStyle.Render(left) + strings.Repeat(" ", padding) + rightStyle.Render(right)
	return lipgloss.NewStyle().Width(width).Render(line)
}

func (m *Model) renderHelpOverlay(width int) string {
	title := lipgloss.NewStyle().Bold(true).Render("Shortcuts")
	section := lipgloss.NewStyle().Foreground(lipgloss.Color("111")).Bold(true)
	line := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))

	rows := []string{title}
	for _, group := range m.keys.groups() {
		rows = append(rows, "", section.Render(group.name))
		for _, row := range chunkBindings(group.bindings, 4) {
			rows = append(rows, line.Render("  "+row))
		}
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("244")).
		Padding(1, 2)
	return style.Width(width).Render(strings.Join(rows, "\n"))
}

func (m *Model) renderCategoriesPanel(width, height int) string {
	items := m.categoryItems()
	active := m.st.Filters().Category

	lines := make([]string, 0, len(items)+1)
	lines = append(lines, panelTitleStyled("Categories", m.focus == focusCategories))
	for i, name := range items {
		cursor := " "
		if i == m.categoryCursor && m.focus == focusCategories {
			cursor = "▸"
		}
		marker := " "
		if name == active {
			marker = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("●")
		}
		line := fmt.Sprintf("%s %s %s", cursor, marker, truncateRunes(name, width-4))
		if i == m.categoryCursor && m.focus == focusCategories {
			line = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("229")).Render(line)
		}
		lines = append(lines, line)
	}

	return lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func (m *Model) renderTasksPanel(width, height int) string {
	tasks := m.visibleTasks()
	lines := make([]string, 0, len(tasks)+2)
	lines = append(lines, panelTitleStyled("Tasks", m.focus == focusTasks))

	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	switch {
	case len(tasks) == 0 && len(m.st.Tasks()) == 0:
		lines = append(lines, muted.Render("No tasks yet. Press 'a' to add one."))
	case len(tasks) == 0:
		lines = append(lines, muted.Render("Nothing matches the current filters (f, p, /, Enter on a category)."))
	default:
		for i, t := range tasks {
			selected := i == m.taskCursor
			cursor := " "
			if selected {
				cursor = "▸"
			}
			check := "[ ]"
			if t.Completed {
				check = "[x]"
			}

			textStyle := lipgloss.NewStyle()
			if t.Completed {
				textStyle = textStyle.Faint(true)
			}
			cursorStyle := lipgloss.NewStyle()
			if selected {
				cursorStyle = cursorStyle.Bold(true)
				textStyle = textStyle.Bold(true)
				if m.focus == focusTasks {
					sel := lipgloss.Color("229")
					cursorStyle = cursorStyle.Foreground(sel)
					textStyle = textStyle.Foreground(sel)
				}
			}

			category := lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Render(" #" + t.Category)
			textW := width - 8 - lipgloss.Width(category)
			line := lipgloss.JoinHorizontal(lipgloss.Left,
				cursorStyle.Render(cursor+" "),
				cursorStyle.Render(check+" "),
				priorityIndicator(t.Priority)+" ",
				textStyle.Render(truncateRunes(t.Text, textW)),
				category,
			)
			lines = append(lines, line)
		}
	}

	return lipgloss.NewStyle().Width(width).Height(height).Render(strings.Join(lines, "\n"))
}

func panelTitleStyled(title string, active bool) string {
	base := lipgloss.NewStyle().Bold(true)
	if !active {
		return base.Render(title)
	}
	text := base.Foreground(lipgloss.Color("229")).Render(title)
	marker := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Render("*")
	return lipgloss.JoinHorizontal(lipgloss.Left, text, " ", marker)
}

func priorityIndicator(p model.Priority) string {
	switch p {
	case model.PriorityLow:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Render("●")
	case model.PriorityHigh:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Render("●")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("220")).Render("●")
	}
}

func progressBar(rate, width int) string {
	filled := clamp(rate*width/100, 0, width)
	done := lipgloss.NewStyle().Foreground(lipgloss.Color("70")).Render(strings.Repeat("█", filled))
	rest := lipgloss.NewStyle().Foreground(lipgloss.Color("238")).Render(strings.Repeat("░", width-filled))
	return done + rest
}

func filterSummary(f model.Filters) string {
	parts := []string{"status: " + string(f.Status)}
	if f.Category != model.FilterAll {
		parts = append(parts, "category: "+f.Category)
	}
	if f.Priority != model.FilterAll {
		parts = append(parts, "priority: "+f.Priority)
	}
	if f.Search != "" {
		parts = append(parts, "search: \""+f.Search+"\"")
	}
	return strings.Join(parts, " • ")
}

func quoteOrNone(s string) string {
	if s == "" {
		return "none"
	}
	return "\"" + s + "\""
}

func describeError(err error) string {
	switch {
	case err == nil:
		return "storage error"
	case errors.Is(err, store.ErrQuotaExceeded):
		return "storage is full; clear completed tasks or export and reset"
	case errors.Is(err, store.ErrUnavailable):
		return "storage is unavailable"
	case errors.Is(err, store.ErrTimeout):
		return "storage timed out"
	default:
		return err.Error()
	}
}

func describeEvent(ev event.Event) string {
	switch ev.Kind {
	case event.IntegrityWarning:
		return "Stored board failed its checksum; loaded anyway"
	case event.Corrupted:
		return "Stored board was corrupt"
	case event.Recovered:
		return "Board recovered from backup " + ev.Message
	case event.QuotaExceeded, event.Unavailable, event.SaveFailed:
		return describeError(ev.Err)
	default:
		return ev.Message
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

func clamp(v, min, max int) int {
	if max < min {
		return min
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
