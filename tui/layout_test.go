package tui

import (
	"context"
	"testing"

	"taskboard/app"
)

func TestPaneWidthsPreferNarrowCategoriesPanel(t *testing.T) {
	m := NewModel(context.Background(), app.New(), nil, "")
	m.width = 120

	viewW := m.viewportWidth()
	left, right := m.paneWidths(viewW, 1)
	if left >= right {
		t.Fatalf("expected categories panel to be narrower than tasks (left=%d right=%d)", left, right)
	}
	if left+right+1 != viewW {
		t.Fatalf("expected pane widths to fill available width=%d, got left=%d right=%d", viewW, left, right)
	}
}

func TestPaneWidthsSmallTerminalStillValid(t *testing.T) {
	m := NewModel(context.Background(), app.New(), nil, "")
	m.width = 48

	viewW := m.viewportWidth()
	left, right := m.paneWidths(viewW, 1)
	if left < 10 || right < 12 {
		t.Fatalf("expected minimum usable pane widths, got left=%d right=%d", left, right)
	}
	if left+right+1 > viewW {
		t.Fatalf("expected panes not to exceed viewport width=%d, got left=%d right=%d", viewW, left, right)
	}
}

func TestViewRendersHeaderAndTasks(t *testing.T) {
	st := app.New()
	m := NewModel(context.Background(), st, nil, "")
	m.Update(teaSize(100, 30))
	typeKeys(m, "a")
	typeText(m, "Buy milk")
	pressEnter(m)

	view := m.View()
	for _, want := range []string{"taskboard", "1 tasks", "Buy milk", "Categories"} {
		if !containsPlain(view, want) {
			t.Fatalf("expected %q in view:\n%s", want, view)
		}
	}
}
