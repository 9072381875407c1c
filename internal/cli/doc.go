// Package cli provides the interactive terminal view of an archive run.
//
// The view is a [Bubbletea] model fed by runner events through [Observer]:
// the runner goroutine calls OnEvent, which forwards the event to the
// program as a message, and the model renders overall progress, the
// repositories currently in flight and the most recent outcomes.
//
// The first q or Ctrl+C cancels the run and the view keeps rendering until
// the runner reports the run finished. A second request quits immediately.
//
// Styles are [Lipgloss] package-level variables shared by every view.
//
// [Bubbletea]: https://github.com/charmbracelet/bubbletea
// [Lipgloss]: https://github.com/charmbracelet/lipgloss
package cli
