package console

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"qqbot/pkg/message"
)

// Result is what one preview produced.
type Result struct {
	Packets []message.Packet
	Errors  []string
}

// PreviewFunc composes input without sending it.
type PreviewFunc func(ctx context.Context, input string) (Result, error)

// Info describes the account being previewed, shown in the header.
type Info struct {
	AccountID string
	Kind      string
	Mode      string
}

// Run starts the interactive compose console and blocks until the user quits.
func Run(ctx context.Context, previewFn PreviewFunc, info Info) error {
	program := tea.NewProgram(newModel(ctx, previewFn, info), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := program.Run()
	return err
}
