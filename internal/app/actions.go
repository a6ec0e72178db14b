package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/bank-notifications/internal/model"
)

// actionTimeout bounds a single mark-as-read round trip.
const actionTimeout = 15 * time.Second

// markReadResultMsg is sent after one or more mark-as-read calls finish.
// The flags stay flipped locally even when the server call failed.
type markReadResultMsg struct {
	count  int
	failed int
	err    error
}

// markRead returns a command that marks the given notifications as read.
// Each call updates the store immediately; the server acknowledgement is
// awaited in the background.
func (m Model) markRead(ids ...model.NotificationID) tea.Cmd {
	s := m.store
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		res := markReadResultMsg{count: len(ids)}
		for _, id := range ids {
			if err := s.MarkAsRead(ctx, id); err != nil {
				res.failed++
				if res.err == nil {
					res.err = err
				}
			}
		}
		return res
	}
}
