package main

import (
	"fmt"
	"sort"

	"hr-messenger/client"
	"hr-messenger/domain"

	"github.com/gookit/color"
)

// render lists the lines to print to go from previous to current.
// Messages are keyed by client reference when they have one, so a confirmation is
// printed as a status change instead of a second message.
func render(previous, current client.Snapshot) []string {
	var lines []string
	if previous.State != current.State {
		lines = append(lines, color.Gray.Sprintf("[%s]", current.State))
	}
	if previous.Active != current.Active && current.Active != "" {
		lines = append(lines, color.Cyan.Sprintf("=== conversation with %s ===", current.Active))
		previous.Messages = nil
	}

	seen := make(map[string]domain.DeliveryState, len(previous.Messages))
	for _, m := range previous.Messages {
		seen[keyOf(m)] = m.Delivery
	}
	for _, m := range current.Messages {
		delivery, known := seen[keyOf(m)]
		switch {
		case !known:
			lines = append(lines, formatMessage(current.Self, m))
		case delivery != m.Delivery:
			lines = append(lines, formatDelivery(m))
		}
	}

	for sender, count := range current.Unread {
		if count > previous.Unread[sender] && sender != current.Active {
			lines = append(lines, color.Yellow.Sprintf("(%d unread from %s)", count, sender))
		}
	}
	return lines
}

func keyOf(m client.LocalMessage) string {
	if m.ClientID != "" {
		return "c:" + m.ClientID
	}
	return "m:" + m.ID
}

func formatMessage(self string, m client.LocalMessage) string {
	at := m.CreatedAt.Local().Format("15:04")
	if m.SenderID == self {
		line := fmt.Sprintf("%s me: %s", at, m.Text)
		if m.Delivery != domain.Received && m.Delivery != domain.Confirmed {
			line += fmt.Sprintf(" (%s %s)", m.Delivery, m.ClientID)
		}
		return color.Green.Sprint(line)
	}
	return fmt.Sprintf("%s %s: %s", at, m.SenderID, m.Text)
}

func formatDelivery(m client.LocalMessage) string {
	switch m.Delivery {
	case domain.Failed:
		return color.Red.Sprintf("  failed to send %q: %s (/retry %s)", m.Text, m.Error, m.ClientID)
	case domain.Confirmed:
		return color.Gray.Sprintf("  delivered %q", m.Text)
	default:
		return color.Gray.Sprintf("  %s %q", m.Delivery, m.Text)
	}
}

func printUnread(snapshot client.Snapshot) {
	senders := make([]string, 0, len(snapshot.Unread))
	for sender, count := range snapshot.Unread {
		if count > 0 {
			senders = append(senders, sender)
		}
	}
	if len(senders) == 0 {
		fmt.Println("no unread messages")
		return
	}
	sort.Strings(senders)
	for _, sender := range senders {
		fmt.Printf("%s: %d\n", sender, snapshot.Unread[sender])
	}
}
