package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Tyrowin/chathub/internal/channel"
	"github.com/Tyrowin/chathub/internal/protocol"
)

type theme struct {
	header lipgloss.Style
	status lipgloss.Style
	muted  lipgloss.Style
	system lipgloss.Style
	alert  lipgloss.Style
	sender lipgloss.Style
	ai     lipgloss.Style
	scope  lipgloss.Style
	link   lipgloss.Style
}

func newTheme() theme {
	pink := lipgloss.Color("#ff71ce")
	blue := lipgloss.Color("#01cdfe")
	mint := lipgloss.Color("#05ffa1")
	muted := lipgloss.Color("#8a8fa3")
	return theme{
		header: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#0b0f1a")).Background(blue),
		status: lipgloss.NewStyle().Foreground(blue).Bold(true),
		muted:  lipgloss.NewStyle().Foreground(muted),
		system: lipgloss.NewStyle().Foreground(muted).Italic(true),
		alert:  lipgloss.NewStyle().Foreground(pink).Bold(true),
		sender: lipgloss.NewStyle().Foreground(mint).Bold(true),
		ai:     lipgloss.NewStyle().Foreground(lipgloss.Color("#ffd166")).Bold(true),
		scope:  lipgloss.NewStyle().Foreground(blue),
		link:   lipgloss.NewStyle().Foreground(blue).Underline(true),
	}
}

func clock(stamp string) string {
	t, err := time.Parse(time.RFC3339Nano, stamp)
	if err != nil {
		return "--:--"
	}
	return t.Local().Format("15:04")
}

func (th theme) row(l line, groups map[string]channel.GroupInfo) string {
	switch l.kind {
	case "note":
		return th.muted.Render("· " + l.text)
	case protocol.EventAlert:
		return th.alert.Render(fmt.Sprintf("! %s %s", l.sender, l.text))
	case protocol.EventSystem:
		return th.system.Render(fmt.Sprintf("%s %s", clock(l.stamp), l.text))
	}

	scope := ""
	switch l.thread {
	case protocol.ThreadDM:
		scope = th.scope.Render("[@"+l.peer+"] ")
	case protocol.ThreadGroup:
		name := l.gcid
		if g, ok := groups[l.gcid]; ok {
			name = g.Name
		}
		scope = th.scope.Render("[#"+name+"] ")
	}
	who := th.sender
	if l.sender == "AI" {
		who = th.ai
	}
	body := l.text
	if l.kind == protocol.EventMedia {
		body = th.link.Render(l.url)
	}
	return fmt.Sprintf("%s %s%s %s", th.muted.Render(clock(l.stamp)), scope, who.Render(l.sender+":"), body)
}
