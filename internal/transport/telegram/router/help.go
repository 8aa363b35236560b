package router

import (
	"strings"

	"rvbot/pkg/tgui"
)

// helpText renders the command list, or the details of one command.
func (m *Manager) helpText(args []string) tgui.H {
	if len(args) > 0 {
		word := strings.ToLower(strings.TrimPrefix(args[0], "/"))
		c, ok := m.lookup(word)
		if !ok {
			return tgui.JoinH(" ", tgui.Raw("unknown command, try"), tgui.Code("/help"))
		}
		var l tgui.Lines
		l.Add(tgui.B("/" + c.Name))
		l.Add(tgui.Esc(c.Description))
		if c.Access == AccessAdminOnly {
			l.Add(tgui.I("🔒 admins only"))
		}
		if c.Usage != "" {
			l.Add(tgui.JoinH(" ", tgui.Raw("usage:"), tgui.Code(c.Usage)))
		}
		if len(c.Aliases) > 0 {
			l.Add(tgui.JoinH(" ", tgui.Raw("aliases:"), tgui.Esc(strings.Join(c.Aliases, ", "))))
		}
		return l.H()
	}

	var l tgui.Lines
	l.Add(tgui.B("commands"))
	var admin []*Command
	for _, c := range m.commandList() {
		if c.Access == AccessAdminOnly {
			admin = append(admin, c)
			continue
		}
		l.Add(tgui.JoinH(" ", tgui.Code("/"+c.Name), tgui.Esc("- "+c.Description)))
	}
	for _, c := range admin {
		l.Add(tgui.JoinH(" ", tgui.Raw("🔒"), tgui.Code("/"+c.Name), tgui.Esc("- "+c.Description)))
	}
	l.Add(tgui.JoinH(" ", tgui.Raw("details:"), tgui.Code("/help <command>")))
	return l.H()
}
