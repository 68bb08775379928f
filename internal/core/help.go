package core

import "github.com/vovakirdan/relaychat/internal/proto"

var helpCatalog = proto.HelpData{
	Version: proto.ProtocolVersion,
	Commands: []proto.CommandDoc{
		{Name: proto.CommandConnect, Usage: "CONNECT [host] [port]", Description: "Acknowledge the connection"},
		{Name: proto.CommandNick, Usage: "NICK <nickname>", Description: "Set or change your nickname (1-32 letters, digits or underscores)"},
		{Name: proto.CommandList, Usage: "LIST", Description: "List channels and their member counts"},
		{Name: proto.CommandJoin, Usage: "JOIN [#channel]", Description: "Join a channel, creating it if needed (default " + proto.DefaultChannel + ")"},
		{Name: proto.CommandLeave, Usage: "LEAVE [#channel]", Description: "Leave a channel (default: most recently joined)"},
		{Name: proto.CommandMessage, Usage: "MESSAGE [#channel] <text>", Description: "Send a message to a channel, or to every channel you are in"},
		{Name: proto.CommandQuit, Usage: "QUIT [reason]", Description: "Disconnect from the server"},
		{Name: proto.CommandHelp, Usage: "HELP", Description: "Show this help"},
	},
}

// Help returns a copy of the command catalog.
func Help() proto.HelpData {
	h := helpCatalog
	h.Commands = append([]proto.CommandDoc(nil), helpCatalog.Commands...)
	return h
}
