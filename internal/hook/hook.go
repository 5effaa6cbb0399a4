// Package hook defines the contract between the bouncer host and the relay
// core, plus adapters that translate a host's event feed into it.
//
// The host runtime itself (connection handling, module loading) is an
// external collaborator; the core only ever sees Message values through
// EventHandler, one callback per inbound IRC message.
package hook

import "time"

// Message is one inbound IRC message as seen by the owner's session.
// It is ephemeral: owned exclusively by the dispatch call that receives it.
type Message struct {
	Network string    // host session/network identifier
	Sender  string    // sender nick
	Target  string    // channel name, or the owner's nick for queries
	Private bool      // true for queries (private messages)
	Text    string    // raw message text, formatting codes included
	Time    time.Time // host receive time; zero means "now"
}

// EventHandler is implemented by the relay core: one method per event kind
// it consumes. Implementations must return promptly and never propagate
// failures back into the host's message pipeline.
type EventHandler interface {
	HandleChannelMessage(m Message)
	HandlePrivateMessage(m Message)
}

// Dispatch routes a message to the matching handler method.
func Dispatch(h EventHandler, m Message) {
	if h == nil {
		return
	}
	if m.Private {
		h.HandlePrivateMessage(m)
		return
	}
	h.HandleChannelMessage(m)
}
