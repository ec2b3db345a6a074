// Switchboard is a resilient streaming relay between chat clients and an
// upstream conversational-AI provider.
//
// It accepts a chat message per request, keeps each client bound to one
// upstream conversation, and relays the upstream answer stream as
// server-sent events, with admission control, retries and circuit breaking
// in front of the upstream.
//
// Usage:
//
//	# Start the relay with the default configuration file
//	switchboard run
//
//	# Start with a custom configuration file
//	switchboard run --config /etc/switchboard/config.yaml
//
//	# Check a configuration file
//	switchboard validate --config config.yaml
//
//	# Inspect or forget persisted conversations
//	switchboard conversations list
//	switchboard conversations forget user-123
//
//	# Show version information
//	switchboard version
package main

func main() {
	Execute()
}
