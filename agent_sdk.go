package glimt

import (
	"context"

	"pkt.systems/glimt/internal/agent"
	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/pslog"
)

// AgentOptions configures a capture-source client run.
type AgentOptions struct {
	Endpoint string
	RoomID   string
	Name     string
	Logger   pslog.Logger

	// OnScreenRequest fires when a viewer asks for this agent's screen.
	OnScreenRequest func(protocol.ScreenRequestPayload)
	// OnControl receives forwarded input events from authorized viewers.
	OnControl func(protocol.ControlPayload)
	// OnStop is called when the broker announces the share ended.
	OnStop func()
}

// Agent re-exports the capture-source client.
type Agent = agent.Agent

// NewAgent constructs a capture-source client.
func NewAgent(opts AgentOptions) *Agent {
	return agent.New(agent.Options{
		Endpoint:        opts.Endpoint,
		RoomID:          opts.RoomID,
		Name:            opts.Name,
		Logger:          opts.Logger,
		OnScreenRequest: opts.OnScreenRequest,
		OnControl:       opts.OnControl,
		OnStop:          opts.OnStop,
	})
}

// RunAgent runs a capture-source client until ctx is canceled.
func RunAgent(ctx context.Context, opts AgentOptions) error {
	return NewAgent(opts).Run(ctx)
}
