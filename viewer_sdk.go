package glimt

import (
	"context"

	"pkt.systems/glimt/internal/protocol"
	"pkt.systems/glimt/internal/viewer"
	"pkt.systems/pslog"
)

// ViewerOptions configures a viewer client run.
type ViewerOptions struct {
	Endpoint string
	RoomID   string
	Name     string
	// Token resumes a previously granted control session.
	Token  string
	Logger pslog.Logger

	OnFrame         func(*protocol.Frame)
	OnPeers         func(protocol.PeerListPayload)
	OnScreenRequest func(protocol.ScreenRequestPayload)
	OnGrant         func(token, agentID string)
	OnResult        func(protocol.PermissionResultPayload)
	OnRevoke        func(reason string)
	OnResume        func(protocol.ResumeResultPayload)
	OnStopShare     func(name string)
}

// Viewer re-exports the viewer client.
type Viewer = viewer.Viewer

// NewViewer constructs a viewer client.
func NewViewer(opts ViewerOptions) *Viewer {
	return viewer.New(viewer.Options{
		Endpoint:        opts.Endpoint,
		RoomID:          opts.RoomID,
		Name:            opts.Name,
		Token:           opts.Token,
		Logger:          opts.Logger,
		OnFrame:         opts.OnFrame,
		OnPeers:         opts.OnPeers,
		OnScreenRequest: opts.OnScreenRequest,
		OnGrant:         opts.OnGrant,
		OnResult:        opts.OnResult,
		OnRevoke:        opts.OnRevoke,
		OnResume:        opts.OnResume,
		OnStopShare:     opts.OnStopShare,
	})
}

// RunViewer runs a viewer client until ctx is canceled.
func RunViewer(ctx context.Context, opts ViewerOptions) error {
	return NewViewer(opts).Run(ctx)
}
