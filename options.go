package msl

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/msgsec/msl/msg"
)

// Options configures a Context. All fields decode from TOML so deployments
// can ship policy without code changes.
type Options struct {
	// Role is the local deployment role: "client", "server", or "peer".
	Role string `toml:"role"`

	// InferHandshake allows inferring a handshake from a renewable message
	// with key request data whose first payload chunk is empty and
	// end-of-message. Kept for legacy senders.
	InferHandshake bool `toml:"infer_handshake"`

	// NonReplayableWindow overrides the acceptance window width for
	// non-replayable IDs. Zero keeps the default.
	NonReplayableWindow uint64 `toml:"non_replayable_window"`

	// MaxFrameSize overrides the maximum encoded frame size the pipeline
	// accepts. Zero keeps the default limit.
	MaxFrameSize int `toml:"max_frame_size"`

	// StateDir persists the token factory's largest-seen non-replayable ID
	// state across restarts. Empty keeps state in memory only.
	StateDir string `toml:"state_dir"`
}

// DefaultOptions returns the options a trusted-network server would run
// with.
func DefaultOptions() *Options {
	return &Options{
		Role:           "server",
		InferHandshake: true,
	}
}

// LoadOptions decodes options from a TOML file.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()
	if _, err := toml.DecodeFile(path, opts); err != nil {
		return nil, fmt.Errorf("failed to decode options: %w", err)
	}
	if _, err := opts.role(); err != nil {
		return nil, err
	}
	return opts, nil
}

func (o *Options) role() (msg.Role, error) {
	switch o.Role {
	case "client":
		return msg.RoleTrustedNetworkClient, nil
	case "", "server":
		return msg.RoleTrustedNetworkServer, nil
	case "peer":
		return msg.RolePeer, nil
	default:
		return 0, fmt.Errorf("unknown role %q", o.Role)
	}
}
