package device

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/dinodia/dinodia-core/internal/backend"
	"github.com/dinodia/dinodia-core/internal/gateway"
)

// Logger defines the logging interface used by the Pipeline.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Gateway is the subset of the gateway client the pipeline needs.
type Gateway interface {
	ListStates(ctx context.Context, target gateway.Target) ([]gateway.EntityState, error)
	RenderMetadata(ctx context.Context, target gateway.Target) (map[string]gateway.EntityMeta, error)
	Probe(ctx context.Context, target gateway.Target, timeout time.Duration) bool
}

// ConnectionResolver resolves a user's automation connection and access
// rules. Implemented by backend.Resolver.
type ConnectionResolver interface {
	Resolve(ctx context.Context, userID string) (*backend.Resolution, error)
}

// Pipeline produces the canonical per-user device list for a mode by
// merging gateway-reported devices with backend overrides and tenant
// visibility rules.
type Pipeline struct {
	resolver  ConnectionResolver
	overrides backend.OverrideRepository
	gw        Gateway

	homeProbeTimeout  time.Duration
	cloudProbeTimeout time.Duration

	logger Logger
}

// NewPipeline creates a device resolution pipeline.
// Probe timeouts differ per mode: shorter on the LAN, longer via the
// cloud relay.
func NewPipeline(resolver ConnectionResolver, overrides backend.OverrideRepository, gw Gateway,
	homeProbeTimeout, cloudProbeTimeout time.Duration) *Pipeline {
	return &Pipeline{
		resolver:          resolver,
		overrides:         overrides,
		gw:                gw,
		homeProbeTimeout:  homeProbeTimeout,
		cloudProbeTimeout: cloudProbeTimeout,
		logger:            noopLogger{},
	}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(logger Logger) {
	p.logger = logger
}

// FetchDevices resolves the user's connection and returns their device
// list for the given mode.
//
// An unset mode URL returns an empty list without error and without any
// network traffic: an unconfigured mode is an empty state, not a failure.
// Metadata-template failure degrades to domain-based classification.
// Override-lookup failure propagates; it is a data-integrity problem, not
// a reachability one.
func (p *Pipeline) FetchDevices(ctx context.Context, userID string, mode Mode) ([]Snapshot, error) {
	if !IsValidMode(mode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	res, err := p.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	baseURL := res.Connection.BaseURL
	probeTimeout := p.homeProbeTimeout
	unreachableErr := ErrHomeUnreachable
	if mode == ModeCloud {
		baseURL = res.Connection.CloudURL
		probeTimeout = p.cloudProbeTimeout
		unreachableErr = ErrCloudUnreachable
	}

	if baseURL == "" {
		return []Snapshot{}, nil
	}

	target := gateway.Target{BaseURL: baseURL, Token: res.Connection.LongLivedToken}

	if !p.gw.Probe(ctx, target, probeTimeout) {
		return nil, unreachableErr
	}

	states, err := p.gw.ListStates(ctx, target)
	if err != nil {
		return nil, err
	}

	metas, err := p.gw.RenderMetadata(ctx, target)
	if err != nil {
		p.logger.Warn("metadata template failed, using domain classification",
			"user_id", userID, "error", err)
		metas = map[string]gateway.EntityMeta{}
	}

	overrides, err := p.overrides.ListByConnection(ctx, res.Connection.ID)
	if err != nil {
		return nil, fmt.Errorf("loading device overrides: %w", err)
	}
	overrideByEntity := make(map[string]backend.DeviceOverride, len(overrides))
	for _, o := range overrides {
		overrideByEntity[o.EntityID] = o
	}

	snapshots := make([]Snapshot, 0, len(states))
	for _, state := range states {
		snap := buildSnapshot(state, metas[state.EntityID], overrideByEntity[state.EntityID])
		snapshots = append(snapshots, snap)
	}

	if !res.User.IsAdmin() {
		snapshots = filterByRules(snapshots, res.Rules)
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		if snapshots[i].Name != snapshots[j].Name {
			return snapshots[i].Name < snapshots[j].Name
		}
		return snapshots[i].EntityID < snapshots[j].EntityID
	})

	p.logger.Debug("devices resolved", "user_id", userID, "mode", mode, "count", len(snapshots))
	return snapshots, nil
}

// buildSnapshot merges one gateway state with its server-computed metadata
// and any backend override. Override fields win where present; label
// category falls back from labels to domain.
func buildSnapshot(state gateway.EntityState, meta gateway.EntityMeta, override backend.DeviceOverride) Snapshot {
	snap := Snapshot{
		EntityID:   state.EntityID,
		State:      state.State,
		Domain:     DomainOf(state.EntityID),
		Attributes: state.Attributes,
		Labels:     meta.Labels,
	}

	snap.Name = state.EntityID
	if friendly, ok := state.Attributes["friendly_name"].(string); ok && friendly != "" {
		snap.Name = friendly
	}
	if override.Name != nil {
		snap.Name = *override.Name
	}

	if meta.Area != "" {
		area := meta.Area
		snap.Area = &area
		snap.AreaName = &area
	}
	if override.Area != nil {
		snap.Area = override.Area
		snap.AreaName = override.Area
	}

	if meta.DeviceID != "" {
		deviceID := meta.DeviceID
		snap.DeviceID = &deviceID
	}

	// The effective label set leads with the override label when present.
	effectiveLabels := meta.Labels
	if override.Label != nil {
		effectiveLabels = append([]string{*override.Label}, meta.Labels...)
	}

	snap.LabelCategory = CategoryFromLabels(effectiveLabels)
	if snap.LabelCategory == "" {
		snap.LabelCategory = CategoryFromDomain(snap.Domain)
	}

	if override.Label != nil {
		snap.Label = override.Label
	} else {
		for _, label := range meta.Labels {
			if label != "" {
				display := label
				snap.Label = &display
				break
			}
		}
	}

	return snap
}

// filterByRules keeps only devices whose area name matches one of the
// tenant's access rules. Devices without an area never match.
func filterByRules(snapshots []Snapshot, rules []backend.AccessRule) []Snapshot {
	allowed := make(map[string]bool, len(rules))
	for _, r := range rules {
		allowed[r.Area] = true
	}

	filtered := make([]Snapshot, 0, len(snapshots))
	for _, s := range snapshots {
		if s.AreaName != nil && allowed[*s.AreaName] {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
