package strategy

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/strategy-cli/internal/canonical"
	"github.com/sells-group/strategy-cli/internal/idempotency"
	"github.com/sells-group/strategy-cli/internal/model"
	"github.com/sells-group/strategy-cli/internal/signal"
	"github.com/sells-group/strategy-cli/internal/temporal"
)

// OperationStrategyBuild is the execution operation type for builds.
const OperationStrategyBuild = "strategy_build"

// Versions is the tuple of component versions that, together with the
// input, determines a build's output.
type Versions struct {
	EngineVersion          string `json:"engine_version"`
	ThresholdBundleVersion string `json:"threshold_bundle_version"`
	RegistryVersion        string `json:"registry_version"`
	SignalSchemaVersion    string `json:"signal_schema_version"`
	ProfileVersionHash     string `json:"profile_version_hash"`
}

// Fingerprint hashes the tuple.
func (v Versions) Fingerprint() (string, error) {
	return canonical.VersionFingerprint(map[string]any{
		"engine_version":           v.EngineVersion,
		"threshold_bundle_version": v.ThresholdBundleVersion,
		"registry_version":         v.RegistryVersion,
		"signal_schema_version":    v.SignalSchemaVersion,
		"profile_version_hash":     v.ProfileVersionHash,
	})
}

// Versions returns the engine's version tuple for profile.
func (e *Engine) Versions(profile temporal.Profile) (Versions, error) {
	thresholds, err := e.thresholds.BundleVersion()
	if err != nil {
		return Versions{}, err
	}
	profileHash, err := profile.VersionHash()
	if err != nil {
		return Versions{}, err
	}
	return Versions{
		EngineVersion:          EngineVersion,
		ThresholdBundleVersion: thresholds,
		RegistryVersion:        e.registry.Version(),
		SignalSchemaVersion:    signal.SchemaVersion,
		ProfileVersionHash:     profileHash,
	}, nil
}

// BuildStamp is the provenance attached to a persisted build.
type BuildStamp struct {
	Versions
	InputHash          string `json:"input_hash"`
	OutputHash         string `json:"output_hash"`
	VersionFingerprint string `json:"version_fingerprint"`
	BuildHash          string `json:"build_hash"`
}

func (s BuildStamp) fields() map[string]canonical.Value {
	return map[string]canonical.Value{
		"threshold_bundle_version": canonical.String(s.ThresholdBundleVersion),
		"registry_version":         canonical.String(s.RegistryVersion),
		"signal_schema_version":    canonical.String(s.SignalSchemaVersion),
		"input_hash":               canonical.String(s.InputHash),
		"output_hash":              canonical.String(s.OutputHash),
		"version_fingerprint":      canonical.String(s.VersionFingerprint),
		"profile_version_hash":     canonical.String(s.ProfileVersionHash),
		"build_hash":               canonical.String(s.BuildHash),
	}
}

// Builder runs idempotent, persisted strategy builds.
type Builder struct {
	engine     *Engine
	executions *idempotency.Service
	integrator *Integrator
}

// NewBuilder creates a Builder. integrator may be nil to skip temporal
// integration.
func NewBuilder(engine *Engine, executions *idempotency.Service, integrator *Integrator) *Builder {
	return &Builder{engine: engine, executions: executions, integrator: integrator}
}

// RequestPayload is the canonical form of req that the input hash covers.
func RequestPayload(req Request) map[string]any {
	return map[string]any{
		"campaign_id": req.CampaignID,
		"window": map[string]any{
			"date_from": isoformat(req.Window.From),
			"date_to":   isoformat(req.Window.To),
		},
		"raw_signals": req.RawSignals,
		"tier":        req.Tier,
	}
}

// IdempotencyKey is the execution key for req.
func IdempotencyKey(req Request) string {
	return fmt.Sprintf("%s:%s:%s:%s", req.CampaignID, isoformat(req.Window.From), isoformat(req.Window.To), req.Tier)
}

// Build returns the stored payload when an identical request already
// completed for tenantID, and otherwise builds, integrates temporal state,
// stamps and persists the output. A running execution for the same key is
// an idempotency.ErrConflict.
func (b *Builder) Build(ctx context.Context, tenantID string, req Request) (canonical.Value, error) {
	log := zap.L().With(
		zap.String("tenant_id", tenantID),
		zap.String("campaign_id", req.CampaignID),
		zap.String("tier", req.Tier),
	)

	inHash, err := canonical.InputHash(RequestPayload(req))
	if err != nil {
		return canonical.Value{}, eris.Wrap(err, "strategy: hash request")
	}
	profile := temporal.ResolveProfile(req.Tier)
	versions, err := b.engine.Versions(profile)
	if err != nil {
		return canonical.Value{}, err
	}
	versionHash, err := versions.Fingerprint()
	if err != nil {
		return canonical.Value{}, err
	}

	exec, _, err := b.executions.GetOrCreate(ctx, idempotency.Key{
		TenantID:           tenantID,
		CampaignID:         req.CampaignID,
		OperationType:      OperationStrategyBuild,
		IdempotencyKey:     IdempotencyKey(req),
		InputHash:          inHash,
		VersionFingerprint: versionHash,
	})
	if err != nil {
		return canonical.Value{}, err
	}

	switch exec.Status {
	case model.ExecutionCompleted:
		if exec.OutputPayload != "" {
			log.Debug("returning stored strategy build", zap.String("execution_id", exec.ID))
			return canonical.ParseJSON([]byte(exec.OutputPayload))
		}
	case model.ExecutionRunning:
		return canonical.Value{}, eris.Wrap(idempotency.ErrConflict, "strategy build already running for this idempotency key")
	case model.ExecutionFailed:
		if err := b.executions.ResetFailed(ctx, exec.ID); err != nil {
			return canonical.Value{}, err
		}
	}

	if err := b.executions.Claim(ctx, exec.ID); err != nil {
		return canonical.Value{}, err
	}

	payload, err := b.run(ctx, req, profile, versions, inHash, versionHash)
	if err != nil {
		if failErr := b.executions.Fail(ctx, exec.ID, err.Error()); failErr != nil {
			log.Error("mark execution failed", zap.String("execution_id", exec.ID), zap.Error(failErr))
		}
		return canonical.Value{}, err
	}

	raw := canonical.Encode(payload.value)
	if err := b.executions.Complete(ctx, exec.ID, payload.outputHash, raw); err != nil {
		return canonical.Value{}, err
	}
	log.Info("strategy build completed",
		zap.String("execution_id", exec.ID),
		zap.String("output_hash", payload.outputHash),
	)
	return canonical.ParseJSON(raw)
}

type stampedPayload struct {
	value      canonical.Value
	outputHash string
}

func (b *Builder) run(ctx context.Context, req Request, profile temporal.Profile, versions Versions, inHash, versionHash string) (stampedPayload, error) {
	out, err := b.engine.Build(ctx, req)
	if err != nil {
		return stampedPayload{}, err
	}
	if b.integrator != nil {
		if _, err := b.integrator.Integrate(ctx, out, profile); err != nil {
			return stampedPayload{}, err
		}
	}

	outHash, err := canonical.OutputHash(out)
	if err != nil {
		return stampedPayload{}, err
	}
	out.Meta.Stamp = &BuildStamp{
		Versions:           versions,
		InputHash:          inHash,
		OutputHash:         outHash,
		VersionFingerprint: versionHash,
		BuildHash:          canonical.BuildHash(inHash, outHash, versionHash),
	}

	v, err := canonical.Normalize(out, canonical.DefaultPrecision)
	if err != nil {
		return stampedPayload{}, err
	}
	return stampedPayload{value: v, outputHash: outHash}, nil
}
