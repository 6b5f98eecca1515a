package api

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sonatype/central-nxrm-two-portal/internal/bundle"
	"github.com/sonatype/central-nxrm-two-portal/internal/config"
	"github.com/sonatype/central-nxrm-two-portal/internal/credentials"
	"github.com/sonatype/central-nxrm-two-portal/internal/portal"
	"github.com/sonatype/central-nxrm-two-portal/internal/staging"
)

// App wires together the components (C1-C8) behind the HTTP handlers: the
// bundle store, the staging registry, and the Portal client.
type App struct {
	Config        *config.Config
	Bundles       *bundle.Store
	Registry      *staging.Registry
	Portal        *portal.Client
	Verifier      *credentials.BearerVerifier
	Fingerprinter *credentials.Fingerprinter

	uploadSlots chan struct{}
}

// NewApp constructs an App and wires the registry's transition hook to
// seal a session's bundle the instant it enters Closing, atomically with
// the state change (spec.md section 4.8). The Portal upload/publish calls
// spawned by finishSession and promoteSession are bounded to
// cfg.Portal.UploadConcurrency concurrent requests.
func NewApp(cfg *config.Config, bundles *bundle.Store, registry *staging.Registry, portalClient *portal.Client, verifier *credentials.BearerVerifier, fingerprinter *credentials.Fingerprinter) *App {
	concurrency := 4
	if cfg != nil && cfg.Portal.UploadConcurrency > 0 {
		concurrency = cfg.Portal.UploadConcurrency
	}
	app := &App{
		Config:        cfg,
		Bundles:       bundles,
		Registry:      registry,
		Portal:        portalClient,
		Verifier:      verifier,
		Fingerprinter: fingerprinter,
		uploadSlots:   make(chan struct{}, concurrency),
	}
	registry.SetTransitionHook(app.onTransition)
	registry.SetEvictHook(app.onEvict)
	return app
}

func (a *App) onTransition(session *staging.Session, from, to staging.State) {
	if to != staging.Closing {
		return
	}
	handle, ok := session.BundleHandle.(*bundle.Handle)
	if !ok || handle == nil {
		return
	}
	handle.Seal()
}

func (a *App) onEvict(session *staging.Session) {
	handle, ok := session.BundleHandle.(*bundle.Handle)
	if !ok || handle == nil {
		return
	}
	if err := handle.Destroy(); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to destroy evicted bundle")
	}
}

// finishSession drives a session from Closing through Portal upload to
// Closed or Failed (or on to Released, for an Automatic upload the Portal
// reports as PUBLISHED). It is always called after a successful Open->Closing
// transition, with the credential pair of the request that triggered the
// transition — the only point at which this proxy ever holds a usable
// pair for this session, per spec's "raw credentials are never persisted"
// rule. Runs in its own goroutine; handlers return to the client without
// waiting for it (spec.md section 4.5's "hands off asynchronously").
func (a *App) finishSession(session staging.Session, pair credentials.Pair, publishingType portal.PublishingType) {
	a.uploadSlots <- struct{}{}
	defer func() { <-a.uploadSlots }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	handle, ok := session.BundleHandle.(*bundle.Handle)
	if !ok || handle == nil {
		log.Error().Str("session_id", session.ID).Msg("session has no bundle handle to upload")
		a.failSession(session.ID, pair)
		return
	}

	files := make([]portal.File, 0, len(handle.Entries()))
	for _, entry := range handle.Entries() {
		relativePath := entry.RelativePath
		files = append(files, portal.File{
			RelativePath: relativePath,
			Size:         entry.Size,
			Open: func() (portal.ReadCloser, error) {
				return handle.Open(relativePath)
			},
		})
	}

	result, err := a.Portal.Upload(ctx, pair, publishingType, files)
	if err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("portal upload failed")
		a.failSession(session.ID, pair)
		return
	}

	if err := a.Registry.WithSession(session.ID, func(s *staging.Session) error {
		s.PortalDeployID = result.DeploymentID
		return nil
	}); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("failed to record portal deployment id")
	}

	status, err := a.Portal.PollUntilTerminal(ctx, pair, result.DeploymentID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("portal status polling failed")
		a.failSession(session.ID, pair)
		return
	}

	switch status.Status {
	case portal.StatusPublished:
		if publishingType != portal.Automatic {
			// USER_MANAGED never auto-releases: only an explicit bulk/promote
			// call (promoteSession) may drive Closed to Released.
			if _, err := a.Registry.Transition(session.ID, staging.EventPortalAccept); err != nil {
				log.Warn().Err(err).Str("session_id", session.ID).Msg("transition to closed failed")
			}
			return
		}
		if _, err := a.Registry.Transition(session.ID, staging.EventPortalAccept); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("transition to closed failed")
			return
		}
		if _, err := a.Registry.Transition(session.ID, staging.EventPromote); err == nil {
			if _, err := a.Registry.Transition(session.ID, staging.EventPortalPublish); err != nil {
				log.Warn().Err(err).Str("session_id", session.ID).Msg("transition to released failed")
			}
		}
	case portal.StatusFailed, portal.StatusRejected:
		a.failSession(session.ID, pair)
	default:
		if _, err := a.Registry.Transition(session.ID, staging.EventPortalAccept); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("transition to closed failed")
		}
	}
}

// implicitProfile names the synthetic profile used by the profile-less
// legacy maven2 deploy path and the manual-upload trigger, supplementing
// spec.md's profile-scoped endpoints with the original implementation's
// "no profile" repository concept (original_source's
// open_no_profile_repository).
const implicitProfile = "no-profile"

// findOrCreateImplicitSession returns the caller's open implicit session,
// creating one if none exists yet.
func (a *App) findOrCreateImplicitSession(pair credentials.Pair) (staging.Session, error) {
	fingerprint := a.Fingerprinter.Fingerprint(pair)

	for _, id := range a.Registry.LookupByOwner(implicitProfile, fingerprint) {
		if session, ok := a.Registry.Get(id); ok && session.State == staging.Open {
			return session, nil
		}
	}

	session, err := a.Registry.Create(implicitProfile, "implicit upload", fingerprint, nil)
	if err != nil {
		return staging.Session{}, err
	}
	handle, err := a.Bundles.Create(session.ID)
	if err != nil {
		a.Registry.Destroy(session.ID)
		return staging.Session{}, err
	}
	if err := a.Registry.WithSession(session.ID, func(s *staging.Session) error {
		s.BundleHandle = handle
		return nil
	}); err != nil {
		return staging.Session{}, err
	}
	session.BundleHandle = handle
	return session, nil
}

func (a *App) failSession(id string, pair credentials.Pair) {
	if _, err := a.Registry.Transition(id, staging.EventPortalReject); err != nil {
		log.Warn().Err(err).Str("session_id", id).Msg("failed to mark session as failed")
	}
}

// promoteSession drives a Closed session through Promoting to Released by
// asking the Portal to publish the already-uploaded deployment.
func (a *App) promoteSession(session staging.Session, pair credentials.Pair) {
	a.uploadSlots <- struct{}{}
	defer func() { <-a.uploadSlots }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if session.PortalDeployID == "" {
		log.Error().Str("session_id", session.ID).Msg("cannot promote session with no portal deployment id")
		a.failSession(session.ID, pair)
		return
	}

	if err := a.Portal.Publish(ctx, pair, session.PortalDeployID); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("portal publish failed")
		a.failSession(session.ID, pair)
		return
	}

	status, err := a.Portal.PollUntilTerminal(ctx, pair, session.PortalDeployID)
	if err != nil || status.Status != portal.StatusPublished {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("portal did not reach published state")
		a.failSession(session.ID, pair)
		return
	}

	if _, err := a.Registry.Transition(session.ID, staging.EventPortalPublish); err != nil {
		log.Warn().Err(err).Str("session_id", session.ID).Msg("transition to released failed")
	}
}
