package resign

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ipasign/ipasign/pkg/archive"
	"github.com/ipasign/ipasign/pkg/bundle"
	"github.com/ipasign/ipasign/pkg/depsolve"
	"github.com/ipasign/ipasign/pkg/entitlements"
	"github.com/ipasign/ipasign/pkg/machoprobe"
	"github.com/ipasign/ipasign/pkg/metadata"
	"github.com/ipasign/ipasign/pkg/plist"
	"github.com/ipasign/ipasign/pkg/provisioning"
	"github.com/ipasign/ipasign/pkg/signer"
)

// State is one node of the C9 state machine.
type State string

const (
	StateInit              State = "INIT"
	StateUnpacked          State = "UNPACKED"
	StateDiscovered        State = "DISCOVERED"
	StateMetadataReady     State = "METADATA_READY"
	StateEntitlementsReady State = "ENTITLEMENTS_READY"
	StateSigned            State = "SIGNED"
	StateVerified          State = "VERIFIED"
	StateRepacked          State = "REPACKED"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// EventKind classifies one item on a session's progress stream.
type EventKind int

const (
	Message EventKind = iota
	Warning
	ErrorEvent
	End
)

// Event is one item on a session's progress stream. End is emitted at
// most once, immediately before the channel returned by Events closes.
type Event struct {
	Kind    EventKind
	Message string
	Err     error
}

// Config is the complete configuration of one resigning run (spec's
// "IPA session").
type Config struct {
	SourcePath  string
	OutputPath  string // derived as "<stem>-resigned.ipa" when empty
	WorkDir     string // derived as "<SourcePath>.d" when empty

	Identity        string
	Keychain        string
	ProfilePath     string
	EntitlementPath string
	NewBundleID     string

	VerifyTwice              bool
	IgnoreCodesignErrors     bool
	IgnoreVerificationErrors bool
	WithoutWatchapp          bool
	ForceFamily              bool
	UnfairPlay               bool
	ReplaceIPA               bool
	Parallel                 bool
	UseDefaultEntitlements   bool

	SignerTool string // codesign-compatible binary; defaults inside Driver
}

// Session is the mutable runtime state of one resigning run.
type Session struct {
	Config

	AppDir string
	AppBin string
	State  State

	signer *signer.Driver
	events chan Event
	log    *log.Entry
}

// Result is the outcome of Session.Run.
type Result struct {
	State State
	Err   *Error
}

// New builds a session ready to Run. It does not touch the
// filesystem.
func New(cfg Config) *Session {
	if cfg.OutputPath == "" {
		ext := filepath.Ext(cfg.SourcePath)
		stem := strings.TrimSuffix(cfg.SourcePath, ext)
		cfg.OutputPath = stem + "-resigned.ipa"
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = cfg.SourcePath + ".d"
	}

	s := &Session{
		Config: cfg,
		State:  StateInit,
		signer: &signer.Driver{Tool: cfg.SignerTool},
		events: make(chan Event, 64),
	}
	s.log = log.WithFields(log.Fields{"session": cfg.SourcePath})
	return s
}

// Events returns the session's progress stream. It closes after Run
// sends the terminal End event.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) emit(kind EventKind, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch kind {
	case Warning:
		s.log.Warn(msg)
	case ErrorEvent:
		s.log.Error(msg)
	default:
		s.log.Info(msg)
	}
	s.events <- Event{Kind: kind, Message: msg}
}

func (s *Session) transition(to State) {
	s.log.WithFields(log.Fields{"from": s.State, "to": to}).Info("state transition")
	s.State = to
}

// Run drives the session through every C9 transition to DONE or
// FAILED, always releasing the working directory before returning.
func (s *Session) Run(ctx context.Context) *Result {
	if err := s.runPipeline(ctx); err != nil {
		s.transition(StateFailed)
		if cleanupErr := archive.Cleanup(s.WorkDir); cleanupErr != nil {
			// Cleanup failures never override the original fatal error.
			s.emit(Message, "cleanup after failure: %v", cleanupErr)
		}
		s.events <- Event{Kind: End, Err: err}
		close(s.events)
		return &Result{State: s.State, Err: err}
	}

	if err := archive.Cleanup(s.WorkDir); err != nil {
		cleanupErr := fail(CleanupFailed, err)
		s.transition(StateFailed)
		s.events <- Event{Kind: End, Err: cleanupErr}
		close(s.events)
		return &Result{State: s.State, Err: cleanupErr}
	}

	s.transition(StateDone)
	s.events <- Event{Kind: End}
	close(s.events)
	return &Result{State: s.State}
}

func (s *Session) runPipeline(ctx context.Context) *Error {
	if err := s.unpack(ctx); err != nil {
		return err
	}
	if err := s.discover(ctx); err != nil {
		return err
	}
	if err := s.rewriteMetadata(); err != nil {
		return err
	}
	profile, err := s.embedProfile()
	if err != nil {
		return err
	}
	entDoc, warning, entErr := s.reconcileEntitlements(profile)
	if entErr != nil {
		return entErr
	}
	if warning != "" {
		s.emit(Warning, "%s", warning)
	}
	if err := s.sign(ctx, entDoc); err != nil {
		return err
	}
	if err := s.verify(ctx); err != nil {
		return err
	}
	if err := s.repack(ctx); err != nil {
		return err
	}
	return nil
}

// unpack implements INIT → UNPACKED.
func (s *Session) unpack(ctx context.Context) *Error {
	if err := os.RemoveAll(s.WorkDir); err != nil {
		return fail(ArchiveUnreadable, fmt.Errorf("remove stale work dir: %w", err))
	}

	if err := os.MkdirAll(s.WorkDir, 0755); err != nil {
		return fail(ArchiveUnreadable, fmt.Errorf("create work dir: %w", err))
	}
	if err := archive.ExtractTo(ctx, s.SourcePath, s.WorkDir); err != nil {
		return fail(ArchiveUnreadable, err)
	}

	appDir, err := archive.FindAppBundle(s.WorkDir)
	if err != nil {
		return fail(InvalidBundleLayout, err)
	}
	s.AppDir = appDir

	execName, err := bundle.ExecutableName(s.AppDir)
	if err != nil {
		return fail(InvalidBundleLayout, err)
	}
	s.AppBin = filepath.Join(s.AppDir, execName)

	s.transition(StateUnpacked)
	return nil
}

// discover implements UNPACKED → DISCOVERED.
func (s *Session) discover(ctx context.Context) *Error {
	encrypted, err := machoprobe.IsEncrypted(s.AppBin)
	if err != nil {
		return fail(InvalidBundleLayout, err)
	}
	if encrypted && !s.UnfairPlay {
		return fail(Encrypted, fmt.Errorf("%s is FairPlay-encrypted", s.AppBin))
	}

	if s.WithoutWatchapp {
		os.RemoveAll(filepath.Join(s.AppDir, "Watch"))
		os.RemoveAll(filepath.Join(s.AppDir, "PlugIns"))
	}

	if _, err := bundle.Walk(s.AppDir); err != nil {
		return fail(NoBinariesFound, err)
	}

	s.transition(StateDiscovered)
	return nil
}

// rewriteMetadata implements DISCOVERED → METADATA_READY.
func (s *Session) rewriteMetadata() *Error {
	if _, err := metadata.RewriteInfoPlist(s.AppDir, s.NewBundleID, s.ForceFamily); err != nil {
		return fail(InvalidBundleLayout, err)
	}

	s.transition(StateMetadataReady)
	return nil
}

// embedProfile is the second half of METADATA_READY: copy the chosen
// profile to embedded.mobileprovision and parse it for downstream
// entitlement reconciliation.
func (s *Session) embedProfile() (*provisioning.Profile, *Error) {
	if s.ProfilePath == "" {
		data, err := os.ReadFile(filepath.Join(s.AppDir, "embedded.mobileprovision"))
		if err != nil {
			return nil, fail(ProfileUnreadable, fmt.Errorf("no profile configured and no existing embedded profile: %w", err))
		}
		profile, err := provisioning.Parse(data)
		if err != nil {
			return nil, fail(ProfileUnreadable, err)
		}
		return profile, nil
	}

	data, err := os.ReadFile(s.ProfilePath)
	if err != nil {
		return nil, fail(ProfileUnreadable, err)
	}

	profile, err := provisioning.Parse(data)
	if err != nil {
		return nil, fail(ProfileUnreadable, err)
	}
	if profile.IsExpired() {
		return nil, fail(ProfileUnreadable, fmt.Errorf("provisioning profile %s has expired", s.ProfilePath))
	}

	dest := filepath.Join(s.AppDir, "embedded.mobileprovision")
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return nil, fail(ProfileUnreadable, fmt.Errorf("write embedded.mobileprovision: %w", err))
	}

	return profile, nil
}

// reconcileEntitlements implements METADATA_READY → ENTITLEMENTS_READY.
func (s *Session) reconcileEntitlements(profile *provisioning.Profile) (entitlements.Document, string, *Error) {
	machoEnts, err := machoprobe.ReadEntitlements(s.AppBin)
	if err != nil {
		return nil, "", fail(EntitlementsWriteFailed, err)
	}

	var machoDoc entitlements.Document
	if machoEnts != "" {
		machoDoc, err = plist.Unmarshal([]byte(machoEnts))
		if err != nil {
			return nil, "", fail(EntitlementsWriteFailed, err)
		}
	}

	targetBundleID := s.NewBundleID
	if targetBundleID == "" {
		targetBundleID, _ = bundle.BundleID(s.AppDir)
	}

	doc, warning, err := entitlements.Reconcile(entitlements.Inputs{
		MachO:                  machoDoc,
		Profile:                profile,
		UserOverridePath:       s.EntitlementPath,
		UseDefaultEntitlements: s.UseDefaultEntitlements,
	}, targetBundleID)
	if err != nil {
		return nil, "", fail(EntitlementsWriteFailed, err)
	}

	if doc != nil {
		if err := entitlements.WriteXML(doc, s.AppBin+".entitlements"); err != nil {
			return nil, "", fail(EntitlementsWriteFailed, err)
		}
	}

	s.transition(StateEntitlementsReady)
	return doc, warning, nil
}

// sign implements ENTITLEMENTS_READY → SIGNED.
func (s *Session) sign(ctx context.Context, mainEntDoc entitlements.Document) *Error {
	records, err := bundle.Walk(s.AppDir)
	if err != nil {
		return fail(NoBinariesFound, err)
	}

	paths := make([]string, len(records))
	for i, r := range records {
		paths[i] = r.Path
	}

	plan, err := depsolve.Solve(s.AppDir, s.AppBin, paths, s.Parallel)
	if err != nil {
		return fail(SignFailed, err)
	}

	for _, layer := range plan.Layers {
		if err := s.signLayer(ctx, layer, mainEntDoc); err != nil {
			return err
		}
	}

	s.transition(StateSigned)
	return nil
}

func (s *Session) signLayer(ctx context.Context, layer []string, mainEntDoc entitlements.Document) *Error {
	type outcome struct {
		path string
		err  error
	}

	results := make([]outcome, len(layer))
	var wg sync.WaitGroup
	for i, path := range layer {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			results[i] = outcome{path: path, err: s.signOne(ctx, path, mainEntDoc)}
		}(i, path)
	}
	wg.Wait()

	for _, r := range results {
		if r.err == nil {
			continue
		}
		if downgrade(r.err.Error(), s.IgnoreCodesignErrors) {
			s.emit(Warning, "sign %s: %v", r.path, r.err)
			continue
		}
		if isIdentityNotFound(r.err.Error()) {
			return fail(IdentityNotFound, fmt.Errorf("%s: %w", r.path, r.err))
		}
		return fail(SignFailed, fmt.Errorf("%s: %w", r.path, r.err))
	}
	return nil
}

func (s *Session) signOne(ctx context.Context, path string, mainEntDoc entitlements.Document) error {
	entPath := ""
	if path == s.AppBin && mainEntDoc != nil {
		entPath = path + ".entitlements"
	}

	if _, err := s.signer.Sign(ctx, s.Identity, entPath, s.Keychain, path); err != nil {
		return err
	}

	if s.VerifyTwice {
		if _, err := s.signer.Verify(ctx, path, s.Keychain); err != nil {
			return err
		}
	}
	return nil
}

// verify implements SIGNED → VERIFIED.
func (s *Session) verify(ctx context.Context) *Error {
	records, err := bundle.Walk(s.AppDir)
	if err != nil {
		return fail(NoBinariesFound, err)
	}

	type outcome struct {
		path string
		err  error
	}
	results := make([]outcome, len(records))
	var wg sync.WaitGroup
	for i, r := range records {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			_, err := s.signer.Verify(ctx, path, s.Keychain)
			results[i] = outcome{path: path, err: err}
		}(i, r.Path)
	}
	wg.Wait()

	for _, r := range results {
		if r.err == nil {
			continue
		}
		if downgrade(r.err.Error(), s.IgnoreVerificationErrors) {
			s.emit(Warning, "verify %s: %v", r.path, r.err)
			continue
		}
		return fail(VerifyFailed, fmt.Errorf("%s: %w", r.path, r.err))
	}

	s.transition(StateVerified)
	return nil
}

// repack implements VERIFIED → REPACKED.
func (s *Session) repack(ctx context.Context) *Error {
	if err := archive.Repack(ctx, s.WorkDir, s.OutputPath); err != nil {
		return fail(RepackFailed, err)
	}

	if s.ReplaceIPA {
		if err := os.Rename(s.OutputPath, s.SourcePath); err != nil {
			return fail(RepackFailed, fmt.Errorf("replace input archive: %w", err))
		}
	}

	s.transition(StateRepacked)
	return nil
}
