// Package inspector classifies the persisted session as ABSENT, CORRUPTED or
// VALID. Classification is read-only; only Verify touches the network.
package inspector

import (
	"context"
	"errors"
	"sync"
	"time"

	"session-guard/internal/diag"
	"session-guard/internal/model"
)

type Reader interface {
	Read(ctx context.Context) (model.Snapshot, error)
}

type Prober interface {
	Probe(ctx context.Context, token string) error
}

type Report struct {
	State            model.SessionState
	Defect           model.TokenDefect
	TokenFingerprint string
	LegacyKey        string
	Profile          model.UserProfile
	HasProfile       bool
	ProfileErr       error
	ReadErr          error
	ExpiresAt        time.Time
	Probed           bool
	ProbeErr         error
	CheckedAt        time.Time
}

func (r Report) View(includeProfile bool) model.SessionView {
	view := model.SessionView{
		State:      r.State,
		Defect:     r.Defect,
		HasProfile: r.HasProfile,
		Probed:     r.Probed,
	}
	if r.ProfileErr != nil {
		view.ProfileErr = r.ProfileErr.Error()
	}
	if includeProfile && r.HasProfile && r.ProfileErr == nil {
		profile := r.Profile
		view.Profile = &profile
	}
	if !r.ExpiresAt.IsZero() {
		expires := r.ExpiresAt
		view.ExpiresAt = &expires
	}
	return view
}

type Inspector struct {
	reader   Reader
	prober   Prober
	minLen   int
	reporter diag.Reporter
	now      func() time.Time

	mu       sync.RWMutex
	rejected map[string]struct{}
}

type Option func(*Inspector)

func WithProber(p Prober) Option {
	return func(i *Inspector) { i.prober = p }
}

// WithMinTokenLength sets the length threshold; values outside [10, 20] are
// clamped.
func WithMinTokenLength(n int) Option {
	return func(i *Inspector) { i.minLen = model.ClampMinTokenLength(n) }
}

func WithReporter(r diag.Reporter) Option {
	return func(i *Inspector) { i.reporter = diag.Safe(r) }
}

func New(reader Reader, opts ...Option) *Inspector {
	i := &Inspector{
		reader:   reader,
		minLen:   model.DefaultMinTokenLength,
		reporter: diag.Nop{},
		now:      time.Now,
		rejected: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Classify reads the store and classifies what it finds without any network
// traffic. A profile that cannot be parsed is reported but does not by
// itself make the session CORRUPTED.
func (i *Inspector) Classify(ctx context.Context) Report {
	report, _ := i.classify(ctx)
	return report
}

// Verify classifies and, when the session looks VALID and a prober is
// configured, asks the server. A 401 downgrades the session to CORRUPTED and
// remembers the token as rejected. Any other probe failure is reported and
// leaves the local verdict standing.
func (i *Inspector) Verify(ctx context.Context) Report {
	report, token := i.classify(ctx)
	if report.State != model.SessionValid || i.prober == nil {
		return report
	}

	report.Probed = true
	err := i.prober.Probe(ctx, token)
	switch {
	case err == nil:
		i.reporter.Report(ctx, diag.LevelInfo, "server accepted stored token", diag.Fields{
			"token_fp": report.TokenFingerprint,
		})
	case errors.Is(err, model.ErrTokenRejected):
		i.Reject(ctx, token)
		report.State = model.SessionCorrupted
		report.Defect = model.TokenRejected
		report.ProbeErr = err
	default:
		report.ProbeErr = err
		i.reporter.Report(ctx, diag.LevelWarn, "could not verify token with server", diag.Fields{
			"token_fp":  report.TokenFingerprint,
			"error":     err.Error(),
			"retryable": model.IsRetryable(err),
		})
	}
	return report
}

// Reject records a 401 seen on a protected call. Later classifications of
// the same token return CORRUPTED.
func (i *Inspector) Reject(ctx context.Context, token string) {
	fp := model.TokenFingerprint(token)

	i.mu.Lock()
	i.rejected[fp] = struct{}{}
	i.mu.Unlock()

	i.reporter.Report(ctx, diag.LevelWarn, "token rejected by server", diag.Fields{"token_fp": fp})
}

// RejectCurrent marks whatever token is stored now as rejected. It reports
// false when there is no token to reject.
func (i *Inspector) RejectCurrent(ctx context.Context) (bool, error) {
	snap, err := i.reader.Read(ctx)
	if err != nil {
		return false, err
	}
	if !snap.HasToken {
		return false, nil
	}
	i.Reject(ctx, snap.Token)
	return true, nil
}

func (i *Inspector) isRejected(fp string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	_, ok := i.rejected[fp]
	return ok
}

func (i *Inspector) classify(ctx context.Context) (Report, string) {
	report := Report{CheckedAt: i.now().UTC()}

	snap, err := i.reader.Read(ctx)
	if err != nil {
		report.State = model.SessionCorrupted
		report.ReadErr = err
		i.reporter.Report(ctx, diag.LevelError, "stored session unreadable", diag.Fields{
			"state": report.State,
			"error": err.Error(),
		})
		return report, ""
	}

	if snap.HasProfile {
		profile, perr := snap.Profile()
		report.HasProfile = true
		if perr != nil {
			report.ProfileErr = perr
			i.reporter.Report(ctx, diag.LevelWarn, "stored user profile is not valid JSON", diag.Fields{
				"error": perr.Error(),
			})
		} else {
			report.Profile = profile
		}
	}

	if !snap.HasToken {
		report.State = model.SessionAbsent
		i.reporter.Report(ctx, diag.LevelInfo, "no stored session", diag.Fields{
			"state":          report.State,
			"orphan_profile": snap.HasProfile,
		})
		return report, ""
	}

	report.TokenFingerprint = model.TokenFingerprint(snap.Token)
	report.LegacyKey = snap.LegacyKey

	defect := model.CheckToken(snap.Token, i.minLen)
	if defect == model.TokenOK && snap.LegacyKey != "" {
		defect = model.TokenLegacyKey
	}
	if defect == model.TokenOK && i.isRejected(report.TokenFingerprint) {
		defect = model.TokenRejected
	}

	report.Defect = defect
	if defect != model.TokenOK {
		report.State = model.SessionCorrupted
		i.reporter.Report(ctx, diag.LevelWarn, "stored session is corrupted", diag.Fields{
			"state":    report.State,
			"defect":   defect,
			"token_fp": report.TokenFingerprint,
			"length":   len(snap.Token),
		})
		return report, snap.Token
	}

	report.State = model.SessionValid
	report.ExpiresAt = model.NewCredential(snap.Token, report.CheckedAt).ExpiresAt
	if !snap.HasProfile {
		report.ProfileErr = model.ErrProfileMissing
		i.reporter.Report(ctx, diag.LevelWarn, "stored session has no user profile", diag.Fields{
			"token_fp": report.TokenFingerprint,
		})
	}
	i.reporter.Report(ctx, diag.LevelInfo, "stored session looks valid", diag.Fields{
		"state":    report.State,
		"token_fp": report.TokenFingerprint,
	})
	return report, snap.Token
}
