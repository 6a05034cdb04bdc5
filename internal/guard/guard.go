// Package guard runs the repair cycle for a corrupted session:
// clear, re-authenticate, persist, verify. At most one run is active at a
// time and the persist step is never interrupted by caller cancellation.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"session-guard/internal/diag"
	"session-guard/internal/event"
	"session-guard/internal/inspector"
	"session-guard/internal/model"
)

const (
	DefaultRetryBackoff   = time.Second
	DefaultPersistTimeout = 5 * time.Second
	DefaultRatePerMinute  = 3

	cacheKeyLastVerified = "session:last_verified"
)

type Trigger string

const (
	TriggerStartup Trigger = "startup"
	TriggerManual  Trigger = "manual"
	TriggerLogin   Trigger = "login"
)

type Authenticator interface {
	Authenticate(ctx context.Context, creds model.Credentials) (model.SessionCredential, model.UserProfile, error)
}

type CredentialStore interface {
	Save(ctx context.Context, cred model.SessionCredential, profile model.UserProfile) error
	Clear(ctx context.Context) error
	SetSessionCache(ctx context.Context, key string, value string) error
}

type Inspector interface {
	Classify(ctx context.Context) inspector.Report
	Verify(ctx context.Context) inspector.Report
	RejectCurrent(ctx context.Context) (bool, error)
}

// CredentialSource supplies operator credentials when a run needs to
// re-authenticate. Returning model.ErrCredentialsRequired (or empty
// credentials) declines.
type CredentialSource interface {
	Credentials(ctx context.Context) (model.Credentials, error)
}

type CredentialSourceFunc func(ctx context.Context) (model.Credentials, error)

func (f CredentialSourceFunc) Credentials(ctx context.Context) (model.Credentials, error) {
	return f(ctx)
}

// Shell is the application around the guard. Reload follows a successful
// repair; RequireLogin follows a failed one and carries operator guidance.
type Shell interface {
	Reload(ctx context.Context, outcome Outcome)
	RequireLogin(ctx context.Context, reason string, outcome Outcome)
}

type Recorder interface {
	Record(run model.RunView) error
}

type Config struct {
	// MaxExtraAttempts is the number of additional authentication attempts
	// after a transport failure, clamped to [0, 1].
	MaxExtraAttempts int
	RetryBackoff     time.Duration
	PersistTimeout   time.Duration
	// RatePerMinute bounds repair cycles; zero uses the default and a
	// negative value disables the throttle.
	RatePerMinute int
}

type Outcome struct {
	RunID        string
	Trigger      Trigger
	State        model.RepairState
	SessionState model.SessionState
	Err          error
	Transitions  []model.RepairState
	Attempts     int
	StartedAt    time.Time
	Duration     time.Duration
}

func (o Outcome) View() model.RunView {
	view := model.RunView{
		RunID:       o.RunID,
		Trigger:     string(o.Trigger),
		State:       o.State,
		Transitions: o.Transitions,
		Attempts:    o.Attempts,
		StartedAt:   o.StartedAt,
		DurationMS:  o.Duration.Milliseconds(),
	}
	if o.Err != nil {
		view.Error = o.Err.Error()
		view.ErrorKind = model.ErrorKind(o.Err)
	}
	return view
}

type Orchestrator struct {
	store     CredentialStore
	auth      Authenticator
	inspector Inspector
	source    CredentialSource
	shell     Shell
	recorder  Recorder
	reporter  diag.Reporter
	bus       event.Bus
	limiter   *rate.Limiter

	maxExtra       int
	backoff        time.Duration
	persistTimeout time.Duration

	inFlight atomic.Bool
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithCredentialSource(src CredentialSource) Option {
	return func(o *Orchestrator) { o.source = src }
}

func WithShell(shell Shell) Option {
	return func(o *Orchestrator) { o.shell = shell }
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

func WithReporter(r diag.Reporter) Option {
	return func(o *Orchestrator) { o.reporter = diag.Safe(r) }
}

func WithEventBus(bus event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

func New(store CredentialStore, auth Authenticator, insp Inspector, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:          store,
		auth:           auth,
		inspector:      insp,
		reporter:       diag.Nop{},
		maxExtra:       min(max(cfg.MaxExtraAttempts, 0), 1),
		backoff:        cfg.RetryBackoff,
		persistTimeout: cfg.PersistTimeout,
		now:            time.Now,
		sleep:          sleepContext,
	}
	if o.backoff <= 0 {
		o.backoff = DefaultRetryBackoff
	}
	if o.persistTimeout <= 0 {
		o.persistTimeout = DefaultPersistTimeout
	}

	perMinute := cfg.RatePerMinute
	if perMinute == 0 {
		perMinute = DefaultRatePerMinute
	}
	if perMinute > 0 {
		o.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1)
	}

	for _, opt := range opts {
		opt(o)
	}
	return o
}

type RunOption func(*runOptions)

type runOptions struct {
	creds *model.Credentials
}

// UsingCredentials supplies the credentials for one run, bypassing the
// configured CredentialSource.
func UsingCredentials(creds model.Credentials) RunOption {
	return func(r *runOptions) { r.creds = &creds }
}

// Startup is the automatic check made when the application starts.
func (o *Orchestrator) Startup(ctx context.Context) (Outcome, error) {
	return o.run(ctx, TriggerStartup, false, nil)
}

// Repair inspects the session and repairs it only when it is CORRUPTED.
// A VALID session succeeds without network traffic; an ABSENT one is left
// alone.
func (o *Orchestrator) Repair(ctx context.Context, opts ...RunOption) (Outcome, error) {
	return o.run(ctx, TriggerManual, false, opts)
}

// Login runs the full cycle with the given credentials whatever the current
// state is.
func (o *Orchestrator) Login(ctx context.Context, creds model.Credentials) (Outcome, error) {
	if creds.Empty() {
		return Outcome{Trigger: TriggerLogin, State: model.RepairIdle, Err: model.ErrCredentialsRequired}, model.ErrCredentialsRequired
	}
	return o.run(ctx, TriggerLogin, true, []RunOption{UsingCredentials(creds)})
}

// Clear logs the session out. It refuses while a run is in flight.
func (o *Orchestrator) Clear(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		return model.ErrRepairInFlight
	}
	defer o.inFlight.Store(false)

	if err := o.store.Clear(ctx); err != nil {
		o.reporter.Report(ctx, diag.LevelError, "could not clear stored session", diag.Fields{"error": err.Error()})
		return err
	}
	o.reporter.Report(ctx, diag.LevelInfo, "stored session cleared", nil)
	o.publish(event.Event{Type: event.TypeSessionCleared})
	return nil
}

// Rejected records that the server answered 401 to the stored token, so the
// session classifies as CORRUPTED from now on.
func (o *Orchestrator) Rejected(ctx context.Context, reason string) (inspector.Report, error) {
	rejected, err := o.inspector.RejectCurrent(ctx)
	if err != nil {
		return inspector.Report{}, err
	}
	if rejected {
		o.publish(event.Event{Type: event.TypeTokenRejected, Message: reason})
	}
	return o.inspector.Classify(ctx), nil
}

func (o *Orchestrator) InFlight() bool {
	return o.inFlight.Load()
}

func (o *Orchestrator) run(ctx context.Context, trigger Trigger, force bool, opts []RunOption) (Outcome, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.reporter.Report(ctx, diag.LevelWarn, "repair already in flight", diag.Fields{"trigger": trigger})
		return Outcome{Trigger: trigger, State: model.RepairIdle, Err: model.ErrRepairInFlight}, model.ErrRepairInFlight
	}
	defer o.inFlight.Store(false)

	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}

	r := &runState{
		o: o,
		outcome: Outcome{
			RunID:     uuid.NewString(),
			Trigger:   trigger,
			State:     model.RepairIdle,
			StartedAt: o.now().UTC(),
		},
	}
	ctx = diag.WithRunID(ctx, r.outcome.RunID)

	r.execute(ctx, force, ro)

	r.outcome.Duration = o.now().Sub(r.outcome.StartedAt)
	o.finish(ctx, r.outcome)
	return r.outcome, r.outcome.Err
}

type runState struct {
	o       *Orchestrator
	outcome Outcome
}

func (r *runState) transition(ctx context.Context, to model.RepairState) {
	from := r.outcome.State
	r.outcome.State = to
	r.outcome.Transitions = append(r.outcome.Transitions, to)

	r.o.reporter.Report(ctx, diag.LevelInfo, "repair state changed", diag.Fields{
		"from":    from,
		"to":      to,
		"trigger": r.outcome.Trigger,
	})
	r.o.publish(event.Event{
		Type:    event.TypeRepairTransition,
		RunID:   r.outcome.RunID,
		Payload: map[string]any{"from": from, "to": to},
	})
}

func (r *runState) fail(ctx context.Context, err error) {
	r.outcome.Err = err
	r.transition(ctx, model.RepairFailed)
}

func (r *runState) execute(ctx context.Context, force bool, ro runOptions) {
	o := r.o

	r.transition(ctx, model.RepairInspecting)
	report := o.inspector.Classify(ctx)
	r.outcome.SessionState = report.State

	if !force {
		switch report.State {
		case model.SessionValid:
			r.transition(ctx, model.RepairSucceeded)
			return
		case model.SessionAbsent:
			o.reporter.Report(ctx, diag.LevelInfo, "no session to repair", nil)
			r.transition(ctx, model.RepairIdle)
			return
		}
	}

	if o.limiter != nil && !o.limiter.Allow() {
		r.fail(ctx, model.ErrRepairThrottled)
		return
	}

	r.transition(ctx, model.RepairClearing)
	if err := o.store.Clear(ctx); err != nil {
		r.fail(ctx, err)
		return
	}

	r.transition(ctx, model.RepairAuthenticating)
	creds, err := o.credentials(ctx, ro)
	if err != nil {
		r.fail(ctx, err)
		return
	}

	cred, profile, err := r.authenticate(ctx, creds)
	if err != nil {
		r.fail(ctx, err)
		return
	}
	o.reporter.Report(ctx, diag.LevelInfo, "token obtained", diag.Fields{
		"token_fp":    model.TokenFingerprint(cred.Token),
		"has_profile": !profile.IsZero(),
	})

	r.transition(ctx, model.RepairPersisting)
	if err := o.persist(ctx, cred, profile); err != nil {
		r.fail(ctx, err)
		return
	}

	r.transition(ctx, model.RepairVerifying)
	verified := o.inspector.Verify(ctx)
	r.outcome.SessionState = verified.State
	if verified.State != model.SessionValid {
		o.discard(ctx)
		r.fail(ctx, &model.CorruptionPersistsError{State: verified.State, Reason: verifyReason(verified)})
		return
	}

	if err := o.store.SetSessionCache(ctx, cacheKeyLastVerified, verified.CheckedAt.Format(time.RFC3339)); err != nil {
		o.reporter.Report(ctx, diag.LevelWarn, "could not cache verification time", diag.Fields{"error": err.Error()})
	}
	r.transition(ctx, model.RepairSucceeded)
}

func (o *Orchestrator) credentials(ctx context.Context, ro runOptions) (model.Credentials, error) {
	if ro.creds != nil {
		if ro.creds.Empty() {
			return model.Credentials{}, model.ErrCredentialsRequired
		}
		return *ro.creds, nil
	}
	if o.source == nil {
		return model.Credentials{}, model.ErrCredentialsRequired
	}

	creds, err := o.source.Credentials(ctx)
	if err != nil {
		if errors.Is(err, model.ErrCredentialsRequired) {
			return model.Credentials{}, err
		}
		return model.Credentials{}, fmt.Errorf("%w: %v", model.ErrCredentialsRequired, err)
	}
	if creds.Empty() {
		return model.Credentials{}, model.ErrCredentialsRequired
	}
	return creds, nil
}

// authenticate makes the first attempt plus up to maxExtra more, and only
// after a transport failure.
func (r *runState) authenticate(ctx context.Context, creds model.Credentials) (model.SessionCredential, model.UserProfile, error) {
	o := r.o

	for {
		r.outcome.Attempts++
		cred, profile, err := o.auth.Authenticate(ctx, creds)
		if err == nil {
			return cred, profile, nil
		}

		if !model.IsRetryable(err) || r.outcome.Attempts > o.maxExtra {
			return model.SessionCredential{}, model.UserProfile{}, err
		}

		o.reporter.Report(ctx, diag.LevelWarn, "identity endpoint unreachable, retrying", diag.Fields{
			"attempt": r.outcome.Attempts,
			"backoff": o.backoff,
			"error":   err.Error(),
		})
		if sleepErr := o.sleep(ctx, o.backoff); sleepErr != nil {
			return model.SessionCredential{}, model.UserProfile{}, err
		}
	}
}

// persist writes the new pair on a context the caller cannot cancel, so an
// abandoned run still leaves either the whole pair or nothing.
func (o *Orchestrator) persist(ctx context.Context, cred model.SessionCredential, profile model.UserProfile) error {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	if err := o.store.Save(persistCtx, cred, profile); err != nil {
		o.reporter.Report(ctx, diag.LevelError, "could not persist session", diag.Fields{"error": err.Error()})
		o.discard(persistCtx)
		return err
	}
	return nil
}

func (o *Orchestrator) discard(ctx context.Context) {
	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.persistTimeout)
	defer cancel()

	if err := o.store.Clear(clearCtx); err != nil {
		o.reporter.Report(ctx, diag.LevelError, "could not discard session after failed repair", diag.Fields{"error": err.Error()})
	}
}

func (o *Orchestrator) finish(ctx context.Context, outcome Outcome) {
	fields := diag.Fields{
		"state":       outcome.State,
		"trigger":     outcome.Trigger,
		"attempts":    outcome.Attempts,
		"duration_ms": outcome.Duration.Milliseconds(),
	}
	level := diag.LevelInfo
	if outcome.Err != nil {
		level = diag.LevelError
		fields["error"] = outcome.Err.Error()
		fields["error_kind"] = model.ErrorKind(outcome.Err)
	}
	o.reporter.Report(ctx, level, "repair run finished", fields)

	o.publish(event.Event{
		Type:    event.TypeRepairFinished,
		RunID:   outcome.RunID,
		Payload: outcome.View(),
	})

	if o.recorder != nil {
		if err := o.recorder.Record(outcome.View()); err != nil {
			o.reporter.Report(ctx, diag.LevelWarn, "could not journal repair run", diag.Fields{"error": err.Error()})
		}
	}

	if o.shell == nil {
		return
	}
	switch {
	case outcome.State == model.RepairSucceeded && outcome.Attempts > 0:
		o.shell.Reload(ctx, outcome)
	case outcome.State == model.RepairFailed:
		o.shell.RequireLogin(ctx, Guidance(outcome.Err), outcome)
	}
}

func (o *Orchestrator) publish(e event.Event) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(e)
}

// Guidance turns a failed run's error into an instruction for the operator.
func Guidance(err error) string {
	switch model.ErrorKind(err) {
	case "credentials_required":
		return "Operator credentials are needed to restore the session. Sign in again."
	case "authentication":
		return "The identity service rejected the credentials. Sign in again with a valid account."
	case "transport":
		return "The identity service could not be reached. Check connectivity and retry the repair."
	case "corruption_persists":
		return "The new session was not accepted by the server. Sign in again."
	case "storage":
		return "Session storage is unavailable. Check the store configuration, then sign in again."
	case "throttled":
		return "Too many repair attempts. Wait a minute before retrying."
	case "":
		return ""
	default:
		return "Session repair failed. Sign in again."
	}
}

func verifyReason(report inspector.Report) string {
	switch {
	case report.Defect != model.TokenOK:
		return string(report.Defect)
	case report.ReadErr != nil:
		return report.ReadErr.Error()
	case report.State == model.SessionAbsent:
		return "no token stored after save"
	default:
		return ""
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
