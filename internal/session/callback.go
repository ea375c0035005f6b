package session

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/dgellow/melody/internal/idp"
	"github.com/dgellow/melody/internal/log"
)

// TokenExchanger is the part of the token client the callback needs
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code string) (*idp.TokenSet, error)
	FetchUserProfile(ctx context.Context, accessToken string) (*idp.UserProfile, error)
}

// SessionWriter persists an established session
type SessionWriter interface {
	Write(w http.ResponseWriter, ts *idp.TokenSet, profile *idp.UserProfile) error
	// ForgetProfile drops a profile left over from an earlier session
	ForgetProfile(w http.ResponseWriter)
}

// CallbackState is a node of the callback state machine
type CallbackState int

const (
	StateStart CallbackState = iota
	StateVerifyingState
	StateExchangingCode
	StateFetchingProfile
	StateWritingSession
	StateDone
	StateFailed
)

func (s CallbackState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateVerifyingState:
		return "verifying_state"
	case StateExchangingCode:
		return "exchanging_code"
	case StateFetchingProfile:
		return "fetching_profile"
	case StateWritingSession:
		return "writing_session"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CallbackParams are the inputs of one callback. StoredState is the value
// taken from the state cookie; an empty string means there was none.
type CallbackParams struct {
	Code        string
	State       string
	Error       string
	StoredState string
}

// CallbackResult is either an established session or a failure reason
type CallbackResult struct {
	Tokens  *idp.TokenSet
	Profile *idp.UserProfile
	Reason  string
	Err     error
	// FailedIn is the state the machine was in when it failed
	FailedIn CallbackState
}

// OK reports whether the session was established
func (r CallbackResult) OK() bool { return r.Err == nil }

// CallbackOptions configure the callback
type CallbackOptions struct {
	// ContinueWithoutProfile establishes the session even when the profile
	// fetch fails. The default aborts.
	ContinueWithoutProfile bool
}

// Callback completes the authorization-code flow
type Callback struct {
	client TokenExchanger
	writer SessionWriter
	opts   CallbackOptions
}

func NewCallback(client TokenExchanger, writer SessionWriter, opts CallbackOptions) *Callback {
	return &Callback{client: client, writer: writer, opts: opts}
}

// callbackRun is the mutable state of one execution of the machine
type callbackRun struct {
	w       http.ResponseWriter
	params  CallbackParams
	tokens  *idp.TokenSet
	profile *idp.UserProfile
	err     error
	failed  CallbackState
}

// Run drives the machine from Start to Done or Failed
func (c *Callback) Run(ctx context.Context, w http.ResponseWriter, params CallbackParams) CallbackResult {
	run := &callbackRun{w: w, params: params}

	state := StateStart
	for state != StateDone && state != StateFailed {
		next := c.step(ctx, run, state)
		log.LogTraceWithFields("callback", "State transition", map[string]any{
			"from": state.String(),
			"to":   next.String(),
		})
		state = next
	}

	if state == StateFailed {
		return CallbackResult{Reason: ReasonOf(run.err), Err: run.err, FailedIn: run.failed}
	}
	return CallbackResult{Tokens: run.tokens, Profile: run.profile}
}

func (run *callbackRun) fail(from CallbackState, err error) CallbackState {
	run.err = err
	run.failed = from
	return StateFailed
}

// step performs the work of one state and returns the next
func (c *Callback) step(ctx context.Context, run *callbackRun, state CallbackState) CallbackState {
	switch state {
	case StateStart:
		if run.params.Error != "" {
			return run.fail(state, NewProviderDeniedError(run.params.Error))
		}
		return StateVerifyingState

	case StateVerifyingState:
		stored, returned := run.params.StoredState, run.params.State
		if stored == "" || returned == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(returned)) != 1 {
			return run.fail(state, &CsrfMismatchError{MissingStored: stored == "", MissingReturned: returned == ""})
		}
		return StateExchangingCode

	case StateExchangingCode:
		if run.params.Code == "" {
			return run.fail(state, &MissingCodeError{})
		}
		tokens, err := c.client.ExchangeCode(ctx, run.params.Code)
		if err != nil {
			return run.fail(state, &AuthenticationFailedError{Stage: "code exchange", Err: err})
		}
		run.tokens = tokens
		return StateFetchingProfile

	case StateFetchingProfile:
		profile, err := c.client.FetchUserProfile(ctx, run.tokens.AccessToken)
		if err != nil {
			if !c.opts.ContinueWithoutProfile {
				return run.fail(state, &AuthenticationFailedError{Stage: "profile fetch", Err: err})
			}
			log.LogWarnWithFields("callback", "Profile fetch failed, continuing without profile", map[string]any{
				"error": err.Error(),
			})
			return StateWritingSession
		}
		run.profile = profile
		return StateWritingSession

	case StateWritingSession:
		if err := c.writer.Write(run.w, run.tokens, run.profile); err != nil {
			return run.fail(state, &AuthenticationFailedError{Stage: "session write", Err: err})
		}
		if run.profile == nil {
			// the browser may still hold another account's profile
			c.writer.ForgetProfile(run.w)
		}
		return StateDone

	default:
		return state
	}
}
