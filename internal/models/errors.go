package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ErrNoResults is returned by adapters when a patient search yields nothing
var ErrNoResults = errors.New("no search results")

// AuthState is a step of the login state machine
type AuthState string

const (
	AuthUnauthenticated     AuthState = "unauthenticated"
	AuthCheckingSession     AuthState = "checking_session"
	AuthCredentialsRequired AuthState = "credentials_required"
	AuthOtpRequired         AuthState = "otp_required"
	AuthAuthenticated       AuthState = "authenticated"
	AuthFailed              AuthState = "failed"
)

// Stage is a step of the extraction pipeline
type Stage string

const (
	StageAuthenticate Stage = "authenticate"
	StageSearch       Stage = "search"
	StageDisambiguate Stage = "disambiguate"
	StageSelect       Stage = "select_result"
	StageEligibility  Stage = "eligibility"
	StageClaims       Stage = "claims"
	StageDetails      Stage = "claim_details"
	StageAssemble     Stage = "assemble"
)

// NavigationExhaustedError is returned when every navigation attempt failed on a transient error
type NavigationExhaustedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *NavigationExhaustedError) Error() string {
	return fmt.Sprintf("navigation to %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NavigationExhaustedError) Unwrap() error { return e.Err }

// AuthenticationFailedError carries the furthest auth state reached
type AuthenticationFailedError struct {
	State AuthState
	Err   error
}

func (e *AuthenticationFailedError) Error() string {
	return fmt.Sprintf("authentication failed in state %s: %v", e.State, e.Err)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.Err }

// ConfigError is a fatal configuration problem, never retried
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Msg)
}

// StageError names the furthest pipeline stage a fatal error was raised from
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("extraction failed at %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage named by err, if any
func FailedStage(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
