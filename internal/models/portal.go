package models

import "regexp"

// LoginProfile describes how a portal authenticates. Selectors target roles and
// attributes rather than positions.
type LoginProfile struct {
	LoginURL string
	// ProbeURL is only reachable with a valid session
	ProbeURL string
	// LoginURLPattern matches URLs a portal redirects to when the session is not valid
	LoginURLPattern *regexp.Regexp

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string

	// PostAuthSelector only renders once authenticated
	PostAuthSelector string

	OTPInputSelector    string
	OTPSubmitSelector   string
	TrustDeviceSelector string
}

// ObstacleKind names a class of incidental UI blocker
type ObstacleKind string

const (
	ObstacleSurvey         ObstacleKind = "survey"
	ObstacleConfirm        ObstacleKind = "confirm"
	ObstacleDialog         ObstacleKind = "dialog"
	ObstacleSessionTimeout ObstacleKind = "session-timeout"
)

// ObstacleRule is how one blocker is detected and closed
type ObstacleRule struct {
	Kind   ObstacleKind
	Detect []string
	Close  []string
}
