package auth

import "errors"

var (
	ProviderTokenRequiredErr = errors.New("provider token is required")
	OrchestratorClosedErr    = errors.New("orchestrator is closed")
	SupersededErr            = errors.New("authentication attempt superseded")
)
