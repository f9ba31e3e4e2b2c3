package api

import (
	"github.com/kerna-app/kerna/pkg/auth"
	"github.com/kerna-app/kerna/pkg/plans"
)

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  *auth.User `json:"user"`
	Token string     `json:"token"`
}

type generateRequest struct {
	Title      string      `json:"title"`
	SourceText string      `json:"source_text"`
	Model      plans.Model `json:"model,omitempty"`
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type feedbackRequest struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Email   string `json:"email,omitempty"`
}

type planInfo struct {
	Plan         plans.Plan            `json:"plan"`
	Credits      int64                 `json:"credits"`
	Frequency    plans.RefillFrequency `json:"refill_frequency"`
	DurationDays int                   `json:"duration_days,omitempty"`
}

type modelInfo struct {
	Model          plans.Model `json:"model"`
	CostPerKTokens int64       `json:"cost_per_1k_tokens"`
}

type catalogResponse struct {
	Plans        []planInfo  `json:"plans"`
	Models       []modelInfo `json:"models"`
	DefaultModel plans.Model `json:"default_model"`
}
