// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// Registration is the single persisted record produced by one successful
// submission. Proof is always the hosted URL returned by the proof uploader.
type Registration struct {
	// ID is assigned by whichever store accepted the record.
	ID        string    `json:"id,omitempty"`
	FullName  string    `json:"fullName"`
	Proof     string    `json:"proof"`
	Secure24h bool      `json:"secure24h"`
	Timestamp time.Time `json:"timestamp"`
}

// SelectedFile is the payment-proof image a visitor picked. It lives only
// until it is uploaded or replaced and is never persisted itself.
type SelectedFile struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Pricing selects which price block the page renders.
type Pricing string

const (
	PricingStandard Pricing = "standard"
	PricingPromo    Pricing = "promo"
)

// Variant parameterizes the landing page instead of forking it per campaign.
type Variant struct {
	Title string `yaml:"title" json:"title"`
	// FieldErrors attaches one message per field instead of a single alert.
	FieldErrors bool `yaml:"field_errors" json:"fieldErrors"`
	// Shake asks the page to play a short error cue on failed validation.
	Shake bool `yaml:"shake" json:"shake"`
	// RedirectURL, when set, is where the browser goes after a successful submit.
	RedirectURL     string  `yaml:"redirect_url" json:"redirectUrl,omitempty"`
	Pricing         Pricing `yaml:"pricing" json:"pricing"`
	MinNameLength   int     `yaml:"min_name_length" json:"minNameLength"`
	DefaultExpedite bool    `yaml:"default_expedite" json:"defaultExpedite"`
}
