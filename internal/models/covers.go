package models

type CoverRole string

const (
	CoverFront    CoverRole = "front"
	CoverBack     CoverRole = "back"
	CoverOverview CoverRole = "overview"
	CoverSlip     CoverRole = "slip"
	CoverSlipback CoverRole = "slipback"
)

var CoverRoles = []CoverRole{CoverFront, CoverBack, CoverOverview, CoverSlip, CoverSlipback}

// Covers holds the five cover image slots.
type Covers struct {
	FrontURL    string `json:"front_url,omitempty"`
	BackURL     string `json:"back_url,omitempty"`
	OverviewURL string `json:"overview_url,omitempty"`
	SlipURL     string `json:"slip_url,omitempty"`
	SlipbackURL string `json:"slipback_url,omitempty"`
}

func (c *Covers) slot(role CoverRole) *string {
	switch role {
	case CoverFront:
		return &c.FrontURL
	case CoverBack:
		return &c.BackURL
	case CoverOverview:
		return &c.OverviewURL
	case CoverSlip:
		return &c.SlipURL
	case CoverSlipback:
		return &c.SlipbackURL
	}
	return nil
}

func (c *Covers) Get(role CoverRole) string {
	if s := c.slot(role); s != nil {
		return *s
	}
	return ""
}

func (c *Covers) Set(role CoverRole, url string) {
	if s := c.slot(role); s != nil {
		*s = url
	}
}
