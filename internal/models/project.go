package models

import (
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Project is a funded project as recorded by the Project Directory Service.
// The chat core only reads it; funding and freezing are the only writes.
type Project struct {
	// ProjectUID is the opaque key scoping the project and its chat channel.
	ProjectUID string `gorm:"primaryKey" json:"projectuid"`
	// OwnerAddress is the payment address receiving the funds.
	OwnerAddress string `gorm:"not null" json:"ownerstacksaddress"`
	Name         string `json:"projectname"`
	Punchline    string `json:"projectpunchline"`
	Description  string `gorm:"type:text" json:"projectdescription"`
	DisplayImage string `json:"projectdisplayimage"`
	// FundingGoal and AmountRaised are in whole payment units.
	FundingGoal  int64 `json:"fundinggoal"`
	AmountRaised int64 `gorm:"not null;default:0" json:"amountraised"`
	// Milestones are ordered by Position.
	Milestones []Milestone `gorm:"foreignKey:ProjectUID;references:ProjectUID" json:"milestones"`
	Expiry     time.Time   `json:"expiry"`
	// Deployed gates every project page; an undeployed project renders an issue notice.
	Deployed bool `gorm:"not null;default:false" json:"deployed"`
	// Frozen is set once the freeze vote reaches quorum. It never flips back.
	Frozen bool `gorm:"not null;default:false" json:"frozen"`
	// FreezeThreshold overrides the configured quorum when positive.
	FreezeThreshold int       `gorm:"not null;default:0" json:"freezethreshold"`
	CreatedAt       time.Time `json:"-"`
	UpdatedAt       time.Time `json:"-"`
}

// BeforeCreate is a GORM hook that assigns a UUID when ProjectUID is empty.
func (p *Project) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ProjectUID == "" {
		p.ProjectUID = uuid.New().String()
	}
	return
}

// DaysUntilExpiry returns the whole days left until Expiry, rounded up.
// An expired project returns 0.
func (p *Project) DaysUntilExpiry(now time.Time) int {
	left := p.Expiry.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// FundedPercent is the progress bar width. Nothing raised still shows a 3% sliver.
func (p *Project) FundedPercent() float64 {
	if p.AmountRaised == 0 || p.FundingGoal <= 0 {
		return 3
	}
	return float64(p.AmountRaised) / float64(p.FundingGoal) * 100
}

// EffectiveFreezeThreshold resolves the project's quorum against the configured default.
func (p *Project) EffectiveFreezeThreshold(fallback int) int {
	if p.FreezeThreshold > 0 {
		return p.FreezeThreshold
	}
	return fallback
}

// Milestone is one step of a project's roadmap.
type Milestone struct {
	ID          uint   `gorm:"primaryKey" json:"-"`
	ProjectUID  string `gorm:"index;not null" json:"-"`
	Position    int    `gorm:"not null" json:"position"`
	Name        string `json:"milestonename"`
	Description string `gorm:"type:text" json:"milestonedescription"`
}

// FundCredit records one credited payment. TxID is the payment rail's
// transaction id, so a repeated completion cannot credit twice.
type FundCredit struct {
	TxID       string `gorm:"primaryKey"`
	ProjectUID string `gorm:"index;not null"`
	Amount     int64  `gorm:"not null"`
	Funder     string
	CreatedAt  time.Time
}
