package model

import (
	"math/big"
	"time"
)

// CampaignStatus is the lifecycle state of a reward campaign.
type CampaignStatus string

const (
	CampaignActive CampaignStatus = "active"
	CampaignEnded  CampaignStatus = "ended"
)

// Campaign is an on-chain reward campaign as mirrored in the campaign store.
type Campaign struct {
	ID                uint32
	Pool              string
	Asset             string
	RewardToken       string
	DailyRewardAmount *big.Int
	StartDate         time.Time
	EndDate           time.Time
	Status            CampaignStatus
}

// IsActive reports whether the campaign is accepting participant activity at now.
func (c Campaign) IsActive(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}
	return c.EndDate.IsZero() || now.Before(c.EndDate)
}
