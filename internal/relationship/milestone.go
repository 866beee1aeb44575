package relationship

import (
	"math"

	"companion-service/internal/models"
)

// Counter thresholds at which a milestone is reached. Each one fires
// exactly once, on the message that brings its counter to the threshold.
const (
	CaringConnectionAt = 3
	DeepIntimacyAt     = 2
	PlayfulChemistryAt = 5

	supportiveMinIntensity = 0.6
	intimateMinIntensity   = 0.7
)

var milestoneBonus = map[models.Milestone]int{
	models.MilestoneFirstFlirt:       20,
	models.MilestoneCaringConnection: 15,
	models.MilestoneDeepIntimacy:     25,
	models.MilestonePlayfulChemistry: 10,
}

func trackMilestones(p models.RelationshipProfile, s models.SentimentResult) (models.RelationshipProfile, models.Milestone) {
	var reached models.Milestone

	switch s.Label {
	case models.EmotionFlirty:
		if !p.FirstFlirt {
			p.FirstFlirt = true
			reached = models.MilestoneFirstFlirt
		}
	case models.EmotionSupportive:
		if s.Intensity > supportiveMinIntensity {
			p.SupportiveMoments++
			if p.SupportiveMoments == CaringConnectionAt {
				reached = models.MilestoneCaringConnection
			}
		}
	case models.EmotionIntimate:
		if s.Intensity > intimateMinIntensity {
			p.IntimateSharing++
			if p.IntimateSharing == DeepIntimacyAt {
				reached = models.MilestoneDeepIntimacy
			}
		}
	case models.EmotionPlayful:
		p.PlayfulInteractions++
		if p.PlayfulInteractions == PlayfulChemistryAt {
			reached = models.MilestonePlayfulChemistry
		}
	}

	p.EmotionalPoints += int(math.Round(s.Intensity*10)) + milestoneBonus[reached]
	if reached != "" {
		p.LastMilestone = reached
	}
	return p, reached
}
