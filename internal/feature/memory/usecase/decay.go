package usecase

import (
	"math"
	"time"
)

const (
	decayTimeWeight   = 0.6
	decayAccessWeight = 0.4
	// accessSaturation 回のアクセスで頻度成分は1.0になります。
	accessSaturation = 10.0
	// missingAccessAge は last_access_at を持たない記録の経過日数として扱う値です。
	missingAccessAge = 30 * 24 * time.Hour
)

// DecayCalculator はLTMの忘却スコアを計算します。
//
//	score = 0.6 * exp(-days / halfLife) + 0.4 * min(1, access / 10)
type DecayCalculator struct {
	halfLifeDays float64
	minScore     float64
}

// NewDecayCalculator はDecayCalculatorを生成します。
func NewDecayCalculator(halfLifeDays int, minScore float64) *DecayCalculator {
	if halfLifeDays <= 0 {
		halfLifeDays = 90
	}
	return &DecayCalculator{halfLifeDays: float64(halfLifeDays), minScore: minScore}
}

// Score は now 時点のスコアを返します。
func (d *DecayCalculator) Score(now, lastAccessAt time.Time, accessCount int) float64 {
	days := now.Sub(lastAccessAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	timeDecay := math.Exp(-days / d.halfLifeDays)
	freq := math.Min(1, float64(accessCount)/accessSaturation)
	return decayTimeWeight*timeDecay + decayAccessWeight*freq
}

// ShouldEvict はスコアが下限未満かどうかを返します。
func (d *DecayCalculator) ShouldEvict(score float64) bool {
	return score < d.minScore
}
