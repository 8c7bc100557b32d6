package progress

// SuccessThreshold - минимальный процент, засчитываемый как победа.
const SuccessThreshold = 70.0

// Streak - серия последовательных успешных игр.
// Инвариант: 0 <= Current <= Best.
type Streak struct {
	Current int `json:"current"`
	Best    int `json:"best"`
}

// IsSuccess - засчитывается ли процент как победа.
func IsSuccess(percentage float64) bool {
	return percentage >= SuccessThreshold
}

// UpdateStreak: успех увеличивает текущую серию, неудача сбрасывает её в 0.
// Best = max(previousBest, current).
func UpdateStreak(previousBest, previousCurrent int, success bool) Streak {
	if previousCurrent < 0 {
		previousCurrent = 0
	}
	if previousBest < 0 {
		previousBest = 0
	}

	current := 0
	if success {
		current = previousCurrent + 1
	}

	best := previousBest
	if current > best {
		best = current
	}
	return Streak{Current: current, Best: best}
}
