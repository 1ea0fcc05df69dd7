package reader

// DefaultThreshold es la fracción de páginas vistas que cuenta como lectura.
const DefaultThreshold = 0.80

// PercentRead devuelve observed/total acotado a [0,1]. Con total <= 0
// devuelve 0.
func PercentRead(observed, total int) float64 {
	if total <= 0 || observed <= 0 {
		return 0
	}
	if observed >= total {
		return 1
	}
	return float64(observed) / float64(total)
}

// HasCrossedThreshold indica si percent alcanzó threshold. Un umbral no
// positivo usa DefaultThreshold.
func HasCrossedThreshold(percent, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return percent >= threshold
}
