package console

import (
	"fmt"

	"github.com/fatih/color"
)

// Пороги оставшегося времени в секундах
const (
	warningThreshold  = 60
	criticalThreshold = 10
)

// Level — полоса оставшегося времени.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// Band определяет полосу по оставшимся секундам.
func Band(remaining int) Level {
	switch {
	case remaining <= criticalThreshold:
		return LevelCritical
	case remaining <= warningThreshold:
		return LevelWarning
	default:
		return LevelNormal
	}
}

func (l Level) color() color.Attribute {
	switch l {
	case LevelWarning:
		return color.FgYellow
	case LevelCritical:
		return color.FgRed
	default:
		return color.FgGreen
	}
}

// formatDuration печатает секунды как мм:сс.
func formatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}

	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
