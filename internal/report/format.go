package report

import (
	"fmt"
	"time"
)

// FormatArea formats hectares as "X.X ha", or "X.X km²" from 10 000 ha up.
func FormatArea(ha float64) string {
	if ha >= 10000 {
		return fmt.Sprintf("%.1f km²", ha/100)
	}
	return fmt.Sprintf("%.1f ha", ha)
}

// FormatDuration formats a duration as "Xh Ym", "Xm Ys" or "X.Xs".
func FormatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

// FormatPercentage formats a ratio (0-1) as percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}
