package terminal

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/transfa/payflow/internal/loading"
	"github.com/transfa/payflow/internal/toast"
)

// Catppuccin Mocha
const (
	colorMauve    lipgloss.Color = "#cba6f7"
	colorRed      lipgloss.Color = "#f38ba8"
	colorPeach    lipgloss.Color = "#fab387"
	colorYellow   lipgloss.Color = "#f9e2af"
	colorGreen    lipgloss.Color = "#a6e3a1"
	colorTeal     lipgloss.Color = "#94e2d5"
	colorSapphire lipgloss.Color = "#74c7ec"
	colorBlue     lipgloss.Color = "#89b4fa"
	colorLavender lipgloss.Color = "#b4befe"
	colorText     lipgloss.Color = "#cdd6f4"
	colorOverlay1 lipgloss.Color = "#7f849c"
	colorSurface1 lipgloss.Color = "#45475a"
	colorBase     lipgloss.Color = "#1e1e2e"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorLavender)
	labelStyle = lipgloss.NewStyle().Foreground(colorOverlay1)
	valueStyle = lipgloss.NewStyle().Foreground(colorText)
	helpStyle  = lipgloss.NewStyle().Foreground(colorOverlay1).Italic(true)

	bannerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 2).Foreground(colorBase)

	padStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorSurface1).
			Padding(0, 2)
	dotFilled = lipgloss.NewStyle().Foreground(colorLavender).Render("●")
	dotEmpty  = lipgloss.NewStyle().Foreground(colorSurface1).Render("○")

	alertStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(colorRed).
			Padding(0, 2)
	alertTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	errorTextStyle  = lipgloss.NewStyle().Foreground(colorRed)
)

func phaseColor(p loading.Phase) lipgloss.Color {
	switch p {
	case loading.Loading:
		return colorBlue
	case loading.Processing:
		return colorSapphire
	case loading.Confirming:
		return colorMauve
	case loading.Success:
		return colorGreen
	case loading.Error:
		return colorRed
	default:
		return colorOverlay1
	}
}

func toastColor(k toast.Kind) lipgloss.Color {
	switch k {
	case toast.KindSuccess:
		return colorGreen
	case toast.KindError:
		return colorRed
	case toast.KindWarning:
		return colorPeach
	case toast.KindInfo:
		return colorTeal
	default:
		return colorYellow
	}
}
