package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/pders01/neows/internal/feed"
	"github.com/pders01/neows/internal/search"
	"github.com/pders01/neows/internal/storage"
)

const appName = "neows"

var logoLines = []string{
	"█▄  █ █▀▀▀ █▀▀█ █   █ █▀▀▀",
	"█ ▀▄█ █▀▀  █  █ █ █ █ ▀▀▀█",
	"█   █ █▄▄▄ █▄▄█ ▀▄▀▄▀ ▄▄▄█",
}

var bannerColors = []lipgloss.Color{
	lipgloss.Color("#FF6B6B"),
	lipgloss.Color("#FFA86B"),
	lipgloss.Color("#4ECDC4"),
}

var (
	primaryColor   = lipgloss.Color("#FF6B6B")
	secondaryColor = lipgloss.Color("#4ECDC4")
	mutedColor     = lipgloss.Color("#94A3B8")
	hazardColor    = lipgloss.Color("#EF4444")
	successColor   = lipgloss.Color("#10B981")
	warnColor      = lipgloss.Color("#FFE66D")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().
			Padding(0, 1)

	hazardStyle = lipgloss.NewStyle().
			Foreground(hazardColor).
			Bold(true).
			Padding(0, 1)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// markdownStyle is handed to glamour; "auto" picks a style for the terminal.
var markdownStyle = "auto"

func showBanner(w io.Writer) {
	var colored []string
	for i, line := range logoLines {
		style := lipgloss.NewStyle().
			Foreground(bannerColors[i%len(bannerColors)]).
			Bold(true)
		colored = append(colored, style.Render(line))
	}
	colored = append(colored, "", mutedStyle.Render("Near Earth Object Web Service loader "+Version))

	banner := lipgloss.NewStyle().
		Border(lipgloss.DoubleBorder()).
		BorderForeground(secondaryColor).
		Padding(1, 3).
		Render(lipgloss.JoinVertical(lipgloss.Center, colored...))
	fmt.Fprintln(w, banner)
}

func statusStyle(status feed.Status) lipgloss.Style {
	switch status {
	case feed.StatusFetched, feed.StatusCached:
		return lipgloss.NewStyle().Foreground(successColor).Bold(true)
	case feed.StatusPartial:
		return lipgloss.NewStyle().Foreground(warnColor).Bold(true)
	default:
		return lipgloss.NewStyle().Foreground(hazardColor).Bold(true)
	}
}

// renderSummary prints one line of totals followed by a table of the
// objects under the feed's first date key.
func renderSummary(w io.Writer, date string, status feed.Status, data *storage.FeedResponse) {
	header := fmt.Sprintf("%s %s", titleStyle.Render(appName+" "+date), statusStyle(status).Render(status.String()))
	fmt.Fprintln(w, header)

	if data == nil {
		fmt.Fprintln(w, mutedStyle.Render("no data"))
		return
	}

	key := data.FirstKey()
	objs := data.NearEarthObjects[key]
	totals := fmt.Sprintf("%d objects, %d under %s, %d with orbital data",
		data.ElementCount, len(objs), key, data.CountEnriched())
	synthetic := 0
	for i := range objs {
		if feed.IsSynthetic(objs[i].ID) {
			synthetic++
		}
	}
	if synthetic > 0 {
		totals += fmt.Sprintf(", %d synthetic", synthetic)
	}
	fmt.Fprintln(w, mutedStyle.Render(totals))
	if len(objs) == 0 {
		return
	}

	rows := make([][]string, 0, len(objs))
	for i := range objs {
		rows = append(rows, objectRow(&objs[i]))
	}
	fmt.Fprintln(w, objectTable(rows))
}

func objectRow(obj *storage.NearEarthObject) []string {
	approach, miss := "-", "-"
	if next, ok := obj.NextApproach(); ok {
		approach = next.CloseApproachDateFull
		if approach == "" {
			approach = next.CloseApproachDate
		}
		if next.MissDistance.Lunar != "" {
			miss = truncateEnd(next.MissDistance.Lunar, 8) + " LD"
		}
	}
	orbit := "-"
	if obj.OrbitalData != nil && obj.OrbitalData.OrbitClass.Type != "" {
		orbit = obj.OrbitalData.OrbitClass.Type
	}
	hazard := ""
	if obj.IsPotentiallyHazardous {
		hazard = "yes"
	}
	return []string{obj.ID, truncateEnd(obj.Name, 28), approach, miss, orbit, hazard}
}

func objectTable(rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(mutedStyle).
		Headers("ID", "NAME", "APPROACH (UTC)", "MISS", "ORBIT", "PHA").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 5 && rows[row][5] != "":
				return hazardStyle
			default:
				return cellStyle
			}
		}).
		String()
}

func renderHits(w io.Writer, query string, hits []*search.Result) {
	if len(hits) == 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("no matches for %q", query)))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%q: %d found", query, len(hits))))
	for _, hit := range hits {
		fmt.Fprintf(w, "%s  %-10s  %s  %s\n",
			mutedStyle.Render(hit.Date),
			hit.Object.ID,
			hit.Object.Name,
			mutedStyle.Render(fmt.Sprintf("%.2f", hit.Score)),
		)
	}
}

// objectMarkdown describes one object for glamour.
func objectMarkdown(date string, obj *storage.NearEarthObject) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", obj.Name)
	fmt.Fprintf(&b, "Archived **%s**", date)
	if obj.IsPotentiallyHazardous {
		b.WriteString(" · **potentially hazardous**")
	}
	if obj.IsSentryObject {
		b.WriteString(" · sentry object")
	}
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| ID | %s |\n", obj.ID)
	fmt.Fprintf(&b, "| Absolute magnitude | %.2f |\n", obj.AbsoluteMagnitudeH)
	km := obj.EstimatedDiameter.Kilometers
	fmt.Fprintf(&b, "| Diameter | %.3f to %.3f km |\n", km.Min, km.Max)
	if obj.NasaJPLURL != "" {
		fmt.Fprintf(&b, "| JPL | %s |\n", obj.NasaJPLURL)
	}

	if len(obj.CloseApproachData) > 0 {
		b.WriteString("\n## Close approaches\n\n")
		b.WriteString("| Date | Body | Velocity (km/s) | Miss (km) |\n|---|---|---|---|\n")
		for _, ev := range obj.CloseApproachData {
			when := ev.CloseApproachDateFull
			if when == "" {
				when = ev.CloseApproachDate
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				when, ev.OrbitingBody, ev.RelativeVelocity.KilometersPerSecond, ev.MissDistance.Kilometers)
		}
	}

	if od := obj.OrbitalData; od != nil {
		b.WriteString("\n## Orbit\n\n")
		if od.OrbitClass.Type != "" {
			fmt.Fprintf(&b, "**%s**: %s", od.OrbitClass.Type, od.OrbitClass.Description)
			if od.OrbitClass.Range != "" {
				fmt.Fprintf(&b, " (%s)", od.OrbitClass.Range)
			}
			b.WriteString("\n\n")
		}
		observed := ""
		if od.FirstObservationDate != "" && od.LastObservationDate != "" {
			observed = od.FirstObservationDate + " to " + od.LastObservationDate
		}
		b.WriteString("| | |\n|---|---|\n")
		for _, kv := range [][2]string{
			{"Orbit ID", od.OrbitID},
			{"Determined", od.OrbitDeterminationDate},
			{"Observed", observed},
			{"Uncertainty", od.OrbitUncertainty},
			{"Eccentricity", od.Eccentricity},
			{"Semi-major axis (AU)", od.SemiMajorAxis},
			{"Inclination (deg)", od.Inclination},
			{"Period (days)", od.OrbitalPeriod},
			{"Perihelion (AU)", od.PerihelionDistance},
			{"Aphelion (AU)", od.AphelionDistance},
		} {
			if strings.TrimSpace(kv[1]) == "" {
				continue
			}
			fmt.Fprintf(&b, "| %s | %s |\n", kv[0], kv[1])
		}
	} else {
		b.WriteString("\n_No orbital data was archived for this object._\n")
	}
	return b.String()
}

func renderMarkdown(md string, width int) (string, error) {
	style := glamour.WithAutoStyle()
	if markdownStyle != "auto" {
		style = glamour.WithStandardStyle(markdownStyle)
	}
	r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(width))
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// truncateEnd shortens s to at most limit runes, ending in an ellipsis
// when cut.
func truncateEnd(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit == 1 {
		return "…"
	}
	return string(r[:limit-1]) + "…"
}
