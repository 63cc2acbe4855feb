package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fyrsmithlabs/watershed/internal/pipeline"
)

// WriteJSON writes r as indented JSON.
func WriteJSON(w io.Writer, r *pipeline.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// RenderText renders r for a terminal.
func RenderText(r *pipeline.Report) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(" Watershed batch " + r.BatchID + " "))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("CRS: ") + valueStyle.Render(r.CRS) + "   ")
	b.WriteString(dimStyle.Render("Duration: ") + valueStyle.Render(FormatDuration(r.Duration)))
	if r.Cancelled {
		b.WriteString("   " + errorStyle.Render("CANCELLED"))
	}
	b.WriteString("\n")

	counts := r.Counts()
	b.WriteString("\n" + sectionStyle.Render("┃ Outcomes") + "\n")
	for _, o := range pipeline.Outcomes {
		if counts[o] == 0 {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			outcomeBadge(o),
			labelStyle.Render(fmt.Sprintf("%-11s", o)),
			valueStyle.Render(fmt.Sprintf("%d", counts[o]))))
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Points") + "\n")
	for _, p := range r.Points {
		b.WriteString("  " + outcomeBadge(p.Outcome) + " " + valueStyle.Render(p.PointID))
		switch {
		case p.AreaHa > 0:
			b.WriteString("  " + labelStyle.Render(string(p.Provenance)) + " " + valueStyle.Render(FormatArea(p.AreaHa)))
		case p.Reason != "":
			b.WriteString("  " + errorStyle.Render(p.Reason))
			if p.Stage != "" {
				b.WriteString(dimStyle.Render(" at " + string(p.Stage)))
			}
		default:
			b.WriteString("  " + dimStyle.Render(string(p.Outcome)))
		}
		if ref := p.Reference; ref != nil && ref.SegmentID != "" {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  segment %s @ %.1f, offset %.1f", ref.SegmentID, ref.Measure, ref.Distance)))
		}
		b.WriteString("\n")
		for _, n := range p.Notes {
			b.WriteString("      " + warningStyle.Render("note: ") + dimStyle.Render(n) + "\n")
		}
	}

	if r.Workspace != "" {
		b.WriteString(footerStyle.Render("workspace: "+r.Workspace) + "\n")
	}
	return b.String()
}
