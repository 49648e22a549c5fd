package bot

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
)

const (
	noCategory    = "Без категории"
	noCategoryKey = "__no_category__"
	iconDefault   = "🟢"
	iconDue       = "⏳"
	iconOverdue   = "⚠️"
	iconRecurring = "♻️"
	iconOverride  = "✏️"
)

var ruWeekdayNames = map[recurrence.Weekday]string{
	recurrence.MO: "пн",
	recurrence.TU: "вт",
	recurrence.WE: "ср",
	recurrence.TH: "чт",
	recurrence.FR: "пт",
	recurrence.SA: "сб",
	recurrence.SU: "вс",
}

func escape(s string) string {
	return html.EscapeString(s)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// formatDue prints the date, and the time when it is not midnight.
func formatDue(t time.Time, loc *time.Location) string {
	local := t.In(loc)
	if local.Hour() == 0 && local.Minute() == 0 {
		return local.Format("2006-01-02")
	}
	return local.Format("2006-01-02 15:04")
}

func formatTask(task model.Task, now time.Time, loc *time.Location) string {
	var b strings.Builder
	icon := iconDefault
	switch {
	case task.IsOccurrenceOverride:
		icon = iconOverride
	case task.IsInstance():
		icon = iconRecurring
	}
	if task.DueAt != nil {
		if now.After(*task.DueAt) {
			icon = iconOverdue
		} else if task.DueAt.Sub(now) <= 48*time.Hour && !task.IsInstance() {
			icon = iconDue
		}
	}
	b.WriteString(fmt.Sprintf("%s <b>#%d</b> %s\n", icon, task.ID, escape(normalizeTitle(task.Title))))
	if task.DueAt != nil {
		if now.After(*task.DueAt) {
			b.WriteString(fmt.Sprintf("   ⏰ %s · <b>просрочено</b>\n", formatDue(*task.DueAt, loc)))
		} else {
			b.WriteString(fmt.Sprintf("   ⏰ %s\n", formatDue(*task.DueAt, loc)))
		}
	}
	if task.Description != "" {
		b.WriteString(fmt.Sprintf("   📝 %s\n", escape(task.Description)))
	}
	return b.String()
}

// describeRule renders a rule in Russian, e.g. "каждые 2 нед.: пн, ср · 5 раз".
func describeRule(rule recurrence.Rule) string {
	var b strings.Builder
	n := rule.Interval
	switch rule.Frequency {
	case recurrence.Daily:
		if n <= 1 {
			b.WriteString("каждый день")
		} else {
			b.WriteString(fmt.Sprintf("каждые %d дн.", n))
		}
	case recurrence.Weekly:
		if n <= 1 {
			b.WriteString("каждую неделю")
		} else {
			b.WriteString(fmt.Sprintf("каждые %d нед.", n))
		}
		if len(rule.ByWeekday) > 0 {
			names := make([]string, 0, len(rule.ByWeekday))
			for _, d := range rule.ByWeekday {
				names = append(names, ruWeekdayNames[d])
			}
			b.WriteString(": " + strings.Join(names, ", "))
		}
	case recurrence.Monthly:
		if n <= 1 {
			b.WriteString("каждый месяц")
		} else {
			b.WriteString(fmt.Sprintf("каждые %d мес.", n))
		}
	default:
		b.WriteString(string(rule.Frequency))
	}
	if rule.TimeOfDay != nil {
		b.WriteString(" в " + rule.TimeOfDay.String())
	}
	switch rule.EndType {
	case recurrence.EndUntil:
		b.WriteString(" · до " + rule.UntilDate)
	case recurrence.EndCount:
		b.WriteString(fmt.Sprintf(" · %d раз", rule.Count))
	}
	return b.String()
}

func shortTitle(title string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(title, "\n", " "))
	clean = normalizeTitle(clean)
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func normalizeTitle(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}
	runes := []rune(value)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

func normalizedCategory(categoryID *uint, catNames map[uint]string) (string, string) {
	if categoryID == nil {
		return noCategoryKey, categoryLabel(noCategory)
	}
	trimmed := strings.TrimSpace(catNames[*categoryID])
	if trimmed == "" {
		return noCategoryKey, categoryLabel(noCategory)
	}
	return strings.ToLower(trimmed), categoryLabel(trimmed)
}

func categoryLabel(name string) string {
	base := strings.TrimSpace(name)
	var icon string
	switch strings.ToLower(base) {
	case "учеба":
		icon = "🎓"
	case "работа":
		icon = "💼"
	case "покупки":
		icon = "🛒"
	case "здоровье", "спорт":
		icon = "🩺"
	case strings.ToLower(noCategory):
		icon = "📁"
	default:
		icon = "🏷️"
	}
	return fmt.Sprintf("%s %s", icon, escape(normalizeTitle(base)))
}
