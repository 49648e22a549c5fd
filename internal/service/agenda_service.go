package service

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
	"taskplanner/internal/repository"
)

const agendaDays = 7

// AgendaService builds human-readable summaries of what is due.
type AgendaService struct {
	tasks        *TaskService
	categoryRepo *repository.CategoryRepository
	loc          *time.Location
}

func NewAgendaService(tasks *TaskService, categoryRepo *repository.CategoryRepository, loc *time.Location) *AgendaService {
	if loc == nil {
		loc = time.Local
	}
	return &AgendaService{tasks: tasks, categoryRepo: categoryRepo, loc: loc}
}

// Agenda splits open tasks into overdue, today and the next seven days.
// Tasks without a due date go to Undated.
type Agenda struct {
	Overdue  []model.Task
	Today    []model.Task
	Upcoming []model.Task
	Undated  []model.Task
}

func (s *AgendaService) Build(ctx context.Context, user model.User, now time.Time) (Agenda, error) {
	var agenda Agenda
	tasks, err := s.tasks.ListActive(ctx, &user)
	if err != nil {
		return agenda, err
	}

	today := recurrence.StartOfDay(now, s.loc)
	tomorrow := today.AddDate(0, 0, 1)
	weekEnd := tomorrow.AddDate(0, 0, agendaDays)

	for _, task := range tasks {
		if task.DueAt == nil {
			agenda.Undated = append(agenda.Undated, task)
			continue
		}
		due := task.DueAt.In(s.loc)
		switch {
		case due.Before(today):
			agenda.Overdue = append(agenda.Overdue, task)
		case due.Before(tomorrow):
			agenda.Today = append(agenda.Today, task)
		case due.Before(weekEnd):
			agenda.Upcoming = append(agenda.Upcoming, task)
		}
	}

	for _, list := range [][]model.Task{agenda.Overdue, agenda.Today, agenda.Upcoming} {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].DueAt.Before(*list[j].DueAt)
		})
	}
	return agenda, nil
}

// DailySummary renders the agenda as Telegram HTML.
func (s *AgendaService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	agenda, err := s.Build(ctx, user, now)
	if err != nil {
		return "", err
	}
	catNames, err := s.categoryRepo.Names(ctx, user.ID)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Ежедневный отчёт</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n", now.In(s.loc).Format("02.01.2006")))

	writeSection(&builder, "⚠️ <b>Просрочено</b>", agenda.Overdue, catNames, s.loc)
	writeSection(&builder, "🔥 <b>Сегодня</b>", agenda.Today, catNames, s.loc)
	writeSection(&builder, "📆 <b>Ближайшие 7 дней</b>", agenda.Upcoming, catNames, s.loc)

	if len(agenda.Overdue)+len(agenda.Today)+len(agenda.Upcoming) == 0 {
		builder.WriteString("\n— на ближайшую неделю задач нет\n")
	}
	if n := len(agenda.Undated); n > 0 {
		builder.WriteString(fmt.Sprintf("\n📝 Без срока: %d\n", n))
	}

	return strings.TrimSpace(builder.String()), nil
}

func writeSection(b *strings.Builder, title string, tasks []model.Task, catNames map[uint]string, loc *time.Location) {
	if len(tasks) == 0 {
		return
	}
	b.WriteString("\n" + title + "\n")
	for _, task := range tasks {
		b.WriteString(formatAgendaLine(task, catNames, loc))
	}
}

func formatAgendaLine(task model.Task, catNames map[uint]string, loc *time.Location) string {
	var sb strings.Builder

	icon := "🟢"
	switch {
	case task.IsOccurrenceOverride:
		icon = "✏️"
	case task.IsInstance():
		icon = "♻️"
	}
	sb.WriteString(fmt.Sprintf("%s %s", icon, html.EscapeString(strings.TrimSpace(task.Title))))

	if task.CategoryID != nil {
		if name := strings.TrimSpace(catNames[*task.CategoryID]); name != "" {
			sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
		}
	}
	if task.DueAt != nil {
		sb.WriteString(fmt.Sprintf(" · %s", task.DueAt.In(loc).Format("02.01 15:04")))
	}
	sb.WriteByte('\n')
	return sb.String()
}
