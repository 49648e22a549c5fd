package bot

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskplanner/internal/recurrence"
	"taskplanner/internal/service"
)

var dueLayouts = []string{"2006-01-02 15:04", "2006-01-02", "02.01.2006 15:04", "02.01.2006"}

var ruWeekdays = map[string]recurrence.Weekday{
	"пн": recurrence.MO,
	"вт": recurrence.TU,
	"ср": recurrence.WE,
	"чт": recurrence.TH,
	"пт": recurrence.FR,
	"сб": recurrence.SA,
	"вс": recurrence.SU,
}

func (b *Bot) startNewTaskConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	log.Printf("[info] start new task conversation user=%d", msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle})
	return b.sendWithReplyMarkup(msg.Chat.ID, "🆕 Создаём новую задачу.\n<b>Шаг 1:</b> как её назвать?", cancelKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	chatID := msg.Chat.ID
	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(chatID, "Название не может быть пустым.", cancelKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(chatID, "✏️ Добавь короткое описание (или нажми «Пропустить»).", skipKeyboard())
	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageCategory
		return b.sendWithReplyMarkup(chatID, "🏷 Выбери категорию или отправь свою (можно «Пропустить»).", categoryKeyboard())
	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageDue
		return b.sendWithReplyMarkup(chatID, "⏰ Когда? Формат <code>2025-11-30</code> или <code>2025-11-30 09:00</code> (или «Пропустить»).", skipKeyboard())
	case stageDue:
		if !isSkipInput(text) {
			due, err := parseDue(text, b.loc)
			if err != nil {
				return b.sendWithReplyMarkup(chatID, "Не могу распознать дату. Пример: <code>2025-11-30 09:00</code>.", skipKeyboard())
			}
			state.input.DueAt = &due
		}
		state.stage = stageRepeat
		return b.sendWithReplyMarkup(chatID, "🔁 Повторять задачу?", repeatKeyboard())
	case stageRepeat:
		freq, repeat, ok := parseRepeat(text)
		if !ok {
			return b.sendWithReplyMarkup(chatID, "Выбери вариант на клавиатуре.", repeatKeyboard())
		}
		if !repeat {
			return b.finishConversation(ctx, msg, state)
		}
		state.input.Rule = &recurrence.Rule{Frequency: freq, Interval: 1, EndType: recurrence.EndNever}
		state.stage = stageInterval
		return b.sendWithReplyMarkup(chatID, fmt.Sprintf("🔢 Как часто: каждые сколько %s? (1 — каждый раз, можно «Пропустить»)", unitGenitive(freq)), skipKeyboard())
	case stageInterval:
		if !isSkipInput(text) {
			n, err := strconv.Atoi(text)
			if err != nil || n < 1 || n > 365 {
				return b.sendWithReplyMarkup(chatID, "Интервал должен быть числом от 1 до 365.", skipKeyboard())
			}
			state.input.Rule.Interval = n
		}
		if state.input.Rule.Frequency == recurrence.Weekly {
			state.stage = stageWeekdays
			return b.sendWithReplyMarkup(chatID, "📆 По каким дням? Например: <code>пн ср пт</code>. «Пропустить» — в день первой задачи.", skipKeyboard())
		}
		state.stage = stageEnd
		return b.sendWithReplyMarkup(chatID, "🏁 Когда закончить серию?", endKeyboard())
	case stageWeekdays:
		if !isSkipInput(text) {
			days, err := parseWeekdays(text)
			if err != nil {
				return b.sendWithReplyMarkup(chatID, "Не понял дни недели. Пример: <code>пн ср пт</code>.", skipKeyboard())
			}
			state.input.Rule.ByWeekday = days
		}
		state.stage = stageEnd
		return b.sendWithReplyMarkup(chatID, "🏁 Когда закончить серию?", endKeyboard())
	case stageEnd:
		switch strings.ToLower(text) {
		case strings.ToLower(btnEndNever):
			return b.finishConversation(ctx, msg, state)
		case strings.ToLower(btnEndUntil):
			state.stage = stageEndUntil
			return b.sendWithReplyMarkup(chatID, "📅 Последняя дата серии в формате <code>2025-12-31</code>?", cancelKeyboard())
		case strings.ToLower(btnEndCount):
			state.stage = stageEndCount
			return b.sendWithReplyMarkup(chatID, "🔢 Сколько раз повторить?", cancelKeyboard())
		default:
			return b.sendWithReplyMarkup(chatID, "Выбери вариант на клавиатуре.", endKeyboard())
		}
	case stageEndUntil:
		until, err := time.ParseInLocation("2006-01-02", text, b.loc)
		if err != nil {
			return b.sendWithReplyMarkup(chatID, "Нужна дата вида <code>2025-12-31</code>.", cancelKeyboard())
		}
		state.input.Rule.EndType = recurrence.EndUntil
		state.input.Rule.UntilDate = recurrence.DateKey(until)
		return b.finishConversation(ctx, msg, state)
	case stageEndCount:
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 {
			return b.sendWithReplyMarkup(chatID, "Нужно положительное число.", cancelKeyboard())
		}
		state.input.Rule.EndType = recurrence.EndCount
		state.input.Rule.Count = n
		return b.finishConversation(ctx, msg, state)
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(chatID, "Диалог сброшен. Попробуй ещё раз через /newtask.")
	}
}

func (b *Bot) finishConversation(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	b.clearConversation(msg.From.ID)
	return b.finishTaskCreation(ctx, msg.From, state.input, msg.Chat.ID)
}

func (b *Bot) finishTaskCreation(ctx context.Context, from *tgbotapi.User, input service.TaskInput, chatID int64) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CreateTask(ctx, user, input)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось сохранить задачу: %s", escape(err.Error())))
	}

	log.Printf("[info] task created id=%d user=%d template=%t", task.ID, user.ID, task.IsRecurringTemplate)

	var summary strings.Builder
	summary.WriteString("✅ <b>Задача сохранена</b>\n")
	summary.WriteString(fmt.Sprintf("• <b>ID:</b> %d\n", task.ID))
	summary.WriteString(fmt.Sprintf("• <b>Название:</b> %s\n", escape(normalizeTitle(task.Title))))
	if task.Description != "" {
		summary.WriteString(fmt.Sprintf("• <b>Описание:</b> %s\n", escape(task.Description)))
	}
	if task.DueAt != nil {
		summary.WriteString(fmt.Sprintf("• <b>Срок:</b> %s\n", formatDue(*task.DueAt, b.loc)))
	}
	if input.Rule != nil {
		summary.WriteString(fmt.Sprintf("• <b>Повтор:</b> %s\n", describeRule(*input.Rule)))
	}

	if err := b.sendTextWithRemove(chatID, strings.TrimSpace(summary.String())); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

// parseDue accepts ISO and dotted dates with an optional HH:MM time.
func parseDue(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unknown date %q", text)
}

// parseRepeat maps a repeat button to a frequency. repeat is false for "no repeat".
func parseRepeat(text string) (freq recurrence.Frequency, repeat bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case strings.ToLower(btnRepeatNone), strings.ToLower(btnNo), "нет":
		return "", false, true
	case strings.ToLower(btnDaily):
		return recurrence.Daily, true, true
	case strings.ToLower(btnWeekly):
		return recurrence.Weekly, true, true
	case strings.ToLower(btnMonthly):
		return recurrence.Monthly, true, true
	default:
		return "", false, false
	}
}

// parseWeekdays reads a list like "пн, ср пт" or "MO WE".
func parseWeekdays(text string) ([]recurrence.Weekday, error) {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return r == ',' || r == ' ' || r == ';'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("no weekdays")
	}
	days := make([]recurrence.Weekday, 0, len(fields))
	for _, f := range fields {
		if d, ok := ruWeekdays[f]; ok {
			days = append(days, d)
			continue
		}
		d, err := recurrence.ParseWeekday(f)
		if err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, nil
}

func unitGenitive(freq recurrence.Frequency) string {
	switch freq {
	case recurrence.Weekly:
		return "недель"
	case recurrence.Monthly:
		return "месяцев"
	default:
		return "дней"
	}
}
