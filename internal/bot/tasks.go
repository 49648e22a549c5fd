package bot

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskplanner/internal/export"
	"taskplanner/internal/model"
	"taskplanner/internal/recurrence"
	"taskplanner/internal/service"
)

const (
	cbCompletePrefix   = "complete:"
	cbDeletePrefix     = "delete:"
	cbDeleteOnePrefix  = "delone:"
	cbDeleteFromPrefix = "delfrom:"
	cbEditOnePrefix    = "editone:"
	cbEditAllPrefix    = "editall:"
	cbDismissPrefix    = "dismiss:"
)

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	log.Printf("[info] list tasks for user=%d", user.ID)
	return b.sendTaskList(ctx, msg.Chat.ID, user)
}

func (b *Bot) sendTaskList(ctx context.Context, chatID int64, user *model.User) error {
	tasks, err := b.taskSvc.ListActive(ctx, user)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Не удалось получить задачи: %s", escape(err.Error())))
	}
	if len(tasks) == 0 {
		return b.sendText(chatID, "У тебя нет активных задач. Добавь новую через /newtask.")
	}

	catNames, _ := b.categorySvc.Names(ctx, user)
	groups, order := groupByCategory(tasks, catNames)

	now := time.Now()
	var builder strings.Builder
	builder.WriteString("📋 <b>Текущие задачи</b>\n")
	builder.WriteString("Кнопки под списком: ✅ выполнить, 🗑 удалить.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, key := range order {
		section := groups[key]
		builder.WriteString(fmt.Sprintf("<b>%s</b>\n", section.name))
		for _, task := range section.tasks {
			builder.WriteString(formatTask(task, now, b.loc))
			buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", task.ID, shortTitle(task.Title, 20)), fmt.Sprintf("%s%d", cbCompletePrefix, task.ID)),
				tgbotapi.NewInlineKeyboardButtonData("🗑", fmt.Sprintf("%s%d", cbDeletePrefix, task.ID)),
			))
		}
		builder.WriteByte('\n')
	}

	msg := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(msg)
	return err
}

type categoryGroup struct {
	name  string
	tasks []model.Task
}

// groupByCategory groups tasks by category name, uncategorized last, each
// group ordered by due date with undated tasks at the end.
func groupByCategory(tasks []model.Task, catNames map[uint]string) (map[string]*categoryGroup, []string) {
	groups := make(map[string]*categoryGroup)
	order := make([]string, 0, len(tasks))
	for _, task := range tasks {
		key, display := normalizedCategory(task.CategoryID, catNames)
		group, ok := groups[key]
		if !ok {
			group = &categoryGroup{name: display}
			groups[key] = group
			order = append(order, key)
		}
		group.tasks = append(group.tasks, task)
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i] == noCategoryKey {
			return false
		}
		if order[j] == noCategoryKey {
			return true
		}
		return order[i] < order[j]
	})
	for _, group := range groups {
		sort.SliceStable(group.tasks, func(i, j int) bool {
			a, c := group.tasks[i], group.tasks[j]
			switch {
			case a.DueAt != nil && c.DueAt != nil && !a.DueAt.Equal(*c.DueAt):
				return a.DueAt.Before(*c.DueAt)
			case a.DueAt != nil && c.DueAt == nil:
				return true
			case a.DueAt == nil && c.DueAt != nil:
				return false
			}
			return a.ID < c.ID
		})
	}
	return groups, order
}

func (b *Bot) handleSeries(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	templates, err := b.taskSvc.ListTemplates(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	if len(templates) == 0 {
		return b.sendText(msg.Chat.ID, "Повторяющихся серий пока нет. Создай через /newtask.")
	}

	var builder strings.Builder
	builder.WriteString("♻️ <b>Серии</b>\n\n")
	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, tpl := range templates {
		builder.WriteString(fmt.Sprintf("<b>#%d</b> %s\n", tpl.ID, escape(normalizeTitle(tpl.Title))))
		rule, err := recurrence.Parse(tpl.RecurrenceRuleJSON)
		if err != nil {
			builder.WriteString("   ⚠️ правило повреждено, серия не продлевается\n\n")
			continue
		}
		builder.WriteString(fmt.Sprintf("   🔄 %s\n", describeRule(rule)))
		builder.WriteString(fmt.Sprintf("   📌 с %s\n", formatDue(tpl.Anchor(), b.loc)))
		if text, err := rule.RRule(tpl.Anchor()); err == nil {
			builder.WriteString(fmt.Sprintf("   <code>%s</code>\n", escape(text)))
		}
		builder.WriteByte('\n')
		buttons = append(buttons, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🗑 Удалить серию #%d", tpl.ID), fmt.Sprintf("%s%d", cbDeletePrefix, tpl.ID)),
		))
	}

	out := tgbotapi.NewMessage(msg.Chat.ID, strings.TrimSpace(builder.String()))
	out.ParseMode = tgbotapi.ModeHTML
	if len(buttons) > 0 {
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	}
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleExport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	catNames, err := b.categorySvc.Names(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}

	var body, name string
	if strings.EqualFold(strings.TrimSpace(msg.CommandArguments()), "series") {
		templates, err := b.taskSvc.ListTemplates(ctx, user)
		if err != nil {
			return b.sendText(msg.Chat.ID, userError(err))
		}
		body, err = export.Series("Серии", templates, catNames, time.Now())
		if err != nil {
			return b.sendText(msg.Chat.ID, userError(err))
		}
		name = "series.ics"
	} else {
		tasks, err := b.taskSvc.ListActive(ctx, user)
		if err != nil {
			return b.sendText(msg.Chat.ID, userError(err))
		}
		body = export.Occurrences("Задачи", tasks, catNames, time.Now())
		name = "tasks.ics"
	}

	doc := tgbotapi.NewDocument(msg.Chat.ID, tgbotapi.FileBytes{Name: name, Bytes: []byte(body)})
	doc.Caption = "📤 Календарь для импорта"
	_, err = b.api.Send(doc)
	return err
}

func (b *Bot) handleComplete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, ok, err := b.commandTaskID(msg, "/complete 12")
	if !ok {
		return err
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.CompleteTask(ctx, user, taskID, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Title))))
}

// handleDelete deletes a task; for a series occurrence it asks for the scope.
func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	taskID, ok, err := b.commandTaskID(msg, "/delete 12")
	if !ok {
		return err
	}
	return b.askDelete(ctx, msg.Chat.ID, msg.From, taskID)
}

// handleRename renames a task; for a series occurrence it asks for the scope.
func (b *Bot) handleRename(ctx context.Context, msg *tgbotapi.Message) error {
	parts := strings.SplitN(strings.TrimSpace(msg.CommandArguments()), " ", 2)
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return b.sendText(msg.Chat.ID, "Формат: /rename 12 Новое название")
	}
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return b.sendText(msg.Chat.ID, "ID задачи должен быть числом.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, uint(id))
	if err != nil {
		return b.sendText(msg.Chat.ID, userError(err))
	}

	title := strings.TrimSpace(parts[1])
	changes := service.TaskChanges{Title: &title}
	if task.IsInstance() {
		b.setPendingEdit(msg.From.ID, pendingEdit{taskID: task.ID, changes: changes})
		text := fmt.Sprintf("«%s» повторяется. Переименовать только этот раз или всю серию?", escape(normalizeTitle(task.Title)))
		return b.sendWithReplyMarkup(msg.Chat.ID, text, editScopeKeyboard(task.ID))
	}
	return b.applyEdit(ctx, msg.Chat.ID, user, task.ID, changes, service.EditUnspecified)
}

func (b *Bot) applyEdit(ctx context.Context, chatID int64, user *model.User, taskID uint, changes service.TaskChanges, scope service.EditScope) error {
	updated, err := b.occurrenceSvc.EditOccurrence(ctx, taskID, changes, scope)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	log.Printf("[info] task edited id=%d scope=%q user=%d", taskID, scope, user.ID)
	text := fmt.Sprintf("✏️ Готово: «%s».", escape(normalizeTitle(updated.Title)))
	if scope == service.EditSeries {
		text = fmt.Sprintf("✏️ Серия обновлена: «%s». Уже созданные повторы не изменились.", escape(normalizeTitle(updated.Title)))
	}
	if err := b.sendText(chatID, text); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) commandTaskID(msg *tgbotapi.Message, example string) (uint, bool, error) {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return 0, false, b.sendText(msg.Chat.ID, "Укажи ID задачи: "+example)
	}
	id, err := strconv.ParseUint(args, 10, 64)
	if err != nil {
		return 0, false, b.sendText(msg.Chat.ID, "ID задачи должен быть числом.")
	}
	return uint(id), true, nil
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	b.ack(cb)

	prefix, taskID, ok := parseCallback(cb.Data)
	if !ok {
		return nil
	}
	log.Printf("[info] callback %s user=%d task=%d", strings.TrimSuffix(prefix, ":"), cb.From.ID, taskID)

	chatID := cb.Message.Chat.ID
	switch prefix {
	case cbCompletePrefix:
		return b.askCompleteConfirmation(ctx, chatID, cb.From, taskID)
	case cbDeletePrefix:
		return b.askDelete(ctx, chatID, cb.From, taskID)
	case cbDeleteOnePrefix:
		return b.deleteTaskAndRefresh(ctx, chatID, cb.From, taskID, service.DeleteInstance)
	case cbDeleteFromPrefix:
		return b.deleteTaskAndRefresh(ctx, chatID, cb.From, taskID, service.DeleteSeriesFromHere)
	case cbEditOnePrefix, cbEditAllPrefix:
		edit, ok := b.takePendingEdit(cb.From.ID, taskID)
		if !ok {
			return b.sendText(chatID, "Изменение устарело. Повтори команду.")
		}
		user, err := b.ensureUser(ctx, cb.From)
		if err != nil {
			return err
		}
		scope := service.EditInstance
		if prefix == cbEditAllPrefix {
			scope = service.EditSeries
		}
		return b.applyEdit(ctx, chatID, user, taskID, edit.changes, scope)
	case cbDismissPrefix:
		b.clearPendingEdit(cb.From.ID)
		return b.sendMenuPlaceholder(chatID)
	}
	return nil
}

func parseCallback(data string) (string, uint, bool) {
	for _, prefix := range []string{
		cbCompletePrefix, cbDeletePrefix, cbDeleteOnePrefix, cbDeleteFromPrefix,
		cbEditOnePrefix, cbEditAllPrefix, cbDismissPrefix,
	} {
		if !strings.HasPrefix(data, prefix) {
			continue
		}
		id, err := parseTaskID(data, prefix)
		if err != nil {
			return "", 0, false
		}
		return prefix, id, true
	}
	return "", 0, false
}

func parseTaskID(data, prefix string) (uint, error) {
	raw := strings.TrimPrefix(data, prefix)
	value, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func (b *Bot) askCompleteConfirmation(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}
	if task.Status == model.StatusDone {
		return b.sendText(chatID, "Задача уже выполнена.")
	}

	text := fmt.Sprintf("Отметить задачу «%s» (#%d) как выполненную?", escape(normalizeTitle(task.Title)), task.ID)
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID, action: actionComplete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

// askDelete confirms a plain delete, or offers the scope choice for an occurrence.
func (b *Bot) askDelete(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.sendText(chatID, userError(err))
	}

	if task.IsInstance() {
		text := fmt.Sprintf("«%s» (%s) повторяется. Что удалить?", escape(normalizeTitle(task.Title)), deref(task.OccurrenceDate))
		return b.sendWithReplyMarkup(chatID, text, deleteScopeKeyboard(task.ID))
	}

	text := fmt.Sprintf("Удалить задачу «%s» (#%d)?", escape(normalizeTitle(task.Title)), task.ID)
	if task.IsRecurringTemplate {
		text = fmt.Sprintf("Удалить серию «%s» (#%d)? Новые повторы перестанут появляться.", escape(normalizeTitle(task.Title)), task.ID)
	}
	b.setConfirmation(from.ID, confirmationRequest{taskID: task.ID, action: actionDelete})
	return b.sendWithReplyMarkup(chatID, text, confirmKeyboard())
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		if req.action == actionDelete {
			return b.deleteTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID, service.DeleteUnspecified)
		}
		return b.completeTaskAndRefresh(ctx, msg.Chat.ID, msg.From, req.taskID)
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendMenuPlaceholder(msg.Chat.ID)
	default:
		prompt := "Подтверди или отмени выполнение задачи."
		if req.action == actionDelete {
			prompt = "Подтверди или отмени удаление задачи."
		}
		return b.sendWithReplyMarkup(msg.Chat.ID, prompt, confirmKeyboard())
	}
}

func (b *Bot) completeTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.CompleteTask(ctx, user, taskID, time.Now())
	if err != nil {
		return b.sendTextWithRemove(chatID, userError(err))
	}

	info := fmt.Sprintf("✅ Задача «%s» выполнена.", escape(normalizeTitle(task.Title)))
	if task.IsInstance() {
		info = fmt.Sprintf("♻️ Повтор «%s» за %s выполнен.", escape(normalizeTitle(task.Title)), deref(task.OccurrenceDate))
	}
	log.Printf("[info] task completed id=%d user=%d", task.ID, user.ID)
	if err := b.sendTextWithRemove(chatID, info); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}

func (b *Bot) deleteTaskAndRefresh(ctx context.Context, chatID int64, from *tgbotapi.User, taskID uint, scope service.DeleteScope) error {
	user, err := b.ensureUser(ctx, from)
	if err != nil {
		return err
	}
	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		return b.sendTextWithRemove(chatID, userError(err))
	}

	deleted, err := b.occurrenceSvc.DeleteOccurrence(ctx, task.ID, scope)
	if err != nil {
		return b.sendTextWithRemove(chatID, userError(err))
	}

	log.Printf("[info] task deleted id=%d scope=%q rows=%d user=%d", task.ID, scope, deleted, user.ID)
	text := fmt.Sprintf("🗑 Задача «%s» удалена.", escape(normalizeTitle(task.Title)))
	if deleted > 1 {
		text = fmt.Sprintf("🗑 Удалено повторов «%s»: %d.", escape(normalizeTitle(task.Title)), deleted)
	}
	if err := b.sendTextWithRemove(chatID, text); err != nil {
		return err
	}
	return b.sendTaskList(ctx, chatID, user)
}
