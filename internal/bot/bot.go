package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskplanner/internal/model"
	"taskplanner/internal/repository"
	"taskplanner/internal/service"
)

// Bot aggregates Telegram API with services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	categorySvc   *service.CategoryService
	taskSvc       *service.TaskService
	occurrenceSvc *service.OccurrenceService
	agendaSvc     *service.AgendaService
	loc           *time.Location

	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	pendingEdits  map[int64]pendingEdit
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, categorySvc *service.CategoryService, taskSvc *service.TaskService, occurrenceSvc *service.OccurrenceService, agendaSvc *service.AgendaService, loc *time.Location) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	if loc == nil {
		loc = time.Local
	}
	return &Bot{
		api:           api,
		userRepo:      userRepo,
		categorySvc:   categorySvc,
		taskSvc:       taskSvc,
		occurrenceSvc: occurrenceSvc,
		agendaSvc:     agendaSvc,
		loc:           loc,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
		pendingEdits:  make(map[int64]pendingEdit),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("[error] handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("[error] handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		b.clearPendingEdit(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён. Можно начать заново.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "Я пока не понял сообщение. Набери /newtask, чтобы добавить задачу, или /help для списка команд.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "newtask":
		return b.startNewTaskConversation(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "series":
		return b.handleSeries(ctx, msg)
	case "complete":
		return b.handleComplete(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "rename":
		return b.handleRename(ctx, msg)
	case "categories":
		return b.handleCategories(ctx, msg)
	case "export":
		return b.handleExport(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearPendingEdit(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Ввод отменён.")
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляни в /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "друг"
	}

	text := fmt.Sprintf(
		"👋 Привет, %s!\n<b>Я планировщик: веду разовые задачи и повторяющиеся серии.</b>\n\nКоманды:\n"+
			"• /newtask — добавить задачу или серию\n"+
			"• /tasks — текущие задачи\n"+
			"• /series — повторяющиеся серии\n"+
			"• /report — отчёт на сегодня\n"+
			"• /export — выгрузить календарь .ics\n"+
			"• /help — подсказки",
		escape(name),
	)

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Подсказки</b>\n" +
		"• /newtask — добавить задачу пошагово, можно сделать её повторяющейся\n" +
		"• /tasks — активные задачи с кнопками «выполнить» и «удалить»\n" +
		"• /series — серии и их правила повторения\n" +
		"• /complete &lt;id&gt; — отметить задачу выполненной\n" +
		"• /delete &lt;id&gt; — удалить задачу; для повтора спрошу, удалить одну или все следующие\n" +
		"• /rename &lt;id&gt; &lt;название&gt; — переименовать; для повтора спрошу, одну или всю серию\n" +
		"• /categories — список категорий\n" +
		"• /report — отчёт: просрочено, сегодня, ближайшая неделя\n" +
		"• /export [series] — календарь .ics с задачами или с сериями\n" +
		"• /cancel — отменить текущий ввод"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.agendaSvc.DailySummary(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось сформировать отчёт: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleCategories(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	categories, err := b.categorySvc.List(ctx, user)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Не удалось получить категории: %s", escape(err.Error())))
	}
	if len(categories) == 0 {
		return b.sendText(msg.Chat.ID, "Категории пока пусты. Добавь их при создании задачи.")
	}
	var builder strings.Builder
	builder.WriteString("📂 <b>Категории</b>\n")
	for _, cat := range categories {
		builder.WriteString(fmt.Sprintf("• %s\n", categoryLabel(cat.Name)))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

// SendDailyReports sends a summary to every user reachable through Telegram.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListTelegram(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if user.TelegramID == nil {
			continue
		}
		text, err := b.agendaSvc.DailySummary(ctx, user, now)
		if err != nil {
			log.Printf("[warn] build summary for user %d: %v", user.ID, err)
			continue
		}
		if err := b.sendText(*user.TelegramID, text); err != nil {
			log.Printf("[warn] send summary to %d: %v", *user.TelegramID, err)
		}
	}
	return nil
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

// userError turns a service error into a message for the chat.
func userError(err error) string {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		return "Задача не найдена или уже удалена."
	case errors.Is(err, service.ErrScopeRequired):
		return "Это повтор из серии: выбери, к чему применить изменение."
	case errors.Is(err, service.ErrRuleNotAllowed):
		return "Правило повтора меняется только у всей серии."
	default:
		return fmt.Sprintf("Ошибка: %s", escape(err.Error()))
	}
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendTextWithRemove(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	if _, err := b.api.Send(msg); err != nil {
		return err
	}
	return b.sendMenuPlaceholder(chatID)
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMenuPlaceholder(chatID int64) error {
	msg := tgbotapi.NewMessage(chatID, "🔹 Главное меню")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) ack(cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("[warn] callback ack: %v", err)
	}
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNewTask):
		return true, b.startNewTaskConversation(ctx, msg)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelSeries):
		return true, b.handleSeries(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}
