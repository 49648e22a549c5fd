package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	btnSkip         = "⏭️ Пропустить"
	btnNo           = "Нет"
	btnConfirm      = "✅ Подтвердить"
	btnCancel       = "↩️ Отмена"
	btnCancelDialog = "⏪ Отменить ввод"

	btnRepeatNone = "Не повторять"
	btnDaily      = "Каждый день"
	btnWeekly     = "Каждую неделю"
	btnMonthly    = "Каждый месяц"

	btnEndNever = "Бессрочно"
	btnEndUntil = "До даты"
	btnEndCount = "Число повторов"

	menuLabelNewTask = "➕ Новая задача"
	menuLabelTasks   = "📋 Задачи"
	menuLabelSeries  = "♻️ Серии"
	menuLabelHelp    = "ℹ️ Помощь"
)

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	))
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelNewTask),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSeries),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	))
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnSkip)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	))
}

func repeatKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnRepeatNone),
			tgbotapi.NewKeyboardButton(btnDaily),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnWeekly),
			tgbotapi.NewKeyboardButton(btnMonthly),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	))
}

func endKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnEndNever),
			tgbotapi.NewKeyboardButton(btnEndUntil),
			tgbotapi.NewKeyboardButton(btnEndCount),
		),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnCancelDialog)),
	))
}

func categoryKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return oneTime(tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Учеба"),
			tgbotapi.NewKeyboardButton("Работа"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Покупки"),
			tgbotapi.NewKeyboardButton("Здоровье"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	))
}

func deleteScopeKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Только эту", fmt.Sprintf("%s%d", cbDeleteOnePrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("Эту и все следующие", fmt.Sprintf("%s%d", cbDeleteFromPrefix, taskID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnCancel, fmt.Sprintf("%s%d", cbDismissPrefix, taskID)),
		),
	)
}

func editScopeKeyboard(taskID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Только эту", fmt.Sprintf("%s%d", cbEditOnePrefix, taskID)),
			tgbotapi.NewInlineKeyboardButtonData("Всю серию", fmt.Sprintf("%s%d", cbEditAllPrefix, taskID)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnCancel, fmt.Sprintf("%s%d", cbDismissPrefix, taskID)),
		),
	)
}

func oneTime(kb tgbotapi.ReplyKeyboardMarkup) tgbotapi.ReplyKeyboardMarkup {
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "пропустить" || value == "skip"
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "подтвердить" || value == "да"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "отмена"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "отменить ввод"
}
