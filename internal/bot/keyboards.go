package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/domain/users"
	"github.com/Spok95/venue-counter/internal/session"
	"github.com/Spok95/venue-counter/internal/workflow"
)

func navKeyboard(back bool, cancel bool) tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{}
	if back {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", "nav:back"))
	}
	if cancel {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("✖️ Отменить", "nav:cancel"))
	}
	return tgbotapi.NewInlineKeyboardMarkup(row)
}

// stageKeyboard — кнопки шага: назад / сохранить / дальше; в итоге — разблокировка.
func stageKeyboard(st workflow.Stage) tgbotapi.InlineKeyboardMarkup {
	if st == counter.StatusFinal {
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔓 К платформам", "wf:unlock:"+string(counter.StatusPlatforms)),
				tgbotapi.NewInlineKeyboardButtonData("🔓 К бронированиям", "wf:unlock:"+string(counter.StatusReservations)),
			),
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("📊 Сводка", "wf:summary"),
				tgbotapi.NewInlineKeyboardButtonData("📥 Excel", "wf:export"),
			),
		)
	}
	row := []tgbotapi.InlineKeyboardButton{}
	if st != counter.StatusDraft {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", "wf:prev"))
	}
	row = append(row,
		tgbotapi.NewInlineKeyboardButtonData("💾 Сохранить", "wf:save"),
		tgbotapi.NewInlineKeyboardButtonData("Дальше ➡️", "wf:next"),
	)
	return tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📋 Каналы", "wf:channels"),
			tgbotapi.NewInlineKeyboardButtonData("📊 Сводка", "wf:summary"),
		),
	)
}

// channelsKeyboard — мультивыбор: платформы слева, «после отсечки» справа (только для таких каналов).
func channelsKeyboard(s *session.Session) tgbotapi.InlineKeyboardMarkup {
	platform := idSet(s.PlatformChannels())
	after := idSet(s.AfterCutoffChannels())
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, ch := range s.Catalog().Channels {
		if !ch.Active {
			continue
		}
		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(check(platform[ch.ID])+" "+ch.Name, fmt.Sprintf("ch:p:%d", ch.ID)),
		}
		if ch.AfterCutoffEligible() {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData(
				check(after[ch.ID])+" после отсечки", fmt.Sprintf("ch:a:%d", ch.ID)))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✔️ Готово", "ch:done"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func cashChannelsKeyboard(cat catalog.Catalog) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, ch := range cat.Channels {
		if !ch.CashPaymentEligible || !ch.Active {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(ch.Name, fmt.Sprintf("cash:%d", ch.ID)),
		))
	}
	rows = append(rows, navKeyboard(false, true).InlineKeyboard[0])
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func peopleKeyboard(prefix string, list []users.User, selected map[int64]bool) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, u := range list {
		label := u.DisplayName()
		if selected != nil {
			label = check(selected[u.ID]) + " " + label
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("%s:%d", prefix, u.ID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✔️ Готово", "nav:card"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func productsKeyboard(cat catalog.Catalog) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, p := range cat.Products {
		if !p.Active {
			continue
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Name, fmt.Sprintf("prod:%d", p.ID)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Без продукта", "prod:0"),
	))
	return tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

func dropKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💾 Сохранить и перейти", "day:save"),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Отбросить правки", "day:drop"),
		),
		navKeyboard(false, true).InlineKeyboard[0],
	)
}

func deleteKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Удалить учёт", "del:yes"),
		),
		navKeyboard(false, true).InlineKeyboard[0],
	)
}

// managerReplyKeyboard Нижняя панель менеджера
func managerReplyKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.ReplyKeyboardMarkup{
		ResizeKeyboard: true,
		Keyboard: [][]tgbotapi.KeyboardButton{
			{tgbotapi.NewKeyboardButton("Сегодня"), tgbotapi.NewKeyboardButton("Выбрать день")},
			{tgbotapi.NewKeyboardButton("Каналы"), tgbotapi.NewKeyboardButton("Наличные")},
			{tgbotapi.NewKeyboardButton("Сводка"), tgbotapi.NewKeyboardButton("Заметка")},
		},
	}
}

func check(on bool) string {
	if on {
		return "✅"
	}
	return "▫️"
}

func idSet(ids []int64) map[int64]bool {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}
