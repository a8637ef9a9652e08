package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/venue-counter/internal/domain/users"
)

// register создаёт/обновляет профиль. Админский чат сразу получает роль admin.
func (b *Bot) register(ctx context.Context, msg *tgbotapi.Message) (*users.User, error) {
	role := users.RoleStaff
	if msg.From.ID == b.adminChat {
		role = users.RoleAdmin
	}
	return b.users.UpsertFromTelegram(ctx, users.Telegram{
		ID:        msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}, role)
}

func (b *Bot) greet(chatID int64, u *users.User) {
	if !u.CanManage() {
		b.send(tgbotapi.NewMessage(chatID,
			"Привет, "+u.DisplayName()+"! Вы в списке персонала. Вести учёт дня может менеджер — попросите выдать роль."))
		return
	}
	m := tgbotapi.NewMessage(chatID,
		"Привет, "+u.DisplayName()+"! Выберите день кнопкой снизу или командой /day. Все команды — /help.")
	m.ReplyMarkup = managerReplyKeyboard()
	b.send(m)
}
