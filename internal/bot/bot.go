package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/venue-counter/internal/dialog"
	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/domain/users"
	"github.com/Spok95/venue-counter/internal/infra/metrics"
	"github.com/Spok95/venue-counter/internal/session"
	"github.com/Spok95/venue-counter/internal/workflow"
)

type Bot struct {
	api       *tgbotapi.BotAPI
	log       *slog.Logger
	users     *users.Repo
	states    *dialog.Repo
	counters  *counter.Repo
	catalog   *catalog.Repo
	stats     *metrics.CounterMetrics
	adminChat int64
	loc       *time.Location

	// открытый учёт на чат; апдейты обрабатываются по одному, блокировка не нужна
	sessions map[int64]*session.Session
}

func New(api *tgbotapi.BotAPI, log *slog.Logger,
	usersRepo *users.Repo, statesRepo *dialog.Repo,
	countersRepo *counter.Repo, catalogRepo *catalog.Repo,
	stats *metrics.CounterMetrics, adminChatID int64, loc *time.Location) *Bot {

	if loc == nil {
		loc = time.UTC
	}
	return &Bot{
		api: api, log: log, users: usersRepo, states: statesRepo,
		counters: countersRepo, catalog: catalogRepo, stats: stats,
		adminChat: adminChatID, loc: loc,
		sessions: map[int64]*session.Session{},
	}
}

func (b *Bot) Run(ctx context.Context, timeoutSec int) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeoutSec
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case upd := <-updates:
			if upd.Message != nil {
				b.onMessage(ctx, upd.Message)
			} else if upd.CallbackQuery != nil {
				b.handleCallback(ctx, upd.CallbackQuery)
			}
		}
	}
}

func (b *Bot) onMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleStateMessage(ctx, msg)
}

// manager возвращает пользователя, если он может вести учёт; иначе отвечает отказом.
func (b *Bot) manager(ctx context.Context, chatID, tgID int64) *users.User {
	u, err := b.users.GetByTelegramID(ctx, tgID)
	if err != nil {
		b.log.Error("get user failed", "tg_id", tgID, "err", err)
	}
	if u == nil || !u.CanManage() {
		b.send(tgbotapi.NewMessage(chatID, "Доступ запрещён. Учёт ведут менеджеры."))
		return nil
	}
	return u
}

// session — открытый учёт чата. После рестарта поднимаем его по дате из диалога.
func (b *Bot) session(ctx context.Context, chatID int64) *session.Session {
	if s, ok := b.sessions[chatID]; ok {
		return s
	}
	st, err := b.states.Get(ctx, chatID)
	if err != nil {
		b.log.Error("get dialog failed", "chat_id", chatID, "err", err)
		return nil
	}
	date, ok := dialog.GetDate(st.Payload, dialog.KeyDate)
	if !ok {
		b.send(tgbotapi.NewMessage(chatID, "Сначала выберите день: /day ГГГГ-ММ-ДД"))
		return nil
	}
	s, err := b.openSession(ctx, chatID, date)
	if err != nil {
		b.sendErr(chatID, "Не удалось открыть учёт", err)
		return nil
	}
	return s
}

func (b *Bot) openSession(ctx context.Context, chatID int64, date time.Time) (*session.Session, error) {
	cat, err := b.catalog.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	s := session.New(b.counters, cat, b.log.With("chat_id", chatID), b.stats)
	if err := s.Open(ctx, date); err != nil {
		return nil, err
	}
	b.sessions[chatID] = s
	_ = b.states.SetDate(ctx, chatID, dialog.StateEditing, date)
	return s, nil
}

// switchDate: при несохранённых правках сначала спрашиваем, что с ними делать.
func (b *Bot) switchDate(ctx context.Context, chatID int64, date time.Time) {
	if s, ok := b.sessions[chatID]; ok && s.DirtyCount() > 0 && !s.Date().Equal(date) {
		_ = b.states.Set(ctx, chatID, dialog.StateConfirmDrop, dialog.Payload{
			dialog.KeyDate:     s.Date().Format(time.DateOnly),
			dialog.KeyNextDate: date.Format(time.DateOnly),
		})
		m := tgbotapi.NewMessage(chatID, fmt.Sprintf(
			"За %s есть несохранённые правки (%d). Что с ними сделать?",
			s.Date().Format("02.01.2006"), s.DirtyCount()))
		m.ReplyMarkup = dropKeyboard()
		b.send(m)
		return
	}
	s, err := b.openSession(ctx, chatID, date)
	if err != nil {
		b.sendErr(chatID, "Не удалось открыть учёт", err)
		return
	}
	b.showCard(ctx, chatID, s)
}

func (b *Bot) finishSwitch(ctx context.Context, chatID int64, save bool) {
	st, _ := b.states.Get(ctx, chatID)
	if st == nil {
		return
	}
	next, ok := dialog.GetDate(st.Payload, dialog.KeyNextDate)
	s, has := b.sessions[chatID]
	if !ok || !has {
		b.send(tgbotapi.NewMessage(chatID, "Нечего переключать. Выберите день: /day"))
		return
	}
	if err := s.SwitchDate(ctx, next, save); err != nil {
		b.sendErr(chatID, "Не удалось сохранить, дата не изменена", err)
		_ = b.states.SetDate(ctx, chatID, dialog.StateEditing, s.Date())
		return
	}
	_ = b.states.SetDate(ctx, chatID, dialog.StateEditing, next)
	b.showCard(ctx, chatID, s)
}

// move выполняет переход и сообщает результат; финал уходит в админский чат.
func (b *Bot) move(ctx context.Context, chatID int64, s *session.Session, run func(context.Context) error) {
	from := s.Stage()
	if err := run(ctx); err != nil {
		if errors.Is(err, counter.ErrInvalidTransition) {
			b.send(tgbotapi.NewMessage(chatID, "Такой переход невозможен."))
			return
		}
		b.sendErr(chatID, "Не сохранено, шаг не изменён", err)
		return
	}
	if s.Stage() == counter.StatusFinal && from != counter.StatusFinal {
		b.notifyFinal(s)
	}
	b.showCard(ctx, chatID, s)
}

func (b *Bot) notifyFinal(s *session.Session) {
	if b.adminChat == 0 {
		return
	}
	sum, ok := s.Summary()
	text := fmt.Sprintf("День %s закрыт.", s.Date().Format("02.01.2006"))
	if ok {
		text += "\n\n" + summaryText(s, sum)
	}
	b.send(tgbotapi.NewMessage(b.adminChat, text))
}

var stageTitles = map[workflow.Stage]string{
	counter.StatusDraft:        "Черновик",
	counter.StatusPlatforms:    "Платформы",
	counter.StatusReservations: "Бронирования",
	counter.StatusFinal:        "Итог",
}

func (b *Bot) send(msg tgbotapi.Chattable) {
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send failed", "err", err)
	}
}

// sendErr: ошибки проверки показываем как есть, остальное — в лог.
func (b *Bot) sendErr(chatID int64, text string, err error) {
	var ve *counter.ValidationError
	if errors.As(err, &ve) {
		b.send(tgbotapi.NewMessage(chatID, "Не принято: "+ve.Reason))
		return
	}
	b.log.Error(text, "chat_id", chatID, "err", err)
	b.send(tgbotapi.NewMessage(chatID, text+". Попробуйте ещё раз."))
}
