package bot

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/venue-counter/internal/dialog"
	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/domain/users"
	"github.com/Spok95/venue-counter/internal/session"
	"github.com/Spok95/venue-counter/internal/summary"
	"github.com/Spok95/venue-counter/internal/workflow"
)

const helpText = `Команды:
/day [ГГГГ-ММ-ДД] — открыть учёт дня (без даты — сегодня)
/channels — выбрать каналы и «после отсечки»
/set <канал> <people|доп> <booked|attended> [before|after] <кол-во>
/cash [<канал> <сумма|auto|PLN|EUR>] — наличные по каналу
/discounts Students, Seniors — скидки walk-in («-» очищает)
/note — заменить текст заметки
/manager, /staff, /product — поля учёта
/save, /next, /back, /unlock <platforms|reservations> — шаги
/summary, /export — сводка текстом и в Excel
/delete — удалить учёт (только админ)`

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	tgID := msg.From.ID
	args := strings.Fields(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		u, err := b.register(ctx, msg)
		if err != nil {
			b.log.Error("register failed", "tg_id", tgID, "err", err)
			b.send(tgbotapi.NewMessage(chatID, "Ошибка: не удалось сохранить профиль"))
			return
		}
		b.greet(chatID, u)
		return

	case "help":
		b.send(tgbotapi.NewMessage(chatID, helpText))
		return
	}

	// дальше только для тех, кто ведёт учёт
	u := b.manager(ctx, chatID, tgID)
	if u == nil {
		return
	}

	switch msg.Command() {
	case "day":
		date, err := parseDate(strings.Join(args, " "), time.Now().In(b.loc))
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, err.Error()))
			return
		}
		b.switchDate(ctx, chatID, date)

	case "channels":
		if s := b.session(ctx, chatID); s != nil {
			b.showChannels(chatID, s)
		}

	case "set":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		cell, err := parseSetArgs(s.Catalog(), 0, args)
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, err.Error()))
			return
		}
		if _, err := s.SetMetric(cell); err != nil {
			b.sendErr(chatID, "Не удалось изменить значение", err)
			return
		}
		b.showCard(ctx, chatID, s)

	case "cash":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		if len(args) < 2 {
			m := tgbotapi.NewMessage(chatID, "Выберите канал для ввода наличных:")
			m.ReplyMarkup = cashChannelsKeyboard(s.Catalog())
			b.send(m)
			return
		}
		ch, ok := s.Catalog().ChannelByName(args[0])
		if !ok {
			b.send(tgbotapi.NewMessage(chatID, fmt.Sprintf("Канал %q не найден", args[0])))
			return
		}
		b.applyCash(ctx, chatID, s, ch.ID, strings.Join(args[1:], " "))

	case "discounts":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		if len(args) == 0 {
			b.ask(ctx, chatID, s, dialog.StateAwaitDisc, nil,
				"Введите скидки walk-in через запятую («-» — без скидок). Сейчас: "+strings.Join(s.Discounts(), ", "))
			return
		}
		if err := s.SetDiscounts(splitList(msg.CommandArguments())); err != nil {
			b.send(tgbotapi.NewMessage(chatID, "Не принято: "+err.Error()))
			return
		}
		b.showCard(ctx, chatID, s)

	case "note":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		cur := s.NotesText()
		if cur == "" {
			cur = "(пусто)"
		}
		b.ask(ctx, chatID, s, dialog.StateAwaitNotes, nil, "Текущая заметка:\n"+cur+"\n\nПришлите новый текст целиком.")

	case "manager":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		list, err := b.users.ListManagers(ctx)
		if err != nil {
			b.sendErr(chatID, "Не удалось получить список менеджеров", err)
			return
		}
		m := tgbotapi.NewMessage(chatID, "Кто менеджер дня?")
		m.ReplyMarkup = peopleKeyboard("mgr", list, nil)
		b.send(m)

	case "staff":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		b.showStaff(ctx, chatID, 0, s)

	case "product":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		m := tgbotapi.NewMessage(chatID, "Выберите продукт дня:")
		m.ReplyMarkup = productsKeyboard(s.Catalog())
		b.send(m)

	case "save":
		if s := b.session(ctx, chatID); s != nil {
			b.move(ctx, chatID, s, s.Save)
		}

	case "next":
		if s := b.session(ctx, chatID); s != nil {
			b.prepareNext(s, u)
			b.move(ctx, chatID, s, s.Next)
		}

	case "back":
		if s := b.session(ctx, chatID); s != nil {
			b.move(ctx, chatID, s, s.Previous)
		}

	case "unlock":
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		to := counter.Status(strings.Join(args, ""))
		if !to.Valid() {
			b.send(tgbotapi.NewMessage(chatID, "Укажите шаг: /unlock platforms или /unlock reservations"))
			return
		}
		b.move(ctx, chatID, s, func(ctx context.Context) error { return s.Unlock(ctx, to) })

	case "summary":
		if s := b.session(ctx, chatID); s != nil {
			b.showSummary(chatID, s)
		}

	case "export":
		if s := b.session(ctx, chatID); s != nil {
			b.sendExport(chatID, s)
		}

	case "delete":
		if u.Role != users.RoleAdmin {
			b.send(tgbotapi.NewMessage(chatID, "Доступ запрещён"))
			return
		}
		s := b.session(ctx, chatID)
		if s == nil {
			return
		}
		if s.Counter() == nil {
			b.send(tgbotapi.NewMessage(chatID, "На эту дату учёта нет."))
			return
		}
		m := tgbotapi.NewMessage(chatID, fmt.Sprintf("Удалить учёт за %s вместе со всеми метриками?", s.Date().Format("02.01.2006")))
		m.ReplyMarkup = deleteKeyboard()
		b.send(m)

	default:
		b.send(tgbotapi.NewMessage(chatID, "Не знаю такую команду. Наберите /help"))
	}
}

// prepareNext: учёт создаётся с менеджером; если не выбран — им становится тот, кто жмёт «Дальше».
func (b *Bot) prepareNext(s *session.Session, u *users.User) {
	if s.Counter() == nil && s.ManagerID() == 0 {
		s.SetManager(u.ID)
	}
}

func (b *Bot) handleStateMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	// Нижняя панель менеджера
	switch text {
	case "Сегодня":
		if b.manager(ctx, chatID, msg.From.ID) != nil {
			b.switchDate(ctx, chatID, dayOf(time.Now().In(b.loc)))
		}
		return
	case "Выбрать день":
		if b.manager(ctx, chatID, msg.From.ID) != nil {
			_ = b.states.Set(ctx, chatID, dialog.StateAwaitDate, b.payload(chatID))
			b.send(tgbotapi.NewMessage(chatID, "Введите дату: ГГГГ-ММ-ДД или ДД.ММ.ГГГГ"))
		}
		return
	case "Каналы", "Наличные", "Сводка", "Заметка":
		msg.Text = map[string]string{"Каналы": "/channels", "Наличные": "/cash", "Сводка": "/summary", "Заметка": "/note"}[text]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(msg.Text)}}
		b.handleCommand(ctx, msg)
		return
	}

	st, err := b.states.Get(ctx, chatID)
	if err != nil || st == nil {
		return
	}
	if st.State == dialog.StateIdle || st.State == dialog.StateEditing {
		return
	}
	if b.manager(ctx, chatID, msg.From.ID) == nil {
		return
	}

	switch st.State {
	case dialog.StateAwaitDate:
		date, err := parseDate(text, time.Now().In(b.loc))
		if err != nil {
			b.send(tgbotapi.NewMessage(chatID, err.Error()))
			return
		}
		b.switchDate(ctx, chatID, date)

	case dialog.StateAwaitCash:
		s := b.session(ctx, chatID)
		id, ok := dialog.GetInt64(st.Payload, dialog.KeyChannelID)
		if s == nil || !ok {
			return
		}
		b.applyCash(ctx, chatID, s, id, text)

	case dialog.StateAwaitDisc:
		if s := b.session(ctx, chatID); s != nil {
			if err := s.SetDiscounts(splitList(text)); err != nil {
				b.send(tgbotapi.NewMessage(chatID, "Не принято: "+err.Error()))
				return
			}
			b.showCard(ctx, chatID, s)
		}

	case dialog.StateAwaitNotes:
		if s := b.session(ctx, chatID); s != nil {
			s.SetNotesText(msg.Text)
			b.showCard(ctx, chatID, s)
		}

	case dialog.StateConfirmDrop:
		b.send(tgbotapi.NewMessage(chatID, "Сначала решите, что делать с несохранёнными правками (кнопки выше)."))
	}
}

// applyCash: сумма, «auto» (снять ручную правку) или валюта.
func (b *Bot) applyCash(ctx context.Context, chatID int64, s *session.Session, channelID int64, input string) {
	var err error
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "auto", "авто":
		err = s.ClearCashOverride(channelID)
	default:
		if cur, ok := catalog.ParseCurrency(input); ok {
			err = s.SetCurrency(channelID, cur)
		} else {
			err = s.SetCashCollected(channelID, input)
		}
	}
	if err != nil {
		b.sendErr(chatID, "Не удалось записать наличные", err)
		return
	}
	b.showCard(ctx, chatID, s)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	msgID := cb.Message.MessageID
	data := cb.Data
	_ = b.answerCallback(cb, "", false)

	u := b.manager(ctx, chatID, cb.From.ID)
	if u == nil {
		return
	}
	s := b.session(ctx, chatID)
	if s == nil {
		return
	}

	switch {
	case data == "nav:cancel" || data == "nav:card" || data == "nav:back":
		b.editTextAndClear(chatID, msgID, "Ок.")
		b.showCard(ctx, chatID, s)

	case data == "wf:save":
		b.move(ctx, chatID, s, s.Save)
	case data == "wf:next":
		b.prepareNext(s, u)
		b.move(ctx, chatID, s, s.Next)
	case data == "wf:prev":
		b.move(ctx, chatID, s, s.Previous)
	case strings.HasPrefix(data, "wf:unlock:"):
		to := workflow.Stage(strings.TrimPrefix(data, "wf:unlock:"))
		b.move(ctx, chatID, s, func(ctx context.Context) error { return s.Unlock(ctx, to) })
	case data == "wf:summary":
		b.showSummary(chatID, s)
	case data == "wf:export":
		b.sendExport(chatID, s)
	case data == "wf:channels":
		b.showChannels(chatID, s)

	case strings.HasPrefix(data, "ch:"):
		b.toggleChannel(chatID, msgID, s, data)

	case strings.HasPrefix(data, "cash:"):
		id, _ := strconv.ParseInt(strings.TrimPrefix(data, "cash:"), 10, 64)
		ch, ok := s.Catalog().Channel(id)
		if !ok {
			return
		}
		hint := "Введите сумму наличных"
		if !ch.IsWalkIn() {
			hint += ", «auto» для расчётной суммы или валюту (PLN/EUR)"
		}
		b.editTextAndClear(chatID, msgID, ch.Name)
		b.ask(ctx, chatID, s, dialog.StateAwaitCash, dialog.Payload{dialog.KeyChannelID: id}, hint+":")

	case strings.HasPrefix(data, "mgr:"):
		id, _ := strconv.ParseInt(strings.TrimPrefix(data, "mgr:"), 10, 64)
		s.SetManager(id)
		b.editTextAndClear(chatID, msgID, "Менеджер выбран.")
		b.showCard(ctx, chatID, s)

	case strings.HasPrefix(data, "staff:"):
		id, _ := strconv.ParseInt(strings.TrimPrefix(data, "staff:"), 10, 64)
		staff := idSet(s.Staff())
		staff[id] = !staff[id]
		var ids []int64
		for sid, on := range staff {
			if on {
				ids = append(ids, sid)
			}
		}
		s.SetStaff(ids)
		b.showStaff(ctx, chatID, msgID, s)

	case strings.HasPrefix(data, "prod:"):
		id, _ := strconv.ParseInt(strings.TrimPrefix(data, "prod:"), 10, 64)
		if id == 0 {
			s.SetProduct(nil)
		} else {
			s.SetProduct(&id)
		}
		b.editTextAndClear(chatID, msgID, "Продукт выбран.")
		b.showCard(ctx, chatID, s)

	case data == "day:save" || data == "day:drop":
		b.editTextAndClear(chatID, msgID, "Переключаю дату…")
		b.finishSwitch(ctx, chatID, data == "day:save")

	case data == "del:yes":
		if u.Role != users.RoleAdmin {
			return
		}
		if err := s.Delete(ctx); err != nil {
			b.sendErr(chatID, "Не удалось удалить учёт", err)
			return
		}
		b.editTextAndClear(chatID, msgID, "Учёт удалён.")
		b.showCard(ctx, chatID, s)
	}
}

func (b *Bot) toggleChannel(chatID int64, msgID int, s *session.Session, data string) {
	if data == "ch:done" {
		b.editTextAndClear(chatID, msgID, fmt.Sprintf("Каналы: %d, после отсечки: %d",
			len(s.PlatformChannels()), len(s.AfterCutoffChannels())))
		return
	}
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return
	}
	switch parts[1] {
	case "p":
		s.SelectChannels(toggle(s.PlatformChannels(), id))
	case "a":
		if err := s.SelectAfterCutoffChannels(toggle(s.AfterCutoffChannels(), id)); err != nil {
			b.sendErr(chatID, "Канал без продаж после отсечки", err)
			return
		}
	}
	b.send(tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, channelsKeyboard(s)))
}

func toggle(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids)+1)
	found := false
	for _, v := range ids {
		if v == id {
			found = true
			continue
		}
		out = append(out, v)
	}
	if !found {
		out = append(out, id)
	}
	return out
}

// ask переводит чат в ожидание ввода, сохраняя дату открытого учёта.
func (b *Bot) ask(ctx context.Context, chatID int64, s *session.Session, st dialog.State, extra dialog.Payload, text string) {
	p := dialog.Payload{dialog.KeyDate: s.Date().Format(time.DateOnly)}
	for k, v := range extra {
		p[k] = v
	}
	_ = b.states.Set(ctx, chatID, st, p)
	m := tgbotapi.NewMessage(chatID, text)
	m.ReplyMarkup = navKeyboard(false, true)
	b.send(m)
}

func (b *Bot) payload(chatID int64) dialog.Payload {
	if s, ok := b.sessions[chatID]; ok {
		return dialog.Payload{dialog.KeyDate: s.Date().Format(time.DateOnly)}
	}
	return dialog.Payload{}
}

func (b *Bot) showCard(ctx context.Context, chatID int64, s *session.Session) {
	_ = b.states.SetDate(ctx, chatID, dialog.StateEditing, s.Date())

	var manager, product string
	if id := s.ManagerID(); id != 0 {
		if list, err := b.users.ListManagers(ctx); err == nil {
			for _, m := range list {
				if m.ID == id {
					manager = m.DisplayName()
				}
			}
		}
	}
	if id := s.ProductID(); id != nil {
		if p, ok := s.Catalog().Product(*id); ok {
			product = p.Name
		}
	}
	m := tgbotapi.NewMessage(chatID, cardText(s, manager, product))
	m.ReplyMarkup = stageKeyboard(s.Stage())
	b.send(m)
}

func (b *Bot) showChannels(chatID int64, s *session.Session) {
	m := tgbotapi.NewMessage(chatID, "Отметьте каналы дня. Справа — продажи после отсечки.")
	m.ReplyMarkup = channelsKeyboard(s)
	b.send(m)
}

// showStaff: msgID == 0 — новое сообщение, иначе правим клавиатуру на месте.
func (b *Bot) showStaff(ctx context.Context, chatID int64, msgID int, s *session.Session) {
	list, err := b.users.ListStaff(ctx)
	if err != nil {
		b.sendErr(chatID, "Не удалось получить список персонала", err)
		return
	}
	kb := peopleKeyboard("staff", list, idSet(s.Staff()))
	if msgID != 0 {
		b.send(tgbotapi.NewEditMessageReplyMarkup(chatID, msgID, kb))
		return
	}
	m := tgbotapi.NewMessage(chatID, "Кто работает в смену?")
	m.ReplyMarkup = kb
	b.send(m)
}

func (b *Bot) showSummary(chatID int64, s *session.Session) {
	sum, ok := s.Summary()
	if !ok {
		b.send(tgbotapi.NewMessage(chatID, "Каналы не выбраны — сводки нет. Отметьте их: /channels"))
		return
	}
	b.send(tgbotapi.NewMessage(chatID, summaryText(s, sum)))
}

func (b *Bot) sendExport(chatID int64, s *session.Session) {
	sum, ok := s.Summary()
	if !ok {
		b.send(tgbotapi.NewMessage(chatID, "Каналы не выбраны — выгружать нечего."))
		return
	}
	buf := &bytes.Buffer{}
	if err := summary.WriteXLSX(buf, s.Date(), sum); err != nil {
		b.sendErr(chatID, "Не удалось сформировать Excel", err)
		return
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  fmt.Sprintf("counter_%s.xlsx", s.Date().Format(time.DateOnly)),
		Bytes: buf.Bytes(),
	})
	doc.Caption = "Сводка за " + s.Date().Format("02.01.2006")
	b.send(doc)
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
