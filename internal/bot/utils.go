package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Spok95/venue-counter/internal/domain/catalog"
	"github.com/Spok95/venue-counter/internal/domain/counter"
	"github.com/Spok95/venue-counter/internal/session"
	"github.com/Spok95/venue-counter/internal/summary"
)

/*** HELPERS ***/

func (b *Bot) answerCallback(cb *tgbotapi.CallbackQuery, text string, alert bool) error {
	resp := tgbotapi.NewCallback(cb.ID, text)
	resp.ShowAlert = alert
	_, err := b.api.Request(resp)
	return err
}

func (b *Bot) editTextAndClear(chatID int64, messageID int, text string) {
	edit := tgbotapi.NewEditMessageTextAndMarkup(
		chatID, messageID, text,
		tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}},
	)
	b.send(edit)
}

// parseDate понимает 2024-05-01, 01.05.2024 и «сегодня»/«вчера».
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	switch s {
	case "", "сегодня", "today":
		return today, nil
	case "вчера", "yesterday":
		return today.AddDate(0, 0, -1), nil
	}
	for _, layout := range []string{time.DateOnly, "02.01.2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("не понимаю дату %q, нужен формат ГГГГ-ММ-ДД", s)
}

func parseQty(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("%q — не число", s)
	}
	return v, nil
}

var errSetUsage = errors.New("формат: /set <канал> <people|доп> <booked|attended> [before|after] <кол-во>")

// parseSetArgs: "ecwid people attended 14", "booking cocktail booked after 2".
func parseSetArgs(cat catalog.Catalog, counterID int64, args []string) (counter.MetricCell, error) {
	if len(args) < 4 || len(args) > 5 {
		return counter.MetricCell{}, errSetUsage
	}
	ch, ok := cat.ChannelByName(args[0])
	if !ok {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
			ch, ok = cat.Channel(id)
		}
	}
	if !ok {
		return counter.MetricCell{}, fmt.Errorf("канал %q не найден", args[0])
	}

	key := counter.MetricKey{CounterID: counterID, ChannelID: ch.ID, Kind: counter.KindPeople}
	switch item := strings.ToLower(args[1]); item {
	case "people", "люди":
	default:
		a, ok := cat.AddonByKey(item)
		if !ok {
			return counter.MetricCell{}, fmt.Errorf("доп %q не найден", args[1])
		}
		key.Kind, key.AddonID = counter.KindAddon, a.ID
	}

	switch strings.ToLower(args[2]) {
	case "booked", "бронь":
		key.TallyType = counter.TallyBooked
	case "attended", "пришли":
		key.TallyType = counter.TallyAttended
	default:
		return counter.MetricCell{}, errSetUsage
	}

	if len(args) == 5 {
		if key.TallyType != counter.TallyBooked {
			return counter.MetricCell{}, errors.New("период указывается только для booked")
		}
		switch strings.ToLower(args[3]) {
		case "before", "до":
			key.Period = counter.PeriodBeforeCutoff
		case "after", "после":
			key.Period = counter.PeriodAfterCutoff
		default:
			return counter.MetricCell{}, errSetUsage
		}
	}

	qty, err := parseQty(args[len(args)-1])
	if err != nil {
		return counter.MetricCell{}, err
	}
	return counter.MetricCell{Key: key.Normalize(), Qty: qty}, nil
}

// splitList: "Students, Seniors" -> [Students Seniors]; "-" очищает список.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "-" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// cardText — шапка открытого учёта.
func cardText(s *session.Session, manager, product string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 %s — %s\n", s.Date().Format("02.01.2006"), stageTitles[s.Stage()])
	if c := s.Counter(); c != nil {
		fmt.Fprintf(&sb, "Учёт #%d\n", c.ID)
	} else {
		sb.WriteString("Учёт ещё не создан (создастся на шаге «Платформы»)\n")
	}
	if manager != "" {
		fmt.Fprintf(&sb, "Менеджер: %s\n", manager)
	}
	if product != "" {
		fmt.Fprintf(&sb, "Продукт: %s\n", product)
	}
	fmt.Fprintf(&sb, "Каналы: %d, после отсечки: %d\n", len(s.PlatformChannels()), len(s.AfterCutoffChannels()))
	if n := s.DirtyCount(); n > 0 {
		fmt.Fprintf(&sb, "⚠️ Несохранённых правок: %d\n", n)
	}
	if notes := s.VisibleNotes(); notes != "" {
		fmt.Fprintf(&sb, "\n📝 %s\n", notes)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func summaryText(s *session.Session, sum summary.Summary) string {
	return summary.Text(s.Date(), sum)
}
