package summary

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

const notApplicable = "n/a"

func nonShowCell(b Bucket) interface{} {
	if b.NonShow == nil {
		return notApplicable
	}
	return *b.NonShow
}

func nonShowText(b Bucket) string {
	if b.NonShow == nil {
		return notApplicable
	}
	return fmt.Sprintf("%g", *b.NonShow)
}

// WriteXLSX выгружает сводку дня одним листом.
func WriteXLSX(w io.Writer, date time.Time, s Summary) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	newName := date.Format("2006-01-02")
	if err := f.SetSheetName(sheet, newName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sheet = newName

	header := []interface{}{
		"channel_id",
		"channel",
		"item",
		"booked_before_cutoff",
		"booked_after_cutoff",
		"attended",
		"non_show",
		"cash_currency",
		"cash_amount",
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("header: %w", err)
	}

	row := 2
	put := func(values []interface{}) error {
		cell, err := excelize.CoordinatesToCellName(1, row)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
		row++
		return nil
	}

	for _, ch := range s.Channels {
		var cur, amount interface{} = "", ""
		if ch.Cash != nil {
			cur, amount = string(ch.Cash.Currency), ch.Cash.Amount
		}
		if err := put([]interface{}{
			ch.ChannelID, ch.Name, "people",
			ch.People.BookedBefore, ch.People.BookedAfter, ch.People.Attended, nonShowCell(ch.People),
			cur, amount,
		}); err != nil {
			return fmt.Errorf("channel row: %w", err)
		}
		for _, a := range ch.Addons {
			if err := put([]interface{}{
				ch.ChannelID, ch.Name, a.Name,
				a.BookedBefore, a.BookedAfter, a.Attended, nonShowCell(a.Bucket),
				"", "",
			}); err != nil {
				return fmt.Errorf("addon row: %w", err)
			}
		}
	}

	row++ // пустая строка перед итогами
	t := s.Totals
	if err := put([]interface{}{
		"", "TOTAL", "people",
		t.People.BookedBefore, t.People.BookedAfter, t.People.Attended, nonShowCell(t.People),
		"", "",
	}); err != nil {
		return fmt.Errorf("totals row: %w", err)
	}
	for _, a := range t.Addons {
		if err := put([]interface{}{
			"", "TOTAL", a.Name,
			a.BookedBefore, a.BookedAfter, a.Attended, nonShowCell(a.Bucket),
			"", "",
		}); err != nil {
			return fmt.Errorf("totals row: %w", err)
		}
	}
	for _, c := range t.Cash {
		if err := put([]interface{}{
			"", "TOTAL", "cash", "", "", "", "", string(c.Currency), c.Value.InexactFloat64(),
		}); err != nil {
			return fmt.Errorf("cash row: %w", err)
		}
	}

	return f.Write(w)
}

// Text — короткая сводка для чата.
func Text(date time.Time, s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Сводка за %s\n", date.Format("02.01.2006"))
	for _, ch := range s.Channels {
		fmt.Fprintf(&b, "\n%s: до отсечки %g, после %g, пришли %g, не пришли %s",
			ch.Name, ch.People.BookedBefore, ch.People.BookedAfter, ch.People.Attended, nonShowText(ch.People))
		for _, a := range ch.Addons {
			fmt.Fprintf(&b, "\n  • %s: %g / %g / %g", a.Name, a.BookedBefore, a.BookedAfter, a.Attended)
		}
		if ch.Cash != nil {
			fmt.Fprintf(&b, "\n  наличные: %s %.2f", ch.Cash.Currency, ch.Cash.Amount)
		}
	}
	t := s.Totals
	fmt.Fprintf(&b, "\n\nИтого: до отсечки %g, после %g, пришли %g, не пришли %s",
		t.People.BookedBefore, t.People.BookedAfter, t.People.Attended, nonShowText(t.People))
	for _, a := range t.Addons {
		fmt.Fprintf(&b, "\n  • %s: %g / %g / %g", a.Name, a.BookedBefore, a.BookedAfter, a.Attended)
	}
	for _, c := range t.Cash {
		fmt.Fprintf(&b, "\nНаличные: %s %s", c.Currency, c.Value.StringFixed(2))
	}
	return b.String()
}
