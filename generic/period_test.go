package generic_test

import (
	"errors"
	"testing"
	"time"

	"github.com/warp/budget-engine/generic"
)

func TestPeriodFor_FinancialYear(t *testing.T) {
	pc := generic.IndianFinancialYear

	tests := []struct {
		date      generic.TimePoint
		wantStart generic.TimePoint
		wantEnd   generic.TimePoint
		wantLabel string
	}{
		{generic.NewTimePoint(2025, time.April, 1), generic.NewTimePoint(2025, time.April, 1), generic.NewTimePoint(2026, time.March, 31), "2025-26"},
		{generic.NewTimePoint(2026, time.March, 31), generic.NewTimePoint(2025, time.April, 1), generic.NewTimePoint(2026, time.March, 31), "2025-26"},
		{generic.NewTimePoint(2025, time.March, 31), generic.NewTimePoint(2024, time.April, 1), generic.NewTimePoint(2025, time.March, 31), "2024-25"},
		{generic.NewTimePoint(2099, time.December, 1), generic.NewTimePoint(2099, time.April, 1), generic.NewTimePoint(2100, time.March, 31), "2099-00"},
	}
	for _, tt := range tests {
		t.Run(tt.date.String(), func(t *testing.T) {
			p := pc.PeriodFor(tt.date)
			if !p.Start.Equal(tt.wantStart) || !p.End.Equal(tt.wantEnd) {
				t.Errorf("expected [%s, %s], got %s", tt.wantStart, tt.wantEnd, p)
			}
			if got := pc.Label(tt.date); got != tt.wantLabel {
				t.Errorf("expected label %s, got %s", tt.wantLabel, got)
			}
			if !p.Contains(tt.date) {
				t.Errorf("period %s should contain %s", p, tt.date)
			}
		})
	}
}

func TestParseLabel(t *testing.T) {
	pc := generic.IndianFinancialYear

	p, err := pc.ParseLabel("2025-26")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Start.Equal(generic.NewTimePoint(2025, time.April, 1)) || !p.End.Equal(generic.NewTimePoint(2026, time.March, 31)) {
		t.Errorf("unexpected period %s", p)
	}

	for _, label := range []string{"2025", "2025-27", "2025/26", "abcd-26", "2025-2026", "", "+025-26", "-001-00", "2025-+6"} {
		_, err := pc.ParseLabel(label)
		if !errors.Is(err, generic.ErrInvalidFiscalLabel) {
			t.Errorf("label %q: expected invalid label error, got %v", label, err)
		}
	}
}

func TestParseLabel_CalendarYear(t *testing.T) {
	pc := generic.PeriodConfig{Type: generic.PeriodCalendarYear}

	p, err := pc.ParseLabel("2025")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Start.Equal(generic.StartOfYear(2025)) || !p.End.Equal(generic.EndOfYear(2025)) {
		t.Errorf("unexpected period %s", p)
	}
	if got := pc.Label(generic.NewTimePoint(2025, time.June, 1)); got != "2025" {
		t.Errorf("expected 2025, got %s", got)
	}
	for _, label := range []string{"+202", "-202", "20 5"} {
		if _, err := pc.ParseLabel(label); !errors.Is(err, generic.ErrInvalidFiscalLabel) {
			t.Errorf("label %q: expected invalid label error, got %v", label, err)
		}
	}
}

func TestPeriod_PreviousAndValidate(t *testing.T) {
	p, _ := generic.IndianFinancialYear.ParseLabel("2025-26")

	prev := p.PreviousPeriod()
	if got := generic.IndianFinancialYear.Label(prev.Start); got != "2024-25" {
		t.Errorf("expected previous 2024-25, got %s", got)
	}
	if !prev.End.Equal(generic.NewTimePoint(2025, time.March, 31)) {
		t.Errorf("previous period should end the day before, got %s", prev.End)
	}

	if err := p.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	backwards := generic.Period{Start: p.End, End: p.Start}
	if err := backwards.Validate(); !errors.Is(err, generic.ErrInvalidPeriod) {
		t.Errorf("expected invalid period, got %v", err)
	}
}

func TestTimePoint_DayGranularity(t *testing.T) {
	late := generic.DateOf(time.Date(2025, time.June, 15, 23, 59, 0, 0, time.UTC))
	early := generic.NewTimePoint(2025, time.June, 15)
	if !late.Equal(early) {
		t.Errorf("day points on the same date should be equal: %s vs %s", late, early)
	}

	exact := generic.At(time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC))
	if exact.String() != "2025-06-15T10:00:00Z" {
		t.Errorf("unexpected exact format %s", exact)
	}
}
