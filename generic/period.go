package generic

import (
	"fmt"
	"strconv"
	"time"
)

// =============================================================================
// PERIOD - Time boundary for totals
// =============================================================================

// Period defines an inclusive date range.
//
// Examples:
//   - Calendar year 2025: Jan 1 - Dec 31
//   - Financial year 2025-26: Apr 1 2025 - Mar 31 2026
type Period struct {
	Start TimePoint
	End   TimePoint
}

// Contains returns true if the time point is within the period [Start, End]
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// Validate rejects periods whose end is not strictly after the start.
func (p Period) Validate() error {
	if !p.End.After(p.Start) {
		return fmt.Errorf("%w: %s", ErrInvalidPeriod, p)
	}
	return nil
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// PeriodType defines how periods are calculated
type PeriodType string

const (
	PeriodCalendarYear PeriodType = "calendar_year" // Jan 1 - Dec 31
	PeriodFiscalYear   PeriodType = "fiscal_year"   // Custom start (e.g., Apr 1)
)

// PeriodConfig defines how to cut time into years.
type PeriodConfig struct {
	Type PeriodType

	// For fiscal year: which month starts the fiscal year (1-12)
	FiscalYearStartMonth time.Month
}

// IndianFinancialYear is the April-March year used by colleges.
var IndianFinancialYear = PeriodConfig{Type: PeriodFiscalYear, FiscalYearStartMonth: time.April}

// =============================================================================
// PERIOD CALCULATOR - Determines which period a date falls into
// =============================================================================

// PeriodFor returns the period that contains the given date
func (pc PeriodConfig) PeriodFor(date TimePoint) Period {
	switch pc.Type {
	case PeriodFiscalYear:
		return pc.fiscalYearPeriod(date)
	default:
		return Period{Start: StartOfYear(date.Year()), End: EndOfYear(date.Year())}
	}
}

func (pc PeriodConfig) startMonth() time.Month {
	if pc.Type != PeriodFiscalYear || pc.FiscalYearStartMonth < time.January || pc.FiscalYearStartMonth > time.December {
		return time.January
	}
	return pc.FiscalYearStartMonth
}

func (pc PeriodConfig) fiscalYearPeriod(date TimePoint) Period {
	year := date.Year()
	fiscalStart := NewTimePoint(year, pc.startMonth(), 1)

	// If date is before fiscal year start, we're in previous fiscal year
	if date.Before(fiscalStart) {
		fiscalStart = NewTimePoint(year-1, pc.startMonth(), 1)
	}

	fiscalEnd := fiscalStart.AddYears(1).AddDays(-1)
	return Period{Start: fiscalStart, End: fiscalEnd}
}

// =============================================================================
// LABELS - "2025-26" style names for fiscal years
// =============================================================================

// Label names the period containing date. Fiscal years that straddle two
// calendar years are labelled "YYYY-YY"; calendar years are labelled "YYYY".
func (pc PeriodConfig) Label(date TimePoint) string {
	p := pc.PeriodFor(date)
	return pc.labelFor(p)
}

func (pc PeriodConfig) labelFor(p Period) string {
	if pc.startMonth() == time.January {
		return strconv.Itoa(p.Start.Year())
	}
	return fmt.Sprintf("%d-%02d", p.Start.Year(), (p.Start.Year()+1)%100)
}

// ParseLabel converts a label back to its period.
func (pc PeriodConfig) ParseLabel(label string) (Period, error) {
	if pc.startMonth() == time.January {
		if len(label) != 4 || !allDigits(label) {
			return Period{}, &LabelError{Label: label, Reason: "expected YYYY"}
		}
		year, _ := strconv.Atoi(label)
		return Period{Start: StartOfYear(year), End: EndOfYear(year)}, nil
	}

	if len(label) != 7 || label[4] != '-' {
		return Period{}, &LabelError{Label: label, Reason: "expected YYYY-YY"}
	}
	if !allDigits(label[:4]) {
		return Period{}, &LabelError{Label: label, Reason: "start year is not numeric"}
	}
	if !allDigits(label[5:]) {
		return Period{}, &LabelError{Label: label, Reason: "end year is not numeric"}
	}
	startYear, _ := strconv.Atoi(label[:4])
	endSuffix, _ := strconv.Atoi(label[5:])
	if (startYear+1)%100 != endSuffix {
		return Period{}, &LabelError{Label: label, Reason: "years are not consecutive"}
	}

	start := NewTimePoint(startYear, pc.startMonth(), 1)
	return Period{Start: start, End: start.AddYears(1).AddDays(-1)}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// PreviousPeriod returns the period before this one
func (p Period) PreviousPeriod() Period {
	newStart := p.Start.AddYears(-1)
	return Period{Start: newStart, End: p.Start.AddDays(-1)}
}
