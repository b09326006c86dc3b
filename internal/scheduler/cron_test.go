package scheduler

import (
	"testing"
	"time"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"every minute", "* * * * *", false},
		{"every hour", "0 * * * *", false},
		{"every day at midnight", "0 0 * * *", false},
		{"every weekday at 9am", "0 9 * * 1-5", false},
		{"every 15 minutes", "*/15 * * * *", false},
		{"specific minutes", "0,15,30,45 * * * *", false},
		{"@hourly", "@hourly", false},
		{"@daily", "@daily", false},
		{"@weekly", "@weekly", false},
		{"@monthly", "@monthly", false},
		{"@yearly", "@yearly", false},
		{"invalid - too few fields", "* * *", true},
		{"invalid - too many fields", "* * * * * *", true},
		{"invalid - bad minute", "60 * * * *", true},
		{"invalid - bad hour", "0 25 * * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseCron(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestCronExpr_Next(t *testing.T) {
	ref := time.Date(2025, 1, 15, 10, 30, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		name string
		expr string
		want time.Time
	}{
		{"every minute", "* * * * *", ref.Add(time.Minute)},
		{"every hour", "0 * * * *", time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)},
		{"every 15 minutes", "*/15 * * * *", time.Date(2025, 1, 15, 10, 45, 0, 0, time.UTC)},
		{"daily at midnight", "0 0 * * *", time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)},
		{"next weekday 9am", "0 9 * * 1-5", time.Date(2025, 1, 16, 9, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ParseCron(tt.expr)
			if err != nil {
				t.Fatalf("ParseCron: %v", err)
			}
			got := expr.Next(ref)
			if !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", ref, got, tt.want)
			}
		})
	}
}

func TestCronExpr_Next_EveryMinuteForHalfHourGivesThirtyTicks(t *testing.T) {
	expr, err := ParseCron("* * * * *")
	if err != nil {
		t.Fatalf("ParseCron: %v", err)
	}

	start := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	count := 0
	t2 := start
	for i := 0; i < 30; i++ {
		t2 = expr.Next(t2)
		count++
	}
	if count != 30 {
		t.Fatalf("count = %d, want 30", count)
	}
	if !t2.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("after 30 ticks = %v, want %v", t2, start.Add(30*time.Minute))
	}
}
