package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"health-coach-go/internal/model"
)

// 以下函数把结构化健康数据压缩成注入提示词的短文本。输入为空时返回空串，由调用方填默认值。

// ProfileDigest 汇总用户档案。
func ProfileDigest(p *model.UserProfile, now time.Time) string {
	if p == nil {
		return ""
	}
	var parts []string
	if p.DisplayName != "" {
		parts = append(parts, "Name: "+p.DisplayName)
	}
	if p.BirthYear > 0 {
		parts = append(parts, fmt.Sprintf("Age: %d", now.Year()-p.BirthYear))
	}
	if p.Sex != "" {
		parts = append(parts, "Sex: "+p.Sex)
	}
	if p.HeightCm > 0 && p.WeightKg > 0 {
		bmi := p.WeightKg / ((p.HeightCm / 100) * (p.HeightCm / 100))
		parts = append(parts, fmt.Sprintf("Height %.0f cm, weight %.1f kg (BMI %.1f)", p.HeightCm, p.WeightKg, bmi))
	}
	if p.ActivityLevel != "" {
		parts = append(parts, "Activity level: "+p.ActivityLevel)
	}
	if p.Goals != "" {
		parts = append(parts, "Goals: "+p.Goals)
	}
	if p.Conditions != "" {
		parts = append(parts, "Known conditions: "+p.Conditions)
	}
	return strings.Join(parts, "; ")
}

// ProtocolDigest 汇总进行中的方案及进度。
func ProtocolDigest(protocols []model.Protocol, now time.Time) string {
	if len(protocols) == 0 {
		return ""
	}
	lines := make([]string, 0, len(protocols))
	for _, p := range protocols {
		day := int(now.Sub(p.StartedAt).Hours()/24) + 1
		line := fmt.Sprintf("%s (day %d", p.Name, day)
		if p.EndsAt != nil {
			total := int(p.EndsAt.Sub(p.StartedAt).Hours() / 24)
			if total > 0 {
				line += fmt.Sprintf(" of %d", total)
			}
		}
		lines = append(lines, line+")")
	}
	return "Active protocols: " + strings.Join(lines, ", ")
}

// ExperimentsDigest 汇总进行中的实验。
func ExperimentsDigest(exps []model.Experiment, now time.Time) string {
	if len(exps) == 0 {
		return ""
	}
	lines := make([]string, 0, len(exps))
	for _, e := range exps {
		line := fmt.Sprintf("%q tracking %s", e.Hypothesis, e.Metric)
		if e.EndsAt != nil && e.EndsAt.After(now) {
			line += fmt.Sprintf(", %d days left", int(e.EndsAt.Sub(now).Hours()/24))
		}
		lines = append(lines, line)
	}
	return "Running experiments: " + strings.Join(lines, "; ")
}

// CareDigest 汇总近期医疗事件与待随访项。
func CareDigest(events []model.CareEvent, now time.Time) string {
	if len(events) == 0 {
		return ""
	}
	var recent, upcoming []string
	for _, e := range events {
		if !e.OccurredAt.After(now) {
			recent = append(recent, fmt.Sprintf("%s on %s: %s", e.Kind, e.OccurredAt.Format("2006-01-02"), e.Summary))
		}
		if e.FollowUpAt != nil && e.FollowUpAt.After(now) {
			upcoming = append(upcoming, fmt.Sprintf("%s follow-up on %s", e.Kind, e.FollowUpAt.Format("2006-01-02")))
		}
	}
	var parts []string
	if len(recent) > 0 {
		parts = append(parts, "Recent care: "+strings.Join(recent, "; "))
	}
	if len(upcoming) > 0 {
		parts = append(parts, "Upcoming: "+strings.Join(upcoming, "; "))
	}
	return strings.Join(parts, ". ")
}

// WomensHealthDigest 根据最近的周期记录估算当前周期日与阶段。
func WomensHealthDigest(logs []model.CycleLog, now time.Time) string {
	if len(logs) == 0 {
		return ""
	}
	latest := logs[0]
	for _, l := range logs[1:] {
		if l.PeriodStart.After(latest.PeriodStart) {
			latest = l
		}
	}
	length := latest.CycleLength
	if length <= 0 {
		length = 28
	}
	day := int(now.Sub(latest.PeriodStart).Hours()/24) + 1
	if day < 1 {
		return ""
	}
	phase := cyclePhase(day, length)
	out := fmt.Sprintf("Cycle day %d of ~%d (%s phase)", day, length, phase)
	if latest.Symptoms != "" {
		out += "; recent symptoms: " + latest.Symptoms
	}
	return out
}

func cyclePhase(day, length int) string {
	switch {
	case day > length:
		return "late"
	case day <= 5:
		return "menstrual"
	case day < length-14:
		return "follicular"
	case day <= length-12:
		return "ovulatory"
	default:
		return "luteal"
	}
}

// HabitsDigest 计算每个习惯在最近 days 天的完成率。
func HabitsDigest(habits []model.Habit, logs []model.HabitLog, days int) string {
	if len(habits) == 0 {
		return ""
	}
	if days <= 0 {
		days = 7
	}
	done := make(map[uint]int, len(habits))
	for _, l := range logs {
		if l.Completed {
			done[l.HabitID]++
		}
	}
	lines := make([]string, 0, len(habits))
	for _, h := range habits {
		n := done[h.ID]
		if n > days {
			n = days
		}
		lines = append(lines, fmt.Sprintf("%s %d/%d days (%d%%)", h.Name, n, days, n*100/days))
	}
	return fmt.Sprintf("Habit completion, last %d days: %s", days, strings.Join(lines, ", "))
}

// SupplementsDigest 列出正在服用的补剂。
func SupplementsDigest(supps []model.Supplement) string {
	if len(supps) == 0 {
		return ""
	}
	lines := make([]string, 0, len(supps))
	for _, s := range supps {
		line := s.Name
		var details []string
		if s.Dose != "" {
			details = append(details, s.Dose)
		}
		if s.Timing != "" {
			details = append(details, s.Timing)
		}
		if len(details) > 0 {
			line += " (" + strings.Join(details, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return "Current supplements: " + strings.Join(lines, ", ")
}

// CheckInsDigest 汇总最近几次打卡，按时间倒序。
func CheckInsDigest(checkIns []model.CheckIn) string {
	if len(checkIns) == 0 {
		return ""
	}
	sorted := append([]model.CheckIn(nil), checkIns...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CreatedAt.After(sorted[j].CreatedAt) })
	lines := make([]string, 0, len(sorted))
	for _, c := range sorted {
		line := fmt.Sprintf("%s mood %d/5, energy %d/5, stress %d/5", c.CreatedAt.Format("Jan 2"), c.Mood, c.Energy, c.Stress)
		if note := strings.TrimSpace(c.Notes); note != "" {
			line += ", note: " + truncateRunes(note, 120)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "; ")
}

// WearableDigest 计算可穿戴数据的区间平均值。
func WearableDigest(days []model.WearableDaily) string {
	if len(days) == 0 {
		return ""
	}
	var sleep, steps int
	var rhr, hrv float64
	var rhrN, hrvN int
	for _, d := range days {
		sleep += d.SleepMinutes
		steps += d.Steps
		if d.RestingHR > 0 {
			rhr += d.RestingHR
			rhrN++
		}
		if d.HRV > 0 {
			hrv += d.HRV
			hrvN++
		}
	}
	n := len(days)
	parts := []string{
		fmt.Sprintf("%d-day averages: sleep %.1f h", n, float64(sleep)/float64(n)/60),
		fmt.Sprintf("steps %d", steps/n),
	}
	if rhrN > 0 {
		parts = append(parts, fmt.Sprintf("resting HR %.0f bpm", rhr/float64(rhrN)))
	}
	if hrvN > 0 {
		parts = append(parts, fmt.Sprintf("HRV %.0f ms", hrv/float64(hrvN)))
	}
	if score := latestReadiness(days); score != nil {
		parts = append(parts, fmt.Sprintf("latest readiness %d", *score))
	}
	return strings.Join(parts, ", ")
}

// TodayModeFrom 根据最新的恢复分数推导当日模式：<50 recovery，50-74 standard，>=75 push。
func TodayModeFrom(days []model.WearableDaily) model.TodayMode {
	score := latestReadiness(days)
	if score == nil {
		return model.TodayModeStandard
	}
	switch {
	case *score < 50:
		return model.TodayModeRecovery
	case *score < 75:
		return model.TodayModeStandard
	default:
		return model.TodayModePush
	}
}

func latestReadiness(days []model.WearableDaily) *int {
	var latest *model.WearableDaily
	for i := range days {
		d := &days[i]
		if d.ReadinessScore == nil {
			continue
		}
		if latest == nil || d.Day.After(latest.Day) {
			latest = d
		}
	}
	if latest == nil {
		return nil
	}
	return latest.ReadinessScore
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
