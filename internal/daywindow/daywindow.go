// Package daywindow 提供时区感知的"本地日"窗口计算。
// 条目按捕获时刻所在时区的日历日分组，即使设备当前时区已经改变，
// 也能还原"用户视角里这条记录属于哪一天"。
package daywindow

import "time"

// Window 一个本地日历日对应的 [Start, End) UTC 区间
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains 判断 UTC 时刻是否落在窗口内
func (w Window) Contains(utc time.Time) bool {
	return !utc.Before(w.Start) && utc.Before(w.End)
}

// StartMs / EndMs 以 Unix 毫秒返回窗口边界（与仓储层的时间戳列对齐）
func (w Window) StartMs() int64 { return w.Start.UnixMilli() }
func (w Window) EndMs() int64   { return w.End.UnixMilli() }

// ResolveLocation 按优先级解析适用时区：
// 命名时区 ID > 固定 UTC 偏移 > 系统本地时区。
// 元数据缺失或非法时降级处理，永不报错（旧数据可能两者皆空）。
func ResolveLocation(timezoneID string, utcOffsetMin *int) *time.Location {
	if timezoneID != "" {
		if loc, err := time.LoadLocation(timezoneID); err == nil {
			return loc
		}
	}
	if utcOffsetMin != nil {
		return time.FixedZone("", *utcOffsetMin*60)
	}
	return time.Local
}

// ForInstant 返回 UTC 时刻在其捕获时区下所属本地日历日的 UTC 窗口。
func ForInstant(utc time.Time, timezoneID string, utcOffsetMin *int) Window {
	loc := ResolveLocation(timezoneID, utcOffsetMin)
	local := utc.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return Window{
		Start: start.UTC(),
		End:   start.AddDate(0, 0, 1).UTC(),
	}
}

// ForMillis ForInstant 的毫秒时间戳版本
func ForMillis(capturedAtMs int64, timezoneID string, utcOffsetMin *int) Window {
	return ForInstant(time.UnixMilli(capturedAtMs).UTC(), timezoneID, utcOffsetMin)
}

// ToLocal 把 UTC 时刻换算回捕获时的本地表示，用于展示与按天归组。
func ToLocal(utc time.Time, timezoneID string, utcOffsetMin *int) time.Time {
	return utc.In(ResolveLocation(timezoneID, utcOffsetMin))
}

// LocalDate 返回捕获时区下的日历日（YYYY-MM-DD）
func LocalDate(capturedAtMs int64, timezoneID string, utcOffsetMin *int) string {
	return ToLocal(time.UnixMilli(capturedAtMs).UTC(), timezoneID, utcOffsetMin).Format("2006-01-02")
}
