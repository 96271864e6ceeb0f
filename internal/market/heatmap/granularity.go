package heatmap

import (
	"fmt"
	"strconv"
	"time"

	"github.com/khaitrandinh/binance-dashboard/pkg/xerr"
)

// Granularity 热力图的子周期维度
// 每个取值自带子桶数量、时间窗口、取数周期和标签策略，
// 调用方不再到处写 if day/month/year
type Granularity uint8

const (
	GranDay   Granularity = iota // 一天按 24 小时分桶
	GranMonth                    // 一月按天分桶
	GranYear                     // 一年按 12 个月分桶
)

var monthLabels = []string{"Jan", "Feb", "Mar", "Apr", "May", "Jun", "Jul", "Aug", "Sep", "Oct", "Nov", "Dec"}

func ParseGranularity(s string) (Granularity, error) {
	switch s {
	case "day":
		return GranDay, nil
	case "month":
		return GranMonth, nil
	case "year":
		return GranYear, nil
	default:
		return 0, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid granularity %q", s))
	}
}

func (g Granularity) String() string {
	switch g {
	case GranDay:
		return "day"
	case GranMonth:
		return "month"
	default:
		return "year"
	}
}

// Interval 取数时对应的K线周期
func (g Granularity) Interval() string {
	switch g {
	case GranDay:
		return "1h"
	case GranMonth:
		return "1d"
	default:
		return "1M"
	}
}

// ParseDate 解析窗口定位参数: day=2006-01-02, month=2006-01, year=2006
func (g Granularity) ParseDate(s string) (time.Time, error) {
	var layout string
	switch g {
	case GranDay:
		layout = "2006-01-02"
	case GranMonth:
		layout = "2006-01"
	default:
		layout = "2006"
	}
	t, err := time.ParseInLocation(layout, s, time.UTC)
	if err != nil {
		return time.Time{}, xerr.New(xerr.RequestParamsError, fmt.Sprintf("invalid date %q for %s view", s, g))
	}
	return t, nil
}

// BucketCount 子桶数量: 24小时 / 当月天数 / 12个月
func (g Granularity) BucketCount(date time.Time) int {
	switch g {
	case GranDay:
		return 24
	case GranMonth:
		return daysInMonth(date)
	default:
		return 12
	}
}

// Window 查询窗口 [startMs, endMs)
func (g Granularity) Window(date time.Time) (int64, int64) {
	start := g.windowStart(date)
	var end time.Time
	switch g {
	case GranDay:
		end = start.AddDate(0, 0, 1)
	case GranMonth:
		end = start.AddDate(0, 1, 0)
	default:
		end = start.AddDate(1, 0, 0)
	}
	return start.UnixMilli(), end.UnixMilli()
}

func (g Granularity) windowStart(date time.Time) time.Time {
	d := date.UTC()
	switch g {
	case GranDay:
		return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	case GranMonth:
		return time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return time.Date(d.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
}

// SubPeriodRange 第 idx 个子桶 (0-based) 的时间范围 [startMs, endMs)
// startMs 同时就是该子桶的缓存 timeKey
func (g Granularity) SubPeriodRange(date time.Time, idx int) (int64, int64) {
	base := g.windowStart(date)
	var start, end time.Time
	switch g {
	case GranDay:
		start = base.Add(time.Duration(idx) * time.Hour)
		end = start.Add(time.Hour)
	case GranMonth:
		start = base.AddDate(0, 0, idx)
		end = start.AddDate(0, 0, 1)
	default:
		start = base.AddDate(0, idx, 0)
		end = start.AddDate(0, 1, 0)
	}
	return start.UnixMilli(), end.UnixMilli()
}

// Labels 子桶显示标签: 0-23 / 1-当月最后一天 / Jan-Dec
func (g Granularity) Labels(date time.Time) []string {
	n := g.BucketCount(date)
	out := make([]string, n)
	for i := 0; i < n; i++ {
		switch g {
		case GranDay:
			out[i] = strconv.Itoa(i)
		case GranMonth:
			out[i] = strconv.Itoa(i + 1)
		default:
			out[i] = monthLabels[i]
		}
	}
	return out
}

// KeyName 前端行对象里表示子桶的字段名
func (g Granularity) KeyName() string {
	switch g {
	case GranDay:
		return "hour"
	case GranMonth:
		return "day"
	default:
		return "month"
	}
}

func daysInMonth(t time.Time) int {
	d := t.UTC()
	first := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
	return first.AddDate(0, 1, -1).Day()
}
