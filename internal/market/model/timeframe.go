package model

import (
	"fmt"
	"time"
)

// Timeframe 支持的K线周期
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF1d  Timeframe = "1d"
)

// ParseTimeframe 校验并返回 Timeframe
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if tf.Duration() == 0 {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

func (tf Timeframe) Millis() int64 {
	return int64(tf.Duration() / time.Millisecond)
}

// BucketStartMs 计算时间戳所属桶的起点（UTC 对齐）
func (tf Timeframe) BucketStartMs(tsMs int64) int64 {
	iv := tf.Millis()
	return (tsMs / iv) * iv
}

func (tf Timeframe) String() string { return string(tf) }
