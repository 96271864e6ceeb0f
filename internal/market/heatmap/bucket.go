package heatmap

import (
	"fmt"
	"math"
)

// PriceBucket 价格轴上的一段 [Min, Max)
// 各桶首尾相接无重叠；最高一桶右端闭合，保证最高价有归属
type PriceBucket struct {
	Min   float64
	Max   float64
	Label string
}

// fibFractions 斐波那契回撤分位，切出 6 个宽度不等的桶
var fibFractions = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1}

// FibBuckets 按斐波那契回撤分位切分 [min, max]
func FibBuckets(min, max float64) []PriceBucket {
	return bucketsFromFractions(min, max, fibFractions)
}

// EqualBuckets 等宽切分 [min, max] 为 n 段
func EqualBuckets(min, max float64, n int) []PriceBucket {
	if n <= 0 {
		n = 5
	}
	fractions := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		fractions[i] = float64(i) / float64(n)
	}
	return bucketsFromFractions(min, max, fractions)
}

func bucketsFromFractions(min, max float64, fractions []float64) []PriceBucket {
	if max < min {
		min, max = max, min
	}
	span := max - min
	out := make([]PriceBucket, 0, len(fractions)-1)
	for i := 0; i+1 < len(fractions); i++ {
		lo := min + span*fractions[i]
		hi := min + span*fractions[i+1]
		if i+2 == len(fractions) {
			hi = max // 消除浮点累积误差，顶桶右端必须落在 max 上
		}
		out = append(out, PriceBucket{
			Min:   lo,
			Max:   hi,
			Label: fmt.Sprintf("%.0f - %.0f", math.Round(lo), math.Round(hi)),
		})
	}
	return out
}

// FindBucket 找出价格所属的桶下标
// 判定规则: price >= min && price < max，最高一桶额外接受 price == max
// 找不到返回 -1 (价格在整个区间之外)
func FindBucket(buckets []PriceBucket, price float64) int {
	for i, b := range buckets {
		if price >= b.Min && price < b.Max {
			return i
		}
	}
	if n := len(buckets); n > 0 && price == buckets[n-1].Max {
		return n - 1
	}
	return -1
}

// NearestBucket 按中点距离找最近的桶 (退化区间的兜底归属)
func NearestBucket(buckets []PriceBucket, price float64) int {
	best, bestDiff := -1, math.Inf(1)
	for i, b := range buckets {
		mid := (b.Min + b.Max) / 2
		if diff := math.Abs(price - mid); diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}
